package strategy

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition reports a lifecycle action that the current status does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// Transition describes a requested lifecycle change.
type Transition struct {
	Action        Action
	User          string
	Reason        string
	ApprovalLevel string
	Changes       map[string]any
	At            time.Time
}

var allowedFrom = map[Action][]Status{
	ActionValidated: {StatusDraft},
	ActionApproved:  {StatusDraft, StatusValidated},
	ActionRejected:  {StatusDraft, StatusValidated},
	ActionArchived:  {StatusDraft, StatusValidated, StatusApproved, StatusRejected},
	ActionUpdated:   {StatusDraft, StatusValidated, StatusApproved, StatusRejected},
}

var targetStatus = map[Action]Status{
	ActionValidated: StatusValidated,
	ActionApproved:  StatusApproved,
	ActionRejected:  StatusRejected,
	ActionArchived:  StatusArchived,
}

// ParseAction accepts the audit action names plus the imperative verbs used by the CLI.
func ParseAction(value string) (Action, error) {
	switch value {
	case "validate", string(ActionValidated):
		return ActionValidated, nil
	case "approve", string(ActionApproved):
		return ActionApproved, nil
	case "reject", string(ActionRejected):
		return ActionRejected, nil
	case "archive", string(ActionArchived):
		return ActionArchived, nil
	case "update", string(ActionUpdated):
		return ActionUpdated, nil
	}
	return "", fmt.Errorf("unknown action %q", value)
}

// Apply moves the document through one lifecycle step and appends the
// matching audit entry. The document is left untouched on error.
func (d *Document) Apply(t Transition) error {
	if t.Action == ActionCreated {
		return fmt.Errorf("%w: documents are created only by assembly", ErrInvalidTransition)
	}
	allowed, ok := allowedFrom[t.Action]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, t.Action)
	}
	permitted := false
	for _, s := range allowed {
		if d.Status == s {
			permitted = true
			break
		}
	}
	if !permitted {
		return fmt.Errorf("%w: cannot %s a %s strategy", ErrInvalidTransition, t.Action, d.Status)
	}

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	user := t.User
	if user == "" {
		user = SystemUser
	}

	changes := map[string]any{}
	for k, v := range t.Changes {
		changes[k] = v
	}
	if next, ok := targetStatus[t.Action]; ok {
		changes["status"] = map[string]any{"from": string(d.Status), "to": string(next)}
		d.Status = next
		if next == StatusArchived {
			d.ArchivedAt = &at
		}
	}
	d.UpdatedAt = at
	d.AuditTrail = append(d.AuditTrail, AuditEntry{
		Action:        t.Action,
		Timestamp:     at,
		User:          user,
		Changes:       changes,
		Reason:        t.Reason,
		ApprovalLevel: t.ApprovalLevel,
	})
	return nil
}
