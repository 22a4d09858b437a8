package scoring

import (
	"fmt"
	"strings"
	"time"

	"odin/internal/strategy"
)

// Policy decides what happens to a document that fails validation.
type Policy string

const (
	// PolicyRecord annotates the audit trail and lets the document through.
	PolicyRecord Policy = "record"
	// PolicyEnforce rejects the document before it is stored.
	PolicyEnforce Policy = "enforce"
)

// ParsePolicy validates a policy name; empty means PolicyRecord.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyRecord:
		return PolicyRecord, nil
	case PolicyEnforce:
		return PolicyEnforce, nil
	}
	return "", fmt.Errorf("unknown validation policy %q (want record or enforce)", value)
}

// ValidationError is returned under PolicyEnforce when violations exist.
type ValidationError struct {
	Violations Violations
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("strategy failed validation (%d violations): %s", len(e.Violations), strings.Join(e.Violations.Messages(), "; "))
}

// Apply validates the document under the policy. Under PolicyRecord any
// violations are attached to the document's creation audit entry and the
// violations are returned for logging; under PolicyEnforce they become a
// *ValidationError.
func (p Policy) Apply(doc *strategy.Document, now time.Time) (Violations, error) {
	violations := Validate(doc)
	if len(violations) == 0 {
		return nil, nil
	}
	if p == PolicyEnforce {
		return violations, &ValidationError{Violations: violations}
	}
	annotate(doc, violations, now)
	return violations, nil
}

func annotate(doc *strategy.Document, violations Violations, now time.Time) {
	for i := range doc.AuditTrail {
		if doc.AuditTrail[i].Action != strategy.ActionCreated {
			continue
		}
		if doc.AuditTrail[i].Changes == nil {
			doc.AuditTrail[i].Changes = map[string]any{}
		}
		doc.AuditTrail[i].Changes["violations"] = violations.Messages()
		doc.AuditTrail[i].Reason = fmt.Sprintf("created with %d validation violations", len(violations))
		return
	}
	doc.AuditTrail = append(doc.AuditTrail, strategy.AuditEntry{
		Action:    strategy.ActionUpdated,
		Timestamp: now.UTC(),
		User:      strategy.SystemUser,
		Changes:   map[string]any{"violations": violations.Messages()},
		Reason:    fmt.Sprintf("%d validation violations", len(violations)),
	})
}
