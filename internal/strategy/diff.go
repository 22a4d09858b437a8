package strategy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff renders a unified diff between two documents' JSON forms.
// Returns an empty string when the documents are identical.
func Diff(a, b *Document) (string, error) {
	left, err := render(a)
	if err != nil {
		return "", err
	}
	right, err := render(b)
	if err != nil {
		return "", err
	}
	if left == right {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(left),
		B:        difflib.SplitLines(right),
		FromFile: label(a),
		ToFile:   label(b),
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func render(d *Document) (string, error) {
	if d == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal strategy: %w", err)
	}
	return strings.TrimRight(string(data), "\n") + "\n", nil
}

func label(d *Document) string {
	if d == nil || d.ID == "" {
		return "strategy"
	}
	return "strategy/" + d.ID
}
