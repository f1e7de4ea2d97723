// Package validate centralizes the synchronous input checks the
// ingestion and recall pipelines run before touching any state. Each
// check is a small, focused function returning a typed error, rather
// than a single monolithic validator.
package validate

import (
	"fmt"
	"strings"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/acmserr"
)

// Role coerces s into an acms.Role, rejecting anything not in the enum.
func Role(s string) (acms.Role, error) {
	role, ok := acms.ParseRole(s)
	if !ok {
		return "", acmserr.NewValidationError("role", "must be one of user, assistant, tool")
	}
	return role, nil
}

// Content trims surrounding whitespace and rejects empty or
// over-length content. maxLength is the caller's configured
// max_content_length.
func Content(content string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", acmserr.NewValidationError("content", "must not be empty")
	}
	if maxLength > 0 && len(trimmed) > maxLength {
		return "", acmserr.NewValidationError("content", "exceeds max_content_length")
	}
	return trimmed, nil
}

// SessionID rejects an empty session identifier.
func SessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return acmserr.NewValidationError("session_id", "must not be empty")
	}
	return nil
}

// Markers rejects malformed custom markers. Built-in marker types are
// always well-formed; custom markers must carry a non-empty name after
// the "custom:" prefix.
func Markers(markers []string) error {
	for _, m := range markers {
		switch acms.MarkerType(m) {
		case acms.MarkerDecision, acms.MarkerConstraint, acms.MarkerFailure, acms.MarkerGoal:
			continue
		}
		if strings.HasPrefix(m, acms.CustomMarkerPrefix) {
			if !acms.IsCustomMarker(m) {
				return acmserr.NewValidationError("markers", "custom marker must have a non-empty name")
			}
			continue
		}
		return acmserr.NewValidationError("markers", fmt.Sprintf("unrecognized marker %q", m))
	}
	return nil
}

// Budget rejects a non-positive token budget.
func Budget(tokenBudget int) error {
	if tokenBudget <= 0 {
		return acmserr.NewValidationError("token_budget", "must be greater than zero")
	}
	return nil
}

// Threshold rejects a relevance or similarity threshold outside [0,1].
func Threshold(name string, value float64) error {
	if value < 0 || value > 1 {
		return acmserr.NewValidationError(name, "must be within [0,1]")
	}
	return nil
}
