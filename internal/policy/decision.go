package policy

import (
	"fmt"

	wardenErrors "github.com/harunnryd/warden/internal/errors"
)

type DecisionKind string

const (
	DecisionAllowed         DecisionKind = "allowed"
	DecisionDenied          DecisionKind = "denied"
	DecisionPendingApproval DecisionKind = "pending_approval"
)

// Decision is the typed outcome of an authorization check.
type Decision struct {
	Kind      DecisionKind
	Reason    string
	RequestID string
	err       error
}

func Allowed() Decision {
	return Decision{Kind: DecisionAllowed}
}

func Denied(reason string, err error) Decision {
	return Decision{Kind: DecisionDenied, Reason: reason, err: err}
}

func PendingApproval(requestID string) Decision {
	return Decision{
		Kind:      DecisionPendingApproval,
		Reason:    "Human-in-the-loop approval required",
		RequestID: requestID,
		err:       wardenErrors.ApprovalRequired(fmt.Sprintf("request %s", requestID)),
	}
}

func (d Decision) IsAllowed() bool {
	return d.Kind == DecisionAllowed
}

// Err converts a non-allowed decision into the matching taxonomy error.
func (d Decision) Err() error {
	if d.Kind == DecisionAllowed {
		return nil
	}
	if d.err != nil {
		return d.err
	}
	return wardenErrors.PermissionDenied(d.Reason)
}
