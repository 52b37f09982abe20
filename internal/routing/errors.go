package routing

import (
	"errors"
	"fmt"
)

// ErrInvalidRouting is the class of every configuration-driven routing failure.
var ErrInvalidRouting = errors.New("routing: invalid routing")

type ErrorKind string

const (
	KindInvalidDID         ErrorKind = "invalid_did"
	KindInactiveTarget     ErrorKind = "inactive_target"
	KindMissingTarget      ErrorKind = "missing_target"
	KindNoActiveMembers    ErrorKind = "no_active_members"
	KindInvalidConfig      ErrorKind = "invalid_config"
	KindConfigurationCycle ErrorKind = "configuration_cycle"
)

// RoutingError reports why a call could not be routed. OrganizationID is set
// when the DID was found.
type RoutingError struct {
	Kind           ErrorKind
	Ref            string
	OrganizationID string
	Err            error
}

func (e *RoutingError) Error() string {
	msg := fmt.Sprintf("routing: %s", e.Kind)
	if e.Ref != "" {
		msg += " (" + e.Ref + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RoutingError) Is(target error) bool { return target == ErrInvalidRouting }

func (e *RoutingError) Unwrap() error { return e.Err }

func routingErr(kind ErrorKind, ref string, err error) *RoutingError {
	return &RoutingError{Kind: kind, Ref: ref, Err: err}
}

// KindOf returns the routing error kind, or "" for other errors.
func KindOf(err error) ErrorKind {
	var re *RoutingError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
