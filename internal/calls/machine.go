package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pbx-routing/internal/events"
)

var ErrInvalidTransition = errors.New("calls: invalid transition")

// TransitionError names the rejected edge.
type TransitionError struct {
	CallID string
	From   CallStatus
	To     CallStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("calls: invalid transition %s -> %s for %s", e.From, e.To, e.CallID)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Machine applies lifecycle transitions to call records. It does not lock;
// callers run it inside the per-call critical section.
type Machine struct {
	Store     Store
	Publisher events.Publisher
	Log       *slog.Logger
	Now       func() time.Time
}

func NewMachine(store Store, pub events.Publisher, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{Store: store, Publisher: pub, Log: log.With("component", "call_machine"), Now: time.Now}
}

type InitiateInput struct {
	CallID         string
	OrganizationID string
	From           string
	To             string
	DID            string
	At             time.Time
}

// Initiate creates the INITIATED record. An existing record is returned
// unchanged with created=false.
func (m *Machine) Initiate(ctx context.Context, in InitiateInput) (Call, bool, error) {
	if in.CallID == "" {
		return Call{}, false, errors.New("calls: call_id required")
	}
	at := in.At
	if at.IsZero() {
		at = m.Now()
	}
	c := Call{
		CallID:         in.CallID,
		OrganizationID: in.OrganizationID,
		From:           in.From,
		To:             in.To,
		DID:            in.DID,
		Status:         StatusInitiated,
		InitiatedAt:    at.UTC(),
		UpdatedAt:      m.Now().UTC(),
	}
	created, err := m.Store.Create(ctx, c)
	if err != nil {
		return Call{}, false, err
	}
	if !created {
		existing, err := m.Store.Get(ctx, in.CallID)
		return existing, false, err
	}

	m.publish(ctx, c, events.NameCallInitiated, events.CallInitiated{
		CallID:         c.CallID,
		OrganizationID: c.OrganizationID,
		From:           c.From,
		To:             c.To,
		DID:            c.DID,
		InitiatedAt:    c.InitiatedAt,
	})
	return c, true, nil
}

// Signal carries what the triggering webhook knows about the transition.
type Signal struct {
	At               time.Time
	AnsweredAt       time.Time
	ExtensionID      string
	DisconnectReason string
}

type Result struct {
	Call    Call
	From    CallStatus
	Changed bool
}

// Transition moves callID to status to along the transition table.
//
// Two requests outside the table are acknowledged rather than rejected: the
// current status repeated (e.g. a ringing callback after routing already set
// RINGING) and a terminal status for an already-terminal call. Both return
// Changed=false and leave the record and the event stream untouched. Any other
// edge returns *TransitionError.
func (m *Machine) Transition(ctx context.Context, callID string, to CallStatus, sig Signal) (Result, error) {
	c, err := m.Store.Get(ctx, callID)
	if err != nil {
		return Result{}, err
	}
	from := c.Status
	if from == to || (from.IsTerminal() && to.IsTerminal()) {
		return Result{Call: c, From: from}, nil
	}
	if !from.CanTransitionTo(to) {
		return Result{Call: c, From: from}, &TransitionError{CallID: callID, From: from, To: to}
	}

	at := sig.At
	if at.IsZero() {
		at = m.Now()
	}
	at = at.UTC()

	c.Status = to
	c.UpdatedAt = m.Now().UTC()
	if sig.ExtensionID != "" {
		c.ExtensionID = sig.ExtensionID
	}
	if to == StatusAnswered {
		answered := at
		if !sig.AnsweredAt.IsZero() {
			answered = sig.AnsweredAt.UTC()
		}
		c.AnsweredAt = &answered
	}
	if to.IsTerminal() {
		c.EndedAt = &at
		c.DisconnectReason = sig.DisconnectReason
		c.DurationSeconds = duration(c.AnsweredAt, at)
	}

	if err := m.Store.Put(ctx, c); err != nil {
		return Result{}, err
	}

	name, payload := transitionEvent(c)
	m.publish(ctx, c, name, payload)
	return Result{Call: c, From: from, Changed: true}, nil
}

func duration(answeredAt *time.Time, endedAt time.Time) int {
	if answeredAt == nil {
		return 0
	}
	d := endedAt.Sub(*answeredAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func transitionEvent(c Call) (string, any) {
	switch {
	case c.Status == StatusRinging:
		return events.NameCallRinging, events.CallRinging{
			CallID: c.CallID, OrganizationID: c.OrganizationID, ExtensionID: c.ExtensionID,
		}
	case c.Status == StatusAnswered:
		return events.NameCallAnswered, events.CallAnswered{
			CallID: c.CallID, OrganizationID: c.OrganizationID, ExtensionID: c.ExtensionID, AnsweredAt: *c.AnsweredAt,
		}
	default:
		return events.NameCallEnded, events.CallEnded{
			CallID:           c.CallID,
			OrganizationID:   c.OrganizationID,
			Status:           string(c.Status),
			EndedAt:          *c.EndedAt,
			DurationSeconds:  c.DurationSeconds,
			DisconnectReason: c.DisconnectReason,
		}
	}
}

// publish is fire-and-forget: a failed publish never undoes a persisted transition.
func (m *Machine) publish(ctx context.Context, c Call, name string, payload any) {
	if m.Publisher == nil {
		return
	}
	if err := m.Publisher.Publish(ctx, events.OrganizationTopic(c.OrganizationID), name, payload); err != nil {
		m.Log.Warn("event publish failed", "call_id", c.CallID, "event", name, "err", err)
	}
}
