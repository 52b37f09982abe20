package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultMaxHops bounds nested target resolution.
	DefaultMaxHops            = 8
	DefaultRingTimeoutSeconds = 30
	DefaultMenuTimeoutSeconds = 10
	DefaultMenuMaxTurns       = 3
)

// RouteContext is what the resolver knows about the call being routed.
type RouteContext struct {
	CallID string
	From   string
	DID    string
	// OrganizationID is known on callbacks; Resolve takes it from the DID.
	OrganizationID string
}

// CallLiveness reports whether the caller is still connected. Implementations
// typically ask the upstream API through a circuit breaker.
type CallLiveness interface {
	CallActive(ctx context.Context, callID string) (bool, error)
}

// Resolver turns a dialed number into a routing decision. It reads configuration
// and the round-robin cursors; it never writes call state.
type Resolver struct {
	Config   ConfigSource
	Cursors  CursorStore
	Liveness CallLiveness

	Log *slog.Logger
	Now func() time.Time

	MaxHops            int
	RingTimeoutSeconds int
}

func NewResolver(cfg ConfigSource, cursors CursorStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		Config:             cfg,
		Cursors:            cursors,
		Log:                log.With("component", "routing_resolver"),
		Now:                time.Now,
		MaxHops:            DefaultMaxHops,
		RingTimeoutSeconds: DefaultRingTimeoutSeconds,
	}
}

// walk tracks one resolution so nested targets cannot loop forever.
type walk struct {
	rc   RouteContext
	org  string
	hops int
	max  int
	seen map[string]struct{}
}

func (r *Resolver) newWalk(rc RouteContext, org string) *walk {
	limit := r.MaxHops
	if limit <= 0 {
		limit = DefaultMaxHops
	}
	return &walk{rc: rc, org: org, max: limit, seen: map[string]struct{}{}}
}

func (w *walk) enter(t Target) error {
	w.hops++
	if w.hops > w.max {
		return routingErr(KindConfigurationCycle, string(t.Kind), fmt.Errorf("more than %d hops", w.max))
	}
	if ref := t.ref(); ref != "" {
		if _, ok := w.seen[ref]; ok {
			return routingErr(KindConfigurationCycle, ref, errors.New("target revisited"))
		}
		w.seen[ref] = struct{}{}
	}
	return nil
}

// Resolve looks up the DID and resolves its configured target.
func (r *Resolver) Resolve(ctx context.Context, did string, rc RouteContext) (Decision, error) {
	d, err := r.Config.GetDID(ctx, did)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{}, routingErr(KindInvalidDID, did, nil)
		}
		return Decision{}, fmt.Errorf("routing: lookup did %s: %w", did, err)
	}
	if !d.Active {
		return Decision{}, &RoutingError{Kind: KindInvalidDID, Ref: did, OrganizationID: d.OrganizationID, Err: errors.New("did inactive")}
	}

	if rc.DID == "" {
		rc.DID = did
	}
	w := r.newWalk(rc, d.OrganizationID)
	dec, err := r.resolveTarget(ctx, w, d.Target)
	return r.finish(w, dec, err)
}

func (r *Resolver) finish(w *walk, dec Decision, err error) (Decision, error) {
	if err != nil {
		var re *RoutingError
		if errors.As(err, &re) && re.OrganizationID == "" {
			re.OrganizationID = w.org
		}
		return Decision{}, err
	}
	dec.OrganizationID = w.org
	return dec, nil
}

func (r *Resolver) resolveTarget(ctx context.Context, w *walk, t Target) (Decision, error) {
	if err := t.Validate(); err != nil {
		return Decision{}, routingErr(KindMissingTarget, string(t.Kind), err)
	}
	if err := w.enter(t); err != nil {
		return Decision{}, err
	}

	switch t.Kind {
	case KindExtension:
		return r.resolveExtension(w, *t.Extension)
	case KindRingGroup:
		return r.resolveRingGroup(ctx, w, t.RingGroupID)
	case KindBusinessHours:
		return r.resolveSchedule(ctx, w, t.ScheduleID)
	case KindIVRMenu:
		return r.enterMenu(ctx, w, t.MenuID)
	case KindVoicemail:
		v := t.Voicemail
		return Decision{
			Kind:        DecisionVoicemail,
			Announce:    v.Greeting,
			RedirectURL: v.RedirectURL,
			Outcome:     OutcomeRouted,
			Reason:      "voicemail:" + v.MailboxID,
		}, nil
	case KindHangup:
		return hangupDecision(*t.Hangup), nil
	}
	return Decision{}, routingErr(KindMissingTarget, string(t.Kind), nil)
}

func hangupDecision(h Hangup) Decision {
	switch h.Reason {
	case "busy":
		return Decision{Kind: DecisionReject, RejectReason: "busy", Outcome: OutcomeBusy, Reason: "hangup_busy"}
	case "rejected":
		return Decision{Kind: DecisionReject, RejectReason: "rejected", Outcome: OutcomeFailed, Reason: "hangup_rejected"}
	}
	return Decision{Kind: DecisionHangup, Announce: h.Message, Outcome: OutcomeFailed, Reason: "hangup_target"}
}

func (r *Resolver) resolveExtension(w *walk, e Extension) (Decision, error) {
	if !e.Active {
		return Decision{}, routingErr(KindInactiveTarget, "extension:"+e.ID, nil)
	}
	return Decision{
		Kind:           DecisionDial,
		Targets:        []DialTarget{dialTarget(e)},
		TimeoutSeconds: r.ringTimeout(0),
		CallerID:       w.rc.From,
		Next:           &Continuation{Kind: ContinueExtension, TargetID: e.ID, MemberID: e.ID},
		Outcome:        OutcomeRouted,
		Reason:         "extension",
	}, nil
}

func dialTarget(e Extension) DialTarget {
	return DialTarget{ExtensionID: e.ID, Name: e.Name, SIPAddress: e.SIPAddress, Number: e.Number}
}

func (r *Resolver) ringTimeout(configured int) int {
	if configured > 0 {
		return configured
	}
	if r.RingTimeoutSeconds > 0 {
		return r.RingTimeoutSeconds
	}
	return DefaultRingTimeoutSeconds
}

// lookup wraps a config read, turning ErrNotFound into a missing-target error.
func lookup[T any](ctx context.Context, ref string, fn func(context.Context, string) (T, error), id string) (T, error) {
	v, err := fn(ctx, id)
	if err != nil {
		var zero T
		if errors.Is(err, ErrNotFound) {
			return zero, routingErr(KindMissingTarget, ref+":"+id, nil)
		}
		return zero, fmt.Errorf("routing: load %s %s: %w", ref, id, err)
	}
	return v, nil
}
