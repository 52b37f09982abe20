package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pbx-routing/internal/calls"
	"pbx-routing/internal/cxml"
	"pbx-routing/internal/guard"
	"pbx-routing/internal/routing"
	"pbx-routing/pkg/logger"
)

const DefaultErrorMessage = "We are sorry, your call cannot be completed at this time. Goodbye."

// Hanger ends calls on the upstream platform.
type Hanger interface {
	Hangup(ctx context.Context, callID string) error
}

// Response is what a webhook handler writes back: always a document, with the
// HTTP status the upstream platform should see.
type Response struct {
	Status  int
	Body    string
	Outcome guard.Outcome
}

// Processor runs one webhook delivery end to end: admission through the guard,
// state transition, routing decision, document rendering.
type Processor struct {
	Guard    *guard.Guard
	Machine  *calls.Machine
	Resolver *routing.Resolver
	Upstream Hanger
	URLs     CallbackURLs

	ErrorMessage string
	Now          func() time.Time
}

func NewProcessor(g *guard.Guard, m *calls.Machine, r *routing.Resolver, up Hanger, urls CallbackURLs) *Processor {
	return &Processor{
		Guard:        g,
		Machine:      m,
		Resolver:     r,
		Upstream:     up,
		URLs:         urls,
		ErrorMessage: DefaultErrorMessage,
		Now:          time.Now,
	}
}

func (p *Processor) errorDocument() string {
	return cxml.ErrorDocument(p.ErrorMessage)
}

func (p *Processor) log(ctx context.Context) *slog.Logger {
	return logger.From(ctx).With("component", "webhook_processor")
}

// guarded admits the event and runs fn in the call's critical section. A body
// returned with a nil error is stored as the event's response; an error releases
// the lock unmarked so the platform's retry is processed again.
func (p *Processor) guarded(ctx context.Context, eventID, callID string, fn func(ctx context.Context) (string, error)) Response {
	ctx = logger.With(ctx, logger.From(ctx).With("event_id", eventID, "call_id", callID))
	log := p.log(ctx)
	if callID == "" {
		log.Warn("webhook without call_id")
		return Response{Status: http.StatusBadRequest, Body: p.errorDocument()}
	}

	adm, err := p.Guard.Admit(ctx, eventID, callID)
	if err != nil {
		log.Error("admission failed", "err", err)
		return Response{Status: http.StatusServiceUnavailable, Body: p.errorDocument()}
	}
	switch adm.Outcome {
	case guard.AlreadyProcessed:
		log.Info("duplicate webhook replayed")
		return Response{Status: http.StatusOK, Body: adm.Prior, Outcome: adm.Outcome}
	case guard.LockBusy:
		log.Warn("call busy, asking for retry")
		return Response{Status: http.StatusServiceUnavailable, Body: p.errorDocument(), Outcome: adm.Outcome}
	}

	body, err := fn(ctx)
	if err != nil {
		log.Error("webhook processing failed", "err", err)
		if rerr := adm.Ticket.Release(ctx); rerr != nil {
			log.Warn("lock release failed", "err", rerr)
		}
		return Response{Status: http.StatusInternalServerError, Body: p.errorDocument(), Outcome: adm.Outcome}
	}
	if err := adm.Ticket.Commit(ctx, body); err != nil {
		log.Warn("commit failed", "err", err)
	}
	return Response{Status: http.StatusOK, Body: body, Outcome: adm.Outcome}
}

// HandleInbound creates the call record, resolves the dialed number and answers
// with the first routing document.
func (p *Processor) HandleInbound(ctx context.Context, ev Event) Response {
	return p.guarded(ctx, ev.eventID(kindInbound, ""), ev.CallID, func(ctx context.Context) (string, error) {
		did := ev.dialedNumber()
		rc := routing.RouteContext{CallID: ev.CallID, From: normalizePhone(ev.From), DID: did}
		dec, rerr := p.Resolver.Resolve(ctx, did, rc)

		org := dec.OrganizationID
		var re *routing.RoutingError
		if errors.As(rerr, &re) {
			org = re.OrganizationID
		}
		if rerr != nil && re == nil {
			return "", rerr
		}

		call, created, err := p.Machine.Initiate(ctx, calls.InitiateInput{
			CallID:         ev.CallID,
			OrganizationID: org,
			From:           rc.From,
			To:             normalizePhone(ev.To),
			DID:            did,
			At:             ev.occurredAt(p.Now),
		})
		if err != nil {
			return "", err
		}
		if !created && call.Status.IsTerminal() {
			p.log(ctx).Info("inbound webhook for finished call", "status", call.Status)
			return cxml.Empty(), nil
		}
		p.log(ctx).Info("inbound call", "did", did, "organization_id", org, "created", created)

		if rerr != nil {
			return p.routingFailed(ctx, ev.CallID, rerr)
		}
		return p.apply(ctx, ev.CallID, dec)
	})
}

// HandleStatus applies a lifecycle status reported by the platform.
func (p *Processor) HandleStatus(ctx context.Context, ev Event) Response {
	return p.guarded(ctx, ev.eventID(kindStatus, ""), ev.CallID, func(ctx context.Context) (string, error) {
		log := p.log(ctx).With("status", ev.Status)
		call, err := p.Machine.Store.Get(ctx, ev.CallID)
		if errors.Is(err, calls.ErrNotFound) {
			log.Warn("status for unknown call")
			return cxml.Empty(), nil
		}
		if err != nil {
			return "", err
		}

		to, ok := MapStatus(ev.Status, call.Status)
		if !ok {
			log.Warn("unmapped status ignored")
			return cxml.Empty(), nil
		}
		sig := calls.Signal{
			At:               ev.occurredAt(p.Now),
			AnsweredAt:       unixOrZero(ev.AnswerTime),
			DisconnectReason: ev.DisconnectReason,
		}
		if err := p.transition(ctx, ev.CallID, to, sig); err != nil {
			return "", err
		}
		return cxml.Empty(), nil
	})
}

// HandleCDR records the final disposition for calls whose terminal status was
// never delivered.
func (p *Processor) HandleCDR(ctx context.Context, ev Event) Response {
	return p.guarded(ctx, ev.eventID(kindCDR, ev.Disposition), ev.CallID, func(ctx context.Context) (string, error) {
		log := p.log(ctx).With("disposition", ev.Disposition)
		call, err := p.Machine.Store.Get(ctx, ev.CallID)
		if errors.Is(err, calls.ErrNotFound) {
			log.Warn("cdr for unknown call")
			return cxml.Empty(), nil
		}
		if err != nil {
			return "", err
		}
		log.Info("cdr received",
			"direction", ev.Direction,
			"duration", ev.Duration,
			"recording", ev.RecordingURL != "",
			"status", call.Status,
		)
		if call.Status.IsTerminal() {
			return cxml.Empty(), nil
		}

		to, ok := MapDisposition(ev.Disposition, call.Status)
		if !ok {
			log.Warn("unmapped disposition ignored")
			return cxml.Empty(), nil
		}
		at := unixOrZero(ev.EndTime)
		if at.IsZero() {
			at = ev.occurredAt(p.Now)
		}
		answeredAt := unixOrZero(ev.AnswerTime)
		if answeredAt.IsZero() {
			answeredAt = unixOrZero(ev.StartTime)
		}
		// An answered CDR for a call still ringing means the answered status was lost.
		if to == calls.StatusNoAnswer && call.Status == calls.StatusRinging && isAnsweredDisposition(ev.Disposition) {
			if err := p.transition(ctx, ev.CallID, calls.StatusAnswered, calls.Signal{At: answeredAt, AnsweredAt: answeredAt}); err != nil {
				return "", err
			}
			to = calls.StatusCompleted
		}
		sig := calls.Signal{At: at, AnsweredAt: answeredAt, DisconnectReason: ev.DisconnectReason}
		if err := p.transition(ctx, ev.CallID, to, sig); err != nil {
			return "", err
		}
		return cxml.Empty(), nil
	})
}

// HandleMenuInput continues an IVR menu with the caller's digits, or a timeout.
func (p *Processor) HandleMenuInput(ctx context.Context, ev Event, mc MenuCallback) Response {
	if ev.CallID == "" {
		ev.CallID = mc.CallID
	}
	extra := mc.MenuID + ":" + strconv.Itoa(mc.Attempt) + ":" + ev.Digits
	return p.guarded(ctx, ev.eventID(kindMenu, extra), ev.CallID, func(ctx context.Context) (string, error) {
		rc, done, err := p.routeContext(ctx, ev.CallID)
		if err != nil || done != "" {
			return done, err
		}
		digits := ev.Digits
		if mc.Timeout {
			digits = ""
		}
		dec, rerr := p.Resolver.ResolveMenuInput(ctx, rc, mc.MenuID, mc.Attempt, digits)
		if rerr != nil {
			return p.resolveFailed(ctx, ev.CallID, rerr)
		}
		return p.apply(ctx, ev.CallID, dec)
	})
}

// HandleDialResult continues routing after a dial verb finished.
func (p *Processor) HandleDialResult(ctx context.Context, ev Event, cont routing.Continuation) Response {
	status := ev.DialStatus
	if status == "" {
		status = ev.Status
	}
	extra := string(cont.Kind) + ":" + cont.TargetID + ":" + strconv.Itoa(cont.Attempt) + ":" + status
	return p.guarded(ctx, ev.eventID(kindDialResult, extra), ev.CallID, func(ctx context.Context) (string, error) {
		rc, done, err := p.routeContext(ctx, ev.CallID)
		if err != nil || done != "" {
			return done, err
		}
		dec, rerr := p.Resolver.ResolveDialResult(ctx, rc, cont, routing.ParseDialStatus(status))
		if rerr != nil {
			return p.resolveFailed(ctx, ev.CallID, rerr)
		}
		return p.apply(ctx, ev.CallID, dec)
	})
}

// routeContext loads the call for a routing callback. done is a finished
// document when there is nothing left to route.
func (p *Processor) routeContext(ctx context.Context, callID string) (routing.RouteContext, string, error) {
	call, err := p.Machine.Store.Get(ctx, callID)
	if errors.Is(err, calls.ErrNotFound) {
		p.log(ctx).Warn("routing callback for unknown call")
		return routing.RouteContext{}, p.errorDocument(), nil
	}
	if err != nil {
		return routing.RouteContext{}, "", err
	}
	if call.Status.IsTerminal() {
		p.log(ctx).Info("routing callback for finished call", "status", call.Status)
		return routing.RouteContext{}, cxml.Empty(), nil
	}
	return routing.RouteContext{
		CallID:         call.CallID,
		From:           call.From,
		DID:            call.DID,
		OrganizationID: call.OrganizationID,
	}, "", nil
}

// apply records the decision's lifecycle outcome and renders it.
func (p *Processor) apply(ctx context.Context, callID string, dec routing.Decision) (string, error) {
	log := p.log(ctx).With("decision", dec.Kind, "outcome", dec.Outcome, "reason", dec.Reason)
	if to, ok := outcomeStatus(dec.Outcome); ok {
		sig := calls.Signal{ExtensionID: dec.SingleExtensionID(), DisconnectReason: disconnectReason(dec)}
		if err := p.transition(ctx, callID, to, sig); err != nil {
			return "", err
		}
	}
	doc, err := Render(dec, callID, p.URLs)
	if err != nil {
		log.Error("render failed", "err", err)
		if err := p.transition(ctx, callID, calls.StatusFailed, calls.Signal{DisconnectReason: "render_failed"}); err != nil {
			return "", err
		}
		return p.errorDocument(), nil
	}
	log.Debug("routing decision rendered")
	return doc, nil
}

// resolveFailed separates configuration problems, which end the call, from
// infrastructure errors, which are retried.
func (p *Processor) resolveFailed(ctx context.Context, callID string, err error) (string, error) {
	if errors.Is(err, routing.ErrInvalidRouting) {
		return p.routingFailed(ctx, callID, err)
	}
	return "", err
}

func (p *Processor) routingFailed(ctx context.Context, callID string, err error) (string, error) {
	kind := routing.KindOf(err)
	p.log(ctx).Warn("routing failed", "kind", kind, "err", err)
	if terr := p.transition(ctx, callID, calls.StatusFailed, calls.Signal{DisconnectReason: "routing_" + string(kind)}); terr != nil {
		return "", terr
	}
	return p.errorDocument(), nil
}

// transition applies to and logs invalid transitions instead of failing the
// webhook. Losing an answered leg also clears it upstream.
func (p *Processor) transition(ctx context.Context, callID string, to calls.CallStatus, sig calls.Signal) error {
	res, err := p.Machine.Transition(ctx, callID, to, sig)
	if errors.Is(err, calls.ErrInvalidTransition) {
		p.log(ctx).Info("transition rejected", "from", res.From, "to", to)
		return nil
	}
	if err != nil {
		return err
	}
	if res.Changed && res.From == calls.StatusAnswered && to == calls.StatusFailed && p.Upstream != nil {
		if err := p.Upstream.Hangup(ctx, callID); err != nil {
			p.log(ctx).Warn("upstream hangup failed", "err", err)
		}
	}
	return nil
}

func outcomeStatus(o routing.Outcome) (calls.CallStatus, bool) {
	switch o {
	case routing.OutcomeRouted:
		return calls.StatusRinging, true
	case routing.OutcomeBusy:
		return calls.StatusBusy, true
	case routing.OutcomeNoAnswer:
		return calls.StatusNoAnswer, true
	case routing.OutcomeFailed:
		return calls.StatusFailed, true
	}
	return "", false
}

func disconnectReason(dec routing.Decision) string {
	if dec.Outcome == routing.OutcomeRouted {
		return ""
	}
	return dec.Reason
}

// MapStatus translates a platform call status given the record's current one.
func MapStatus(status string, current calls.CallStatus) (calls.CallStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "ringing":
		return calls.StatusRinging, true
	case "answered", "in-progress", "in_progress":
		return calls.StatusAnswered, true
	case "completed":
		switch current {
		case calls.StatusAnswered:
			return calls.StatusCompleted, true
		case calls.StatusRinging:
			return calls.StatusNoAnswer, true
		case calls.StatusInitiated:
			return calls.StatusFailed, true
		}
		// terminal already; Transition treats this as a no-op
		return calls.StatusCompleted, true
	case "busy":
		return calls.StatusBusy, true
	case "no-answer", "no_answer":
		return calls.StatusNoAnswer, true
	case "failed", "canceled", "cancelled":
		return calls.StatusFailed, true
	}
	return "", false
}

func isAnsweredDisposition(d string) bool {
	return strings.EqualFold(strings.TrimSpace(d), "answered")
}

// MapDisposition translates a CDR disposition ("ANSWERED", "NO ANSWER", ...).
func MapDisposition(disposition string, current calls.CallStatus) (calls.CallStatus, bool) {
	d := strings.ToLower(strings.TrimSpace(disposition))
	d = strings.NewReplacer(" ", "-", "_", "-").Replace(d)
	if d == "answered" {
		d = "completed"
	}
	return MapStatus(d, current)
}
