package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

func (r *Resolver) resolveRingGroup(ctx context.Context, w *walk, id string) (Decision, error) {
	g, err := lookup(ctx, "ring_group", r.Config.GetRingGroup, id)
	if err != nil {
		return Decision{}, err
	}

	switch g.Strategy {
	case StrategySimultaneous, "":
		active := activeMembers(sortedMembers(g.Members))
		if len(active) == 0 {
			return r.ringGroupExhausted(ctx, w, g, OutcomeNoAnswer, routingErr(KindNoActiveMembers, "ring_group:"+g.ID, nil))
		}
		targets := make([]DialTarget, 0, len(active))
		for _, m := range active {
			targets = append(targets, dialTarget(m.Extension))
		}
		return Decision{
			Kind:           DecisionDial,
			Targets:        targets,
			Parallel:       true,
			TimeoutSeconds: r.ringTimeout(g.TimeoutSeconds),
			CallerID:       w.rc.From,
			Next:           &Continuation{Kind: ContinueRingGroup, TargetID: g.ID},
			Outcome:        OutcomeRouted,
			Reason:         "ring_group_simultaneous",
		}, nil

	case StrategyRoundRobin, StrategySequential:
		anchor := r.lastAnswered(ctx, g)
		cands := huntOrder(g, anchor)
		if len(cands) == 0 {
			return r.ringGroupExhausted(ctx, w, g, OutcomeNoAnswer, routingErr(KindNoActiveMembers, "ring_group:"+g.ID, nil))
		}
		return r.dialCandidate(w, g, cands, 0, anchor), nil
	}
	return Decision{}, routingErr(KindInvalidConfig, "ring_group:"+g.ID, fmt.Errorf("unknown strategy %q", g.Strategy))
}

// sortedMembers orders by ascending priority, keeping configured order for ties.
func sortedMembers(ms []Member) []Member {
	out := make([]Member, len(ms))
	copy(out, ms)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func activeMembers(ms []Member) []Member {
	out := make([]Member, 0, len(ms))
	for _, m := range ms {
		if m.Extension.Active {
			out = append(out, m)
		}
	}
	return out
}

// roundRobinOrder starts after the last member that answered and wraps,
// skipping inactive members. Unknown or empty last starts at the head.
func roundRobinOrder(ms []Member, last string) []Member {
	sorted := sortedMembers(ms)
	start := 0
	for i, m := range sorted {
		if m.Extension.ID == last {
			start = i + 1
			break
		}
	}
	out := make([]Member, 0, len(sorted))
	for i := 0; i < len(sorted); i++ {
		m := sorted[(start+i)%len(sorted)]
		if m.Extension.Active {
			out = append(out, m)
		}
	}
	return out
}

// lastAnswered reads the round-robin cursor. Other strategies have no anchor.
func (r *Resolver) lastAnswered(ctx context.Context, g RingGroup) string {
	if g.Strategy != StrategyRoundRobin || r.Cursors == nil {
		return ""
	}
	v, err := r.Cursors.LastAnswered(ctx, g.ID)
	if err != nil {
		r.Log.Warn("round robin cursor unavailable", "ring_group_id", g.ID, "err", err)
	}
	return v
}

// huntOrder is the order for one-at-a-time strategies. A call keeps the anchor
// it started with, so answers on other calls cannot reshuffle its hunt.
func huntOrder(g RingGroup, anchor string) []Member {
	if g.Strategy != StrategyRoundRobin {
		return activeMembers(sortedMembers(g.Members))
	}
	return roundRobinOrder(g.Members, anchor)
}

// nextCandidate is the position after the member just rung. The attempt
// counter is only used when that member left the group mid-hunt.
func nextCandidate(cands []Member, cont Continuation) int {
	if cont.MemberID != "" {
		for i, m := range cands {
			if m.Extension.ID == cont.MemberID {
				return i + 1
			}
		}
	}
	return cont.Attempt + 1
}

func (r *Resolver) dialCandidate(w *walk, g RingGroup, cands []Member, i int, anchor string) Decision {
	m := cands[i]
	return Decision{
		Kind:           DecisionDial,
		Targets:        []DialTarget{dialTarget(m.Extension)},
		TimeoutSeconds: r.ringTimeout(g.TimeoutSeconds),
		CallerID:       w.rc.From,
		Next: &Continuation{
			Kind:     ContinueRingGroup,
			TargetID: g.ID,
			Attempt:  i,
			MemberID: m.Extension.ID,
			Anchor:   anchor,
		},
		Outcome: OutcomeRouted,
		Reason:  fmt.Sprintf("ring_group_%s_%d", g.Strategy, i),
	}
}

// ringGroupExhausted routes to the fallback, or ends the call with outcome.
// noFallback is returned instead when set and there is no fallback.
func (r *Resolver) ringGroupExhausted(ctx context.Context, w *walk, g RingGroup, outcome Outcome, noFallback error) (Decision, error) {
	if g.Fallback != nil {
		return r.resolveTarget(ctx, w, *g.Fallback)
	}
	if noFallback != nil {
		return Decision{}, noFallback
	}
	return Decision{Kind: DecisionHangup, Outcome: outcome, Reason: "ring_group_exhausted"}, nil
}

// DialStatus is the upstream result of a finished dial verb.
type DialStatus string

const (
	DialAnswered DialStatus = "answered"
	DialBusy     DialStatus = "busy"
	DialNoAnswer DialStatus = "no_answer"
	DialFailed   DialStatus = "failed"
)

// ParseDialStatus normalizes upstream spellings ("no-answer", "completed", ...).
func ParseDialStatus(s string) DialStatus {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "answered", "completed", "in_progress":
		return DialAnswered
	case "busy":
		return DialBusy
	case "no_answer":
		return DialNoAnswer
	default:
		return DialFailed
	}
}

func dialOutcome(s DialStatus) Outcome {
	switch s {
	case DialBusy:
		return OutcomeBusy
	case DialNoAnswer:
		return OutcomeNoAnswer
	}
	return OutcomeFailed
}

// ResolveDialResult continues routing after a dial verb finished.
func (r *Resolver) ResolveDialResult(ctx context.Context, rc RouteContext, cont Continuation, status DialStatus) (Decision, error) {
	w := r.newWalk(rc, rc.OrganizationID)
	dec, err := r.dialResult(ctx, w, cont, status)
	return r.finish(w, dec, err)
}

func (r *Resolver) dialResult(ctx context.Context, w *walk, cont Continuation, status DialStatus) (Decision, error) {
	if cont.Kind == ContinueExtension {
		if status == DialAnswered {
			return Decision{Kind: DecisionHangup, Outcome: OutcomeNone, Reason: "bridge_finished"}, nil
		}
		return Decision{Kind: DecisionHangup, Outcome: dialOutcome(status), Reason: "extension_" + string(status)}, nil
	}
	if cont.Kind != ContinueRingGroup {
		return Decision{}, routingErr(KindInvalidConfig, string(cont.Kind), fmt.Errorf("no dial continuation for %q", cont.Kind))
	}

	if err := w.enter(RingGroupTarget(cont.TargetID)); err != nil {
		return Decision{}, err
	}
	g, err := lookup(ctx, "ring_group", r.Config.GetRingGroup, cont.TargetID)
	if err != nil {
		return Decision{}, err
	}

	if status == DialAnswered {
		if g.Strategy == StrategyRoundRobin && cont.MemberID != "" {
			r.recordAnswer(ctx, g.ID, cont.MemberID)
		}
		return Decision{Kind: DecisionHangup, Outcome: OutcomeNone, Reason: "bridge_finished"}, nil
	}

	if g.Strategy != StrategyRoundRobin && g.Strategy != StrategySequential {
		return r.ringGroupExhausted(ctx, w, g, dialOutcome(status), nil)
	}
	if !r.callerConnected(ctx, w.rc.CallID) {
		return Decision{Kind: DecisionHangup, Outcome: OutcomeNone, Reason: "caller_gone"}, nil
	}
	cands := huntOrder(g, cont.Anchor)
	if next := nextCandidate(cands, cont); next < len(cands) {
		return r.dialCandidate(w, g, cands, next, cont.Anchor), nil
	}
	return r.ringGroupExhausted(ctx, w, g, OutcomeNoAnswer, nil)
}

func (r *Resolver) recordAnswer(ctx context.Context, groupID, memberID string) {
	if r.Cursors == nil {
		return
	}
	if err := r.Cursors.SetLastAnswered(ctx, groupID, memberID); err != nil {
		r.Log.Warn("round robin cursor update failed", "ring_group_id", groupID, "member", memberID, "err", err)
	}
}

// callerConnected asks the upstream platform whether the caller is still on the
// line. Any error counts as connected so hunting continues.
func (r *Resolver) callerConnected(ctx context.Context, callID string) bool {
	if r.Liveness == nil || callID == "" {
		return true
	}
	ok, err := r.Liveness.CallActive(ctx, callID)
	if err != nil {
		r.Log.Warn("call liveness check failed", "call_id", callID, "err", err)
		return true
	}
	return ok
}
