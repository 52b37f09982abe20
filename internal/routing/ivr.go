package routing

import (
	"context"
	"errors"
	"strings"
)

func (r *Resolver) enterMenu(ctx context.Context, w *walk, id string) (Decision, error) {
	m, err := lookup(ctx, "ivr_menu", r.Config.GetMenu, id)
	if err != nil {
		return Decision{}, err
	}
	return menuPrompt(m, 0, ""), nil
}

func menuPrompt(m Menu, attempt int, announce string) Decision {
	timeout := m.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultMenuTimeoutSeconds
	}
	return Decision{
		Kind:     DecisionGather,
		Announce: announce,
		Prompt: &Prompt{
			Text:           m.Greeting,
			AudioURL:       m.GreetingAudioURL,
			NumDigits:      1,
			TimeoutSeconds: timeout,
		},
		Next:    &Continuation{Kind: ContinueMenu, TargetID: m.ID, Attempt: attempt},
		Outcome: OutcomeRouted,
		Reason:  "ivr_prompt",
	}
}

// ResolveMenuInput handles one DTMF entry (or a timeout, digits == "") for the
// menu prompt played at attempt. Unmatched input replays the prompt until
// MaxTurns attempts have failed, then routes to the failover.
func (r *Resolver) ResolveMenuInput(ctx context.Context, rc RouteContext, menuID string, attempt int, digits string) (Decision, error) {
	w := r.newWalk(rc, rc.OrganizationID)
	dec, err := r.menuInput(ctx, w, menuID, attempt, strings.TrimSpace(digits))
	return r.finish(w, dec, err)
}

func (r *Resolver) menuInput(ctx context.Context, w *walk, menuID string, attempt int, digits string) (Decision, error) {
	if err := w.enter(MenuTarget(menuID)); err != nil {
		return Decision{}, err
	}
	m, err := lookup(ctx, "ivr_menu", r.Config.GetMenu, menuID)
	if err != nil {
		return Decision{}, err
	}

	if digits != "" {
		if t, ok := m.Options[digits]; ok {
			r.Log.Debug("ivr option selected", "menu_id", menuID, "digits", digits, "call_id", w.rc.CallID)
			return r.resolveTarget(ctx, w, t)
		}
	}

	maxTurns := m.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMenuMaxTurns
	}
	turns := attempt + 1
	if turns < maxTurns {
		return menuPrompt(m, turns, m.InvalidMessage), nil
	}

	if m.Failover == nil {
		return Decision{}, routingErr(KindMissingTarget, "ivr_menu:"+menuID+":failover", errors.New("max turns reached"))
	}
	r.Log.Info("ivr max turns reached", "menu_id", menuID, "turns", turns, "call_id", w.rc.CallID)
	return r.resolveTarget(ctx, w, *m.Failover)
}
