package telephony

import (
	"fmt"
	"net/http"

	"pbx-routing/internal/cxml"
	"pbx-routing/internal/routing"
)

// Render turns a routing decision into the response document for callID.
func Render(dec routing.Decision, callID string, urls CallbackURLs) (string, error) {
	b := cxml.New()

	switch dec.Kind {
	case routing.DecisionDial:
		if dec.Announce != "" {
			b.Say(dec.Announce, cxml.SayOptions{})
		}
		opts := cxml.DialOptions{
			TimeoutSeconds: dec.TimeoutSeconds,
			CallerID:       dec.CallerID,
		}
		if dec.Next != nil {
			opts.Action = urls.DialResult(callID, *dec.Next)
			opts.Method = http.MethodPost
		}
		targets := make([]cxml.DialTarget, 0, len(dec.Targets))
		for _, t := range dec.Targets {
			if t.IsSIP() {
				targets = append(targets, cxml.Sip(t.Address()))
			} else {
				targets = append(targets, cxml.Number(t.Address()))
			}
		}
		b.Dial(opts, targets...)

	case routing.DecisionGather:
		if dec.Prompt == nil || dec.Next == nil {
			return "", fmt.Errorf("telephony: gather decision without prompt or continuation")
		}
		next := *dec.Next
		if dec.Announce != "" {
			b.Say(dec.Announce, cxml.SayOptions{})
		}
		b.Gather(cxml.GatherOptions{
			Action:         urls.Menu(callID, next.TargetID, next.Attempt, false),
			Method:         http.MethodPost,
			NumDigits:      dec.Prompt.NumDigits,
			TimeoutSeconds: dec.Prompt.TimeoutSeconds,
		})
		if dec.Prompt.AudioURL != "" {
			b.Play(dec.Prompt.AudioURL, 0)
		} else {
			b.Say(dec.Prompt.Text, cxml.SayOptions{})
		}
		b.End()
		// Reached only when no digits were entered.
		b.Redirect(urls.Menu(callID, next.TargetID, next.Attempt, true), http.MethodPost)

	case routing.DecisionVoicemail:
		if dec.Announce != "" {
			b.Say(dec.Announce, cxml.SayOptions{})
		}
		b.Redirect(dec.RedirectURL, http.MethodPost)

	case routing.DecisionReject:
		b.Reject(dec.RejectReason)

	case routing.DecisionHangup:
		if dec.Announce != "" {
			b.Say(dec.Announce, cxml.SayOptions{})
		}
		b.Hangup()

	default:
		return "", fmt.Errorf("telephony: unknown decision kind %q", dec.Kind)
	}

	return b.Render()
}
