package telephony

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"pbx-routing/internal/routing"
)

const (
	PathInbound    = "/webhooks/voice/inbound"
	PathStatus     = "/webhooks/voice/status"
	PathCDR        = "/webhooks/voice/cdr"
	PathMenu       = "/webhooks/voice/menu"
	PathDialResult = "/webhooks/voice/dial-result"
)

// CallbackURLs builds the absolute URLs the upstream platform calls back on.
// Resolver state that must survive the round trip is carried in the query.
type CallbackURLs struct {
	Base string
}

func (u CallbackURLs) abs(path string, q url.Values) string {
	s := strings.TrimRight(u.Base, "/") + path
	if len(q) > 0 {
		s += "?" + q.Encode()
	}
	return s
}

func (u CallbackURLs) Menu(callID, menuID string, attempt int, timeout bool) string {
	q := url.Values{}
	q.Set("call_id", callID)
	q.Set("menu", menuID)
	q.Set("attempt", strconv.Itoa(attempt))
	if timeout {
		q.Set("timeout", "1")
	}
	return u.abs(PathMenu, q)
}

func (u CallbackURLs) DialResult(callID string, c routing.Continuation) string {
	q := url.Values{}
	q.Set("call_id", callID)
	q.Set("kind", string(c.Kind))
	q.Set("target", c.TargetID)
	q.Set("attempt", strconv.Itoa(c.Attempt))
	if c.MemberID != "" {
		q.Set("member", c.MemberID)
	}
	if c.Anchor != "" {
		q.Set("after", c.Anchor)
	}
	return u.abs(PathDialResult, q)
}

// MenuCallback is the state carried on an IVR callback.
type MenuCallback struct {
	CallID  string
	MenuID  string
	Attempt int
	Timeout bool
}

func ParseMenuCallback(q url.Values) (MenuCallback, error) {
	mc := MenuCallback{
		CallID:  q.Get("call_id"),
		MenuID:  q.Get("menu"),
		Timeout: q.Get("timeout") == "1",
	}
	if mc.MenuID == "" {
		return MenuCallback{}, fmt.Errorf("telephony: menu callback without menu")
	}
	attempt, err := parseAttempt(q.Get("attempt"))
	if err != nil {
		return MenuCallback{}, err
	}
	mc.Attempt = attempt
	return mc, nil
}

// ParseDialCallback reads the continuation of a dial-result callback.
func ParseDialCallback(q url.Values) (string, routing.Continuation, error) {
	c := routing.Continuation{
		Kind:     routing.ContinuationKind(q.Get("kind")),
		TargetID: q.Get("target"),
		MemberID: q.Get("member"),
		Anchor:   q.Get("after"),
	}
	switch c.Kind {
	case routing.ContinueRingGroup, routing.ContinueExtension:
	default:
		return "", routing.Continuation{}, fmt.Errorf("telephony: unknown dial continuation %q", c.Kind)
	}
	if c.TargetID == "" {
		return "", routing.Continuation{}, fmt.Errorf("telephony: dial callback without target")
	}
	attempt, err := parseAttempt(q.Get("attempt"))
	if err != nil {
		return "", routing.Continuation{}, err
	}
	c.Attempt = attempt
	return q.Get("call_id"), c, nil
}

func parseAttempt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("telephony: invalid attempt %q", s)
	}
	return n, nil
}
