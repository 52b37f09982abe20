package telephony

import (
	"net/url"
	"testing"

	"pbx-routing/internal/routing"
)

func TestDialCallbackRoundTrip(t *testing.T) {
	u := CallbackURLs{Base: "https://pbx.example.com/"}
	in := routing.Continuation{Kind: routing.ContinueRingGroup, TargetID: "sales", Attempt: 2, MemberID: "B", Anchor: "A"}

	raw := u.DialResult("CA1", in)
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Path != PathDialResult || parsed.Host != "pbx.example.com" {
		t.Fatalf("unexpected url %s", raw)
	}
	callID, out, err := ParseDialCallback(parsed.Query())
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if callID != "CA1" || out != in {
		t.Fatalf("round trip mismatch: %q %+v", callID, out)
	}
}

func TestParseMenuCallback(t *testing.T) {
	q, _ := url.ParseQuery("call_id=CA1&menu=main&attempt=2&timeout=1")
	mc, err := ParseMenuCallback(q)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if mc != (MenuCallback{CallID: "CA1", MenuID: "main", Attempt: 2, Timeout: true}) {
		t.Fatalf("unexpected callback %+v", mc)
	}

	q, _ = url.ParseQuery("menu=main&attempt=-1")
	if _, err := ParseMenuCallback(q); err == nil {
		t.Fatalf("expected error for negative attempt")
	}
}

func TestDeriveEventID(t *testing.T) {
	a := Event{CallID: "CA1", Status: "ringing", Timestamp: 100}
	b := a
	if DeriveEventID(kindStatus, a, "") != DeriveEventID(kindStatus, b, "") {
		t.Fatalf("derived ids must be stable")
	}
	b.Timestamp = 101
	if DeriveEventID(kindStatus, a, "") == DeriveEventID(kindStatus, b, "") {
		t.Fatalf("different timestamps must give different ids")
	}
	if DeriveEventID(kindMenu, a, "1") == DeriveEventID(kindMenu, a, "2") {
		t.Fatalf("extra must be part of the id")
	}
	if got := (Event{EventID: " given "}).eventID(kindStatus, ""); got != "given" {
		t.Fatalf("explicit id should win, got %q", got)
	}
}
