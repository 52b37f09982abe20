package telephony

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Event is the JSON body the upstream platform posts to every voice webhook.
// Fields not relevant to an endpoint are left empty.
type Event struct {
	EventID   string `json:"event_id,omitempty"`
	CallID    string `json:"call_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	DID       string `json:"did"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`

	// status callbacks
	Duration         int    `json:"duration,omitempty"`
	DisconnectReason string `json:"disconnect_reason,omitempty"`
	AnswerTime       int64  `json:"answer_time,omitempty"`

	// IVR and dial callbacks
	Digits     string `json:"digits,omitempty"`
	DialStatus string `json:"dial_status,omitempty"`

	// CDR
	StartTime    int64  `json:"start_time,omitempty"`
	EndTime      int64  `json:"end_time,omitempty"`
	Disposition  string `json:"disposition,omitempty"`
	Direction    string `json:"direction,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
}

const (
	kindInbound    = "inbound"
	kindStatus     = "status"
	kindCDR        = "cdr"
	kindMenu       = "menu"
	kindDialResult = "dial_result"
)

// DeriveEventID builds a stable id for platforms that do not send one. extra
// distinguishes callbacks that share call, status and timestamp.
func DeriveEventID(kind string, e Event, extra string) string {
	h := sha256.New()
	for _, part := range []string{e.CallID, kind, e.Status, strconv.FormatInt(e.Timestamp, 10), extra} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e Event) eventID(kind, extra string) string {
	if id := strings.TrimSpace(e.EventID); id != "" {
		return id
	}
	return DeriveEventID(kind, e, extra)
}

// dialedNumber is the DID the call arrived on.
func (e Event) dialedNumber() string {
	if e.DID != "" {
		return normalizePhone(e.DID)
	}
	return normalizePhone(e.To)
}

func (e Event) occurredAt(now func() time.Time) time.Time {
	if e.Timestamp > 0 {
		return time.Unix(e.Timestamp, 0).UTC()
	}
	return now().UTC()
}

func unixOrZero(s int64) time.Time {
	if s <= 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}

func normalizePhone(s string) string {
	// "anonymous" and similar are kept as-is.
	return strings.TrimSpace(s)
}
