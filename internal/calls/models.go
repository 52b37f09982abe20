package calls

import "time"

// Call is the lifecycle record of one inbound call.
//
// Invariant: exactly one record per CallID. AnsweredAt is set iff the call passed
// through StatusAnswered.
type Call struct {
	CallID         string `json:"call_id"`
	OrganizationID string `json:"organization_id"`

	From string `json:"from_number"`
	To   string `json:"to_number"`
	DID  string `json:"did"`

	Status      CallStatus `json:"status"`
	ExtensionID string     `json:"extension_id,omitempty"`

	InitiatedAt time.Time  `json:"initiated_at"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	// DurationSeconds is derived on terminal states.
	DurationSeconds  int    `json:"duration"`
	DisconnectReason string `json:"disconnect_reason,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

type CallStatus string

const (
	StatusInitiated CallStatus = "initiated"
	StatusRinging   CallStatus = "ringing"
	StatusAnswered  CallStatus = "answered"
	StatusCompleted CallStatus = "completed"
	StatusBusy      CallStatus = "busy"
	StatusNoAnswer  CallStatus = "no_answer"
	StatusFailed    CallStatus = "failed"
)

var transitions = map[CallStatus][]CallStatus{
	StatusInitiated: {StatusRinging, StatusFailed, StatusBusy},
	StatusRinging:   {StatusAnswered, StatusNoAnswer, StatusBusy, StatusFailed},
	StatusAnswered:  {StatusCompleted, StatusFailed},
}

func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed:
		return true
	}
	return false
}

func (s CallStatus) Valid() bool {
	switch s {
	case StatusInitiated, StatusRinging, StatusAnswered:
		return true
	}
	return s.IsTerminal()
}

func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
