package routing

import "strings"

// Decision is the provider-agnostic output of the resolver. The telephony layer
// turns it into a response document and a state transition; nothing here knows
// about URLs or markup.
type Decision struct {
	OrganizationID string `json:"organization_id"`

	Kind DecisionKind `json:"kind"`

	// Dial
	Targets        []DialTarget `json:"targets,omitempty"`
	Parallel       bool         `json:"parallel,omitempty"`
	TimeoutSeconds int          `json:"timeout_seconds,omitempty"`
	CallerID       string       `json:"caller_id,omitempty"`

	// Gather
	Prompt *Prompt `json:"prompt,omitempty"`

	// Announce is spoken before the verb (voicemail greeting, hangup message,
	// invalid-input notice).
	Announce     string `json:"announce,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`

	// Next is where the upstream platform should call back when the verb finishes.
	Next *Continuation `json:"next,omitempty"`

	Outcome Outcome `json:"outcome"`
	// Reason is for logs.
	Reason string `json:"reason,omitempty"`
}

type DecisionKind string

const (
	DecisionDial      DecisionKind = "dial"
	DecisionGather    DecisionKind = "gather"
	DecisionVoicemail DecisionKind = "voicemail"
	DecisionHangup    DecisionKind = "hangup"
	DecisionReject    DecisionKind = "reject"
)

// Outcome is the lifecycle consequence of a decision.
type Outcome string

const (
	// OutcomeRouted means a destination is being offered the call.
	OutcomeRouted   Outcome = "routed"
	OutcomeBusy     Outcome = "busy"
	OutcomeNoAnswer Outcome = "no_answer"
	OutcomeFailed   Outcome = "failed"
	// OutcomeNone leaves the call status untouched.
	OutcomeNone Outcome = "none"
)

type DialTarget struct {
	ExtensionID string `json:"extension_id,omitempty"`
	Name        string `json:"name,omitempty"`
	SIPAddress  string `json:"sip_address,omitempty"`
	Number      string `json:"number,omitempty"`
}

// IsSIP reports whether the target should be dialed as a SIP URI.
func (d DialTarget) IsSIP() bool {
	return d.SIPAddress != "" && strings.HasPrefix(strings.ToLower(d.SIPAddress), "sip:")
}

// Address is the dialable string.
func (d DialTarget) Address() string {
	if d.SIPAddress != "" {
		return d.SIPAddress
	}
	return d.Number
}

// SingleExtensionID returns the extension when exactly one target is dialed.
func (d Decision) SingleExtensionID() string {
	if len(d.Targets) == 1 {
		return d.Targets[0].ExtensionID
	}
	return ""
}

type Prompt struct {
	Text           string `json:"text,omitempty"`
	AudioURL       string `json:"audio_url,omitempty"`
	NumDigits      int    `json:"num_digits"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type ContinuationKind string

const (
	ContinueMenu      ContinuationKind = "menu"
	ContinueRingGroup ContinuationKind = "ring_group"
	ContinueExtension ContinuationKind = "extension"
)

// Continuation is the resolver state that must survive a round trip through the
// upstream platform. It is carried in callback URLs.
type Continuation struct {
	Kind     ContinuationKind `json:"kind"`
	TargetID string           `json:"target_id"`
	Attempt  int              `json:"attempt"`
	MemberID string           `json:"member_id,omitempty"`
	// Anchor is the round-robin cursor value when the hunt started.
	Anchor string `json:"anchor,omitempty"`
}
