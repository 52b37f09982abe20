package routing

import "fmt"

// Kind tags a routing target. Target is a closed union: exactly the field
// matching Kind is set.
type Kind string

const (
	KindExtension     Kind = "extension"
	KindRingGroup     Kind = "ring_group"
	KindBusinessHours Kind = "business_hours"
	KindIVRMenu       Kind = "ivr_menu"
	KindVoicemail     Kind = "voicemail"
	KindHangup        Kind = "hangup"
)

type Target struct {
	Kind Kind `json:"kind"`

	Extension   *Extension `json:"extension,omitempty"`
	RingGroupID string     `json:"ring_group_id,omitempty"`
	ScheduleID  string     `json:"schedule_id,omitempty"`
	MenuID      string     `json:"menu_id,omitempty"`
	Voicemail   *Voicemail `json:"voicemail,omitempty"`
	Hangup      *Hangup    `json:"hangup,omitempty"`
}

type Extension struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	Name       string `json:"name,omitempty"`
	SIPAddress string `json:"sip_address"`
	Active     bool   `json:"active"`
}

type Voicemail struct {
	MailboxID   string `json:"mailbox_id"`
	Greeting    string `json:"greeting,omitempty"`
	RedirectURL string `json:"redirect_url"`
}

// Hangup ends the call. Reason "busy" or "rejected" rejects instead of answering.
type Hangup struct {
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func ExtensionTarget(e Extension) Target { return Target{Kind: KindExtension, Extension: &e} }
func RingGroupTarget(id string) Target   { return Target{Kind: KindRingGroup, RingGroupID: id} }
func ScheduleTarget(id string) Target    { return Target{Kind: KindBusinessHours, ScheduleID: id} }
func MenuTarget(id string) Target        { return Target{Kind: KindIVRMenu, MenuID: id} }
func VoicemailTarget(v Voicemail) Target { return Target{Kind: KindVoicemail, Voicemail: &v} }
func HangupTarget(h Hangup) Target       { return Target{Kind: KindHangup, Hangup: &h} }

// Validate checks that the variant for Kind is present.
func (t Target) Validate() error {
	ok := false
	switch t.Kind {
	case KindExtension:
		ok = t.Extension != nil && t.Extension.ID != ""
	case KindRingGroup:
		ok = t.RingGroupID != ""
	case KindBusinessHours:
		ok = t.ScheduleID != ""
	case KindIVRMenu:
		ok = t.MenuID != ""
	case KindVoicemail:
		ok = t.Voicemail != nil && t.Voicemail.RedirectURL != ""
	case KindHangup:
		ok = t.Hangup != nil && (t.Hangup.Reason == "" || t.Hangup.Reason == "busy" || t.Hangup.Reason == "rejected")
	default:
		return fmt.Errorf("routing: unknown target kind %q", t.Kind)
	}
	if !ok {
		return fmt.Errorf("routing: %s target is incomplete", t.Kind)
	}
	return nil
}

// ref identifies config entities that can be revisited during resolution.
func (t Target) ref() string {
	switch t.Kind {
	case KindRingGroup:
		return "ring_group:" + t.RingGroupID
	case KindBusinessHours:
		return "business_hours:" + t.ScheduleID
	case KindIVRMenu:
		return "ivr_menu:" + t.MenuID
	}
	return ""
}
