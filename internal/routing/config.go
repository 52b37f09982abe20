package routing

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("routing: config not found")

// ConfigSource is the read-only view of PBX configuration owned by the admin
// subsystem. Implementations return ErrNotFound for unknown ids.
type ConfigSource interface {
	GetDID(ctx context.Context, number string) (DID, error)
	GetRingGroup(ctx context.Context, id string) (RingGroup, error)
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	GetMenu(ctx context.Context, id string) (Menu, error)
}

type DID struct {
	Number         string `json:"number"`
	OrganizationID string `json:"organization_id"`
	Active         bool   `json:"active"`
	Target         Target `json:"target"`
}

type Strategy string

const (
	StrategySimultaneous Strategy = "simultaneous"
	StrategyRoundRobin   Strategy = "round_robin"
	StrategySequential   Strategy = "sequential"
)

type RingGroup struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	Strategy       Strategy `json:"strategy"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Members        []Member `json:"members"`
	Fallback       *Target  `json:"fallback,omitempty"`
}

// Member is one extension in a ring group. Lower Priority rings first.
type Member struct {
	Extension Extension `json:"extension"`
	Priority  int       `json:"priority"`
}

type Schedule struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Timezone       string          `json:"timezone"`
	Rules          []WeeklyRule    `json:"rules"`
	Exceptions     []DateException `json:"exceptions"`
	Open           Target          `json:"open"`
	Closed         Target          `json:"closed"`
}

// WeeklyRule opens the schedule on Days ("mon".."sun") between Start and End
// ("HH:MM", local time). End before Start spans midnight.
type WeeklyRule struct {
	Days  []string `json:"days"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

// DateException overrides weekly rules for one local date (YYYY-MM-DD).
// An open exception without hours is open all day.
type DateException struct {
	Date   string `json:"date"`
	Label  string `json:"label,omitempty"`
	Closed bool   `json:"closed"`
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`
}

type Menu struct {
	ID               string            `json:"id"`
	OrganizationID   string            `json:"organization_id"`
	Greeting         string            `json:"greeting"`
	GreetingAudioURL string            `json:"greeting_audio_url,omitempty"`
	InvalidMessage   string            `json:"invalid_message,omitempty"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	MaxTurns         int               `json:"max_turns"`
	Options          map[string]Target `json:"options"`
	Failover         *Target           `json:"failover,omitempty"`
}
