// Package pbxconfig reads the PBX configuration owned by the admin subsystem.
// The routing core only ever reads it.
package pbxconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"pbx-routing/internal/routing"
)

// NOTE: This source assumes the following tables exist (owned by the admin API):
// - pbx_dids (number PK, organization_id, active, target jsonb)
// - pbx_extensions (id PK, organization_id, number, name, sip_address, active)
// - pbx_ring_groups (id PK, organization_id, name, strategy, timeout_seconds, fallback jsonb NULL)
// - pbx_ring_group_members (ring_group_id, extension_id, priority)
// - pbx_business_hours (id PK, organization_id, timezone, rules jsonb, exceptions jsonb, open_target jsonb, closed_target jsonb)
// - pbx_ivr_menus (id PK, organization_id, greeting, greeting_audio_url, invalid_message, timeout_seconds, max_turns, options jsonb, failover jsonb NULL)
//
// Extension targets stored in jsonb carry only the extension id; the rest is
// read from pbx_extensions so a deactivated extension is seen immediately.

type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

var _ routing.ConfigSource = (*PostgresSource)(nil)

func (s *PostgresSource) GetDID(ctx context.Context, number string) (routing.DID, error) {
	const q = `
SELECT number, organization_id, active, target
FROM pbx_dids
WHERE number = $1
`
	var (
		d   routing.DID
		raw []byte
	)
	if err := s.db.QueryRowContext(ctx, q, number).Scan(
		&d.Number,
		&d.OrganizationID,
		&d.Active,
		&raw,
	); err != nil {
		return routing.DID{}, notFound(err, "did", number)
	}
	t, err := s.target(ctx, raw)
	if err != nil {
		return routing.DID{}, fmt.Errorf("pbxconfig: did %s target: %w", number, err)
	}
	d.Target = t
	return d, nil
}

func (s *PostgresSource) GetRingGroup(ctx context.Context, id string) (routing.RingGroup, error) {
	const q = `
SELECT id, organization_id, name, strategy, timeout_seconds, fallback
FROM pbx_ring_groups
WHERE id = $1
`
	var (
		g        routing.RingGroup
		fallback []byte
	)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(
		&g.ID,
		&g.OrganizationID,
		&g.Name,
		&g.Strategy,
		&g.TimeoutSeconds,
		&fallback,
	); err != nil {
		return routing.RingGroup{}, notFound(err, "ring group", id)
	}

	members, err := s.members(ctx, id)
	if err != nil {
		return routing.RingGroup{}, err
	}
	g.Members = members

	if g.Fallback, err = s.optionalTarget(ctx, fallback); err != nil {
		return routing.RingGroup{}, fmt.Errorf("pbxconfig: ring group %s fallback: %w", id, err)
	}
	return g, nil
}

func (s *PostgresSource) members(ctx context.Context, groupID string) ([]routing.Member, error) {
	const q = `
SELECT e.id, e.number, e.name, e.sip_address, e.active, m.priority
FROM pbx_ring_group_members m
JOIN pbx_extensions e ON e.id = m.extension_id
WHERE m.ring_group_id = $1
ORDER BY m.priority, e.id
`
	rows, err := s.db.QueryContext(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("pbxconfig: ring group %s members: %w", groupID, err)
	}
	defer rows.Close()

	var out []routing.Member
	for rows.Next() {
		var m routing.Member
		if err := rows.Scan(
			&m.Extension.ID,
			&m.Extension.Number,
			&m.Extension.Name,
			&m.Extension.SIPAddress,
			&m.Extension.Active,
			&m.Priority,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresSource) GetSchedule(ctx context.Context, id string) (routing.Schedule, error) {
	const q = `
SELECT id, organization_id, timezone, rules, exceptions, open_target, closed_target
FROM pbx_business_hours
WHERE id = $1
`
	var (
		sc                       routing.Schedule
		rules, exceptions        []byte
		openTarget, closedTarget []byte
	)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(
		&sc.ID,
		&sc.OrganizationID,
		&sc.Timezone,
		&rules,
		&exceptions,
		&openTarget,
		&closedTarget,
	); err != nil {
		return routing.Schedule{}, notFound(err, "schedule", id)
	}
	if err := decodeJSON(rules, &sc.Rules); err != nil {
		return routing.Schedule{}, fmt.Errorf("pbxconfig: schedule %s rules: %w", id, err)
	}
	if err := decodeJSON(exceptions, &sc.Exceptions); err != nil {
		return routing.Schedule{}, fmt.Errorf("pbxconfig: schedule %s exceptions: %w", id, err)
	}
	var err error
	if sc.Open, err = s.target(ctx, openTarget); err != nil {
		return routing.Schedule{}, fmt.Errorf("pbxconfig: schedule %s open target: %w", id, err)
	}
	if sc.Closed, err = s.target(ctx, closedTarget); err != nil {
		return routing.Schedule{}, fmt.Errorf("pbxconfig: schedule %s closed target: %w", id, err)
	}
	return sc, nil
}

func (s *PostgresSource) GetMenu(ctx context.Context, id string) (routing.Menu, error) {
	const q = `
SELECT id, organization_id, greeting, greeting_audio_url, invalid_message, timeout_seconds, max_turns, options, failover
FROM pbx_ivr_menus
WHERE id = $1
`
	var (
		m                 routing.Menu
		audio, invalid    sql.NullString
		options, failover []byte
	)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(
		&m.ID,
		&m.OrganizationID,
		&m.Greeting,
		&audio,
		&invalid,
		&m.TimeoutSeconds,
		&m.MaxTurns,
		&options,
		&failover,
	); err != nil {
		return routing.Menu{}, notFound(err, "menu", id)
	}
	m.GreetingAudioURL = audio.String
	m.InvalidMessage = invalid.String

	var raw map[string]json.RawMessage
	if err := decodeJSON(options, &raw); err != nil {
		return routing.Menu{}, fmt.Errorf("pbxconfig: menu %s options: %w", id, err)
	}
	digits := make([]string, 0, len(raw))
	for digit := range raw {
		digits = append(digits, digit)
	}
	sort.Strings(digits)
	m.Options = make(map[string]routing.Target, len(raw))
	for _, digit := range digits {
		t, err := s.target(ctx, raw[digit])
		if err != nil {
			return routing.Menu{}, fmt.Errorf("pbxconfig: menu %s option %s: %w", id, digit, err)
		}
		m.Options[digit] = t
	}

	var err error
	if m.Failover, err = s.optionalTarget(ctx, failover); err != nil {
		return routing.Menu{}, fmt.Errorf("pbxconfig: menu %s failover: %w", id, err)
	}
	return m, nil
}

// target decodes a stored target and fills in extension details.
func (s *PostgresSource) target(ctx context.Context, raw []byte) (routing.Target, error) {
	var t routing.Target
	if err := json.Unmarshal(raw, &t); err != nil {
		return routing.Target{}, err
	}
	if t.Kind == routing.KindExtension && t.Extension != nil {
		e, err := s.extension(ctx, t.Extension.ID)
		if err != nil {
			return routing.Target{}, err
		}
		t.Extension = &e
	}
	if err := t.Validate(); err != nil {
		return routing.Target{}, err
	}
	return t, nil
}

func (s *PostgresSource) optionalTarget(ctx context.Context, raw []byte) (*routing.Target, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	t, err := s.target(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// extension loads an extension row. A dangling reference comes back inactive so
// the resolver reports it as an inactive target.
func (s *PostgresSource) extension(ctx context.Context, id string) (routing.Extension, error) {
	const q = `
SELECT id, number, name, sip_address, active
FROM pbx_extensions
WHERE id = $1
`
	var e routing.Extension
	if err := s.db.QueryRowContext(ctx, q, id).Scan(
		&e.ID,
		&e.Number,
		&e.Name,
		&e.SIPAddress,
		&e.Active,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return routing.Extension{ID: id}, nil
		}
		return routing.Extension{}, fmt.Errorf("pbxconfig: extension %s: %w", id, err)
	}
	return e, nil
}

func decodeJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("pbxconfig: %s %s: %w", what, id, routing.ErrNotFound)
	}
	return fmt.Errorf("pbxconfig: %s %s: %w", what, id, err)
}
