package pbxconfig

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbx-routing/internal/routing"
)

func newMock(t *testing.T) (*PostgresSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresSource(db), mock
}

var extColumns = []string{"id", "number", "name", "sip_address", "active"}

func TestGetDID_HydratesExtension(t *testing.T) {
	src, mock := newMock(t)

	mock.ExpectQuery("SELECT number, organization_id, active, target FROM pbx_dids").
		WithArgs("+15550100").
		WillReturnRows(sqlmock.NewRows([]string{"number", "organization_id", "active", "target"}).
			AddRow("+15550100", "org-1", true, []byte(`{"kind":"extension","extension":{"id":"ext-1001"}}`)))
	mock.ExpectQuery("SELECT id, number, name, sip_address, active FROM pbx_extensions").
		WithArgs("ext-1001").
		WillReturnRows(sqlmock.NewRows(extColumns).
			AddRow("ext-1001", "1001", "Front desk", "sip:1001@pbx.example.com", true))

	d, err := src.GetDID(context.Background(), "+15550100")
	require.NoError(t, err)
	assert.Equal(t, "org-1", d.OrganizationID)
	assert.Equal(t, routing.KindExtension, d.Target.Kind)
	require.NotNil(t, d.Target.Extension)
	assert.Equal(t, "sip:1001@pbx.example.com", d.Target.Extension.SIPAddress)
	assert.True(t, d.Target.Extension.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDID_NotFound(t *testing.T) {
	src, mock := newMock(t)
	mock.ExpectQuery("SELECT number, organization_id, active, target FROM pbx_dids").
		WithArgs("+15550199").
		WillReturnError(sql.ErrNoRows)

	_, err := src.GetDID(context.Background(), "+15550199")
	assert.True(t, errors.Is(err, routing.ErrNotFound), "got %v", err)
}

func TestGetDID_DanglingExtensionIsInactive(t *testing.T) {
	src, mock := newMock(t)
	mock.ExpectQuery("FROM pbx_dids").
		WillReturnRows(sqlmock.NewRows([]string{"number", "organization_id", "active", "target"}).
			AddRow("+15550100", "org-1", true, []byte(`{"kind":"extension","extension":{"id":"gone"}}`)))
	mock.ExpectQuery("FROM pbx_extensions").
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	d, err := src.GetDID(context.Background(), "+15550100")
	require.NoError(t, err)
	assert.Equal(t, "gone", d.Target.Extension.ID)
	assert.False(t, d.Target.Extension.Active)
}

func TestGetRingGroup(t *testing.T) {
	src, mock := newMock(t)
	mock.ExpectQuery("SELECT id, organization_id, name, strategy, timeout_seconds, fallback FROM pbx_ring_groups").
		WithArgs("rg-sales").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "strategy", "timeout_seconds", "fallback"}).
			AddRow("rg-sales", "org-1", "Sales", "round_robin", 20, []byte(`{"kind":"voicemail","voicemail":{"mailbox_id":"mb-1","redirect_url":"https://vm.example.com/mb-1"}}`)))
	mock.ExpectQuery("FROM pbx_ring_group_members m JOIN pbx_extensions e").
		WithArgs("rg-sales").
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "name", "sip_address", "active", "priority"}).
			AddRow("A", "1001", "Ann", "sip:1001@pbx", true, 1).
			AddRow("B", "1002", "Bob", "sip:1002@pbx", false, 2))

	g, err := src.GetRingGroup(context.Background(), "rg-sales")
	require.NoError(t, err)
	assert.Equal(t, routing.StrategyRoundRobin, g.Strategy)
	assert.Equal(t, 20, g.TimeoutSeconds)
	require.Len(t, g.Members, 2)
	assert.Equal(t, "A", g.Members[0].Extension.ID)
	assert.False(t, g.Members[1].Extension.Active)
	require.NotNil(t, g.Fallback)
	assert.Equal(t, routing.KindVoicemail, g.Fallback.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRingGroup_NoFallback(t *testing.T) {
	src, mock := newMock(t)
	mock.ExpectQuery("FROM pbx_ring_groups").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "strategy", "timeout_seconds", "fallback"}).
			AddRow("rg-1", "org-1", "Support", "simultaneous", 30, nil))
	mock.ExpectQuery("FROM pbx_ring_group_members").
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "name", "sip_address", "active", "priority"}))

	g, err := src.GetRingGroup(context.Background(), "rg-1")
	require.NoError(t, err)
	assert.Nil(t, g.Fallback)
	assert.Empty(t, g.Members)
}

func TestGetSchedule(t *testing.T) {
	src, mock := newMock(t)
	mock.ExpectQuery("SELECT id, organization_id, timezone, rules, exceptions, open_target, closed_target FROM pbx_business_hours").
		WithArgs("bh-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "timezone", "rules", "exceptions", "open_target", "closed_target"}).
			AddRow("bh-1", "org-1", "America/New_York",
				[]byte(`[{"days":["mon","tue","wed","thu","fri"],"start":"09:00","end":"17:00"}]`),
				[]byte(`[{"date":"2024-01-09","label":"Offsite","closed":true}]`),
				[]byte(`{"kind":"ring_group","ring_group_id":"rg-sales"}`),
				[]byte(`{"kind":"hangup","hangup":{"message":"We are closed."}}`)))

	s, err := src.GetSchedule(context.Background(), "bh-1")
	require.NoError(t, err)
	require.Len(t, s.Rules, 1)
	assert.Equal(t, "09:00", s.Rules[0].Start)
	require.Len(t, s.Exceptions, 1)
	assert.True(t, s.Exceptions[0].Closed)
	assert.Equal(t, "rg-sales", s.Open.RingGroupID)
	assert.Equal(t, "We are closed.", s.Closed.Hangup.Message)
}

func TestGetMenu(t *testing.T) {
	src, mock := newMock(t)
	mock.ExpectQuery("SELECT id, organization_id, greeting, greeting_audio_url, invalid_message, timeout_seconds, max_turns, options, failover FROM pbx_ivr_menus").
		WithArgs("menu-main").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "greeting", "greeting_audio_url", "invalid_message", "timeout_seconds", "max_turns", "options", "failover"}).
			AddRow("menu-main", "org-1", "Press 1 for sales, 2 for support.", nil, "Sorry, that is not a valid option.", 5, 3,
				[]byte(`{"2":{"kind":"ring_group","ring_group_id":"rg-support"},"1":{"kind":"extension","extension":{"id":"ext-1001"}}}`),
				[]byte(`{"kind":"hangup","hangup":{"message":"Goodbye"}}`)))
	mock.ExpectQuery("FROM pbx_extensions").
		WithArgs("ext-1001").
		WillReturnRows(sqlmock.NewRows(extColumns).AddRow("ext-1001", "1001", "Sales", "sip:1001@pbx", true))

	m, err := src.GetMenu(context.Background(), "menu-main")
	require.NoError(t, err)
	assert.Empty(t, m.GreetingAudioURL)
	assert.Equal(t, 3, m.MaxTurns)
	require.Len(t, m.Options, 2)
	assert.Equal(t, "1001", m.Options["1"].Extension.Number)
	assert.Equal(t, "rg-support", m.Options["2"].RingGroupID)
	require.NotNil(t, m.Failover)
	assert.Equal(t, "Goodbye", m.Failover.Hangup.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidStoredTarget(t *testing.T) {
	src, mock := newMock(t)
	mock.ExpectQuery("FROM pbx_dids").
		WillReturnRows(sqlmock.NewRows([]string{"number", "organization_id", "active", "target"}).
			AddRow("+15550100", "org-1", true, []byte(`{"kind":"ring_group"}`)))

	_, err := src.GetDID(context.Background(), "+15550100")
	require.Error(t, err)
	assert.False(t, errors.Is(err, routing.ErrNotFound))
}
