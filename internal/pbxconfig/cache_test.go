package pbxconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pbx-routing/internal/routing"
)

type countingSource struct {
	dids  map[string]routing.DID
	menus map[string]routing.Menu
	calls map[string]int
}

func newCountingSource() *countingSource {
	return &countingSource{
		dids:  map[string]routing.DID{},
		menus: map[string]routing.Menu{},
		calls: map[string]int{},
	}
}

func (s *countingSource) GetDID(_ context.Context, number string) (routing.DID, error) {
	s.calls["did:"+number]++
	d, ok := s.dids[number]
	if !ok {
		return routing.DID{}, routing.ErrNotFound
	}
	return d, nil
}

func (s *countingSource) GetRingGroup(context.Context, string) (routing.RingGroup, error) {
	return routing.RingGroup{}, routing.ErrNotFound
}

func (s *countingSource) GetSchedule(context.Context, string) (routing.Schedule, error) {
	return routing.Schedule{}, routing.ErrNotFound
}

func (s *countingSource) GetMenu(_ context.Context, id string) (routing.Menu, error) {
	s.calls["menu:"+id]++
	m, ok := s.menus[id]
	if !ok {
		return routing.Menu{}, routing.ErrNotFound
	}
	return m, nil
}

func newCached(t *testing.T, next routing.ConfigSource) (*CachedSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCachedSource(next, rdb, CacheOptions{TTL: 30 * time.Second}), mr
}

func TestCachedSource_ReadThrough(t *testing.T) {
	src := newCountingSource()
	src.dids["+15550100"] = routing.DID{
		Number:         "+15550100",
		OrganizationID: "org-1",
		Active:         true,
		Target:         routing.ExtensionTarget(routing.Extension{ID: "ext-1001", Number: "1001", SIPAddress: "sip:1001@pbx", Active: true}),
	}
	c, mr := newCached(t, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := c.GetDID(ctx, "+15550100")
		if err != nil {
			t.Fatalf("get did: %v", err)
		}
		if d.OrganizationID != "org-1" || d.Target.Extension == nil || d.Target.Extension.SIPAddress != "sip:1001@pbx" {
			t.Fatalf("unexpected did %+v", d)
		}
	}
	if n := src.calls["did:+15550100"]; n != 1 {
		t.Fatalf("expected one source lookup, got %d", n)
	}
	if !mr.Exists(cacheKey("did", "+15550100")) {
		t.Fatalf("expected did in redis")
	}

	mr.FastForward(31 * time.Second)
	if _, err := c.GetDID(ctx, "+15550100"); err != nil {
		t.Fatalf("get did after expiry: %v", err)
	}
	if n := src.calls["did:+15550100"]; n != 2 {
		t.Fatalf("expected reload after ttl, got %d lookups", n)
	}
}

func TestCachedSource_NotFoundIsNotCached(t *testing.T) {
	src := newCountingSource()
	c, mr := newCached(t, src)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.GetDID(ctx, "+15550199"); !errors.Is(err, routing.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if n := src.calls["did:+15550199"]; n != 2 {
		t.Fatalf("expected every miss to reach the source, got %d", n)
	}
	if mr.Exists(cacheKey("did", "+15550199")) {
		t.Fatalf("not-found must not be cached")
	}
}

func TestCachedSource_MenuOptionsAndInvalidate(t *testing.T) {
	src := newCountingSource()
	fail := routing.HangupTarget(routing.Hangup{Message: "Goodbye"})
	src.menus["menu-main"] = routing.Menu{
		ID:             "menu-main",
		OrganizationID: "org-1",
		Greeting:       "Press 1 for sales.",
		MaxTurns:       3,
		Options: map[string]routing.Target{
			"1": routing.ExtensionTarget(routing.Extension{ID: "ext-1001", Number: "1001", Active: true}),
		},
		Failover: &fail,
	}
	c, _ := newCached(t, src)
	ctx := context.Background()

	m, err := c.GetMenu(ctx, "menu-main")
	if err != nil {
		t.Fatalf("get menu: %v", err)
	}
	m, err = c.GetMenu(ctx, "menu-main")
	if err != nil {
		t.Fatalf("get cached menu: %v", err)
	}
	if m.Options["1"].Extension == nil || m.Options["1"].Extension.Number != "1001" {
		t.Fatalf("options lost in cache: %+v", m.Options)
	}
	if m.Failover == nil || m.Failover.Hangup.Message != "Goodbye" {
		t.Fatalf("failover lost in cache: %+v", m.Failover)
	}
	if n := src.calls["menu:menu-main"]; n != 1 {
		t.Fatalf("expected one lookup, got %d", n)
	}

	if err := c.Invalidate(ctx, "menu", "menu-main"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Invalidate(ctx, "menu", "menu-main"); err != nil {
		t.Fatalf("second invalidate should be a no-op: %v", err)
	}
	if _, err := c.GetMenu(ctx, "menu-main"); err != nil {
		t.Fatalf("get menu after invalidate: %v", err)
	}
	if n := src.calls["menu:menu-main"]; n != 2 {
		t.Fatalf("expected reload after invalidate, got %d", n)
	}
}
