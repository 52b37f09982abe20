package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pbx-routing/internal/audit"
	"pbx-routing/internal/auth"
	"pbx-routing/internal/breaker"
	"pbx-routing/internal/calls"
	"pbx-routing/internal/rbac"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type fakeControl struct {
	hangups   []string
	redirects map[string]string
	err       error
}

func (f *fakeControl) Hangup(_ context.Context, callID string) error {
	if f.err != nil {
		return f.err
	}
	f.hangups = append(f.hangups, callID)
	return nil
}

func (f *fakeControl) Redirect(_ context.Context, callID, url string) error {
	if f.err != nil {
		return f.err
	}
	if f.redirects == nil {
		f.redirects = map[string]string{}
	}
	f.redirects[callID] = url
	return nil
}

type fixture struct {
	mr      *miniredis.Miniredis
	store   *calls.RedisStore
	br      *breaker.Breaker
	control *fakeControl
	trail   *audit.MemoryRepo
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		mr:      mr,
		store:   calls.NewRedisStore(rdb, 0),
		br:      breaker.New(rdb, "upstream-api", breaker.Settings{FailureThreshold: 2, RetryAfter: time.Minute}),
		control: &fakeControl{},
		trail:   audit.NewMemoryRepo(),
	}
	h := Handlers{
		Calls:    f.store,
		Control:  f.control,
		Circuits: map[string]Circuit{"upstream-api": f.br},
		Audit:    audit.NewService(f.trail),
		Ready: map[string]Check{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}

	// Identity comes from test headers instead of a signed token.
	fakeAuth := func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u1", c.GetHeader("X-Org"), c.GetHeader("X-Role"))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}

	f.router = gin.New()
	h.Register(f.router, fakeAuth)
	return f
}

func (f *fixture) seed(t *testing.T, c calls.Call) {
	t.Helper()
	if err := f.store.Put(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) do(method, path, org, role, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Org", org)
	req.Header.Set("X-Role", role)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func ringingCall(id, org string) calls.Call {
	return calls.Call{
		CallID:         id,
		OrganizationID: org,
		From:           "+15550001111",
		To:             "+15552223333",
		DID:            "+15552223333",
		Status:         calls.StatusRinging,
		InitiatedAt:    time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC),
	}
}

func TestGetCall_ScopedToOrganization(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ringingCall("CA1", "org-1"))

	w := f.do(http.MethodGet, "/v1/calls/CA1", "org-1", rbac.RoleAnalyst, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var got calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CallID != "CA1" || got.Status != calls.StatusRinging {
		t.Fatalf("unexpected call: %+v", got)
	}

	if w := f.do(http.MethodGet, "/v1/calls/CA1", "org-2", rbac.RoleOwner, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for other org, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/calls/CA404", "org-1", rbac.RoleOwner, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}
}

func TestGetCall_RequiresOrganization(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/v1/calls/CA1", "", rbac.RoleOwner, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestHangupCall(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ringingCall("CA1", "org-1"))

	if w := f.do(http.MethodPost, "/v1/calls/CA1/hangup", "org-1", rbac.RoleAnalyst, ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for analyst, got %d", w.Code)
	}

	w := f.do(http.MethodPost, "/v1/calls/CA1/hangup", "org-1", rbac.RoleOperator, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
	}
	if len(f.control.hangups) != 1 || f.control.hangups[0] != "CA1" {
		t.Fatalf("expected one hangup for CA1, got %v", f.control.hangups)
	}

	evs := f.trail.Events()
	if len(evs) != 1 {
		t.Fatalf("expected one audit event, got %d", len(evs))
	}
	if evs[0].Action != audit.ActionHangup || evs[0].ActorUserID != "u1" || evs[0].ActorRole != rbac.RoleOperator || evs[0].Outcome != "accepted" {
		t.Fatalf("unexpected audit event: %+v", evs[0])
	}
}

func TestHangupCall_AlreadyEnded(t *testing.T) {
	f := newFixture(t)
	c := ringingCall("CA1", "org-1")
	c.Status = calls.StatusCompleted
	f.seed(t, c)

	if w := f.do(http.MethodPost, "/v1/calls/CA1/hangup", "org-1", rbac.RoleOwner, ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if len(f.control.hangups) != 0 {
		t.Fatalf("expected no upstream hangup")
	}
}

func TestHangupCall_UpstreamErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"circuit open", fmt.Errorf("upstream-api: %w", breaker.ErrOpen), http.StatusServiceUnavailable},
		{"call failed", fmt.Errorf("upstream-api: %w: %w", breaker.ErrUpstreamUnavailable, errors.New("boom")), http.StatusServiceUnavailable},
		{"rate wait", context.DeadlineExceeded, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, ringingCall("CA1", "org-1"))
			f.control.err = tc.err

			if w := f.do(http.MethodPost, "/v1/calls/CA1/hangup", "org-1", rbac.RoleOwner, ""); w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			evs := f.trail.Events()
			if len(evs) != 1 || evs[0].Outcome == "accepted" {
				t.Fatalf("expected failed attempt in audit trail, got %+v", evs)
			}
		})
	}
}

func TestRedirectCall(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ringingCall("CA1", "org-1"))

	if w := f.do(http.MethodPost, "/v1/calls/CA1/redirect", "org-1", rbac.RoleOwner, `{"url":"/relative"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for relative url, got %d", w.Code)
	}

	w := f.do(http.MethodPost, "/v1/calls/CA1/redirect", "org-1", rbac.RoleOwner, `{"url":"https://docs.example.com/hold"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
	}
	if got := f.control.redirects["CA1"]; got != "https://docs.example.com/hold" {
		t.Fatalf("unexpected redirect %q", got)
	}
	if evs := f.trail.Events(); len(evs) != 1 || evs[0].Detail != "https://docs.example.com/hold" {
		t.Fatalf("expected redirect audit with url, got %+v", evs)
	}
}

func TestGetCircuit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fail := func(context.Context) error { return errors.New("boom") }
	_ = f.br.Execute(ctx, fail)
	_ = f.br.Execute(ctx, fail)

	w := f.do(http.MethodGet, "/v1/circuits/upstream-api", "org-1", rbac.RoleSupport, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap breaker.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != breaker.StateOpen || snap.Failures != 2 {
		t.Fatalf("expected open circuit with 2 failures, got %+v", snap)
	}

	if w := f.do(http.MethodGet, "/v1/circuits/nope", "org-1", rbac.RoleOwner, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/circuits/upstream-api", "org-1", rbac.RoleAnalyst, ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for analyst, got %d", w.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t)

	if w := f.do(http.MethodGet, "/healthz", "", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/readyz", "", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected readyz 200, got %d %s", w.Code, w.Body.String())
	}

	f.mr.Close()
	w := f.do(http.MethodGet, "/readyz", "", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected readyz 503 after redis stops, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"redis":"down"`) {
		t.Fatalf("expected redis down in %s", w.Body.String())
	}
}
