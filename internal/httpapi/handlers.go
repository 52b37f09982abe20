package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"time"

	"pbx-routing/internal/audit"
	"pbx-routing/internal/auth"
	"pbx-routing/internal/breaker"
	"pbx-routing/internal/calls"
	"pbx-routing/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups the ops API handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type CallReader interface {
	Get(ctx context.Context, callID string) (calls.Call, error)
}

type CallControl interface {
	Hangup(ctx context.Context, callID string) error
	Redirect(ctx context.Context, callID, url string) error
}

type Circuit interface {
	Snapshot(ctx context.Context) (breaker.Snapshot, error)
}

// Recorder keeps the call-control audit trail.
type Recorder interface {
	Record(ctx context.Context, e audit.Event) error
}

// Check is one readiness probe, e.g. a Redis or Postgres ping.
type Check func(ctx context.Context) error

type Handlers struct {
	Calls    CallReader
	Control  CallControl
	Circuits map[string]Circuit
	Ready    map[string]Check
	Audit    Recorder

	ReadyTimeout time.Duration
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz runs every readiness check; any failure makes the process unready.
func (h Handlers) Readyz(c *gin.Context) {
	timeout := h.ReadyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	names := make([]string, 0, len(h.Ready))
	for name := range h.Ready {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := gin.H{}
	for _, name := range names {
		if err := h.Ready[name](ctx); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "check", name, "error", err)
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	c.JSON(status, gin.H{"checks": checks})
}

// --- Calls ---

func (h Handlers) GetCall(c *gin.Context) {
	call, ok := h.scopedCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, call)
}

// HangupCall asks the platform to end a live call. The status callback that
// follows drives the record to its terminal state.
func (h Handlers) HangupCall(c *gin.Context) {
	call, ok := h.scopedCall(c)
	if !ok {
		return
	}
	if call.Status.IsTerminal() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already ended", "status": call.Status})
		return
	}
	err := h.Control.Hangup(c.Request.Context(), call.CallID)
	h.record(c, call, audit.ActionHangup, "", err)
	if err != nil {
		h.upstreamError(c, "hangup", call.CallID, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"call_id": call.CallID, "status": "hangup_requested"})
}

type redirectRequest struct {
	URL string `json:"url"`
}

// RedirectCall points a live call at another call-control document.
func (h Handlers) RedirectCall(c *gin.Context) {
	var req redirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "url must be absolute http(s)"})
		return
	}

	call, ok := h.scopedCall(c)
	if !ok {
		return
	}
	if call.Status.IsTerminal() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already ended", "status": call.Status})
		return
	}
	err = h.Control.Redirect(c.Request.Context(), call.CallID, req.URL)
	h.record(c, call, audit.ActionRedirect, req.URL, err)
	if err != nil {
		h.upstreamError(c, "redirect", call.CallID, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"call_id": call.CallID, "status": "redirect_requested"})
}

// scopedCall loads the call named in the path. Calls of other organizations
// are reported as missing.
func (h Handlers) scopedCall(c *gin.Context) (calls.Call, bool) {
	orgID, err := auth.OrganizationID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return calls.Call{}, false
	}
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return calls.Call{}, false
	}

	call, err := h.Calls.Get(c.Request.Context(), callID)
	if errors.Is(err, calls.ErrNotFound) || (err == nil && call.OrganizationID != orgID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return calls.Call{}, false
	}
	if err != nil {
		logger.FromGin(c).Error("call lookup failed", "call_id", callID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return calls.Call{}, false
	}
	return call, true
}

func (h Handlers) upstreamError(c *gin.Context, op, callID string, err error) {
	log := logger.FromGin(c).With("call_id", callID, "op", op)
	if errors.Is(err, breaker.ErrUpstreamUnavailable) {
		log.Warn("upstream unavailable", "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "upstream unavailable"})
		return
	}
	log.Error("upstream call control failed", "error", err)
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": op + " failed"})
}

// record appends to the audit trail. Failures are logged, never surfaced.
func (h Handlers) record(c *gin.Context, call calls.Call, action audit.Action, detail string, opErr error) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	userID, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)

	outcome := "accepted"
	switch {
	case opErr == nil:
	case errors.Is(opErr, breaker.ErrUpstreamUnavailable):
		outcome = "upstream_unavailable"
	default:
		outcome = "failed"
	}

	err := h.Audit.Record(ctx, audit.Event{
		OrganizationID: call.OrganizationID,
		Action:         action,
		CallID:         call.CallID,
		ActorUserID:    userID,
		ActorRole:      role,
		IPAddress:      c.ClientIP(),
		Outcome:        outcome,
		Detail:         detail,
	})
	if err != nil {
		logger.FromGin(c).Warn("audit append failed", "call_id", call.CallID, "action", action, "error", err)
	}
}

// --- Circuits ---

func (h Handlers) GetCircuit(c *gin.Context) {
	name := c.Param("name")
	cb, ok := h.Circuits[name]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown circuit"})
		return
	}
	snap, err := cb.Snapshot(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("circuit snapshot failed", "breaker", name, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "circuit lookup failed"})
		return
	}
	c.JSON(http.StatusOK, snap)
}
