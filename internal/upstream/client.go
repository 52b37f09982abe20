// Package upstream talks to the voice platform's management API. Every call is
// rate limited and runs through the shared "upstream-api" circuit breaker.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"pbx-routing/internal/breaker"
)

// BreakerName is the circuit shared by all workers for management API calls.
const BreakerName = "upstream-api"

var ErrCallNotFound = errors.New("upstream: call not found")

// CallAPI is the subset of the platform SDK this package uses.
type CallAPI interface {
	FetchCall(sid string, params *api.FetchCallParams) (*api.ApiV2010Call, error)
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

type Config struct {
	AccountSID string
	AuthToken  string
	// RatePerSecond <= 0 disables limiting.
	RatePerSecond float64
	Burst         int
}

type Client struct {
	calls   CallAPI
	breaker *breaker.Breaker
	limiter *rate.Limiter
	log     *slog.Logger
}

func New(calls CallAPI, br *breaker.Breaker, limiter *rate.Limiter, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{
		calls:   calls,
		breaker: br,
		limiter: limiter,
		log:     log.With("component", "upstream", "breaker", br.Name()),
	}
}

// NewTwilio builds a Client over the Twilio REST API.
func NewTwilio(cfg Config, br *breaker.Breaker, log *slog.Logger) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return New(rest.Api, br, NewLimiter(cfg.RatePerSecond, cfg.Burst), log)
}

func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// fetch returns the platform status of callID, or "" when the platform does not
// know the call. A missing call is an answer, not an outage.
func (c *Client) fetch(ctx context.Context, callID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	call, err := c.calls.FetchCall(callID, &api.FetchCallParams{})
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if call == nil || call.Status == nil {
		return "", fmt.Errorf("upstream: call %s returned without status", callID)
	}
	return *call.Status, nil
}

// CallStatus reports the platform's view of a call. When the platform is
// unreachable (or the circuit is open) and fallback is non-empty, fallback is
// returned instead of the error.
func (c *Client) CallStatus(ctx context.Context, callID, fallback string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	var fb breaker.Fallback[string]
	if fallback != "" {
		fb = func(err error) (string, error) {
			c.log.Warn("call status unavailable, using fallback", "call_id", callID, "fallback", fallback, "err", err)
			return fallback, nil
		}
	}
	status, err := breaker.Do(ctx, c.breaker, func(ctx context.Context) (string, error) {
		return c.fetch(ctx, callID)
	}, fb)
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return status, nil
}

// CallActive reports whether the call still has a live caller leg.
func (c *Client) CallActive(ctx context.Context, callID string) (bool, error) {
	status, err := c.CallStatus(ctx, callID, "")
	if errors.Is(err, ErrCallNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch status {
	case "queued", "ringing", "in-progress":
		return true, nil
	}
	return false, nil
}

// Hangup ends the call on the platform. An unknown call is already gone.
func (c *Client) Hangup(ctx context.Context, callID string) error {
	return c.update(ctx, callID, (&api.UpdateCallParams{}).SetStatus("completed"))
}

// Redirect points a live call at a new document URL.
func (c *Client) Redirect(ctx context.Context, callID, url string) error {
	if url == "" {
		return errors.New("upstream: redirect url required")
	}
	return c.update(ctx, callID, (&api.UpdateCallParams{}).SetUrl(url).SetMethod(http.MethodPost))
}

func (c *Client) update(ctx context.Context, callID string, params *api.UpdateCallParams) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.calls.UpdateCall(callID, params)
		if err != nil && isNotFound(err) {
			c.log.Info("update for unknown call ignored", "call_id", callID)
			return nil
		}
		return err
	})
}

func isNotFound(err error) bool {
	var restErr *client.TwilioRestError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Status == http.StatusNotFound || restErr.Code == 20404
}
