package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"pbx-routing/internal/audit"
	"pbx-routing/internal/breaker"
	"pbx-routing/internal/calls"
	"pbx-routing/internal/config"
	"pbx-routing/internal/events"
	"pbx-routing/internal/guard"
	"pbx-routing/internal/httpapi"
	"pbx-routing/internal/pbxconfig"
	"pbx-routing/internal/routing"
	"pbx-routing/internal/telephony"
	"pbx-routing/internal/upstream"
	"pbx-routing/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type deps struct {
	webhooks telephony.WebhookHandler
	ops      httpapi.Handlers
}

// buildDeps composes the routing core. Every shared piece of state lives in
// Redis so any number of API processes can serve the same webhooks.
func buildDeps(cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) deps {
	g := guard.New(rdb, guard.Options{
		LockTTL:        cfg.Guard.LockTTL,
		LockWait:       cfg.Guard.LockWait,
		IdempotencyTTL: cfg.Guard.IdempotencyTTL,
	})

	br := breaker.New(rdb, upstream.BreakerName, breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RetryAfter:       cfg.Breaker.RetryAfter,
	})
	up := upstream.NewTwilio(upstream.Config{
		AccountSID:    cfg.Twilio.AccountSID,
		AuthToken:     cfg.Twilio.AuthToken,
		RatePerSecond: cfg.Upstream.RatePerSecond,
		Burst:         cfg.Upstream.Burst,
	}, br, log)

	store := calls.NewRedisStore(rdb, cfg.Routing.CallRecordTTL)
	machine := calls.NewMachine(store, events.NewRedisPublisher(rdb), log)

	source := pbxconfig.NewCachedSource(pbxconfig.NewPostgresSource(db), rdb, pbxconfig.CacheOptions{
		TTL:       cfg.ConfigCache.TTL,
		LocalSize: cfg.ConfigCache.LocalSize,
		LocalTTL:  cfg.ConfigCache.LocalTTL,
	})
	resolver := routing.NewResolver(source, routing.NewRedisCursors(rdb, g), log)
	resolver.Liveness = up
	resolver.MaxHops = cfg.Routing.MaxHops
	resolver.RingTimeoutSeconds = cfg.Routing.RingTimeoutSeconds

	proc := telephony.NewProcessor(g, machine, resolver, up, telephony.CallbackURLs{Base: cfg.PublicBaseURL})
	if cfg.Routing.ErrorMessage != "" {
		proc.ErrorMessage = cfg.Routing.ErrorMessage
	}

	return deps{
		webhooks: telephony.WebhookHandler{Processor: proc},
		ops: httpapi.Handlers{
			Calls:    store,
			Control:  up,
			Circuits: map[string]httpapi.Circuit{br.Name(): br},
			Audit:    audit.NewService(audit.NewPostgresRepo(db)),
			Ready: map[string]httpapi.Check{
				"redis": func(ctx context.Context) error {
					return utils.RedisHealthCheck(ctx, rdb, time.Second)
				},
				"postgres": func(ctx context.Context) error {
					return utils.HealthCheck(ctx, db, time.Second)
				},
			},
		},
	}
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps, authMW gin.HandlerFunc) {
	// Upstream platform webhooks (public).
	d.webhooks.Register(r)

	// Health probes plus the JWT-protected ops API.
	d.ops.Register(r, authMW)
}
