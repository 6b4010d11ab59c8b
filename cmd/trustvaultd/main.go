// cmd/trustvaultd is the TrustVault server: it wires the agent, persona,
// commitment, drift, and webhook services to Postgres and serves them over
// HTTP, alongside a background scheduler for rate-limit eviction and
// commitment expiry.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/agent"
	"github.com/trustvault/trustvault/internal/commitment"
	"github.com/trustvault/trustvault/internal/config"
	"github.com/trustvault/trustvault/internal/drift"
	"github.com/trustvault/trustvault/internal/health"
	"github.com/trustvault/trustvault/internal/httpapi"
	"github.com/trustvault/trustvault/internal/persona"
	"github.com/trustvault/trustvault/internal/ratelimit"
	"github.com/trustvault/trustvault/internal/trustledger"
	"github.com/trustvault/trustvault/internal/webhook"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("trustvaultd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	ledger := trustledger.NewPostgresLedger(db, logger)
	startCtx := context.Background()
	if err := ledger.Verify(startCtx); err != nil {
		logger.Warn("trust ledger integrity check FAILED", zap.Error(err))
	} else {
		n, _ := ledger.Len(startCtx)
		root, _ := ledger.Root(startCtx)
		logger.Info("trust ledger verified", zap.Int("entries", n), zap.String("root", root))
	}
	ledgerAdapter := ledgerAppendAdapter{ledger: ledger}

	// ── Services ─────────────────────────────────────────────────────────
	agents := agent.NewService(agent.NewRepository(db), logger)
	personas := persona.NewService(persona.NewRepository(db), logger)
	commitments := commitment.NewService(commitment.NewRepository(db), commitmentAgentLookup{agents}, logger)
	driftSvc := drift.NewService(drift.NewRepository(db), driftAgentChecker{agents}, logger)
	webhooks := webhook.NewService(webhook.NewRepository(db), int64(cfg.WebhookConcurrency), cfg.WebhookTimeout, logger)

	agents.SetLedger(ledgerAdapter)
	agents.SetWebhookDispatcher(webhooks)
	agents.SetCommitmentRevoker(commitRevoker{commitments})

	personas.SetLedger(ledgerAdapter)
	personas.SetWebhookDispatcher(webhooks)
	personas.SetDriftConfigSeeder(driftSvc)

	commitments.SetLedger(ledgerAdapter)

	driftSvc.SetAgentRevoker(driftAgentRevoker{agents})
	driftSvc.SetLedger(ledgerAdapter)
	driftSvc.SetWebhookDispatcher(webhooks)
	driftSvc.SetSpikeWindow(cfg.SpikeWindowSize)

	if cfg.GroupVerifyKeyPEM != "" {
		vk, err := os.ReadFile(cfg.GroupVerifyKeyPEM)
		if err != nil {
			logger.Warn("cannot read groth16 verification key, commitments stay in stub mode", zap.Error(err))
		} else {
			commitments.SetGroth16Verifier(commitment.StubGroth16Verifier{}, vk)
		}
	}

	// ── HTTP surface ─────────────────────────────────────────────────────
	limiters := ratelimit.NewRegistry(
		cfg.RateLimitGeneralLimit, cfg.RateLimitAuthLimit,
		cfg.RateLimitGeneralWindow, cfg.RateLimitAuthWindow,
	)
	healthChecker := health.New(db, 2*time.Second, logger)
	authMiddleware := httpapi.RequireAPIKey(agents)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		CORSAllowOrigins: cfg.CORSAllowOrigins,
		BodyLimitBytes:   1 << 20,
		Limiters:         limiters,
		Health:           healthChecker,
		Logger:           logger,
		Agent:            httpapi.NewAgentHandler(agents, httpapi.RateLimited(limiters.Auth), logger),
		Persona:          httpapi.NewPersonaHandler(personas, authMiddleware, logger),
		Commitment:       httpapi.NewCommitmentHandler(commitments, agents, logger),
		Drift:            httpapi.NewDriftHandler(driftSvc, authMiddleware, logger),
		Webhook:          httpapi.NewWebhookHandler(webhooks, authMiddleware, logger),
	})

	// ── Scheduler: rate-limit eviction every 5 minutes, commitment sweep
	// every hour ─────────────────────────────────────────────────────────
	sched := cron.New()
	if _, err := sched.AddFunc("@every 5m", func() {
		n := limiters.Evict()
		logger.Info("rate limiter eviction swept stale buckets", zap.Int("evicted", n))
	}); err != nil {
		return fmt.Errorf("schedule rate limit eviction: %w", err)
	}
	if _, err := sched.AddFunc("@every 1h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := commitments.SweepExpired(ctx)
		if err != nil {
			logger.Warn("commitment expiry sweep failed", zap.Error(err))
			return
		}
		logger.Info("commitment expiry sweep complete", zap.Int("revoked", n))
	}); err != nil {
		return fmt.Errorf("schedule commitment sweep: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("trustvaultd listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down trustvaultd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("trustvaultd stopped")
	return nil
}

// ledgerAppendAdapter narrows trustledger.Ledger's richer Append signature
// (which returns the created *Entry) down to the error-only shape each
// domain service's own Ledger interface expects, and records the
// corresponding metric.
type ledgerAppendAdapter struct {
	ledger *trustledger.PostgresLedger
}

func (a ledgerAppendAdapter) Append(ctx context.Context, subjectURI, action, actor string, payload any) error {
	_, err := a.ledger.Append(ctx, subjectURI, action, actor, payload)
	if err == nil {
		httpapi.RecordLedgerAppend()
	}
	return err
}

// commitmentAgentLookup adapts agent.Service to commitment.AgentLookup.
type commitmentAgentLookup struct{ svc *agent.Service }

func (a commitmentAgentLookup) Snapshot(ctx context.Context, agentID string) (*commitment.AgentSnapshot, error) {
	ag, err := a.svc.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &commitment.AgentSnapshot{Permissions: ag.Permissions, Tier: string(ag.Tier)}, nil
}

// driftAgentChecker adapts agent.Service to drift.AgentChecker.
type driftAgentChecker struct{ svc *agent.Service }

func (a driftAgentChecker) IsActive(ctx context.Context, agentID string) (bool, error) {
	ag, err := a.svc.Get(ctx, agentID)
	if err != nil {
		return false, err
	}
	return ag.Status == agent.StatusActive, nil
}

// driftAgentRevoker adapts agent.Service to drift.AgentRevoker.
type driftAgentRevoker struct{ svc *agent.Service }

func (a driftAgentRevoker) Revoke(ctx context.Context, agentID string) error {
	_, err := a.svc.Revoke(ctx, agentID)
	return err
}

// commitRevoker adapts commitment.Service to agent.CommitmentRevoker.
type commitRevoker struct{ svc *commitment.Service }

func (c commitRevoker) RevokeAllForAgent(ctx context.Context, agentID string) error {
	return c.svc.RevokeAllForAgent(ctx, agentID)
}
