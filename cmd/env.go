package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/synkro/synkro/internal/audit"
	"github.com/synkro/synkro/internal/crypto"
	"github.com/synkro/synkro/internal/followup"
	"github.com/synkro/synkro/internal/pipeline"
	"github.com/synkro/synkro/internal/request"
	"github.com/synkro/synkro/internal/resilience"
	"github.com/synkro/synkro/internal/store"
)

// appEnv wires the store, crypto box, shared request client, and
// orchestrator for a command invocation.
type appEnv struct {
	Store  *store.PostgresStore
	Box    *crypto.Box
	Client *request.Client
	Audit  *audit.Sink
	Orch   *pipeline.Orchestrator
	Poller *followup.Poller
}

func initEnv(ctx context.Context) (*appEnv, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is not configured")
	}
	s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	if err != nil {
		return nil, err
	}

	box, err := crypto.NewBox(cfg.Crypto.SecretKey)
	if err != nil {
		s.Close()
		return nil, err
	}

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.HTTP.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.HTTP.MaxAttempts
	}
	opts := []request.Option{request.WithRetry(retryCfg)}
	if cfg.HTTP.RateLimit > 0 {
		opts = append(opts, request.WithRateLimit(cfg.HTTP.RateLimit, int(cfg.HTTP.RateLimit)+1))
	}
	rc := request.New(opts...)

	sink := audit.NewSink(s)
	orch := pipeline.New(s, sink, box, rc)
	poller := followup.NewPoller(s, orch, box, rc,
		time.Duration(cfg.Followup.IntervalSecs)*time.Second)

	return &appEnv{
		Store:  s,
		Box:    box,
		Client: rc,
		Audit:  sink,
		Orch:   orch,
		Poller: poller,
	}, nil
}

func (e *appEnv) Close() {
	if e.Store != nil {
		e.Store.Close()
	}
}
