// Package engine wires the tracking agent together: identity capture, link
// decoration, conversion detection, value extraction, event dispatch,
// deferred reconciliation and the purchase confirmation watcher, driven by
// page loads the embedder reports.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/backend"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/config"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/dispatch"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/extract"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/identity"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/reconcile"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/storage"
)

// pingTimeout bounds the fire-and-forget background pings so a stalled
// backend never leaks goroutines for long.
const pingTimeout = 5 * time.Second

// Engine is the long-lived tracking agent. One engine serves one site;
// page loads are reported through OnPageLoad.
type Engine struct {
	cfg       *config.Config
	client    *backend.Client
	durable   storage.Store
	session   storage.Store
	identity  *identity.Manager
	extractor *extract.Extractor
	dispatch  *dispatch.Dispatcher
	pending   *reconcile.PendingStore
	logger    logger.Logger

	mu       sync.Mutex
	started  bool
	lastHost string
	verify   chan struct{}
	wg       sync.WaitGroup
}

// New builds an engine from configuration. The durable identity tier is the
// file profile, fronted by Redis when configured; the session tier is
// in-memory and dies with the process.
func New(cfg *config.Config, reg prometheus.Registerer, log logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	file, err := storage.NewFile(cfg.Storage.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity profile: %w", err)
	}
	tiers := []storage.Store{file}
	if cfg.Storage.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Storage.RedisAddr,
			DB:   cfg.Storage.RedisDB,
		})
		tiers = append(tiers, storage.NewRedis(rdb, cfg.Storage.KeyPrefix))
	}
	durable := storage.NewTiered(log, tiers...)
	session := storage.NewMemory()

	client := backend.NewClient(
		cfg.Backend.BaseURL,
		backend.NewHTTPClient(cfg.Backend.RequestTimeout),
		log,
	)

	return &Engine{
		cfg:       cfg,
		client:    client,
		durable:   durable,
		session:   session,
		identity:  identity.NewManager(durable, log),
		extractor: extract.New(log),
		dispatch: dispatch.New(
			client, durable, session,
			cfg.Site.ID,
			dispatch.NewMetrics(reg),
			log,
		),
		pending: reconcile.NewPendingStore(session),
		logger:  log,
	}, nil
}

// Start launches the engine's background work. Calling Start more than once
// is a no-op, so an embedder that initializes twice does not double-track.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		e.logger.Debug("engine already started, ignoring")
		return
	}
	e.started = true
	e.verify = make(chan struct{})
	e.wg.Add(1)
	go e.verifyLoop(e.verify)
	e.logger.Info("tracking engine started",
		logger.String("site_id", e.cfg.Site.ID),
		logger.String("backend", e.cfg.Backend.BaseURL),
	)
}

// Close stops background work and waits for it to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.verify)
	e.mu.Unlock()
	e.wg.Wait()
}

// Ref returns the stored referral code, if any.
func (e *Engine) Ref() string { return e.identity.Ref() }

// ClickID returns the stored click id, if any.
func (e *Engine) ClickID() string { return e.identity.ClickID() }

// VisitorID returns the stable visitor id, generating it on first use.
func (e *Engine) VisitorID() string { return e.identity.VisitorID() }

// verifyLoop periodically reports the installation to the backend so the
// operator dashboard can flag a dead or mis-installed agent.
func (e *Engine) verifyLoop(stop chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Backend.VerifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			host := e.lastHost
			e.mu.Unlock()
			if host == "" {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			if err := e.client.Verify(ctx, host, e.cfg.Site.ID, e.cfg.Site.Version); err != nil {
				e.logger.Debug("verify ping failed", logger.Error(err))
			}
			cancel()
		}
	}
}

// pageView reports a referred landing in the background. Fire and forget;
// a failure costs a click statistic, not a conversion.
func (e *Engine) pageView(refCode, visitorID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := e.client.PageView(ctx, refCode, visitorID); err != nil {
			e.logger.Debug("page view ping failed", logger.Error(err))
		}
	}()
}

// hasRefParam reports whether the page URL itself carries a referral
// parameter, meaning this load is a fresh referred landing.
func hasRefParam(pc *page.Context) bool {
	if pc == nil || pc.URL == nil {
		return false
	}
	query := pc.URL.Query()
	for _, name := range identity.RefParams {
		if query.Get(name) != "" {
			return true
		}
	}
	return false
}
