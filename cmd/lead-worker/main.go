package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/internal/alert"
	"github.com/masa-finance/lead-worker/internal/api"
	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/health"
	"github.com/masa-finance/lead-worker/internal/jobs"
	"github.com/masa-finance/lead-worker/internal/jobs/instagram"
	"github.com/masa-finance/lead-worker/internal/jobs/stats"
	"github.com/masa-finance/lead-worker/internal/jobserver"
	"github.com/masa-finance/lead-worker/internal/metrics"
	"github.com/masa-finance/lead-worker/internal/orchestrator"
	"github.com/masa-finance/lead-worker/internal/proxy"
	"github.com/masa-finance/lead-worker/internal/ratelimit"
	"github.com/masa-finance/lead-worker/internal/session"
	"github.com/masa-finance/lead-worker/internal/store"
)

func main() {
	jc := config.ReadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	statsCollector := stats.StartCollector(uint(jc.GetInt("stats_buf_size", 128)))
	if workerID := jc.GetString("worker_id", ""); workerID != "" {
		statsCollector.SetWorkerID(workerID)
	}

	limiter := ratelimit.NewFromConfig(jc.GetRateLimitConfig())

	var proxies *proxy.Pool
	if proxyCfg := jc.GetProxyConfig(); len(proxyCfg.Proxies) > 0 {
		proxies = proxy.NewPoolFromConfig(proxyCfg)
	} else {
		logrus.Warn("No proxies configured, browser strategy will use direct egress")
	}

	sessionCfg := jc.GetSessionConfig()
	sessions, closeSessions, err := openSessions(sessionCfg)
	if err != nil {
		logrus.Fatalf("Failed to open session store: %v", err)
	}
	defer closeSessions()

	browserCfg := jc.GetBrowserConfig()
	browser := instagram.NewBrowser(browserCfg)
	accounts := instagram.NewAccountManager(instagram.ParseAccounts(sessionCfg.Accounts), 0)
	instagram.NewAuthenticator(accounts, browser.Login, proxies).Register(sessions)
	if err := sessions.Restore(ctx); err != nil {
		logrus.Warnf("Failed to restore sessions: %v", err)
	}

	leads, err := store.New(ctx, jc.GetStoreConfig())
	if err != nil {
		logrus.Fatalf("Failed to open lead store: %v", err)
	}
	defer leads.Close()

	managed, err := jobs.NewManagedStrategy(jc, limiter, statsCollector)
	if err != nil {
		logrus.Fatalf("Failed to create managed strategy: %v", err)
	}
	browserStrategy := jobs.NewBrowserStrategy(jc, jobs.BrowserDeps{
		Explorer:       browser,
		Fetcher:        instagram.NewProfileFetcher(browserCfg),
		Accounts:       accounts,
		Sessions:       sessions,
		Proxies:        proxies,
		Limiter:        limiter,
		StatsCollector: statsCollector,
	})

	tracker := health.NewTracker(managed, browserStrategy)
	go tracker.StartReconciliationLoop(ctx, time.Minute)

	alertCfg := jc.GetAlertConfig()
	collector := metrics.NewCollector(alertCfg, alert.FromConfig(alertCfg))
	defer collector.Close()

	orch := orchestrator.New(leads, []jobs.Strategy{managed, browserStrategy},
		orchestrator.WithMetricsSink(collector),
		orchestrator.WithHealth(tracker),
		orchestrator.WithStats(statsCollector),
		orchestrator.WithTimeout(jc.GetDuration("job_timeout_seconds", 300)),
	)

	jobServer := jobserver.NewJobServer(jc.GetInt("max_jobs", 10), jc, orch)
	go jobServer.Run(ctx)
	defer jobServer.Shutdown()

	if err := api.Start(ctx, jc, api.Deps{
		JobServer: jobServer,
		Store:     leads,
		Stats:     statsCollector,
		Collector: collector,
		Health:    tracker,
	}); err != nil {
		logrus.Errorf("API server stopped: %v", err)
	}
}

// openSessions builds the session store on the configured persistence backend.
func openSessions(cfg config.SessionConfig) (*session.Store, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "badger":
		db, err := session.OpenBadger(filepath.Join(cfg.DataDir, "sessions"))
		if err != nil {
			return nil, noop, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logrus.Errorf("Failed to close session database: %v", err)
			}
		}
		return session.NewStore(session.NewBadgerPersister(db), cfg.TTL, cfg.RefreshTimeout), closeDB, nil
	case "file":
		p, err := session.NewFilePersister(filepath.Join(cfg.DataDir, "sessions"))
		if err != nil {
			return nil, noop, err
		}
		return session.NewStore(p, cfg.TTL, cfg.RefreshTimeout), noop, nil
	case "memory":
		return session.NewStore(nil, cfg.TTL, cfg.RefreshTimeout), noop, nil
	default:
		logrus.Warnf("Unknown session backend %q, keeping sessions in memory", cfg.Backend)
		return session.NewStore(nil, cfg.TTL, cfg.RefreshTimeout), noop, nil
	}
}
