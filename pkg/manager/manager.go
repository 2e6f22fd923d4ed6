// Package manager wires the scraper, validator, store and background job
// classes together and exposes the query surface used by the API.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"proxypool/internal/config"
	"proxypool/internal/database"
	"proxypool/internal/database/models/model"
	"proxypool/internal/logger"
	"proxypool/pkg/checker"
	"proxypool/pkg/failure"
	"proxypool/pkg/fetch"
	"proxypool/pkg/health"
	"proxypool/pkg/ingest"
	"proxypool/pkg/location"
	"proxypool/pkg/queue"
	"proxypool/pkg/scraper"
)

// Stats combines store statistics with job class counters.
type Stats struct {
	database.ProxyStats
	Sources []string      `json:"sources"`
	Queues  []queue.Stats `json:"queues"`
}

type Manager struct {
	config   *config.Config
	db       *database.DB
	store    *database.Service
	checker  *checker.Checker
	scraper  *scraper.MultiScraper
	ingest   *ingest.Pipeline
	health   *health.Monitor
	location *location.Service
	geo      *location.IP2Location

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	logger  *logger.Logger
}

// New builds every component from cfg. The database is opened here and closed
// by Stop.
func New(cfg *config.Config, log *logger.Logger) (*Manager, error) {
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	m := &Manager{
		config: cfg,
		db:     db,
		store:  database.NewService(db, log),
		logger: log.Named("manager"),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	probes := make([]checker.Probe, 0, len(cfg.Checker.Probes))
	for _, p := range cfg.Checker.Probes {
		probes = append(probes, checker.Probe{URL: p.URL, Marker: p.Marker})
	}
	m.checker = checker.NewCheckerWithConfig(checker.CheckerConfig{
		SpeedLimit:    cfg.Checker.SpeedLimit,
		TargetTimeout: cfg.Checker.TargetTimeout,
		TargetCutoff:  cfg.Checker.TargetCutoff,
		UserAgent:     cfg.Checker.UserAgent,
		Probes:        probes,
		EchoHosts:     cfg.Checker.EchoHosts,
	}, log)

	m.location = location.NewService(queueConfig("location", cfg.Location.QueueConfig), m.newChain(log), m.store, log)

	m.ingest = ingest.NewPipeline(ingest.Config{
		Queue:       queueConfig("ingest", cfg.Ingest.QueueConfig),
		Rounds:      cfg.Ingest.Rounds,
		MaxAttempts: cfg.Ingest.MaxAttempts,
	}, m.checker, m.store, database.NewAttemptCache(db, cfg.Ingest.AttemptTTL), m.location, log)

	m.health = health.NewMonitor(health.Config{
		Queue:    queueConfig("health", cfg.Health.QueueConfig),
		PageSize: cfg.Health.PageSize,
	}, m.checker, m.store, log)

	sources, err := scraper.Lookup(cfg.Scraper.Sources)
	if err != nil {
		if m.geo != nil {
			m.geo.Close()
		}
		db.Close()
		return nil, err
	}
	client := fetch.NewClient(fetch.Config{Timeout: cfg.Scraper.Timeout, UserAgent: cfg.Scraper.UserAgent})
	runner := scraper.NewRunner(client, m.ingest, log,
		scraper.WithPageDelay(cfg.Scraper.PageDelay),
		scraper.WithUpstreams(m))
	m.scraper = scraper.NewMultiScraper(runner, sources, log)

	return m, nil
}

func queueConfig(name string, c config.QueueConfig) queue.Config {
	return queue.Config{
		Name:    name,
		Workers: c.Workers,
		Buffer:  c.Buffer,
		TTL:     c.JobTTL,
		Delay:   c.JobDelay,
	}
}

func (m *Manager) newChain(log *logger.Logger) *location.Chain {
	cfg := m.config.Location

	var primary location.Resolver
	if cfg.DBPath != "" {
		geo, err := location.OpenIP2Location(cfg.DBPath)
		if err != nil {
			m.logger.Warn().Err(err).Str("path", cfg.DBPath).Msg("offline location database unavailable, using fallback only")
		} else {
			m.geo = geo
			primary = geo
		}
	}

	fallback := location.NewIPAPI(cfg.FallbackURL, cfg.Timeout, m.config.Scraper.UserAgent)
	return location.NewChain(primary, fallback, cfg.Cooldown, log)
}

// Start launches the job classes and the periodic loops. A scrape round runs
// immediately.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("manager already started")
	}
	m.started = true

	m.location.Start(m.ctx)
	m.ingest.Start(m.ctx)
	m.health.Start(m.ctx)

	m.loop("scrape", m.config.Scraper.Interval, true, func(ctx context.Context) {
		m.RefreshProxies(ctx)
	})
	m.loop("sweep", m.config.Health.Interval, false, func(ctx context.Context) {
		if _, err := m.health.Sweep(ctx); err != nil {
			m.logger.Error().Err(err).Msg("health sweep failed")
		}
	})
	m.loop("relocate", m.config.Location.RelocateInterval, false, func(ctx context.Context) {
		if _, err := m.location.Relocate(ctx, m.config.Location.RelocateBatch); err != nil {
			m.logger.Warn().Err(err).Msg("relocation failed")
		}
	})

	m.logger.Info().Strs("sources", m.scraper.Sources()).Msg("proxy pool started")
	return nil
}

// loop runs fn every interval until Stop.
func (m *Manager) loop(name string, interval time.Duration, immediate bool, fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if immediate {
			fn(m.ctx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.logger.Debug().Str("loop", name).Msg("tick")
				fn(m.ctx)
			}
		}
	}()
}

// Stop cancels the loops, drains the job classes and closes the database.
func (m *Manager) Stop() {
	m.logger.Info().Msg("stopping proxy pool")

	m.cancel()
	m.wg.Wait()

	m.ingest.Stop()
	m.health.Stop()
	m.location.Stop()

	if m.geo != nil {
		m.geo.Close()
	}
	if err := m.db.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to close database")
	}
	m.logger.Info().Msg("proxy pool stopped")
}

// RefreshProxies runs one scrape round over every configured source.
func (m *Manager) RefreshProxies(ctx context.Context) []scraper.Report {
	return m.scraper.ScrapeAll(ctx)
}

// Sweep schedules a health check of every stored proxy.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.health.Sweep(ctx)
}

// Upstream returns the most recently validated proxy. Sources configured to
// fetch through a proxy use it.
func (m *Manager) Upstream(ctx context.Context) (*fetch.Upstream, error) {
	rec, err := m.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	up := database.KeyOf(rec).Upstream()
	return &up, nil
}

func (m *Manager) List(ctx context.Context, q database.Query) (database.Page, error) {
	return m.store.List(ctx, q)
}

func (m *Manager) Latest(ctx context.Context) (*model.ProxyIps, error) {
	return m.store.Latest(ctx)
}

func (m *Manager) Countries(ctx context.Context) ([]string, error) {
	return m.store.Countries(ctx)
}

func (m *Manager) ISPs(ctx context.Context) ([]string, error) {
	return m.store.ISPs(ctx)
}

func (m *Manager) Update(ctx context.Context, k database.Key, p database.Patch) (*model.ProxyIps, error) {
	return m.store.Update(ctx, k, p)
}

func (m *Manager) Delete(ctx context.Context, k database.Key) error {
	return m.store.Delete(ctx, k)
}

// GetStats returns store statistics and job class counters.
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	ps, err := m.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		ProxyStats: ps,
		Sources:    m.scraper.Sources(),
		Queues:     []queue.Stats{m.ingest.Stats(), m.health.Stats(), m.location.Stats()},
	}, nil
}

// SpeedTest requests target through the stored proxy k and folds the result
// into its statistics. The record is deleted when its ratio drops below the
// eviction threshold. The response body, or the failure text, is returned.
func (m *Manager) SpeedTest(ctx context.Context, k database.Key, target string) (string, error) {
	rec, err := m.store.FindUnique(ctx, k)
	if errors.Is(err, database.ErrNotFound) {
		return "", failure.New(failure.KindNotFound, "speed test", err)
	}
	if err != nil {
		return "", err
	}

	res := m.checker.CheckTarget(ctx, k.Upstream(), target)
	database.Outcome{
		Success: res.Success,
		SpeedMs: int(res.Elapsed.Milliseconds()),
		At:      database.Now(),
	}.Apply(rec)

	if database.ShouldEvict(rec.SuccessCount, rec.FailedCount) {
		if err := m.store.Delete(ctx, k); err != nil && !errors.Is(err, database.ErrNotFound) {
			return res.Body, err
		}
		m.logger.Info().Str("proxy", k.String()).Float64("ratio", rec.SuccessRatio).Msg("proxy evicted after speed test")
		return res.Body, nil
	}

	if err := m.store.SaveStats(ctx, rec); err != nil && !errors.Is(err, database.ErrNotFound) {
		return res.Body, err
	}
	return res.Body, nil
}
