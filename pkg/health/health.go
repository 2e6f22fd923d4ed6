// Package health periodically re-validates stored proxies, oldest check
// first, and evicts the ones that keep failing.
package health

import (
	"context"
	"errors"
	"time"

	"proxypool/internal/database"
	"proxypool/internal/database/models/model"
	"proxypool/internal/logger"
	"proxypool/pkg/checker"
	"proxypool/pkg/fetch"
	"proxypool/pkg/queue"
)

// DefaultPageSize is the number of records read per sweep page.
const DefaultPageSize = 200

type Outcome int

const (
	OutcomeMissing Outcome = iota
	OutcomeEvicted
	OutcomeSucceeded
	OutcomeFailed
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMissing:
		return "missing"
	case OutcomeEvicted:
		return "evicted"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "error"
	}
}

// Prober validates one proxy once.
type Prober interface {
	Probe(ctx context.Context, proxy fetch.Upstream) (int, error)
}

// Store is the part of the record store the monitor needs.
type Store interface {
	SweepPage(ctx context.Context, cur database.SweepCursor, limit int) ([]model.ProxyIps, error)
	FindUnique(ctx context.Context, k database.Key) (*model.ProxyIps, error)
	SaveStats(ctx context.Context, rec *model.ProxyIps) error
	Delete(ctx context.Context, k database.Key) error
}

type Config struct {
	Queue    queue.Config
	PageSize int
}

type Monitor struct {
	store    Store
	prober   Prober
	pageSize int
	queue    *queue.Queue[database.Key]
	now      func() time.Time
	logger   *logger.Logger
}

func NewMonitor(config Config, prober Prober, store Store, log *logger.Logger, opts ...queue.Option[database.Key]) *Monitor {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.Queue.Name == "" {
		config.Queue.Name = "health"
	}
	m := &Monitor{
		store:    store,
		prober:   prober,
		pageSize: config.PageSize,
		now:      database.Now,
		logger:   log.Named("health"),
	}
	m.queue = queue.New(config.Queue, m.handle, log, opts...)
	return m
}

func (m *Monitor) Start(ctx context.Context) { m.queue.Start(ctx) }

func (m *Monitor) Stop() { m.queue.Stop() }

func (m *Monitor) Stats() queue.Stats { return m.queue.Stats() }

func (m *Monitor) handle(ctx context.Context, k database.Key) {
	m.Revalidate(ctx, k)
}

// Sweep pages through the store oldest-validated first and schedules one
// health job per record. Records validated after the sweep started are not
// scheduled again.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	cur := database.SweepCursor{Until: m.now()}
	scheduled := 0

	for {
		page, err := m.store.SweepPage(ctx, cur, m.pageSize)
		if err != nil {
			return scheduled, err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			if err := m.queue.Enqueue(ctx, database.KeyOf(&page[i])); err != nil {
				return scheduled, err
			}
			scheduled++
		}

		last := page[len(page)-1]
		cur.AfterAt, cur.AfterID = last.ValidatedAt, last.UniqueID
	}

	m.logger.Info().Int("scheduled", scheduled).Msg("health sweep scheduled")
	return scheduled, nil
}

// Revalidate checks one stored proxy. Records whose success ratio is already
// below the eviction threshold are deleted without probing.
func (m *Monitor) Revalidate(ctx context.Context, k database.Key) Outcome {
	log := m.logger.With("proxy", k.String())

	rec, err := m.store.FindUnique(ctx, k)
	if errors.Is(err, database.ErrNotFound) {
		return OutcomeMissing
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load proxy")
		return OutcomeError
	}

	if database.ShouldEvict(rec.SuccessCount, rec.FailedCount) {
		return m.evict(ctx, k, rec, log)
	}

	speed, probeErr := m.prober.Probe(ctx, k.Upstream())
	database.Outcome{Success: probeErr == nil, SpeedMs: speed, At: m.now()}.Apply(rec)

	if err := m.store.SaveStats(ctx, rec); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return OutcomeMissing
		}
		log.Error().Err(err).Msg("failed to save stats")
		return OutcomeError
	}

	if probeErr != nil {
		log.Debug().Err(probeErr).
			Str("status", checker.StatusOf(probeErr).String()).
			Int32("success", rec.SuccessCount).
			Int32("failed", rec.FailedCount).
			Msg("revalidation failed")
		return OutcomeFailed
	}
	log.Debug().Int("speed_ms", speed).Msg("revalidated")
	return OutcomeSucceeded
}

func (m *Monitor) evict(ctx context.Context, k database.Key, rec *model.ProxyIps, log *logger.Logger) Outcome {
	if err := m.store.Delete(ctx, k); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return OutcomeMissing
		}
		log.Error().Err(err).Msg("failed to evict proxy")
		return OutcomeError
	}
	log.Info().Int32("success", rec.SuccessCount).
		Int32("failed", rec.FailedCount).
		Msg("proxy evicted")
	return OutcomeEvicted
}
