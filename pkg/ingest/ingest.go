// Package ingest admits scraped candidates into the store after repeated
// validation, suppressing addresses that were attempted too often.
package ingest

import (
	"context"
	"fmt"

	"proxypool/internal/database"
	"proxypool/internal/database/models/model"
	"proxypool/internal/logger"
	"proxypool/pkg/checker"
	"proxypool/pkg/fetch"
	"proxypool/pkg/queue"
	"proxypool/pkg/scraper"
)

// Outcome is the result of processing one candidate.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeRejected
	OutcomeInserted
	OutcomeDuplicate
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRejected:
		return "rejected"
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Prober validates one proxy once.
type Prober interface {
	Probe(ctx context.Context, proxy fetch.Upstream) (int, error)
}

// Store inserts validated proxies.
type Store interface {
	Add(ctx context.Context, p database.NewProxy) (*model.ProxyIps, bool, error)
}

// AttemptCounter tracks ingestion attempts per cache key.
type AttemptCounter interface {
	Attempts(ctx context.Context, key string) (int, error)
	Incr(ctx context.Context, key string) (int, error)
}

// Locator resolves the location of a newly inserted record.
type Locator interface {
	Enqueue(ctx context.Context, key database.Key) error
}

type Config struct {
	Queue       queue.Config
	Rounds      int
	MaxAttempts int
}

type Pipeline struct {
	prober      Prober
	store       Store
	attempts    AttemptCounter
	locator     Locator
	rounds      int
	maxAttempts int
	queue       *queue.Queue[scraper.Candidate]
	logger      *logger.Logger
}

// NewPipeline builds the pipeline and its ingest queue. locator may be nil.
func NewPipeline(config Config, prober Prober, store Store, attempts AttemptCounter, locator Locator, log *logger.Logger, opts ...queue.Option[scraper.Candidate]) *Pipeline {
	if config.Rounds <= 0 {
		config.Rounds = 2
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	if config.Queue.Name == "" {
		config.Queue.Name = "ingest"
	}

	p := &Pipeline{
		prober:      prober,
		store:       store,
		attempts:    attempts,
		locator:     locator,
		rounds:      config.Rounds,
		maxAttempts: config.MaxAttempts,
		logger:      log.Named("ingest"),
	}
	p.queue = queue.New(config.Queue, p.handle, log, opts...)
	return p
}

// Start launches the ingest workers.
func (p *Pipeline) Start(ctx context.Context) {
	p.queue.Start(ctx)
}

// Stop drains the ingest queue.
func (p *Pipeline) Stop() {
	p.queue.Stop()
}

// Stats returns the ingest queue counters.
func (p *Pipeline) Stats() queue.Stats {
	return p.queue.Stats()
}

// Dispatch queues a candidate for validation.
func (p *Pipeline) Dispatch(ctx context.Context, c scraper.Candidate) error {
	return p.queue.Enqueue(ctx, c)
}

func (p *Pipeline) handle(ctx context.Context, c scraper.Candidate) {
	p.Process(ctx, c)
}

func keyOf(c scraper.Candidate) database.Key {
	return database.Key{IP: c.IP, Port: c.Port, Protocol: c.Protocol}
}

// Process validates a candidate and inserts it on success. Every attempt
// that is not skipped increments the attempt counter exactly once.
func (p *Pipeline) Process(ctx context.Context, c scraper.Candidate) Outcome {
	key := keyOf(c)
	cacheKey := key.String()
	log := p.logger.With("proxy", cacheKey)

	n, err := p.attempts.Attempts(ctx, cacheKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to read attempt counter")
		return OutcomeFailed
	}
	if n >= p.maxAttempts {
		log.Debug().Int("attempts", n).Msg("attempt cap reached, skipping")
		return OutcomeSkipped
	}

	outcome := p.admit(ctx, c, key, log)

	if _, err := p.attempts.Incr(ctx, cacheKey); err != nil {
		log.Error().Err(err).Msg("failed to increment attempt counter")
	}
	return outcome
}

func (p *Pipeline) admit(ctx context.Context, c scraper.Candidate, key database.Key, log *logger.Logger) Outcome {
	speed, err := p.validate(ctx, key)
	if err != nil {
		log.Debug().Err(err).Str("status", checker.StatusOf(err).String()).Msg("candidate rejected")
		return OutcomeRejected
	}

	rec, inserted, err := p.store.Add(ctx, database.NewProxy{
		Key:       key,
		Anonymity: c.Anonymity,
		Source:    c.Source,
		Speed:     speed,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to store proxy")
		return OutcomeFailed
	}
	if !inserted {
		log.Debug().Msg("proxy already stored")
		return OutcomeDuplicate
	}

	log.Info().Int("speed_ms", speed).Str("source", c.Source).Msg("proxy admitted")
	if p.locator != nil {
		if err := p.locator.Enqueue(ctx, database.KeyOf(rec)); err != nil {
			log.Warn().Err(err).Msg("failed to queue location lookup")
		}
	}
	return OutcomeInserted
}

// validate runs every round, stopping at the first failure. The speed of the
// last round is returned.
func (p *Pipeline) validate(ctx context.Context, key database.Key) (int, error) {
	var speed int
	for round := 1; round <= p.rounds; round++ {
		s, err := p.prober.Probe(ctx, key.Upstream())
		if err != nil {
			return 0, fmt.Errorf("round %d: %w", round, err)
		}
		speed = s
	}
	return speed, nil
}
