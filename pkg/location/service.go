package location

import (
	"context"
	"errors"

	"proxypool/internal/database"
	"proxypool/internal/database/models/model"
	"proxypool/internal/logger"
	"proxypool/pkg/queue"
)

// Store persists resolved locations.
type Store interface {
	SetLocation(ctx context.Context, k database.Key, loc database.Location) error
	MissingLocation(ctx context.Context, limit int) ([]model.ProxyIps, error)
}

// Service resolves locations on its own job class.
type Service struct {
	chain  *Chain
	store  Store
	queue  *queue.Queue[database.Key]
	logger *logger.Logger
}

func NewService(config queue.Config, chain *Chain, store Store, log *logger.Logger, opts ...queue.Option[database.Key]) *Service {
	if config.Name == "" {
		config.Name = "location"
	}
	s := &Service{
		chain:  chain,
		store:  store,
		logger: log.Named("location"),
	}
	s.queue = queue.New(config, s.Locate, log, opts...)
	return s
}

func (s *Service) Start(ctx context.Context) { s.queue.Start(ctx) }

func (s *Service) Stop() { s.queue.Stop() }

func (s *Service) Stats() queue.Stats { return s.queue.Stats() }

// Enqueue schedules a lookup for the record with key k.
func (s *Service) Enqueue(ctx context.Context, k database.Key) error {
	return s.queue.Enqueue(ctx, k)
}

// Locate resolves k's IP and stores every known field. Resolution errors are
// logged; partial or empty results are still written so the record moves to
// the back of the relocation order.
func (s *Service) Locate(ctx context.Context, k database.Key) {
	loc, err := s.chain.Resolve(ctx, k.IP)
	if err != nil {
		s.logger.Warn().Err(err).Str("ip", k.IP).Msg("location incomplete")
	}
	if err := s.store.SetLocation(ctx, k, loc); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.logger.Debug().Str("proxy", k.String()).Msg("record gone before location was stored")
			return
		}
		s.logger.Warn().Err(err).Str("proxy", k.String()).Msg("failed to store location")
	}
}

// Relocate queues up to limit records that have no location yet.
func (s *Service) Relocate(ctx context.Context, limit int) (int, error) {
	recs, err := s.store.MissingLocation(ctx, limit)
	if err != nil {
		return 0, err
	}
	queued := 0
	for i := range recs {
		if err := s.Enqueue(ctx, database.KeyOf(&recs[i])); err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info().Int("queued", queued).Msg("relocation scheduled")
	}
	return queued, nil
}
