package requestlog

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/frayproxy/fray/internal/proxy"
)

const (
	defaultQueueSize  = 4096
	defaultFlushBatch = 256
	defaultInterval   = time.Second
)

// Service is the async writer in front of the Repo. Record performs a
// non-blocking send and drops on overflow; a background goroutine flushes
// batches.
type Service struct {
	repo   *Repo
	queue  chan proxy.HistoryEntry
	logger zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewService creates and starts the history writer.
func NewService(repo *Repo, logger zerolog.Logger) *Service {
	s := &Service{
		repo:   repo,
		queue:  make(chan proxy.HistoryEntry, defaultQueueSize),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// Record implements proxy.HistorySink.
func (s *Service) Record(entry proxy.HistoryEntry) {
	select {
	case s.queue <- entry:
	default:
		s.logger.Warn().Msg("request history queue full, dropping entry")
	}
}

func (s *Service) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(defaultInterval)
	defer ticker.Stop()

	batch := make([]proxy.HistoryEntry, 0, defaultFlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.repo.InsertBatch(batch); err != nil {
			s.logger.Error().Err(err).Int("entries", len(batch)).Msg("request history flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.queue:
			batch = append(batch, entry)
			if len(batch) >= defaultFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopCh:
			// Drain whatever is still queued, then flush once.
			for {
				select {
				case entry := <-s.queue:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the writer after a final flush.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
