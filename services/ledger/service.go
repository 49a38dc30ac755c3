package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/hive/models"
	"github.com/upb/hive/repositories"
	"go.uber.org/zap"
)

var (
	ErrNotStarted = errors.New("dispatch ledger not started")
	ErrBufferFull = errors.New("dispatch ledger buffer full")
)

// Service persists dispatch records asynchronously
type Service struct {
	repo        repositories.DispatchRepository
	logger      *zap.Logger
	records     chan *models.DispatchRecord
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	dropped     atomic.Uint64
	mu          sync.RWMutex
}

// Config holds configuration for the ledger Service
type Config struct {
	BufferSize  int // Size of the record buffer channel
	WorkerCount int // Number of concurrent writers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 4,
	}
}

// NewService creates a new ledger Service
func NewService(repo repositories.DispatchRepository, logger *zap.Logger, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		records:     make(chan *models.DispatchRecord, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		bufferSize:  cfg.BufferSize,
	}
}

// Start starts the background writers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("dispatch ledger already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started dispatch ledger",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop closes the buffer and waits for pending records to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	close(s.records)
	s.mu.Unlock()

	s.logger.Info("stopping dispatch ledger", zap.Int("pending_records", len(s.records)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("dispatch ledger stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("dispatch ledger stop timeout after %v", timeout)
	}
}

// Record queues rec without blocking. A full buffer drops the record.
// The read lock keeps Stop from closing the channel mid-send.
func (s *Service) Record(rec *models.DispatchRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.records <- rec:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("dispatch ledger buffer full, dropping record",
			zap.String("request_id", rec.RequestID),
			zap.String("outcome", string(rec.Outcome)))
		return ErrBufferFull
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for rec := range s.records {
		if err := s.write(rec); err != nil {
			s.logger.Error("failed to write dispatch record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", rec.RequestID))
		}
	}
}

func (s *Service) write(rec *models.DispatchRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert dispatch record: %w", err)
	}
	return nil
}

// GetStats returns statistics about the ledger
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.records),
		WorkerCount:    s.workerCount,
		Dropped:        s.dropped.Load(),
		Started:        s.started && !s.stopped,
	}
}

// Stats represents ledger statistics
type Stats struct {
	BufferSize     int    `json:"buffer_size"`
	PendingRecords int    `json:"pending_records"`
	WorkerCount    int    `json:"worker_count"`
	Dropped        uint64 `json:"dropped"`
	Started        bool   `json:"started"`
}
