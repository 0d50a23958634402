// Package tiered provides a Hot/Cold processed-event log that pairs a fast
// ephemeral log (Hot, e.g. Redis) with the durable store (Cold, e.g.
// Postgres) so redelivery checks rarely reach the database.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// Config configures the tiered event log
type Config struct {
	// Hot is the L1 log (e.g., Redis, Memory) checked first
	Hot billing.EventLog

	// Cold is the L2 log (e.g., Postgres, Firestore) and the source of truth
	Cold billing.EventLog

	// AsyncHotSync moves hot-tier writes and read-repairs off the request
	// path. If false, they happen before Mark and Seen return.
	AsyncHotSync bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a hot-tier write fails.
	AsyncErrorHandler func(error)
}

// Storage implements billing.EventLog over two tiers:
// - Read-Through: Seen (Hot → Cold → repair Hot)
// - Write-Through: Mark (Cold → Hot)
type Storage struct {
	hot  billing.EventLog
	cold billing.EventLog
	conf Config

	// Channel for async synchronization
	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ billing.EventLog = (*Storage)(nil)

// New creates a new tiered event log.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold logs are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotSync {
		s.startWorker()
	}

	return s, nil
}

// Close drains and stops the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncHotSync {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

// startWorker runs the background synchronization loop.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.runJob(job)
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						s.runJob(job)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) runJob(job func() error) {
	if err := job(); err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered sync failed: %w", err))
	}
}

// syncHot runs job inline or hands it to the worker. A full queue drops the
// job: the cold tier already holds the entry.
func (s *Storage) syncHot(job func() error) {
	if !s.conf.AsyncHotSync {
		s.runJob(job)
		return
	}
	select {
	case s.syncQueue <- job:
	default:
		if s.conf.AsyncErrorHandler != nil {
			s.conf.AsyncErrorHandler(errors.New("tiered sync queue full, hot write dropped"))
		}
	}
}

// Seen implements billing.EventLog with a read-through strategy.
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	// 1. Try Hot. Errors fall through to Cold.
	if seen, err := s.hot.Seen(ctx, eventID); err == nil && seen {
		return true, nil
	}

	// 2. Try Cold (Source of Truth)
	seen, err := s.cold.Seen(ctx, eventID)
	if err != nil || !seen {
		return seen, err
	}

	// 3. Populate Hot (Read-Repair). The event type is unknown here.
	repairCtx := context.WithoutCancel(ctx)
	s.syncHot(func() error {
		return s.hot.Mark(repairCtx, eventID, "")
	})
	return true, nil
}

// Mark implements billing.EventLog with a write-through strategy.
func (s *Storage) Mark(ctx context.Context, eventID string, eventType billing.EventType) error {
	if err := s.cold.Mark(ctx, eventID, eventType); err != nil {
		return err
	}
	hotCtx := context.WithoutCancel(ctx)
	s.syncHot(func() error {
		return s.hot.Mark(hotCtx, eventID, eventType)
	})
	return nil
}
