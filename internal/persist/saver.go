package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/mercado/internal/model"
)

const flushTimeout = 5 * time.Second

// Saver writes state snapshots in the background. Snapshots queued while a
// write is pending replace each other, so only the newest one is written.
type Saver struct {
	adapter  *Adapter
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending *model.State
	wake    chan struct{}
}

func NewSaver(adapter *Adapter, debounce time.Duration, logger *slog.Logger) *Saver {
	return &Saver{
		adapter:  adapter,
		debounce: debounce,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue schedules st to be saved. It never blocks.
func (s *Saver) Enqueue(st model.State) {
	s.mu.Lock()
	s.pending = &st
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run writes queued snapshots until ctx is cancelled, then flushes whatever
// is still pending.
func (s *Saver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			if err := s.Flush(flushCtx); err != nil {
				s.logger.Error("final state save failed", "error", err)
			}
			cancel()
			return
		case <-s.wake:
		}

		if s.debounce > 0 {
			timer := time.NewTimer(s.debounce)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}

		if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("state save failed", "error", err)
		}
	}
}

// Flush writes the pending snapshot, if any, and waits for the write.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	st := s.pending
	s.pending = nil
	s.mu.Unlock()

	if st == nil {
		return nil
	}
	if err := s.adapter.Save(ctx, *st); err != nil {
		// Keep it for the next attempt unless a newer snapshot arrived.
		s.mu.Lock()
		if s.pending == nil {
			s.pending = st
		}
		s.mu.Unlock()
		return err
	}
	return nil
}
