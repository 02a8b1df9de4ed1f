package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull       = errors.New("conversation queue full")
	ErrSchedulerClosed = errors.New("scheduler closed")
)

// EventHandler processes one ingress event.
type EventHandler func(ctx context.Context, event Event)

// Scheduler runs events of the same conversation one at a time, in arrival
// order, while different conversations proceed in parallel. A worker exits
// after idling so the map does not grow with every conversation ever seen.
type Scheduler struct {
	logger    zerolog.Logger
	handler   EventHandler
	queueSize int
	idle      time.Duration
	// grace bounds how long Run waits for handlers before cancelling them.
	grace time.Duration

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

type worker struct {
	ch chan Event
}

func NewScheduler(logger zerolog.Logger, queueSize int, handler EventHandler) *Scheduler {
	if queueSize <= 0 {
		queueSize = 256
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:    logger.With().Str("component", "scheduler").Logger(),
		handler:   handler,
		queueSize: queueSize,
		idle:      time.Minute,
		grace:     10 * time.Second,
		base:      base,
		cancel:    cancel,
		workers:   make(map[string]*worker),
	}
}

// Enqueue never blocks; a full per-conversation queue rejects the event.
func (s *Scheduler) Enqueue(event Event) error {
	key := event.key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	w, ok := s.workers[key]
	if !ok {
		w = &worker{ch: make(chan Event, s.queueSize)}
		s.workers[key] = w
		s.wg.Add(1)
		go s.loop(key, w)
	}

	select {
	case w.ch <- event:
		return nil
	default:
		s.logger.Warn().Str("key", key).Msg("conversation queue full")
		return ErrQueueFull
	}
}

func (s *Scheduler) loop(key string, w *worker) {
	defer s.wg.Done()
	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.ch:
			if !ok {
				return
			}
			s.handle(event)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.idle)
		case <-timer.C:
			s.mu.Lock()
			if len(w.ch) == 0 && !s.closed {
				delete(s.workers, key)
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			timer.Reset(s.idle)
		}
	}
}

func (s *Scheduler) handle(event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("key", event.key()).Msg("event handler panicked")
		}
	}()
	s.handler(s.base, event)
}

// Run blocks until ctx is cancelled, then stops accepting events and waits
// for queued ones to finish. Handlers still busy after the grace period see
// their context cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	<-ctx.Done()

	s.mu.Lock()
	s.closed = true
	for key, w := range s.workers {
		close(w.ch)
		delete(s.workers, key)
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	grace := time.NewTimer(s.grace)
	defer grace.Stop()
	select {
	case <-drained:
	case <-grace.C:
		s.logger.Warn().Dur("grace", s.grace).Msg("cancelling event handlers still running")
		s.cancel()
		<-drained
	}
	s.cancel()
	s.logger.Info().Msg("scheduler drained")
	return nil
}
