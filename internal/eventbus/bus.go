// Package eventbus provides an in-memory, asynchronous event bus. Events are
// queued on a bounded channel and processed by a worker pool.
package eventbus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultWorkers    = 3
	defaultBufferSize = 100
)

var (
	// ErrBufferFull is returned by Publish when the queue is at capacity.
	// Callers should retry later.
	ErrBufferFull = errors.New("eventbus: buffer full")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("eventbus: closed")
)

// EventBus publishes events to subscribed listeners.
type EventBus interface {
	// Publish enqueues e without blocking. It fills in a missing ID and
	// Timestamp and returns ErrBufferFull when the queue is full.
	Publish(e Event) error

	// Subscribe registers a listener called for every event. It must be
	// called before the first Publish.
	Subscribe(listener Listener)

	// Close stops accepting events and waits until queued events are handled.
	Close()
}

// Config sizes the bus. Zero values select the defaults.
type Config struct {
	Workers    int
	BufferSize int
	Logger     *slog.Logger
}

type inMemoryBus struct {
	ch        chan Event
	listeners []Listener
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	workers   int
	logger    *slog.Logger
}

// New creates an in-memory EventBus and starts its workers.
func New(cfg Config) EventBus {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &inMemoryBus{
		ch:      make(chan Event, cfg.BufferSize),
		workers: cfg.Workers,
		logger:  cfg.Logger,
	}
	b.startWorkers()
	return b
}

func (b *inMemoryBus) startWorkers() {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for e := range b.ch {
				b.dispatch(e)
			}
		}()
	}
}

// dispatch calls every listener, recovering panics so that one bad listener
// does not stop the others.
func (b *inMemoryBus) dispatch(e Event) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("eventbus listener panicked",
						"event_id", e.ID, "event_type", e.Type, "panic", r)
				}
			}()
			l(e)
		}()
	}
}

func (b *inMemoryBus) Publish(e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.ch <- e:
		return nil
	default:
		b.logger.Warn("eventbus buffer full, rejecting event",
			"event_id", e.ID, "event_type", e.Type)
		return ErrBufferFull
	}
}

func (b *inMemoryBus) Subscribe(listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, listener)
}

func (b *inMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	b.wg.Wait()
}
