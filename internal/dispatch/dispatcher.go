package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khanghh/kgate/internal/metrics"
	"github.com/khanghh/kgate/params"
)

type Task func(ctx context.Context) error

type Config struct {
	MaxInFlight int
	TaskTimeout time.Duration
}

// Dispatcher runs fire-and-forget tasks with a bound on concurrency. Submitting
// never blocks: when all slots are taken the task is dropped and counted.
type Dispatcher struct {
	sem     chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
	dropped atomic.Uint64
	mu      sync.RWMutex // orders wg.Add against Close
	closed  bool
}

func (d *Dispatcher) Go(name string, task Task) bool {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.drop(name)
		return false
	}
	select {
	case d.sem <- struct{}{}:
	default:
		d.mu.RUnlock()
		d.drop(name)
		return false
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.DispatchFailed.WithLabelValues(name).Inc()
				slog.Error("Background task panicked", "task", name, "panic", fmt.Sprint(r))
			}
			<-d.sem
			d.wg.Done()
		}()

		// detached from the request context, the task outlives the request
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := task(ctx); err != nil {
			metrics.DispatchFailed.WithLabelValues(name).Inc()
			slog.Warn("Background task failed", "task", name, "error", err)
		}
	}()
	return true
}

func (d *Dispatcher) drop(name string) {
	d.dropped.Add(1)
	metrics.DispatchDropped.WithLabelValues(name).Inc()
	slog.Warn("Background task dropped", "task", name)
}

func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Wait blocks until every submitted task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting tasks and waits for running ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = params.DispatchMaxInFlight
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = params.DispatchTaskTimeout
	}
	return &Dispatcher{
		sem:     make(chan struct{}, cfg.MaxInFlight),
		timeout: cfg.TaskTimeout,
	}
}
