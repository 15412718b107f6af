package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pilab-dev/storefront/internal/metrics"
	"github.com/pilab-dev/storefront/log"
)

// ErrSkipWrite is returned by a ValueFunc to abandon the write without error.
var ErrSkipWrite = errors.New("write skipped")

// ValueFunc produces the value of a write at the moment it is made. It runs
// with the writer's store lock held and must not write through the same Writer.
type ValueFunc func(ctx context.Context) (string, error)

type pendingWrite struct {
	value ValueFunc
	ttl   time.Duration
	gen   uint64
	timer *time.Timer
}

// Writer offers two write paths into the same Store: immediate writes, and
// debounced writes coalesced per key by a single timer. The last value written
// within the window wins; an immediate write or delete of a key cancels its
// pending debounced write.
type Writer struct {
	store  Store
	logger log.Logger

	// ioMu orders store writes so a debounced write that already fired can not
	// land after a later immediate write of the same key.
	ioMu    sync.Mutex
	mu      sync.Mutex
	gen     uint64
	pending map[string]*pendingWrite
}

// NewWriter creates a Writer on store.
func NewWriter(store Store, logger log.Logger) *Writer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Writer{
		store:   store,
		logger:  logger,
		pending: make(map[string]*pendingWrite),
	}
}

// Store returns the underlying store.
func (w *Writer) Store() Store {
	return w.store
}

// WriteImmediate writes value now, discarding any pending debounced write of key.
func (w *Writer) WriteImmediate(ctx context.Context, key, value string, ttl time.Duration) error {
	return w.WriteImmediateFunc(ctx, key, constant(value), ttl)
}

// WriteImmediateFunc is WriteImmediate with the value produced by fn under the store lock.
func (w *Writer) WriteImmediateFunc(ctx context.Context, key string, fn ValueFunc, ttl time.Duration) error {
	w.ioMu.Lock()
	defer w.ioMu.Unlock()

	w.cancel(key)
	return w.set(ctx, key, fn, ttl, "immediate")
}

// WriteDebounced schedules value to be written after window. A later call for
// the same key within the window replaces the value and restarts the window.
func (w *Writer) WriteDebounced(key, value string, ttl, window time.Duration) {
	w.WriteDebouncedFunc(key, constant(value), ttl, window)
}

// WriteDebouncedFunc is WriteDebounced with the value produced by fn when the
// write fires or is flushed, not when it is scheduled.
func (w *Writer) WriteDebouncedFunc(key string, fn ValueFunc, ttl, window time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[key]; ok {
		p.timer.Stop()
	}

	w.gen++
	gen := w.gen
	w.pending[key] = &pendingWrite{
		value: fn,
		ttl:   ttl,
		gen:   gen,
		timer: time.AfterFunc(window, func() { w.fire(key, gen) }),
	}
}

func (w *Writer) fire(key string, gen uint64) {
	w.ioMu.Lock()
	defer w.ioMu.Unlock()

	w.mu.Lock()
	p, ok := w.pending[key]
	if !ok || p.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	w.mu.Unlock()

	if err := w.set(context.Background(), key, p.value, p.ttl, "debounced"); err != nil {
		w.logger.Error(context.Background(), "debounced write failed", err, log.Fields{"key": key})
	}
}

// Delete removes key now, discarding any pending debounced write of key.
func (w *Writer) Delete(ctx context.Context, key string) error {
	w.ioMu.Lock()
	defer w.ioMu.Unlock()

	w.cancel(key)
	return w.store.Delete(ctx, key)
}

// Flush writes every pending debounced value now.
func (w *Writer) Flush(ctx context.Context) error {
	w.ioMu.Lock()
	defer w.ioMu.Unlock()

	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]*pendingWrite)
	w.mu.Unlock()

	var errs []error
	for key, p := range pending {
		p.timer.Stop()
		if err := w.set(ctx, key, p.value, p.ttl, "flush"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending reports whether key has a debounced write waiting.
func (w *Writer) Pending(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.pending[key]
	return ok
}

// Discard drops the pending debounced write of key without writing it and
// reports whether there was one.
func (w *Writer) Discard(key string) bool {
	return w.cancel(key)
}

func (w *Writer) cancel(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[key]
	if ok {
		p.timer.Stop()
		delete(w.pending, key)
	}
	return ok
}

// set must be called with ioMu held.
func (w *Writer) set(ctx context.Context, key string, fn ValueFunc, ttl time.Duration, path string) error {
	value, err := fn(ctx)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}

	metrics.StorageWritesTotal.WithLabelValues(path).Inc()
	return w.store.Set(ctx, key, value, ttl)
}

func constant(value string) ValueFunc {
	return func(context.Context) (string, error) { return value, nil }
}
