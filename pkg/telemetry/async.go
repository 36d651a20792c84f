// Package telemetry provides the non-blocking log sink and the metrics used
// on the realtime processing path.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

type asyncRecord struct {
	handler slog.Handler
	record  slog.Record
}

type asyncCore struct {
	records chan asyncRecord
	dropped atomic.Uint64
	onDrop  func()

	closeOnce sync.Once
	done      chan struct{}
}

// AsyncHandler hands records to a background goroutine. When the buffer is
// full the record is dropped and counted; Handle never blocks.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler starts the writer goroutine for inner with a buffer of size records
func NewAsyncHandler(inner slog.Handler, size int, onDrop func()) *AsyncHandler {
	if size <= 0 {
		size = 1
	}
	core := &asyncCore{
		records: make(chan asyncRecord, size),
		onDrop:  onDrop,
		done:    make(chan struct{}),
	}
	go core.run()
	return &AsyncHandler{inner: inner, core: core}
}

func (c *asyncCore) run() {
	defer close(c.done)
	for rec := range c.records {
		_ = rec.handler.Handle(context.Background(), rec.record)
	}
}

// Enabled reports whether the wrapped handler wants the level
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record or drops it when the buffer is full
func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	defer func() {
		// sending after Close
		if recover() != nil {
			h.drop()
		}
	}()
	select {
	case h.core.records <- asyncRecord{handler: h.inner, record: r.Clone()}:
	default:
		h.drop()
	}
	return nil
}

func (h *AsyncHandler) drop() {
	h.core.dropped.Add(1)
	if h.core.onDrop != nil {
		h.core.onDrop()
	}
}

// WithAttrs implements slog.Handler
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup implements slog.Handler
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// Dropped returns the number of records discarded so far
func (h *AsyncHandler) Dropped() uint64 {
	return h.core.dropped.Load()
}

// Close flushes queued records and stops the writer. Records logged after
// Close are dropped.
func (h *AsyncHandler) Close() {
	h.core.closeOnce.Do(func() {
		close(h.core.records)
	})
	<-h.core.done
}
