package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingHandler holds every record until released
type blockingHandler struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (b *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (b *blockingHandler) Handle(context.Context, slog.Record) error {
	<-b.release
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	return nil
}
func (b *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return b }
func (b *blockingHandler) WithGroup(string) slog.Handler      { return b }

func TestAsyncHandlerNeverBlocks(t *testing.T) {
	inner := &blockingHandler{release: make(chan struct{})}
	var drops int
	h := NewAsyncHandler(inner, 2, func() { drops++ })
	logger := slog.New(h)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			logger.Info("record", "i", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("logging blocked on a stalled sink")
	}

	// one record may be held by the writer plus two buffered
	assert.GreaterOrEqual(t, h.Dropped(), uint64(47))
	assert.Equal(t, int(h.Dropped()), drops)

	close(inner.release)
	h.Close()
}

func TestAsyncHandlerFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	logger, h := NewLogger(&buf, LoggerOptions{Level: slog.LevelDebug, Buffer: 64})

	logger.With("component", "decoder").Warn("malformed sysex", "index", 3)
	logger.Debug("raw midi")
	h.Close()

	out := buf.String()
	assert.Contains(t, out, "malformed sysex")
	assert.Contains(t, out, "component=decoder")
	assert.Contains(t, out, "raw midi")
	assert.Zero(t, h.Dropped())

	// after Close records are dropped, not panicking
	logger.Info("late")
	assert.Equal(t, uint64(1), h.Dropped())
}

func TestAsyncHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, h := NewLogger(&buf, LoggerOptions{Level: slog.LevelWarn, Buffer: 8, JSON: true})
	logger.Info("hidden")
	logger.Error("shown")
	h.Close()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		err  bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	d := codec.NewDecoder(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), m)

	_, err := d.Decode([]codec.RawFrame{
		codec.MustFrame(0, 0x90, 60, 100),
		codec.MustFrame(1, 0x90, 60, 0),
		codec.MustFrame(2, 0xB0, 0x21, 0x10),
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("note_on")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("note_off")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("control_change")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conditions.WithLabelValues("ordering_violation")))
}
