package engine

import (
	"sync"

	"github.com/james-see/blendmidi/pkg/codec"
)

type stamped struct {
	data []byte
	ms   int32
}

// inbox collects driver callbacks between two blocks
type inbox struct {
	mu      sync.Mutex
	pending []stamped
	limit   int
	dropped uint64
}

func newInbox(limit int) *inbox {
	if limit <= 0 {
		limit = 1
	}
	return &inbox{pending: make([]stamped, 0, limit), limit: limit}
}

// add copies data into the inbox; it reports false when the message is dropped
func (b *inbox) add(data []byte, ms int32) bool {
	if len(data) == 0 || len(data) > codec.FrameCapacity {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return false
	}
	cp := append([]byte(nil), data...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.limit {
		b.dropped++
		return false
	}
	b.pending = append(b.pending, stamped{data: cp, ms: ms})
	return true
}

// take converts pending messages into frames stamped relative to blockStart
// (milliseconds since listening began) and empties the inbox.
func (b *inbox) take(blockStart int32, sampleRate, blockSize int, dst []codec.RawFrame) []codec.RawFrame {
	b.mu.Lock()
	pending := b.pending
	b.pending = make([]stamped, 0, b.limit)
	b.mu.Unlock()

	for _, p := range pending {
		offset := 0
		if p.ms > blockStart {
			offset = int(int64(p.ms-blockStart) * int64(sampleRate) / 1000)
		}
		if offset >= blockSize {
			offset = blockSize - 1
		}
		f, err := codec.NewFrame(p.data, uint32(offset))
		if err != nil {
			continue
		}
		dst = append(dst, f)
	}
	return dst
}

func (b *inbox) droppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
