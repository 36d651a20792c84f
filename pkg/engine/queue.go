// Package engine drives the codec once per processing block: it feeds input
// frames to the decoder and trigger mapper and collects outbound frames.
package engine

import (
	"errors"
	"fmt"

	"github.com/james-see/blendmidi/pkg/codec"
)

// ErrQueueFull is returned when the output queue reached its capacity
var ErrQueueFull = errors.New("output queue full")

// OutputQueue holds the frames produced during one block, in order
type OutputQueue struct {
	frames []codec.RawFrame
}

// NewOutputQueue creates a queue holding at most capacity frames per block
func NewOutputQueue(capacity int) *OutputQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &OutputQueue{frames: make([]codec.RawFrame, 0, capacity)}
}

// Push appends a frame, failing once capacity is reached
func (q *OutputQueue) Push(f codec.RawFrame) error {
	if len(q.frames) == cap(q.frames) {
		return fmt.Errorf("frame [% X] dropped, %d queued: %w", f.Bytes(), len(q.frames), ErrQueueFull)
	}
	q.frames = append(q.frames, f)
	return nil
}

// Drain appends the queued frames to dst and empties the queue
func (q *OutputQueue) Drain(dst []codec.RawFrame) []codec.RawFrame {
	dst = append(dst, q.frames...)
	q.frames = q.frames[:0]
	return dst
}

// Len returns the number of queued frames
func (q *OutputQueue) Len() int {
	return len(q.frames)
}

// Cap returns the queue capacity
func (q *OutputQueue) Cap() int {
	return cap(q.frames)
}
