// Package buffer holds the most recent frames of a single source.
//
// A FrameBuffer has one writer (the source's reader) and any number of
// readers (display ticks, status queries). The latest frame is published
// through an atomic pointer, so PeekLatest never takes a lock and can never
// hold up the writer. The ring behind Frames is guarded by a mutex whose
// critical sections are constant time.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/genricoloni/multicam/internal/domain"
)

// DefaultCapacity is used when a non-positive capacity is requested
const DefaultCapacity = 1

// FrameBuffer is a fixed-capacity ring of frames that evicts the oldest on overflow
type FrameBuffer struct {
	mu     sync.Mutex
	frames []*domain.Frame
	next   int // index of the next write
	size   int

	latest atomic.Pointer[domain.Frame]
	pushed atomic.Uint64
}

// New creates a buffer holding up to capacity frames
func New(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FrameBuffer{
		frames: make([]*domain.Frame, capacity),
	}
}

// Push stores frame, evicting the oldest one when the buffer is full.
// Nil frames are ignored.
func (b *FrameBuffer) Push(frame *domain.Frame) {
	if frame == nil {
		return
	}

	b.mu.Lock()
	b.frames[b.next] = frame
	b.next = (b.next + 1) % len(b.frames)
	if b.size < len(b.frames) {
		b.size++
	}
	b.mu.Unlock()

	b.latest.Store(frame)
	b.pushed.Add(1)
}

// PeekLatest returns the most recently pushed frame without removing it
func (b *FrameBuffer) PeekLatest() (*domain.Frame, bool) {
	f := b.latest.Load()
	return f, f != nil
}

// Frames returns the buffered frames, oldest first
func (b *FrameBuffer) Frames() []*domain.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*domain.Frame, 0, b.size)
	start := (b.next - b.size + len(b.frames)) % len(b.frames)
	for i := 0; i < b.size; i++ {
		out = append(out, b.frames[(start+i)%len(b.frames)])
	}
	return out
}

// Len returns the number of buffered frames
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the buffer capacity
func (b *FrameBuffer) Cap() int {
	return len(b.frames)
}

// Pushed returns the total number of frames ever pushed
func (b *FrameBuffer) Pushed() uint64 {
	return b.pushed.Load()
}

// Dropped returns the number of frames evicted to make room for newer ones
func (b *FrameBuffer) Dropped() uint64 {
	pushed := b.pushed.Load()
	held := uint64(b.Len())
	if pushed < held {
		return 0
	}
	return pushed - held
}
