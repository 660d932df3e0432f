package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/multicam/internal/domain"
)

func TestFrameBuffer_RetainsMostRecent(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushes   int
		wantSeqs []uint64
	}{
		{name: "Default capacity keeps one", capacity: 0, pushes: 5, wantSeqs: []uint64{5}},
		{name: "Under capacity", capacity: 4, pushes: 2, wantSeqs: []uint64{1, 2}},
		{name: "Exactly full", capacity: 3, pushes: 3, wantSeqs: []uint64{1, 2, 3}},
		{name: "Overflow evicts oldest", capacity: 3, pushes: 7, wantSeqs: []uint64{5, 6, 7}},
		{name: "Long wrap", capacity: 5, pushes: 103, wantSeqs: []uint64{99, 100, 101, 102, 103}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.capacity)
			for i := 1; i <= tt.pushes; i++ {
				b.Push(&domain.Frame{Seq: uint64(i)})

				latest, ok := b.PeekLatest()
				if !ok || latest.Seq != uint64(i) {
					t.Fatalf("after push %d: latest = %+v, ok = %v", i, latest, ok)
				}
			}

			frames := b.Frames()
			if len(frames) != len(tt.wantSeqs) {
				t.Fatalf("expected %d frames, got %d", len(tt.wantSeqs), len(frames))
			}
			for i, f := range frames {
				if f.Seq != tt.wantSeqs[i] {
					t.Errorf("frame %d: expected seq %d, got %d", i, tt.wantSeqs[i], f.Seq)
				}
			}
			if b.Len() > b.Cap() {
				t.Errorf("length %d exceeds capacity %d", b.Len(), b.Cap())
			}
			if got := b.Dropped(); got != uint64(tt.pushes-len(tt.wantSeqs)) {
				t.Errorf("expected %d dropped, got %d", tt.pushes-len(tt.wantSeqs), got)
			}
		})
	}
}

func TestFrameBuffer_PeekEmpty(t *testing.T) {
	b := New(2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if f, ok := b.PeekLatest(); ok || f != nil {
			t.Errorf("expected no frame, got %+v", f)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PeekLatest blocked on an empty buffer")
	}

	if len(b.Frames()) != 0 {
		t.Error("expected empty snapshot")
	}
}

func TestFrameBuffer_PeekIsNonDestructive(t *testing.T) {
	b := New(1)
	b.Push(&domain.Frame{Seq: 42})

	for i := 0; i < 3; i++ {
		f, ok := b.PeekLatest()
		if !ok || f.Seq != 42 {
			t.Fatalf("peek %d: expected seq 42, got %+v", i, f)
		}
	}
	b.Push(nil)
	if f, _ := b.PeekLatest(); f.Seq != 42 {
		t.Errorf("nil push replaced the latest frame")
	}
}

// TestFrameBuffer_ConcurrentPushPeek exercises one writer against several readers.
// Run with -race to check for tearing.
func TestFrameBuffer_ConcurrentPushPeek(t *testing.T) {
	const total = 5000
	b := New(3)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				f, ok := b.PeekLatest()
				if !ok {
					continue
				}
				if f.Seq < last {
					t.Errorf("latest went backwards: %d after %d", f.Seq, last)
					return
				}
				last = f.Seq
				_ = b.Frames()
			}
		}()
	}

	for i := 1; i <= total; i++ {
		b.Push(&domain.Frame{Seq: uint64(i)})
	}
	close(stop)
	wg.Wait()

	if b.Pushed() != total {
		t.Errorf("expected %d pushes, got %d", total, b.Pushed())
	}
	if f, _ := b.PeekLatest(); f.Seq != total {
		t.Errorf("expected latest %d, got %d", total, f.Seq)
	}
}
