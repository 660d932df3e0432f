// Package scheduler drives the display refresh of a single source slot.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultTickInterval is the refresh period of an online slot
	DefaultTickInterval = time.Millisecond
	// DefaultOfflineTickInterval is the refresh period of an offline slot
	DefaultOfflineTickInterval = time.Second
)

// Options tunes the tick cadence
type Options struct {
	TickInterval        time.Duration
	OfflineTickInterval time.Duration
}

// OptionsFromConfig extracts scheduler timings from the application config
func OptionsFromConfig(cfg domain.Config) Options {
	return Options{
		TickInterval:        cfg.GetTickInterval(),
		OfflineTickInterval: cfg.GetOfflineTickInterval(),
	}
}

// FrameSource is the read side of a source: its online flag and latest frame
type FrameSource interface {
	Online() bool
	PeekLatest() (*domain.Frame, bool)
}

// DisplayScheduler delivers the latest frame of one source to its sink slot
type DisplayScheduler struct {
	logger    *zap.Logger
	slot      int
	source    domain.SourceConfig
	frames    FrameSource
	processor domain.Processor
	sink      domain.Sink
	opts      Options

	lastSeq   uint64 // Run goroutine only
	delivered uint64
	dropped   uint64
}

// NewDisplayScheduler creates the tick loop for slot
func NewDisplayScheduler(
	logger *zap.Logger,
	slot int,
	source domain.SourceConfig,
	frames FrameSource,
	processor domain.Processor,
	sink domain.Sink,
	opts Options,
) *DisplayScheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.OfflineTickInterval <= 0 {
		opts.OfflineTickInterval = DefaultOfflineTickInterval
	}
	return &DisplayScheduler{
		logger:    logger.With(zap.Int("slot", slot), zap.String("source", source.Name)),
		slot:      slot,
		source:    source,
		frames:    frames,
		processor: processor,
		sink:      sink,
		opts:      opts,
	}
}

// Run ticks until ctx is cancelled. It never blocks on network I/O: each tick
// only looks at the frame already buffered by the reader.
func (s *DisplayScheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.opts.TickInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Display loop stopped",
				zap.Uint64("delivered", s.delivered),
				zap.Uint64("dropped", s.dropped))
			return nil
		case <-timer.C:
			timer.Reset(s.Tick())
		}
	}
}

// Tick runs a single refresh and returns the delay until the next one.
// A tick without a new frame leaves the slot untouched.
func (s *DisplayScheduler) Tick() time.Duration {
	if !s.frames.Online() {
		return s.opts.OfflineTickInterval
	}

	frame, ok := s.frames.PeekLatest()
	if !ok || frame.Seq == s.lastSeq {
		return s.opts.TickInterval
	}
	// Marked before processing so a bad frame is dropped once, not retried every tick
	s.lastSeq = frame.Seq

	rendered, err := s.processor.Process(frame, s.source.Width, s.source.Height, s.source.PreserveAspectRatio)
	if err != nil {
		s.dropped++
		var perr *domain.ProcessingError
		if errors.As(err, &perr) {
			s.logger.Debug("Dropping frame", zap.Uint64("seq", frame.Seq), zap.Error(err))
		} else {
			s.logger.Warn("Failed to process frame", zap.Uint64("seq", frame.Seq), zap.Error(err))
		}
		return s.opts.TickInterval
	}

	rendered.Slot = s.slot
	s.sink.Show(s.slot, rendered)
	s.delivered++
	return s.opts.TickInterval
}
