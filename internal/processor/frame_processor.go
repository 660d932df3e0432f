package processor

import (
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/zap"
)

// resampleFilter trades a little sharpness for speed; frames are rescaled at video rate
var resampleFilter = imaging.Linear

// ProcessorConfig holds configuration for frame rendering
type ProcessorConfig struct {
	// TimestampOverlay draws the capture time in the top-right corner
	TimestampOverlay bool
}

// FrameProcessor resizes decoded frames to their display slot.
// It keeps no per-frame state and is safe for concurrent use.
type FrameProcessor struct {
	logger *zap.Logger
	config ProcessorConfig
	now    func() time.Time
}

// NewFrameProcessor creates a processor configured from the application config
func NewFrameProcessor(logger *zap.Logger, cfg domain.Config) *FrameProcessor {
	return &FrameProcessor{
		logger: logger.Named("processor"),
		config: ProcessorConfig{
			TimestampOverlay: cfg.TimestampOverlay(),
		},
		now: time.Now,
	}
}

// Process scales frame to the target size.
// With preserveAspect the width is forced and the height is computed from the
// source aspect ratio, so it may differ from targetH.
func (p *FrameProcessor) Process(frame *domain.Frame, targetW, targetH int, preserveAspect bool) (*domain.RenderedFrame, error) {
	if err := validate(frame, targetW, targetH); err != nil {
		return nil, err
	}

	var out *image.NRGBA
	if preserveAspect {
		out = imaging.Resize(frame.Image, targetW, 0, resampleFilter)
	} else {
		out = imaging.Resize(frame.Image, targetW, targetH, resampleFilter)
	}

	if p.config.TimestampOverlay {
		drawTimestamp(out, frame.CapturedAt)
	}

	bounds := out.Bounds()
	return &domain.RenderedFrame{
		Image:      out,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Seq:        frame.Seq,
		CapturedAt: frame.CapturedAt,
		RenderedAt: p.now(),
	}, nil
}

// validate rejects frames whose dimensions cannot be scaled
func validate(frame *domain.Frame, targetW, targetH int) error {
	if frame == nil || frame.Image == nil {
		return &domain.ProcessingError{Reason: "frame has no image"}
	}
	if targetW <= 0 || targetH <= 0 {
		return &domain.ProcessingError{Reason: fmt.Sprintf("invalid target size %dx%d", targetW, targetH)}
	}

	bounds := frame.Image.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return &domain.ProcessingError{Reason: fmt.Sprintf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())}
	}
	if frame.Width != bounds.Dx() || frame.Height != bounds.Dy() {
		return &domain.ProcessingError{Reason: fmt.Sprintf("declared size %dx%d does not match image %dx%d",
			frame.Width, frame.Height, bounds.Dx(), bounds.Dy())}
	}
	return nil
}
