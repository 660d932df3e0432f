// Package sink provides display sinks that draw slots outside of a window.
package sink

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/multicam/internal/domain"
	"github.com/genricoloni/multicam/internal/processor"
	"go.uber.org/zap"
)

const (
	defaultMinInterval = 200 * time.Millisecond
	jpegQuality        = 85
)

// FileSink writes the picture of every slot to <dir>/slot-<n>.jpg.
// Files are replaced atomically so viewers never read a half-written image.
// Frames for a slot are written at most once per minInterval; placeholders
// are always written.
type FileSink struct {
	logger      *zap.Logger
	dir         string
	minInterval time.Duration
	sizes       map[int][2]int

	mu    sync.Mutex
	slots map[int]*slotState
}

type slotState struct {
	mu        sync.Mutex
	lastWrite time.Time
	frames    uint64
}

// NewFileSink creates the output directory and a sink writing into it
func NewFileSink(logger *zap.Logger, cfg domain.Config) (*FileSink, error) {
	dir := cfg.GetOutputDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	sizes := make(map[int][2]int)
	for i, sc := range cfg.GetSources() {
		sizes[i] = [2]int{sc.Width, sc.Height}
	}

	logger.Info("File sink ready", zap.String("dir", dir))
	return &FileSink{
		logger:      logger,
		dir:         dir,
		minInterval: defaultMinInterval,
		sizes:       sizes,
		slots:       make(map[int]*slotState),
	}, nil
}

// Show writes frame as the current picture of slot
func (s *FileSink) Show(slot int, frame *domain.RenderedFrame) {
	if frame == nil || frame.Image == nil {
		return
	}

	st := s.slot(slot)
	st.mu.Lock()
	defer st.mu.Unlock()

	if time.Since(st.lastWrite) < s.minInterval {
		return
	}
	if err := s.write(slot, frame.Image); err != nil {
		s.logger.Warn("Failed to write frame", zap.Int("slot", slot), zap.Error(err))
		return
	}
	st.lastWrite = time.Now()
	st.frames++
}

// ShowPlaceholder replaces the picture of slot with a rendered status text
func (s *FileSink) ShowPlaceholder(slot int, text string) {
	size := s.sizes[slot]
	img := processor.RenderPlaceholder(size[0], size[1], text)

	st := s.slot(slot)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.write(slot, img); err != nil {
		s.logger.Warn("Failed to write placeholder", zap.Int("slot", slot), zap.Error(err))
		return
	}
	// A frame arriving right after the placeholder is shown immediately
	st.lastWrite = time.Time{}
	s.logger.Debug("Placeholder written", zap.Int("slot", slot), zap.String("text", text))
}

// Path returns the file holding the picture of slot
func (s *FileSink) Path(slot int) string {
	return filepath.Join(s.dir, fmt.Sprintf("slot-%d.jpg", slot))
}

// Written returns the number of frames written for slot
func (s *FileSink) Written(slot int) uint64 {
	st := s.slot(slot)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.frames
}

func (s *FileSink) slot(slot int) *slotState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.slots[slot]
	if !ok {
		st = &slotState{}
		s.slots[slot] = st
	}
	return st
}

// write encodes img to a temporary file and renames it over the slot file
func (s *FileSink) write(slot int, img image.Image) error {
	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".slot-%d-*.tmp", slot))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush image: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(slot)); err != nil {
		return fmt.Errorf("failed to replace slot image: %w", err)
	}
	return nil
}
