// Package display probes the local screen to size the camera grid.
package display

import (
	"github.com/genricoloni/multicam/internal/domain"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"
)

// FallbackResolution is used when no display can be detected (headless hosts)
var FallbackResolution = domain.ScreenResolution{Width: 1920, Height: 1080}

// displayBounds is replaced in tests
var displayBounds = func() (int, int, bool) {
	if screenshot.NumActiveDisplays() <= 0 {
		return 0, 0, false
	}
	bounds := screenshot.GetDisplayBounds(0)
	return bounds.Dx(), bounds.Dy(), true
}

// NewScreenResolution detects the primary screen resolution at startup
func NewScreenResolution(logger *zap.Logger) *domain.ScreenResolution {
	w, h, ok := displayBounds()
	if !ok || w <= 0 || h <= 0 {
		logger.Warn("No active displays detected, falling back to default resolution",
			zap.Int("width", FallbackResolution.Width),
			zap.Int("height", FallbackResolution.Height))
		res := FallbackResolution
		return &res
	}

	res := &domain.ScreenResolution{Width: w, Height: h}
	logger.Info("Screen resolution detected",
		zap.Int("width", res.Width),
		zap.Int("height", res.Height))
	return res
}

// SlotSize returns the size of one cell in a 2x2 grid on res, leaving room for the
// window padding between cells
func SlotSize(res domain.ScreenResolution) (int, int) {
	const padding = 16
	w := res.Width/2 - padding
	h := res.Height/2 - padding
	if w <= 0 || h <= 0 {
		return FallbackResolution.Width/2 - padding, FallbackResolution.Height/2 - padding
	}
	return w, h
}
