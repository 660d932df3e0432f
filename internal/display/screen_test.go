package display

import (
	"testing"

	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/zap"
)

func TestNewScreenResolution(t *testing.T) {
	tests := []struct {
		name   string
		probe  func() (int, int, bool)
		expect domain.ScreenResolution
	}{
		{
			name:   "Detected display",
			probe:  func() (int, int, bool) { return 2560, 1440, true },
			expect: domain.ScreenResolution{Width: 2560, Height: 1440},
		},
		{
			name:   "Headless",
			probe:  func() (int, int, bool) { return 0, 0, false },
			expect: FallbackResolution,
		},
		{
			name:   "Bogus bounds",
			probe:  func() (int, int, bool) { return 0, 900, true },
			expect: FallbackResolution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := displayBounds
			displayBounds = tt.probe
			defer func() { displayBounds = orig }()

			res := NewScreenResolution(zap.NewNop())
			if *res != tt.expect {
				t.Errorf("expected %+v, got %+v", tt.expect, *res)
			}
		})
	}
}

func TestNewScreenResolution_FallbackNotShared(t *testing.T) {
	orig := displayBounds
	displayBounds = func() (int, int, bool) { return 0, 0, false }
	defer func() { displayBounds = orig }()

	res := NewScreenResolution(zap.NewNop())
	res.Width = 1
	if FallbackResolution.Width != 1920 {
		t.Error("callers must not be able to modify the fallback")
	}
}

func TestSlotSize(t *testing.T) {
	tests := []struct {
		res   domain.ScreenResolution
		wantW int
		wantH int
	}{
		{domain.ScreenResolution{Width: 1920, Height: 1080}, 944, 524},
		{domain.ScreenResolution{Width: 1280, Height: 720}, 624, 344},
		{domain.ScreenResolution{Width: 20, Height: 20}, 944, 524},
	}

	for _, tt := range tests {
		w, h := SlotSize(tt.res)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("SlotSize(%+v) = %dx%d, want %dx%d", tt.res, w, h, tt.wantW, tt.wantH)
		}
	}
}
