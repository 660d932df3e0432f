package connector

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/multicam/internal/domain"
)

var errEmptyFrame = errors.New("empty frame payload")

// decodeFrame turns one encoded image into a frame.
// Decode failures are read errors: a stream that yields garbage is treated as lost.
func decodeFrame(data []byte, capturedAt time.Time) (*domain.Frame, error) {
	if len(data) == 0 {
		return nil, &domain.ReadError{Err: errEmptyFrame}
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.ReadError{Err: fmt.Errorf("failed to decode frame: %w", err)}
	}

	bounds := img.Bounds()
	return &domain.Frame{
		Image:      img,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Format:     pixelFormat(img),
		CapturedAt: capturedAt,
	}, nil
}

func pixelFormat(img image.Image) domain.PixelFormat {
	switch img.(type) {
	case *image.YCbCr:
		return domain.PixelFormatYCbCr
	case *image.RGBA:
		return domain.PixelFormatRGBA
	case *image.NRGBA:
		return domain.PixelFormatNRGBA
	case *image.Gray:
		return domain.PixelFormatGray
	default:
		return domain.PixelFormatUnknown
	}
}
