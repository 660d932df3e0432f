package connector

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/zap"
)

var testTime = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

// recordingConnector remembers which transport a router picked
type recordingConnector struct {
	name  string
	calls []string
}

func (r *recordingConnector) Connect(_ context.Context, connString string) (domain.Conn, error) {
	r.calls = append(r.calls, connString)
	return nil, errors.New(r.name)
}

func TestRouter_Route(t *testing.T) {
	tests := []struct {
		name          string
		connString    string
		wantTransport string
		expectedError string
	}{
		{name: "RTSP with credentials", connString: "rtsp://admin:p@ss/w:rd@10.0.0.5:554/stream1", wantTransport: "ffmpeg"},
		{name: "RTMP", connString: "rtmp://live.example.com/app/key", wantTransport: "ffmpeg"},
		{name: "SRT", connString: "srt://10.0.0.9:9000?mode=caller", wantTransport: "ffmpeg"},
		{name: "Webcam index", connString: "0", wantTransport: "ffmpeg"},
		{name: "Device path", connString: "/dev/video2", wantTransport: "ffmpeg"},
		{name: "HTTP MJPEG", connString: "http://cam.local/mjpg/video.mjpg", wantTransport: "http"},
		{name: "HTTPS upper case scheme", connString: "HTTPS://cam.local/snapshot.jpg", wantTransport: "http"},
		{name: "WebSocket", connString: "ws://esp32.local:81/stream", wantTransport: "ws"},
		{name: "Secure WebSocket", connString: "wss://cam.example.com/ws", wantTransport: "ws"},
		{name: "Empty", connString: "   ", expectedError: "empty address"},
		{name: "Missing scheme", connString: "://host/path", expectedError: "malformed scheme"},
		{name: "Unknown scheme", connString: "gopher://host", expectedError: "unsupported scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transports := map[string]*recordingConnector{
				"ffmpeg": {name: "ffmpeg"},
				"http":   {name: "http"},
				"ws":     {name: "ws"},
			}
			r := &Router{
				logger: zap.NewNop(),
				ffmpeg: transports["ffmpeg"],
				http:   transports["http"],
				ws:     transports["ws"],
			}

			_, err := r.Connect(context.Background(), tt.connString)

			if tt.expectedError != "" {
				var cerr *domain.ConnectError
				if !errors.As(err, &cerr) {
					t.Fatalf("expected *domain.ConnectError, got %T (%v)", err, err)
				}
				if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("expected error '%s' to contain '%s'", err.Error(), tt.expectedError)
				}
				for name, tr := range transports {
					if len(tr.calls) != 0 {
						t.Errorf("transport %s should not be called", name)
					}
				}
				return
			}

			picked := transports[tt.wantTransport]
			if len(picked.calls) != 1 || picked.calls[0] != tt.connString {
				t.Fatalf("expected %s to receive %q unmodified, got %v", tt.wantTransport, tt.connString, picked.calls)
			}
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	data := createTestJPEG(64, 48, color.RGBA{R: 10, G: 200, B: 30, A: 255})

	frame, err := decodeFrame(data, testTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Width != 64 || frame.Height != 48 {
		t.Errorf("expected 64x48, got %dx%d", frame.Width, frame.Height)
	}
	if frame.Format != domain.PixelFormatYCbCr {
		t.Errorf("expected ycbcr pixels from a JPEG, got %s", frame.Format)
	}
	if !frame.CapturedAt.Equal(testTime) {
		t.Errorf("capture time not preserved")
	}

	for _, bad := range [][]byte{nil, []byte("not-an-image"), {0xFF, 0xD8, 0xFF, 0x00}} {
		_, err := decodeFrame(bad, testTime)
		var rerr *domain.ReadError
		if !errors.As(err, &rerr) {
			t.Errorf("expected *domain.ReadError for %q, got %v", bad, err)
		}
	}
}

// createTestJPEG generates a simple JPEG image for testing
func createTestJPEG(width, height int, col color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, col)
		}
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 80}); err != nil {
		panic("failed to create test JPEG: " + err.Error())
	}
	return buf.Bytes()
}
