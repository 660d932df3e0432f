package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/genricoloni/multicam/internal/manager"
	"go.uber.org/fx"
)

// TestAppGraphValidity verifies that the dependency graph is resolvable.
// This test will fail if you forget an fx.Provide for a required interface.
func TestAppGraphValidity(t *testing.T) {
	// fx.ValidateApp checks that there are no missing or cyclic dependencies
	err := fx.ValidateApp(AppOptions)
	if err != nil {
		t.Errorf("Dependency graph is not valid: %v", err)
	}
}

// TestNewLogger specifically verifies the logger configuration
func TestNewLogger(t *testing.T) {
	logger, err := newLogger()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
	logger.Info("Test logger initialization")
}

// setupEnv points the app at a temporary config file and output directory
func setupEnv(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sources.yaml")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "out")
	t.Setenv("MULTICAM_CONFIG", cfgPath)
	t.Setenv("MULTICAM_OUTPUT_DIR", outDir)
	return outDir
}

// TestEndToEndStartup tries a real startup/stop with only disabled sources
// We use fx.NopLogger to avoid cluttering test output
func TestEndToEndStartup(t *testing.T) {
	outDir := setupEnv(t, "notifications: false\n")

	app := fx.New(
		AppOptions,
		fx.NopLogger, // Silence Fx logs during tests
	)

	// Verify that the app can start without errors
	if err := app.Start(t.Context()); err != nil {
		t.Fatalf("App failed to start: %v", err)
	}

	// Disabled slots get a placeholder picture
	for slot := 0; slot < 4; slot++ {
		if _, err := os.Stat(filepath.Join(outDir, fmt.Sprintf("slot-%d.jpg", slot))); err != nil {
			t.Errorf("missing placeholder for slot %d: %v", slot, err)
		}
	}

	// Verify that the app can stop without errors
	if err := app.Stop(t.Context()); err != nil {
		t.Fatalf("App failed to stop: %v", err)
	}
}

// TestEndToEndStream runs the whole pipeline against a local MJPEG camera
func TestEndToEndStream(t *testing.T) {
	frame := testJPEG(t)
	camera := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		for {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			if _, err := part.Write(frame); err != nil {
				return
			}
			w.(http.Flusher).Flush()

			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}))
	defer camera.Close()

	outDir := setupEnv(t, fmt.Sprintf(`
notifications: false
backoff_interval: 100ms
sources:
  - name: Local
    url: %s/video.mjpg
    width: 64
    height: 48
  - name: Dead
    url: http://127.0.0.1:1/video.mjpg
    width: 64
    height: 48
`, camera.URL))

	var mgr *manager.SourceManager
	app := fx.New(AppOptions, fx.NopLogger, fx.Populate(&mgr))
	if err := app.Start(t.Context()); err != nil {
		t.Fatalf("App failed to start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		statuses := mgr.Statuses()
		if statuses[0].Online && statuses[0].FramesRead >= 3 {
			if statuses[1].Online {
				t.Error("unreachable source reported online")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no frames from the local camera: %+v", statuses)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := os.Stat(filepath.Join(outDir, "slot-0.jpg")); err != nil {
		t.Errorf("no picture written for the live slot: %v", err)
	}

	if err := app.Stop(t.Context()); err != nil {
		t.Fatalf("App failed to stop: %v", err)
	}
	if open := mgr.OpenConnections(); open != 0 {
		t.Errorf("expected no open connections, got %d", open)
	}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
