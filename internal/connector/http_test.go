package connector

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/zap"
)

func newTestHTTPConnector() *HTTPConnector {
	return NewHTTPConnector(zap.NewNop(), Options{
		ConnectTimeout:   2 * time.Second,
		SnapshotInterval: 10 * time.Millisecond,
	})
}

// mjpegHandler serves frames parts of a multipart/x-mixed-replace stream and
// then, with hold, keeps the connection open until the client goes away.
// withLength adds a Content-Length header to every part.
func mjpegHandler(frames int, hold, withLength bool) http.HandlerFunc {
	jpg := createTestJPEG(40, 30, color.RGBA{B: 255, A: 255})
	return func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		w.WriteHeader(http.StatusOK)

		for i := 0; i < frames; i++ {
			header := textproto.MIMEHeader{"Content-Type": {"image/jpeg"}}
			if withLength {
				header.Set("Content-Length", strconv.Itoa(len(jpg)))
			}
			part, err := mw.CreatePart(header)
			if err != nil {
				return
			}
			part.Write(jpg)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		if hold {
			<-r.Context().Done()
			return
		}
		mw.Close()
	}
}

func TestHTTPConnector_MJPEGStream(t *testing.T) {
	srv := httptest.NewServer(mjpegHandler(3, false, false))
	defer srv.Close()

	conn, err := newTestHTTPConnector().Connect(context.Background(), srv.URL+"/video.mjpg")
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		frame, err := conn.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if frame.Width != 40 || frame.Height != 30 {
			t.Errorf("frame %d: expected 40x30, got %dx%d", i, frame.Width, frame.Height)
		}
	}

	_, err = conn.ReadFrame(context.Background())
	var rerr *domain.ReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *domain.ReadError at end of stream, got %v", err)
	}
}

func TestHTTPConnector_CloseUnblocksRead(t *testing.T) {
	srv := httptest.NewServer(mjpegHandler(1, true, false))
	defer srv.Close()

	conn, err := newTestHTTPConnector().Connect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if _, err := conn.ReadFrame(context.Background()); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := conn.ReadFrame(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected read error after close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("ReadFrame still blocked after Close")
	}
}

func TestHTTPConnector_LatestPartNotHeldBack(t *testing.T) {
	tests := []struct {
		name       string
		withLength bool
	}{
		{name: "Content-Length", withLength: true},
		{name: "EOI marker", withLength: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Two frames, then the camera pauses without sending another boundary
			srv := httptest.NewServer(mjpegHandler(2, true, tt.withLength))
			defer srv.Close()

			conn, err := newTestHTTPConnector().Connect(context.Background(), srv.URL)
			if err != nil {
				t.Fatalf("unexpected connect error: %v", err)
			}
			defer conn.Close()

			read := make(chan error, 1)
			go func() {
				for i := 0; i < 2; i++ {
					frame, err := conn.ReadFrame(context.Background())
					if err != nil {
						read <- err
						return
					}
					if frame.Width != 40 || frame.Height != 30 {
						read <- fmt.Errorf("frame %d: unexpected size %dx%d", i, frame.Width, frame.Height)
						return
					}
				}
				read <- nil
			}()

			select {
			case err := <-read:
				if err != nil {
					t.Fatalf("unexpected read error: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("last frame was not delivered before the next boundary")
			}
		})
	}
}

func TestHTTPConnector_SnapshotPolling(t *testing.T) {
	jpg := createTestJPEG(16, 16, color.RGBA{G: 255, A: 255})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpg)
	}))
	defer srv.Close()

	conn, err := newTestHTTPConnector().Connect(context.Background(), srv.URL+"/snapshot.jpg")
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		frame, err := conn.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if frame.Width != 16 {
			t.Errorf("frame %d: expected width 16, got %d", i, frame.Width)
		}
	}

	// probe + open + two polls
	if got := hits.Load(); got != 4 {
		t.Errorf("expected 4 requests, got %d", got)
	}
}

func TestHTTPConnector_ProbeFailures(t *testing.T) {
	tests := []struct {
		name          string
		handler       http.HandlerFunc
		expectedError string
	}{
		{
			name: "Not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			expectedError: "unexpected status code: 404",
		},
		{
			name: "HTML page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<html></html>"))
			},
			expectedError: "url is not a video source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestHTTPConnector().Connect(context.Background(), srv.URL)
			var cerr *domain.ConnectError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *domain.ConnectError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.expectedError) {
				t.Errorf("expected error '%s' to contain '%s'", err.Error(), tt.expectedError)
			}
		})
	}
}

func TestHTTPConnector_BasicAuthFromURL(t *testing.T) {
	jpg := createTestJPEG(8, 8, color.RGBA{A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.UserAgent() != userAgent {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpg)
	}))
	defer srv.Close()

	address := strings.Replace(srv.URL, "http://", "http://admin:secret@", 1)
	conn, err := newTestHTTPConnector().Connect(context.Background(), address)
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	conn.Close()

	bad := strings.Replace(srv.URL, "http://", "http://admin:wrong@", 1)
	_, err = newTestHTTPConnector().Connect(context.Background(), bad)
	if err == nil {
		t.Fatal("expected error for wrong credentials")
	}
	if strings.Contains(err.Error(), "wrong") {
		t.Errorf("error leaks the password: %v", err)
	}
}

func TestHTTPConnector_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	address := srv.URL
	srv.Close()

	_, err := newTestHTTPConnector().Connect(context.Background(), address)
	var cerr *domain.ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *domain.ConnectError, got %v", err)
	}
}
