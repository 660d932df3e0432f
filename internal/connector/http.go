package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/zap"
)

const (
	userAgent               = "multicam/1.0"
	defaultSnapshotInterval = 100 * time.Millisecond
	mixedReplace            = "multipart/x-mixed-replace"
)

// HTTPConnector reads MJPEG (multipart/x-mixed-replace) streams and polls
// single-image snapshot endpoints. Credentials in the URL userinfo are sent
// as basic auth by the HTTP client.
type HTTPConnector struct {
	logger           *zap.Logger
	client           *http.Client
	probeTimeout     time.Duration
	snapshotInterval time.Duration
}

// NewHTTPConnector creates an HTTP-based connector
func NewHTTPConnector(logger *zap.Logger, opts Options) *HTTPConnector {
	interval := opts.SnapshotInterval
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}

	// No client-wide timeout: stream bodies stay open for the whole session.
	// Only connection setup and response headers are bounded.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext
	transport.ResponseHeaderTimeout = opts.ConnectTimeout

	return &HTTPConnector{
		logger:           logger,
		client:           &http.Client{Transport: transport},
		probeTimeout:     opts.ConnectTimeout,
		snapshotInterval: interval,
	}
}

// Connect probes the endpoint, closes the probe response and opens the stream
func (c *HTTPConnector) Connect(ctx context.Context, connString string) (domain.Conn, error) {
	if err := c.probe(ctx, connString); err != nil {
		return nil, domain.NewConnectError(connString, err)
	}

	conn, err := c.open(ctx, connString)
	if err != nil {
		return nil, domain.NewConnectError(connString, err)
	}
	return conn, nil
}

func (c *HTTPConnector) probe(ctx context.Context, connString string) error {
	if c.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
	}

	resp, err := c.get(ctx, connString)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// open issues the long-lived request. Its context is owned by the returned
// connection; ctx only bounds the wait for response headers.
func (c *HTTPConnector) open(ctx context.Context, connString string) (*httpConn, error) {
	connCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := c.get(connCtx, connString)
	if err != nil {
		cancel()
		return nil, err
	}

	conn := &httpConn{
		connector: c,
		address:   connString,
		ctx:       connCtx,
		cancel:    cancel,
		body:      resp.Body,
	}

	mediaType, params, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == mixedReplace {
		// Some cameras declare the boundary with the leading dashes included
		boundary := strings.TrimPrefix(params["boundary"], "--")
		conn.parts = multipart.NewReader(resp.Body, boundary)
		return conn, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	resp.Body.Close()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	conn.pending = data
	conn.lastFetch = time.Now()
	return conn, nil
}

// get performs a GET and validates that the response carries frames
func (c *HTTPConnector) get(ctx context.Context, connString string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, connString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, mixedReplace) {
		resp.Body.Close()
		return nil, fmt.Errorf("url is not a video source: %s", contentType)
	}
	return resp, nil
}

// httpConn is either an open multipart stream or a snapshot poller
type httpConn struct {
	connector *HTTPConnector
	address   string
	ctx       context.Context
	cancel    context.CancelFunc

	body  io.ReadCloser
	parts *multipart.Reader

	// snapshot mode
	pending   []byte
	lastFetch time.Time

	closeOnce sync.Once
}

// ReadFrame returns the next multipart image, or polls the snapshot endpoint
func (c *httpConn) ReadFrame(ctx context.Context) (*domain.Frame, error) {
	if c.parts != nil {
		return c.readPart()
	}
	return c.readSnapshot(ctx)
}

// readPart returns as soon as the image of the next part is complete.
// The part is not closed here: NextPart discards its remainder on the next call.
func (c *httpConn) readPart() (*domain.Frame, error) {
	part, err := c.parts.NextPart()
	if err != nil {
		return nil, &domain.ReadError{Err: fmt.Errorf("mjpeg stream ended: %w", err)}
	}

	data, err := readImage(part)
	if err != nil {
		return nil, &domain.ReadError{Err: fmt.Errorf("failed to read part: %w", err)}
	}
	return decodeFrame(data, time.Now())
}

// readImage reads one image without waiting for the boundary that follows it.
// A declared Content-Length is read exactly; otherwise the image ends at the
// JPEG EOI marker, or at the end of the part for other formats.
func readImage(part *multipart.Part) ([]byte, error) {
	if n, err := strconv.Atoi(part.Header.Get("Content-Length")); err == nil && n > 0 {
		if n > maxFrameBytes {
			return nil, fmt.Errorf("part of %d bytes exceeds the frame limit", n)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(part, data); err != nil {
			return nil, err
		}
		return data, nil
	}

	var data []byte
	chunk := make([]byte, 32*1024)
	for {
		n, err := part.Read(chunk)
		data = append(data, chunk[:n]...)
		if _, token, _ := splitJPEG(data, false); token != nil {
			return token, nil
		}
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
		if len(data) > maxFrameBytes {
			return nil, errors.New("part exceeds the frame limit")
		}
	}
}

func (c *httpConn) readSnapshot(ctx context.Context) (*domain.Frame, error) {
	if c.pending != nil {
		data := c.pending
		c.pending = nil
		return decodeFrame(data, c.lastFetch)
	}

	if wait := time.Until(c.lastFetch.Add(c.connector.snapshotInterval)); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, &domain.ReadError{Err: ctx.Err()}
		case <-c.ctx.Done():
			return nil, &domain.ReadError{Err: c.ctx.Err()}
		}
	}

	resp, err := c.connector.get(c.ctx, c.address)
	c.lastFetch = time.Now()
	if err != nil {
		return nil, &domain.ReadError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, &domain.ReadError{Err: fmt.Errorf("failed to read snapshot: %w", err)}
	}
	return decodeFrame(data, c.lastFetch)
}

// Close aborts any in-flight request and releases the stream body
func (c *httpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.parts != nil {
			err = c.body.Close()
		}
	})
	return err
}
