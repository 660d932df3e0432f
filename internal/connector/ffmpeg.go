package connector

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultFFmpegBinary = "ffmpeg"
	stderrTailBytes     = 2048
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}

	errNoProbeFrame = errors.New("probe produced no frame")
)

// FFmpegConnector reads network streams, files and capture devices through an
// ffmpeg subprocess that writes an MJPEG image2pipe to stdout
type FFmpegConnector struct {
	logger       *zap.Logger
	binary       string
	probeTimeout time.Duration
}

// NewFFmpegConnector creates an ffmpeg-backed connector
func NewFFmpegConnector(logger *zap.Logger, opts Options) *FFmpegConnector {
	binary := opts.FFmpegPath
	if binary == "" {
		binary = defaultFFmpegBinary
	}
	return &FFmpegConnector{
		logger:       logger,
		binary:       binary,
		probeTimeout: opts.ConnectTimeout,
	}
}

// Connect probes connString with a one-frame ffmpeg run, then starts the streaming process
func (c *FFmpegConnector) Connect(ctx context.Context, connString string) (domain.Conn, error) {
	if _, err := exec.LookPath(c.binary); err != nil {
		return nil, domain.NewConnectError(connString, fmt.Errorf("ffmpeg binary not available: %w", err))
	}

	if err := c.probe(ctx, connString); err != nil {
		return nil, domain.NewConnectError(connString, err)
	}

	conn, err := c.open(connString)
	if err != nil {
		return nil, domain.NewConnectError(connString, err)
	}

	c.logger.Debug("ffmpeg stream started",
		zap.String("address", domain.RedactAddress(connString)),
		zap.Int("pid", conn.cmd.Process.Pid))
	return conn, nil
}

// probe grabs a single frame and discards it
func (c *FFmpegConnector) probe(ctx context.Context, connString string) error {
	if c.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
	}

	args := append(inputArgs(connString), "-frames:v", "1", "-f", "image2pipe", "-vcodec", "mjpeg", "-")
	cmd := exec.CommandContext(ctx, c.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("probe aborted: %w", ctxErr)
		}
		return fmt.Errorf("probe failed: %w (stderr: %s)", err, diagnostics(stderr.String(), connString))
	}
	if !containsJPEG(stdout.Bytes()) {
		return errNoProbeFrame
	}
	return nil
}

// containsJPEG reports whether splitJPEG would yield an image from data
func containsJPEG(data []byte) bool {
	_, token, _ := splitJPEG(data, true)
	return token != nil
}

// open starts the long-lived streaming process. Its lifetime is bound to the
// returned connection, not to any context.
func (c *FFmpegConnector) open(connString string) (*ffmpegConn, error) {
	args := append(inputArgs(connString), "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	cmd := exec.Command(c.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 512*1024), maxFrameBytes)
	scanner.Split(splitJPEG)

	return &ffmpegConn{
		address: connString,
		cmd:     cmd,
		scanner: scanner,
		stderr:  stderr,
	}, nil
}

// inputArgs builds the ffmpeg input section for connString.
// A bare number selects the matching V4L2 webcam.
func inputArgs(connString string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	lower := strings.ToLower(connString)

	switch {
	case strings.HasPrefix(lower, "rtsp://"), strings.HasPrefix(lower, "rtsps://"):
		args = append(args, "-rtsp_transport", "tcp")
	case isDigits(connString):
		return append(args, "-f", "v4l2", "-i", "/dev/video"+connString)
	case strings.HasPrefix(connString, "/dev/video"):
		args = append(args, "-f", "v4l2")
	}
	return append(args, "-i", connString)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// splitJPEG is a bufio.SplitFunc yielding complete JPEG images (SOI through EOI).
// Bytes outside an image are discarded; a truncated trailing image is dropped.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if len(data) > 1 {
			// Keep the last byte: it may be the first half of a marker
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// ffmpegConn is one running ffmpeg process
type ffmpegConn struct {
	address string
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *tailBuffer

	closeOnce sync.Once
	closeErr  error
}

// ReadFrame returns the next JPEG written by ffmpeg
func (c *ffmpegConn) ReadFrame(ctx context.Context) (*domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.ReadError{Err: err}
	}

	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		return nil, &domain.ReadError{Err: fmt.Errorf("ffmpeg stream ended: %w (stderr: %s)", err, diagnostics(c.stderr.String(), c.address))}
	}

	// The scanner reuses its buffer; decoding copies the pixels out before the next Scan
	return decodeFrame(c.scanner.Bytes(), time.Now())
}

// Close kills the ffmpeg process and reaps it
func (c *ffmpegConn) Close() error {
	c.closeOnce.Do(func() {
		if c.cmd.Process != nil {
			if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				c.closeErr = fmt.Errorf("failed to kill ffmpeg: %w", err)
			}
		}
		// Wait reports the kill signal as an error; only the release matters here
		_ = c.cmd.Wait()
	})
	return c.closeErr
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// diagnostics returns the last line of ffmpeg's stderr with the source password redacted.
// ffmpeg echoes the input URL in most of its errors.
func diagnostics(stderr, connString string) string {
	stderr = strings.ReplaceAll(stderr, connString, domain.RedactAddress(connString))
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
