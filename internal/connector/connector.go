// Package connector opens video sources.
//
// A Router picks a transport from the connection string scheme:
// http(s) sources are read as MJPEG streams or polled snapshots, ws(s)
// sources deliver one encoded image per binary message, and everything else
// (rtsp, rtmp, srt, udp, files, V4L2 devices) is handed to an ffmpeg
// subprocess that re-encodes the stream to MJPEG on its stdout.
//
// Every transport probes the source with a short-lived handle, closes it,
// and only then opens the connection that is returned. Connectors never
// retry; reconnect policy belongs to the caller.
package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/zap"
)

// maxFrameBytes bounds a single encoded frame read from any transport
const maxFrameBytes = 16 * 1024 * 1024

var errEmptyAddress = errors.New("empty address")

// Options configures all transports of a Router
type Options struct {
	FFmpegPath       string
	ConnectTimeout   time.Duration
	SnapshotInterval time.Duration
}

// OptionsFromConfig extracts transport options from the application config
func OptionsFromConfig(cfg domain.Config) Options {
	return Options{
		FFmpegPath:       cfg.GetFFmpegPath(),
		ConnectTimeout:   cfg.GetConnectTimeout(),
		SnapshotInterval: cfg.GetSnapshotInterval(),
	}
}

// Router dispatches connection strings to the transport matching their scheme
type Router struct {
	logger *zap.Logger
	ffmpeg domain.Connector
	http   domain.Connector
	ws     domain.Connector
}

// NewRouter creates a router with the ffmpeg, HTTP and WebSocket transports
func NewRouter(logger *zap.Logger, cfg domain.Config) *Router {
	opts := OptionsFromConfig(cfg)
	logger = logger.Named("connector")
	return &Router{
		logger: logger,
		ffmpeg: NewFFmpegConnector(logger, opts),
		http:   NewHTTPConnector(logger, opts),
		ws:     NewWSConnector(logger, opts),
	}
}

// Connect opens connString with the transport selected by its scheme
func (r *Router) Connect(ctx context.Context, connString string) (domain.Conn, error) {
	transport, err := r.route(connString)
	if err != nil {
		return nil, domain.NewConnectError(connString, err)
	}
	return transport.Connect(ctx, connString)
}

// route returns the transport for connString.
// The scheme is cut from the raw string rather than parsed as a URL because
// camera passwords routinely contain characters net/url rejects.
func (r *Router) route(connString string) (domain.Connector, error) {
	s := strings.TrimSpace(connString)
	if s == "" {
		return nil, errEmptyAddress
	}

	scheme, _, found := strings.Cut(s, "://")
	if !found {
		// Local file, V4L2 device path or webcam index
		return r.ffmpeg, nil
	}
	if scheme == "" || strings.ContainsAny(scheme, " /\\@:") {
		return nil, fmt.Errorf("malformed scheme %q", scheme)
	}

	switch strings.ToLower(scheme) {
	case "http", "https":
		return r.http, nil
	case "ws", "wss":
		return r.ws, nil
	case "rtsp", "rtsps", "rtmp", "rtmps", "srt", "udp", "rtp", "tcp", "file":
		return r.ffmpeg, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}
}
