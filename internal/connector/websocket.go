package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/genricoloni/multicam/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConnector reads cameras that push one encoded image per binary WebSocket message
type WSConnector struct {
	logger       *zap.Logger
	dialer       *websocket.Dialer
	probeTimeout time.Duration
}

// NewWSConnector creates a WebSocket-based connector
func NewWSConnector(logger *zap.Logger, opts Options) *WSConnector {
	return &WSConnector{
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
		},
		probeTimeout: opts.ConnectTimeout,
	}
}

// Connect dials a probe connection, closes it and dials again for streaming
func (c *WSConnector) Connect(ctx context.Context, connString string) (domain.Conn, error) {
	target, header, err := splitCredentials(connString)
	if err != nil {
		return nil, domain.NewConnectError(connString, err)
	}

	probe, err := c.dial(ctx, target, header)
	if err != nil {
		return nil, domain.NewConnectError(connString, err)
	}
	probe.Close()

	ws, err := c.dial(ctx, target, header)
	if err != nil {
		return nil, domain.NewConnectError(connString, err)
	}
	ws.SetReadLimit(maxFrameBytes)

	return &wsConn{ws: ws}, nil
}

func (c *WSConnector) dial(ctx context.Context, target string, header http.Header) (*websocket.Conn, error) {
	if c.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
	}

	ws, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return ws, nil
}

// splitCredentials moves URL userinfo into a basic auth header.
// The websocket dialer rejects URLs that carry credentials.
func splitCredentials(connString string) (string, http.Header, error) {
	u, err := url.Parse(connString)
	if err != nil {
		return "", nil, fmt.Errorf("malformed address: %w", err)
	}

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	if u.User == nil {
		return connString, header, nil
	}

	password, _ := u.User.Password()
	(&http.Request{Header: header}).SetBasicAuth(u.User.Username(), password)
	u.User = nil
	return u.String(), header, nil
}

// wsConn is an open WebSocket stream
type wsConn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// ReadFrame returns the next binary message as a frame; text messages are skipped
func (c *wsConn) ReadFrame(ctx context.Context) (*domain.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, &domain.ReadError{Err: err}
		}

		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, &domain.ReadError{Err: fmt.Errorf("websocket stream ended: %w", err)}
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		return decodeFrame(data, time.Now())
	}
}

// Close closes the underlying network connection, unblocking ReadFrame
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
