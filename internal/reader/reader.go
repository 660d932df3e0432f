// Package reader runs the background connect/read/reconnect loop of a single source.
package reader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/genricoloni/multicam/internal/buffer"
	"github.com/genricoloni/multicam/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultBackoffInterval is the wait between failed connection attempts
	DefaultBackoffInterval = 2 * time.Second
	// DefaultReadYield is the pause after every successful read
	DefaultReadYield = 10 * time.Millisecond

	warningInterval = 30 * time.Second
)

var (
	// ErrAlreadyRunning is returned when Run is called on a reader whose loop is active
	ErrAlreadyRunning = errors.New("reader loop already running")

	errNoFrame = errors.New("connection returned no frame")
)

// Options tunes the reader loop timing
type Options struct {
	BackoffInterval time.Duration
	ReadYield       time.Duration
}

// OptionsFromConfig extracts reader timings from the application config
func OptionsFromConfig(cfg domain.Config) Options {
	return Options{
		BackoffInterval: cfg.GetBackoffInterval(),
		ReadYield:       cfg.GetReadYield(),
	}
}

// StatusFunc is called from the reader goroutine after every state transition
type StatusFunc func(status domain.SourceStatus)

// StreamReader owns the connection of one source. The state machine is
// Disconnected -> Connecting -> Connected -> Disconnected, driven solely by Run.
// Other goroutines observe it through Snapshot and Online.
type StreamReader struct {
	logger    *zap.Logger
	slot      int
	source    domain.SourceConfig
	connector domain.Connector
	buffer    *buffer.FrameBuffer
	opts      Options
	onStatus  StatusFunc

	running     atomic.Bool
	state       atomic.Int32
	online      atomic.Bool
	attempts    atomic.Uint64
	framesRead  atomic.Uint64
	lastFrameAt atomic.Int64

	mu        sync.Mutex
	lastError string
	connID    string

	lastWarning time.Time // Run goroutine only
}

// NewStreamReader creates a reader for source that fills buf.
// onStatus may be nil.
func NewStreamReader(
	logger *zap.Logger,
	slot int,
	source domain.SourceConfig,
	connector domain.Connector,
	buf *buffer.FrameBuffer,
	opts Options,
	onStatus StatusFunc,
) *StreamReader {
	if opts.BackoffInterval <= 0 {
		opts.BackoffInterval = DefaultBackoffInterval
	}
	if opts.ReadYield < 0 {
		opts.ReadYield = 0
	}

	r := &StreamReader{
		logger:    logger.With(zap.Int("slot", slot), zap.String("source", source.Name)),
		slot:      slot,
		source:    source,
		connector: connector,
		buffer:    buf,
		opts:      opts,
		onStatus:  onStatus,
	}
	r.state.Store(int32(domain.StateDisconnected))
	return r
}

// Online reports whether a connection is open and its last read succeeded
func (r *StreamReader) Online() bool {
	return r.online.Load()
}

// State returns the current state of the loop
func (r *StreamReader) State() domain.SourceState {
	return domain.SourceState(r.state.Load())
}

// Snapshot returns a consistent-enough copy of the reader's runtime state
func (r *StreamReader) Snapshot() domain.SourceStatus {
	r.mu.Lock()
	lastError, connID := r.lastError, r.connID
	r.mu.Unlock()

	status := domain.SourceStatus{
		Slot:         r.slot,
		Name:         r.source.Name,
		State:        r.State(),
		Online:       r.Online(),
		LastError:    lastError,
		FramesRead:   r.framesRead.Load(),
		ConnectionID: connID,
	}
	if n := r.attempts.Load(); n > 1 {
		status.Reconnects = n - 1
	}
	if ns := r.lastFrameAt.Load(); ns != 0 {
		status.LastFrameAt = time.Unix(0, ns)
	}
	return status
}

// Run executes the connect/read loop until ctx is cancelled.
// On return the connection is closed and the reader is offline.
func (r *StreamReader) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	r.logger.Info("Reader started")
	defer func() {
		r.online.Store(false)
		r.state.Store(int32(domain.StateDisconnected))
		r.logger.Info("Reader stopped")
	}()

	for ctx.Err() == nil {
		r.transition(domain.StateConnecting, false, "")
		r.attempts.Add(1)

		conn, err := r.connector.Connect(ctx, r.source.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.transition(domain.StateDisconnected, false, err.Error())
			r.warn("Unable to connect, retrying after backoff", err)
			if !wait(ctx, r.opts.BackoffInterval) {
				return nil
			}
			continue
		}

		// A session that ends before its first frame would otherwise turn
		// into a tight reconnect loop against a half-alive source.
		if frames := r.serve(ctx, conn); frames == 0 {
			if !wait(ctx, r.opts.BackoffInterval) {
				return nil
			}
		}
	}
	return nil
}

// serve reads frames from conn until it fails or ctx is cancelled, then
// releases it. It returns the number of frames read in this session.
func (r *StreamReader) serve(ctx context.Context, conn domain.Conn) uint64 {
	id := uuid.NewString()
	log := r.logger.With(zap.String("connection_id", id))

	// Closing the connection is the only way to interrupt a blocked read
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer func() {
		stop()
		if err := conn.Close(); err != nil {
			log.Debug("Failed to close connection", zap.Error(err))
		}
	}()

	r.mu.Lock()
	r.connID = id
	r.mu.Unlock()
	r.transition(domain.StateConnected, true, "")
	log.Info("Source connected")

	var frames uint64
	for {
		frame, err := conn.ReadFrame(ctx)
		if err == nil && frame == nil {
			err = &domain.ReadError{Err: errNoFrame}
		}
		if err != nil {
			if ctx.Err() != nil {
				return frames
			}
			r.transition(domain.StateDisconnected, false, err.Error())
			log.Warn("Stream lost, reconnecting",
				zap.Uint64("frames", frames),
				zap.Error(err))
			return frames
		}

		frames++
		frame.Seq = r.framesRead.Add(1)
		r.lastFrameAt.Store(frame.CapturedAt.UnixNano())
		r.buffer.Push(frame)

		if !wait(ctx, r.opts.ReadYield) {
			return frames
		}
	}
}

// transition updates the state and reports it when something visible changed
func (r *StreamReader) transition(state domain.SourceState, online bool, lastError string) {
	prevState := domain.SourceState(r.state.Swap(int32(state)))
	prevOnline := r.online.Swap(online)

	r.mu.Lock()
	prevError := r.lastError
	if lastError != "" || online {
		r.lastError = lastError
	}
	r.mu.Unlock()

	if prevState == state && prevOnline == online && prevError == lastError {
		return
	}
	if r.onStatus != nil {
		r.onStatus(r.Snapshot())
	}
}

// warn logs a connection failure at most once per warningInterval.
// A camera that stays down would otherwise log every backoff period.
func (r *StreamReader) warn(msg string, err error) {
	now := time.Now()
	if now.Sub(r.lastWarning) < warningInterval {
		r.logger.Debug(msg, zap.Error(err))
		return
	}
	r.lastWarning = now
	r.logger.Warn(msg,
		zap.Duration("backoff", r.opts.BackoffInterval),
		zap.Uint64("attempt", r.attempts.Load()),
		zap.Error(err))
}

// wait sleeps for d and reports whether ctx is still live
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
