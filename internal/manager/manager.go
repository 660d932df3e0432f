// Package manager owns the set of sources of a session and their goroutines.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/genricoloni/multicam/internal/buffer"
	"github.com/genricoloni/multicam/internal/domain"
	"github.com/genricoloni/multicam/internal/reader"
	"github.com/genricoloni/multicam/internal/scheduler"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Placeholder texts shown in a slot that has no live picture
const (
	textDisabled     = "No address configured"
	textConnecting   = "Connecting..."
	textReconnecting = "Attempting to reconnect..."
	textUnreachable  = "Unable to connect"
)

var (
	// ErrConnectionLeak is reported by Stop when connections outlive their readers
	ErrConnectionLeak = errors.New("connection handles left open after teardown")
	// ErrStopping is returned by Start while goroutines of a previous run are still alive
	ErrStopping = errors.New("previous sources are still shutting down")
)

// SourceManager starts and stops every configured source as a unit.
// Sources never affect each other: a source that cannot connect keeps
// retrying on its own while the others display frames.
type SourceManager struct {
	logger    *zap.Logger
	cfg       domain.Config
	connector *trackingConnector
	processor domain.Processor
	sink      domain.Sink
	notifier  domain.Notifier

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	waitErr error
	sources []*source
}

// source is the runtime wiring of one slot
type source struct {
	slot      int
	config    domain.SourceConfig
	buffer    *buffer.FrameBuffer
	reader    *reader.StreamReader
	scheduler *scheduler.DisplayScheduler

	// mu serializes frame and placeholder writes to the slot
	mu   sync.Mutex
	sink domain.Sink
}

// Online and PeekLatest expose the source to its display scheduler
func (s *source) Online() bool {
	return s.reader.Online()
}

func (s *source) PeekLatest() (*domain.Frame, bool) {
	return s.buffer.PeekLatest()
}

// Show forwards a rendered frame unless the source has gone offline since it
// was processed. The reader clears the online flag before it writes the
// status placeholder, so a late frame cannot replace that placeholder.
func (s *source) Show(slot int, frame *domain.RenderedFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reader.Online() {
		return
	}
	s.sink.Show(slot, frame)
}

func (s *source) ShowPlaceholder(slot int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink.ShowPlaceholder(slot, text)
}

// NewSourceManager creates a manager for the sources listed in cfg
func NewSourceManager(
	logger *zap.Logger,
	cfg domain.Config,
	connector domain.Connector,
	processor domain.Processor,
	sink domain.Sink,
	notifier domain.Notifier,
) *SourceManager {
	return &SourceManager{
		logger:    logger,
		cfg:       cfg,
		connector: newTrackingConnector(connector),
		processor: processor,
		sink:      sink,
		notifier:  notifier,
	}
}

// Start validates every source and launches one reader and one display loop
// per enabled source. If any source is invalid nothing is started.
// The loops outlive ctx; they run until Stop.
func (m *SourceManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if m.done != nil {
		select {
		case <-m.done:
		default:
			return ErrStopping
		}
	}

	configs := m.cfg.GetSources()
	if err := validateSources(configs); err != nil {
		return fmt.Errorf("invalid source configuration: %w", err)
	}

	m.logger.Info("Starting sources", zap.Int("count", len(configs)))

	readerOpts := reader.OptionsFromConfig(m.cfg)
	schedOpts := scheduler.OptionsFromConfig(m.cfg)

	sources := make([]*source, len(configs))
	for i, sc := range configs {
		src := &source{slot: i, config: sc, sink: m.sink}
		if sc.Enabled() {
			src.buffer = buffer.New(sc.BufferCapacity)
			src.reader = reader.NewStreamReader(m.logger.Named("reader"), i, sc, m.connector, src.buffer, readerOpts,
				func(status domain.SourceStatus) { m.statusChanged(src, status) })
			src.scheduler = scheduler.NewDisplayScheduler(m.logger.Named("display"), i, sc, src, m.processor, src, schedOpts)
		}
		sources[i] = src
	}

	runCtx, cancel := context.WithCancel(context.Background())
	// A plain group: one source failing must not cancel the others
	var g errgroup.Group

	enabled := 0
	for _, src := range sources {
		if src.reader == nil {
			src.ShowPlaceholder(src.slot, placeholder(src.config.Name, textDisabled))
			m.logger.Info("Source disabled", zap.Int("slot", src.slot), zap.String("source", src.config.Name))
			continue
		}
		enabled++
		src.ShowPlaceholder(src.slot, placeholder(src.config.Name, textConnecting))
		m.goSafe(&g, src, "reader", func() error { return src.reader.Run(runCtx) })
		m.goSafe(&g, src, "display", func() error { return src.scheduler.Run(runCtx) })
	}

	done := make(chan struct{})
	go func() {
		err := g.Wait()
		m.mu.Lock()
		m.waitErr = err
		m.mu.Unlock()
		close(done)
	}()

	m.sources = sources
	m.cancel = cancel
	m.done = done
	m.running = true

	m.logger.Info("Sources started", zap.Int("enabled", enabled), zap.Int("disabled", len(sources)-enabled))
	return nil
}

// Stop cancels every loop, waits for them to return and verifies that no
// connection is still open. The wait is bounded by ctx. After a timed out
// Stop the manager refuses to Start until a later Stop completes the wait.
func (m *SourceManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	if done == nil {
		m.mu.Unlock()
		return nil
	}
	if m.running {
		m.running = false
		m.cancel()
		m.logger.Info("Stopping sources")
	}
	m.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("source teardown did not finish: %w", ctx.Err())
	}

	m.mu.Lock()
	err := m.waitErr
	m.mu.Unlock()

	if open := m.connector.Open(); open != 0 {
		err = multierr.Append(err, fmt.Errorf("%w: %d", ErrConnectionLeak, open))
	}
	if err != nil {
		m.logger.Error("Source teardown finished with errors", zap.Error(err))
		return err
	}

	m.logger.Info("All sources stopped")
	return nil
}

// Statuses returns a snapshot of every source in slot order
func (m *SourceManager) Statuses() []domain.SourceStatus {
	m.mu.Lock()
	sources := m.sources
	m.mu.Unlock()

	out := make([]domain.SourceStatus, 0, len(sources))
	for _, src := range sources {
		if src.reader == nil {
			out = append(out, domain.SourceStatus{
				Slot:  src.slot,
				Name:  src.config.Name,
				State: domain.StateDisabled,
			})
			continue
		}
		out = append(out, src.reader.Snapshot())
	}
	return out
}

// OpenConnections returns the number of connections currently held by readers
func (m *SourceManager) OpenConnections() int64 {
	return m.connector.Open()
}

// statusChanged runs on the reader goroutine of src
func (m *SourceManager) statusChanged(src *source, status domain.SourceStatus) {
	switch {
	case status.State == domain.StateConnecting && status.Reconnects == 0:
		src.ShowPlaceholder(status.Slot, placeholder(status.Name, textConnecting))
	case status.State == domain.StateConnecting:
		src.ShowPlaceholder(status.Slot, placeholder(status.Name, textReconnecting))
	case status.State == domain.StateDisconnected:
		src.ShowPlaceholder(status.Slot, placeholder(status.Name, textUnreachable))
	}

	if m.notifier != nil {
		m.notifier.Notify(status)
	}
}

// goSafe runs fn in g, turning a panic into an error for that source only
func (m *SourceManager) goSafe(g *errgroup.Group, src *source, role string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				m.logger.Error("Source goroutine panicked",
					zap.Int("slot", src.slot),
					zap.String("source", src.config.Name),
					zap.String("role", role),
					zap.Any("panic", p),
					zap.Stack("stack"))
				err = fmt.Errorf("slot %d %s: panic: %v", src.slot, role, p)
			}
		}()
		return fn()
	})
}

func validateSources(configs []domain.SourceConfig) error {
	var err error
	for i, sc := range configs {
		if strings.TrimSpace(sc.Name) == "" {
			err = multierr.Append(err, fmt.Errorf("source %d: name is required", i))
		}
		if !sc.Enabled() {
			continue
		}
		if sc.Width <= 0 || sc.Height <= 0 {
			err = multierr.Append(err, fmt.Errorf("source %d (%s): target size %dx%d must be positive", i, sc.Name, sc.Width, sc.Height))
		}
		if sc.BufferCapacity < 0 {
			err = multierr.Append(err, fmt.Errorf("source %d (%s): buffer capacity must not be negative", i, sc.Name))
		}
	}
	return err
}

func placeholder(name, text string) string {
	return name + "\n" + text
}
