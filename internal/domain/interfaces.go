package domain

import (
	"context"
	"time"
)

// Connector opens a single video source.
// Implementations probe the source before handing out a connection and never retry.
//
//go:generate mockgen -destination=mocks/connector_mock.go -package=mocks github.com/genricoloni/multicam/internal/domain Connector,Conn,Sink,Notifier
type Connector interface {
	// Connect opens the source addressed by connString.
	// Failures are returned as *ConnectError.
	Connect(ctx context.Context, connString string) (Conn, error)
}

// Conn is an open connection to a video source
type Conn interface {
	// ReadFrame blocks until the next frame is decoded.
	// Failures are returned as *ReadError.
	ReadFrame(ctx context.Context) (*Frame, error)

	// Close releases the connection. It is safe to call more than once
	// and unblocks a pending ReadFrame.
	Close() error
}

// Processor resizes frames for display
type Processor interface {
	// Process scales frame to the target size. With preserveAspect only the
	// width is forced and the height follows the source aspect ratio.
	// Invalid frames are reported as *ProcessingError.
	Process(frame *Frame, targetW, targetH int, preserveAspect bool) (*RenderedFrame, error)
}

// Sink draws rendered frames. Calls for different slots may arrive concurrently.
type Sink interface {
	// Show replaces the image displayed in slot
	Show(slot int, frame *RenderedFrame)

	// ShowPlaceholder replaces the slot content with a status text
	ShowPlaceholder(slot int, text string)
}

// Notifier receives source status transitions
type Notifier interface {
	// Notify reports a status change. It must not block the caller.
	Notify(status SourceStatus)
}

// Config defines the interface for application configuration
type Config interface {
	// GetSources returns the ordered source list
	GetSources() []SourceConfig

	// GetOutputDir returns the directory used by file sinks
	GetOutputDir() string

	// GetFFmpegPath returns the ffmpeg binary used for stream transports
	GetFFmpegPath() string

	// GetBackoffInterval returns the wait between failed connection attempts
	GetBackoffInterval() time.Duration

	// GetReadYield returns the pause between two successful reads
	GetReadYield() time.Duration

	// GetTickInterval returns the display tick period for online sources
	GetTickInterval() time.Duration

	// GetOfflineTickInterval returns the display tick period for offline sources
	GetOfflineTickInterval() time.Duration

	// GetConnectTimeout bounds a single connection probe
	GetConnectTimeout() time.Duration

	// GetSnapshotInterval returns the poll period for single-image HTTP sources
	GetSnapshotInterval() time.Duration

	// TimestampOverlay reports whether rendered frames carry the capture time
	TimestampOverlay() bool

	// NotificationsEnabled reports whether desktop notifications are sent
	NotificationsEnabled() bool
}
