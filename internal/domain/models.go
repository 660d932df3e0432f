package domain

import (
	"image"
	"time"
)

// SourceState is the connection state of a single source, owned by its reader
type SourceState int32

const (
	// StateDisabled means the source has no address configured and is never read
	StateDisabled SourceState = iota
	// StateDisconnected means no connection is open; a reconnect is pending
	StateDisconnected
	// StateConnecting means the connector is probing/opening the source
	StateConnecting
	// StateConnected means a connection is open and frames are being read
	StateConnected
)

// String returns the lowercase name of the state
func (s SourceState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// PixelFormat names the in-memory layout of a decoded frame
type PixelFormat string

const (
	PixelFormatYCbCr   PixelFormat = "ycbcr"
	PixelFormatRGBA    PixelFormat = "rgba"
	PixelFormatNRGBA   PixelFormat = "nrgba"
	PixelFormatGray    PixelFormat = "gray"
	PixelFormatUnknown PixelFormat = "unknown"
)

// Frame is one decoded image read from a source.
// A frame must not be modified once it has been pushed into a buffer.
type Frame struct {
	// Image holds the decoded pixels
	Image image.Image
	// Width and Height are the pixel dimensions reported by the decoder
	Width  int
	Height int
	// Format is the pixel layout of Image
	Format PixelFormat
	// CapturedAt is the time the frame was read off the wire
	CapturedAt time.Time
	// Seq is the per-source sequence number, starting at 1
	Seq uint64
}

// RenderedFrame is a frame resized for a display slot
type RenderedFrame struct {
	Slot       int
	Image      *image.NRGBA
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
	RenderedAt time.Time
}

// SourceConfig is one configured video source
type SourceConfig struct {
	// Name is shown in placeholders and logs
	Name string `yaml:"name"`
	// URL is the opaque connection string; empty disables the source
	URL string `yaml:"url"`
	// Width and Height are the display target dimensions
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// PreserveAspectRatio scales by width only instead of forcing both dimensions
	PreserveAspectRatio bool `yaml:"preserve_aspect_ratio"`
	// BufferCapacity is the number of recent frames kept (default 1)
	BufferCapacity int `yaml:"buffer_capacity"`
}

// Enabled reports whether the source has an address to connect to
func (s SourceConfig) Enabled() bool {
	return s.URL != ""
}

// SourceStatus is a read-only snapshot of a source's runtime state
type SourceStatus struct {
	Slot         int
	Name         string
	State        SourceState
	Online       bool
	LastError    string
	Reconnects   uint64
	FramesRead   uint64
	LastFrameAt  time.Time
	ConnectionID string
}

// ScreenResolution holds the display dimensions
type ScreenResolution struct {
	Width  int
	Height int
}
