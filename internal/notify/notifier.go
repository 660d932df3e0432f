// Package notify raises desktop notifications when a source goes online or offline.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/zap"
)

const (
	queueSize           = 16
	notificationTimeout = 5 * time.Second
	dropWarningInterval = 5 * time.Second
)

// DesktopNotifier forwards online/offline changes to the freedesktop
// notification service. Notify never blocks: it runs on reader goroutines,
// so events are queued and delivered by a single worker.
type DesktopNotifier struct {
	logger  *zap.Logger
	enabled bool
	dial    func() (DBusClient, error)
	events  chan domain.SourceStatus

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	conn            DBusClient
	online          map[int]bool
	lastDropWarning time.Time
	wg              sync.WaitGroup

	replaces map[int]uint32 // worker only
}

// NewDesktopNotifier creates a notifier; it stays silent when notifications are disabled in cfg
func NewDesktopNotifier(logger *zap.Logger, cfg domain.Config) *DesktopNotifier {
	return &DesktopNotifier{
		logger:  logger,
		enabled: cfg.NotificationsEnabled(),
		dial: func() (DBusClient, error) {
			return NewStdDBusClient()
		},
		events:   make(chan domain.SourceStatus, queueSize),
		online:   make(map[int]bool),
		replaces: make(map[int]uint32),
	}
}

// Start connects to the session bus and launches the delivery worker
func (n *DesktopNotifier) Start(ctx context.Context) error {
	if !n.enabled {
		n.logger.Info("Desktop notifications disabled")
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return nil
	}

	conn, err := n.dial()
	if err != nil {
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	n.conn = conn
	n.cancel = cancel
	n.running = true

	n.wg.Add(1)
	go n.deliver(workerCtx)

	n.logger.Info("Desktop notifier started")
	return nil
}

// Stop terminates the worker and closes the D-Bus connection
func (n *DesktopNotifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.cancel()
	n.mu.Unlock()

	n.wg.Wait()

	if err := n.conn.Close(); err != nil {
		n.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
	}
	n.logger.Info("Desktop notifier stopped")
	return nil
}

// Notify queues status if it flips the source between online and offline
func (n *DesktopNotifier) Notify(status domain.SourceStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return
	}
	if n.online[status.Slot] == status.Online {
		return
	}
	n.online[status.Slot] = status.Online

	select {
	case n.events <- status:
	default:
		n.logQueueFullWarning()
	}
}

func (n *DesktopNotifier) deliver(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case status := <-n.events:
			summary, body := message(status)
			id, err := n.conn.Notify(summary, body, n.replaces[status.Slot], notificationTimeout)
			if err != nil {
				n.logger.Warn("Failed to send notification",
					zap.String("source", status.Name),
					zap.Error(err))
				continue
			}
			n.replaces[status.Slot] = id
		}
	}
}

func message(status domain.SourceStatus) (string, string) {
	if status.Online {
		return status.Name + " is online", "Receiving frames"
	}
	if status.LastError != "" {
		return status.Name + " went offline", status.LastError
	}
	return status.Name + " went offline", "Attempting to reconnect"
}

// logQueueFullWarning is rate limited so a flapping camera cannot flood the log.
// Caller holds n.mu.
func (n *DesktopNotifier) logQueueFullWarning() {
	now := time.Now()
	if now.Sub(n.lastDropWarning) >= dropWarningInterval {
		n.logger.Warn("Notification queue full, dropping status change")
		n.lastDropWarning = now
	}
}
