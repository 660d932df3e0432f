package notify

import (
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = "/org/freedesktop/Notifications"
	notifyMethod         = notificationsService + ".Notify"

	appName = "multicam"
	appIcon = "camera-web"
)

// DBusClient defines the D-Bus operations used to raise desktop notifications.
// This abstraction allows us to mock D-Bus interactions in tests.
//
//go:generate mockgen -destination=mocks/dbus_client_mock.go -package=mocks github.com/genricoloni/multicam/internal/notify DBusClient
type DBusClient interface {
	// Close closes the D-Bus connection
	Close() error

	// Notify shows a notification, replacing the one with replacesID when non-zero.
	// It returns the id assigned by the notification server.
	Notify(summary, body string, replacesID uint32, timeout time.Duration) (uint32, error)
}

// StdDBusClient is the real implementation using godbus
type StdDBusClient struct {
	conn *dbus.Conn
}

// NewStdDBusClient creates a real D-Bus client connected to the session bus
func NewStdDBusClient() (*StdDBusClient, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &StdDBusClient{conn: conn}, nil
}

// Close closes the D-Bus connection
func (c *StdDBusClient) Close() error {
	return c.conn.Close()
}

// Notify calls org.freedesktop.Notifications.Notify
func (c *StdDBusClient) Notify(summary, body string, replacesID uint32, timeout time.Duration) (uint32, error) {
	obj := c.conn.Object(notificationsService, dbus.ObjectPath(notificationsPath))

	var id uint32
	err := obj.Call(notifyMethod, 0,
		appName,
		replacesID,
		appIcon,
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{},
		int32(timeout.Milliseconds()),
	).Store(&id)
	if err != nil {
		return 0, fmt.Errorf("notify call failed: %w", err)
	}
	return id, nil
}
