package manager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/genricoloni/multicam/internal/domain"
)

// trackingConnector counts connections that were opened and not yet closed
type trackingConnector struct {
	next domain.Connector
	open atomic.Int64
}

func newTrackingConnector(next domain.Connector) *trackingConnector {
	return &trackingConnector{next: next}
}

func (t *trackingConnector) Connect(ctx context.Context, connString string) (domain.Conn, error) {
	conn, err := t.next.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	t.open.Add(1)
	return &trackedConn{Conn: conn, owner: t}, nil
}

// Open returns the number of live connections
func (t *trackingConnector) Open() int64 {
	return t.open.Load()
}

type trackedConn struct {
	domain.Conn
	owner *trackingConnector
	once  sync.Once
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() {
		c.owner.open.Add(-1)
	})
	return err
}
