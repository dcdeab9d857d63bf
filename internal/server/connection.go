package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/contractsync/contractsync/internal/core/registry"
)

var _ registry.Conn = (*wsConn)(nil)

// wsConn wraps a WebSocket connection with a write mutex so broadcasts and
// direct replies never interleave frames, and with the principal identity
// established at upgrade time.
type wsConn struct {
	id           string
	principal    string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  int32
	ackedAt uint64 // atomic, last revision acknowledged to this client
}

func newWSConn(conn *websocket.Conn, principal string, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		id:           uuid.NewString(),
		principal:    principal,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) ID() string          { return c.id }
func (c *wsConn) PrincipalID() string { return c.principal }

func (c *wsConn) markAcked(revision uint64) { atomic.StoreUint64(&c.ackedAt, revision) }
func (c *wsConn) lastAcked() uint64         { return atomic.LoadUint64(&c.ackedAt) }

func (c *wsConn) Send(data []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return errors.New("connection is closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *wsConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil // Already closed
	}

	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}
