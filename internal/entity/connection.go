// Structure of a tracked websocket connection in Beacon.

package entity

import (
	"sync"
	"sync/atomic"
	"time"
)

// TransportState follows the lifecycle of the underlying duplex transport.
type TransportState int32

const (
	TransportOpen TransportState = iota
	TransportClosing
	TransportClosed
)

// Transport is the duplex connection surface the gateway pushes frames through.
// Satisfied by *websocket.Conn from gorilla.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Connection represents one accepted duplex transport plus its bookkeeping state.
// The registry owns the bookkeeping, the transport layer owns the I/O.
type Connection struct {
	// Unique socket identifier, assigned by the registry during Track
	ID string
	// Channel this socket is entitled to
	Channel string
	// Underlying duplex transport
	Transport Transport

	writeMu    sync.Mutex
	lastPongAt int64
	state      int32
}

// NewConnection wraps an accepted transport, starting out open with a fresh pong timestamp.
func NewConnection(channel string, transport Transport) *Connection {
	return &Connection{
		Channel:    channel,
		Transport:  transport,
		lastPongAt: time.Now().UnixNano(),
		state:      int32(TransportOpen),
	}
}

// WriteFrame pushes one data frame through the transport. The websocket
// transport allows only a single concurrent writer, so every data write has
// to funnel through this lock. Control frames are exempt, the transport
// serializes those itself.
func (c *Connection) WriteFrame(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Transport.WriteMessage(messageType, data)
}

// TouchPong refreshes the liveness timestamp, called from the pong handler.
func (c *Connection) TouchPong() {
	atomic.StoreInt64(&c.lastPongAt, time.Now().UnixNano())
}

// LastPongAt returns the time the socket last answered a liveness probe.
func (c *Connection) LastPongAt() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastPongAt))
}

// SetState records a transport lifecycle transition.
func (c *Connection) SetState(s TransportState) {
	atomic.StoreInt32(&c.state, int32(s))
}

// State returns the last recorded transport lifecycle state.
func (c *Connection) State() TransportState {
	return TransportState(atomic.LoadInt32(&c.state))
}
