// Liveness sweep which detects and terminates unresponsive websocket clients in Beacon.

package relay

import (
	"Beacon/internal/entity"
	"Beacon/internal/registry"
	"Beacon/pkg/log"
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Deadline for writing a single ping control frame.
var pingWriteWait time.Duration = 10 * time.Second

// Monitor pings every tracked socket on a fixed interval and hard-closes the
// ones that failed to answer the previous probe within the timeout threshold.
type Monitor struct {
	registry registry.Service
	interval time.Duration
	timeout  time.Duration
	logger   log.Logger
}

// Returns a new liveness monitor, run it with Run in its own goroutine.
func NewMonitor(reg registry.Service, interval time.Duration, timeout time.Duration, logger log.Logger) *Monitor {
	return &Monitor{registry: reg, interval: interval, timeout: timeout, logger: logger}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.WithCtx(ctx).Info().Msg("Launching the liveness monitor")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx, time.Now())
		case <-ctx.Done():
			m.logger.WithCtx(ctx).Info().Msg("Successfully stopped the liveness monitor")
			return
		}
	}
}

// Sweep probes every tracked socket once and reconciles each channel's
// membership against transport reality afterwards.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) {
	for _, channel := range m.registry.Channels(ctx) {
		for _, socketID := range m.registry.MembersOf(ctx, channel) {
			conn, tracked := m.registry.Get(ctx, socketID)
			if !tracked {
				continue
			}
			if conn.State() != entity.TransportOpen {
				// Half-open or closed transports are owned by their own close path
				continue
			}
			if now.Sub(conn.LastPongAt()) > m.timeout {
				// Never answered the previous probe, hard close and forget
				m.logger.WithCtx(ctx).Warn().Msgf("Socket %s on channel %s missed its pong window, terminating it", socketID, channel)
				conn.SetState(entity.TransportClosed)
				conn.Transport.Close()
				m.registry.Forget(ctx, socketID)
				continue
			}
			if pingerr := conn.Transport.WriteControl(websocket.PingMessage, nil, now.Add(pingWriteWait)); pingerr != nil {
				// Leave it be, the next sweep's timeout will catch a dead socket
				m.logger.WithCtx(ctx).Warn().Err(pingerr).Msgf("Couldn't ping socket %s", socketID)
			}
		}
		m.registry.CleanChannel(ctx, channel)
	}
}
