// Liveness sweep tests in Beacon.

package relay_test

import (
	"Beacon/internal/entity"
	"Beacon/internal/registry"
	"Beacon/internal/relay"
	"Beacon/internal/test"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	sweepInterval = 20 * time.Second
	sweepTimeout  = 45 * time.Second
)

// Helper to build a monitor over a fresh registry.
func setupMonitor() (*relay.Monitor, registry.Service) {
	regService := registry.NewService(&test.MockMetricsRepo{}, logger)
	return relay.NewMonitor(regService, sweepInterval, sweepTimeout, logger), regService
}

func TestSweepTerminatesStaleSocketWithoutPinging(t *testing.T) {
	monitor, regService := setupMonitor()

	transport := &test.MockTransport{}
	conn := entity.NewConnection("chan", transport)
	socketID := regService.Track(ctx, "chan", conn)

	// Sweep from a point in time past the pong window
	monitor.Sweep(context.Background(), time.Now().Add(sweepTimeout+time.Second))

	assert.True(t, transport.Closed())
	assert.Equal(t, 0, transport.Pings())
	_, ok := regService.Get(ctx, socketID)
	assert.False(t, ok)
	assert.Empty(t, regService.MembersOf(ctx, "chan"))
}

func TestSweepPingsResponsiveSocketOnce(t *testing.T) {
	monitor, regService := setupMonitor()

	transport := &test.MockTransport{}
	conn := entity.NewConnection("chan", transport)
	socketID := regService.Track(ctx, "chan", conn)

	monitor.Sweep(context.Background(), time.Now())

	assert.Equal(t, 1, transport.Pings())
	assert.False(t, transport.Closed())
	_, ok := regService.Get(ctx, socketID)
	assert.True(t, ok)
	assert.Equal(t, []string{socketID}, regService.MembersOf(ctx, "chan"))
}

func TestSweepSkipsNonOpenTransport(t *testing.T) {
	monitor, regService := setupMonitor()

	transport := &test.MockTransport{}
	conn := entity.NewConnection("chan", transport)
	regService.Track(ctx, "chan", conn)
	conn.SetState(entity.TransportClosing)

	// Stale by time, but the transport isn't open so the sweep leaves it alone
	monitor.Sweep(context.Background(), time.Now().Add(sweepTimeout+time.Second))

	assert.Equal(t, 0, transport.Pings())
	assert.False(t, transport.Closed())
}

func TestSweepRunsChannelCleanup(t *testing.T) {
	monitor, regService := setupMonitor()

	gone := entity.NewConnection("chan", &test.MockTransport{})
	alive := entity.NewConnection("chan", &test.MockTransport{})
	goneID := regService.Track(ctx, "chan", gone)
	aliveID := regService.Track(ctx, "chan", alive)

	// First socket's transport closed without its close path running
	gone.SetState(entity.TransportClosed)
	monitor.Sweep(context.Background(), time.Now())

	assert.Equal(t, []string{aliveID}, regService.MembersOf(ctx, "chan"))
	_, ok := regService.Get(ctx, goneID)
	assert.False(t, ok)

	// Once the last viewer is gone too, the channel disappears entirely
	alive.SetState(entity.TransportClosed)
	monitor.Sweep(context.Background(), time.Now())
	assert.Empty(t, regService.Channels(ctx))
}

func TestPongRefreshesLiveness(t *testing.T) {
	transport := &test.MockTransport{}
	conn := entity.NewConnection("chan", transport)

	before := conn.LastPongAt()
	time.Sleep(5 * time.Millisecond)
	conn.TouchPong()

	assert.True(t, conn.LastPongAt().After(before))
}
