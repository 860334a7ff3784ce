// Service layer of the internal package registry which tracks live websocket connections per channel in Beacon.
// This is the only shared mutable state in the gateway, every mutation goes through the mutex here.

package registry

import (
	"Beacon/internal/entity"
	"Beacon/internal/metrics"
	"Beacon/pkg/log"
	"context"
	"sync"

	"github.com/google/uuid"
)

// Service layer of internal package registry which encapsulates socket bookkeeping logic of Beacon.
// State lives for the life of the process, after a restart every client has to reconnect.
type Service interface {
	// Stores the connection under a fresh socket identifier and appends it to its channel's membership
	Track(ctx context.Context, channel string, conn *entity.Connection) string
	// Looks a tracked connection up by its socket identifier
	Get(ctx context.Context, socketID string) (*entity.Connection, bool)
	// Removes the connection and its channel membership, deleting the channel once emptied
	Forget(ctx context.Context, socketID string)
	// Returns the socket identifiers subscribed to a channel, in registration order
	MembersOf(ctx context.Context, channel string) []string
	// Returns every channel with at least one tracked socket
	Channels(ctx context.Context) []string
	// Reconciles a channel's membership against transport reality, dropping closed sockets
	CleanChannel(ctx context.Context, channel string)
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
// Also helps to pass objects to be used from outer layer.
type service struct {
	mu          sync.Mutex
	sockets     map[string]*entity.Connection
	channels    map[string][]string
	metricsRepo metrics.Repository
	logger      log.Logger
}

// Helps to access the service layer interface and call methods. Service object is passed from main.
func NewService(metricsRepo metrics.Repository, logger log.Logger) Service {
	return &service{
		sockets:     make(map[string]*entity.Connection),
		channels:    make(map[string][]string),
		metricsRepo: metricsRepo,
		logger:      logger,
	}
}

func (s *service) Track(ctx context.Context, channel string, conn *entity.Connection) string {
	socketID := uuid.NewString()

	s.mu.Lock()
	conn.ID = socketID
	s.sockets[socketID] = conn
	// Channel comes into existence on its first registration
	s.channels[channel] = append(s.channels[channel], socketID)
	s.mu.Unlock()

	if mterr := s.metricsRepo.IncrConnected(ctx, s.logger); mterr != nil {
		// Counter failure must not reject the connection
		s.logger.WithCtx(ctx).Error().Err(mterr).Msg("Couldn't increment connected counter in registry.Track")
	}
	return socketID
}

func (s *service) Get(ctx context.Context, socketID string) (*entity.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.sockets[socketID]
	return conn, ok
}

func (s *service) Forget(ctx context.Context, socketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.sockets[socketID]
	if !ok {
		return
	}
	delete(s.sockets, socketID)
	s.dropMemberLocked(conn.Channel, socketID)
}

func (s *service) MembersOf(ctx context.Context, channel string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.channels[channel]
	// Copy so fan-out iteration never races a mutation
	out := make([]string, len(members))
	copy(out, members)
	return out
}

func (s *service) Channels(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for channel := range s.channels {
		out = append(out, channel)
	}
	return out
}

func (s *service) CleanChannel(ctx context.Context, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.channels[channel]
	if !ok {
		return
	}
	kept := members[:0:0]
	for _, socketID := range members {
		conn, tracked := s.sockets[socketID]
		if tracked && conn.State() != entity.TransportClosed {
			// Open and closing-but-not-yet-closed sockets stay
			kept = append(kept, socketID)
			continue
		}
		delete(s.sockets, socketID)
	}
	if len(kept) == 0 {
		// Forgotten channels must not leak memory
		delete(s.channels, channel)
		s.logger.WithCtx(ctx).Info().Msgf("Channel %s has no viewers left, dropping it", channel)
		return
	}
	s.channels[channel] = kept
}

// Removes one socket identifier from a channel's membership, deleting an emptied channel.
// Caller must hold s.mu.
func (s *service) dropMemberLocked(channel string, socketID string) {
	members := s.channels[channel]
	kept := members[:0:0]
	for _, id := range members {
		if id != socketID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(s.channels, channel)
		return
	}
	s.channels[channel] = kept
}
