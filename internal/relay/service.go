// Service layer of the internal package relay which replays and fans durable log events out to websocket clients.

package relay

import (
	"Beacon/internal/entity"
	"Beacon/internal/metrics"
	"Beacon/internal/registry"
	"Beacon/pkg/log"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Service layer of internal package relay which encapsulates catch-up and live delivery logic of Beacon.
type Service interface {
	// Replays the entries a reconnecting client missed since its last-seen cursor.
	// Read failures degrade to "no replay", they never refuse the connection.
	Catchup(ctx context.Context, conn *entity.Connection, lastID string)
	// Pushes a batch of log entries to every member of each entry's channel, best-effort per socket
	Dispatch(ctx context.Context, entries []entity.LogEntry)
	// Tails the global durable log until ctx is cancelled, dispatching every new batch.
	// Run this in its own goroutine, it blocks.
	Tail(ctx context.Context)
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
// Also helps to pass objects to be used from outer layer.
type service struct {
	repo        Repository
	registry    registry.Service
	metricsRepo metrics.Repository
	logger      log.Logger

	// Last cursor the tailer has seen on the global log, "" before the first batch.
	// Guards the catch-up upper bound against duplicating what live dispatch will deliver.
	mu   sync.Mutex
	seen string
}

// Helps to access the service layer interface and call methods. Service object is passed from main.
func NewService(repo Repository, reg registry.Service, metricsRepo metrics.Repository, logger log.Logger) Service {
	return &service{repo: repo, registry: reg, metricsRepo: metricsRepo, logger: logger}
}

func (s *service) Catchup(ctx context.Context, conn *entity.Connection, lastID string) {
	if lastID == "" {
		// Client didn't ask for replay
		return
	}
	upperBound := s.lastSeen()
	if upperBound == "" {
		// Tailer hasn't seen a live entry yet, replay everything available now
		upperBound = "+"
	}
	entries, rderr := s.repo.ReadRange(ctx, s.logger, conn.Channel, IncrementCursor(lastID), upperBound)
	if rderr != nil {
		// Catch-up failure must not prevent live delivery from proceeding
		s.logger.WithCtx(ctx).Error().Err(rderr).Msgf("Couldn't replay history for socket %s, proceeding without catch-up", conn.ID)
		return
	}
	for _, entry := range entries {
		frame, mrsherr := injectCursor(entry)
		if mrsherr != nil {
			s.logger.WithCtx(ctx).Warn().Err(mrsherr).Msgf("Skipping malformed log entry %s during catch-up", entry.ID)
			continue
		}
		if pusherr := conn.WriteFrame(websocket.TextMessage, frame); pusherr != nil {
			// Socket already broken, its close path owns the cleanup
			s.logger.WithCtx(ctx).Warn().Err(pusherr).Msgf("Couldn't replay entry %s to socket %s", entry.ID, conn.ID)
			return
		}
	}
}

func (s *service) Dispatch(ctx context.Context, entries []entity.LogEntry) {
	for _, entry := range entries {
		var event entity.JobEvent
		if mrsherr := json.Unmarshal([]byte(entry.Payload), &event); mrsherr != nil || event.ChannelID == "" {
			s.logger.WithCtx(ctx).Warn().Msgf("Log entry %s carries no usable channel_id, skipping it", entry.ID)
			continue
		}
		members := s.registry.MembersOf(ctx, event.ChannelID)
		if len(members) == 0 {
			// Nobody subscribed, no buffering and no backpressure to the producer
			continue
		}
		frame, mrsherr := injectCursor(entry)
		if mrsherr != nil {
			s.logger.WithCtx(ctx).Warn().Err(mrsherr).Msgf("Skipping malformed log entry %s during dispatch", entry.ID)
			continue
		}
		for _, socketID := range members {
			conn, tracked := s.registry.Get(ctx, socketID)
			if !tracked {
				continue
			}
			if pusherr := conn.WriteFrame(websocket.TextMessage, frame); pusherr != nil {
				// One broken socket must never block delivery to the rest of the channel
				s.logger.WithCtx(ctx).Warn().Err(pusherr).Msgf("Push to socket %s failed, tearing it down", socketID)
				conn.SetState(entity.TransportClosed)
				conn.Transport.Close()
				s.registry.Forget(ctx, socketID)
				if mterr := s.metricsRepo.IncrDispatchError(ctx, s.logger); mterr != nil {
					s.logger.WithCtx(ctx).Error().Err(mterr).Msg("Couldn't increment dispatch error counter in relay.Dispatch")
				}
			}
		}
	}
}

func (s *service) Tail(ctx context.Context) {
	s.logger.WithCtx(ctx).Info().Msg("Launching the durable log tailer")
	for {
		select {
		case <-ctx.Done():
			s.logger.WithCtx(ctx).Info().Msg("Successfully stopped the durable log tailer")
			return
		default:
		}
		entries, next, rderr := s.repo.ReadTail(ctx, s.logger, s.lastSeen())
		if rderr != nil {
			if ctx.Err() != nil {
				s.logger.WithCtx(ctx).Info().Msg("Successfully stopped the durable log tailer")
				return
			}
			// Back off instead of hammering an unreachable log
			time.Sleep(time.Second)
			continue
		}
		if next != "" {
			// Advance past every raw record seen, including dropped ones,
			// otherwise a payload-less tip entry is re-read forever
			s.setLastSeen(next)
		}
		if len(entries) == 0 {
			continue
		}
		s.Dispatch(ctx, entries)
	}
}

func (s *service) lastSeen() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}

func (s *service) setLastSeen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = id
}

// Helper to merge an entry's cursor into its payload under "id", so clients can
// persist progress and resume later.
func injectCursor(entry entity.LogEntry) ([]byte, error) {
	var payload map[string]interface{}
	if mrsherr := json.Unmarshal([]byte(entry.Payload), &payload); mrsherr != nil {
		return nil, mrsherr
	}
	payload["id"] = entry.ID
	return json.Marshal(payload)
}
