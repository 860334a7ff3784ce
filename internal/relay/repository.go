// relay repository encapsulates the data access logic (interactions with the durable log) in Beacon.
// The log is append-only and externally owned, the gateway never writes to it.

package relay

import (
	"Beacon/internal/entity"
	"Beacon/pkg/db"
	"Beacon/pkg/log"
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Field under which the producer appends the event payload to the log.
var payloadField string = "data"

// How long one blocking tail read waits before coming back empty.
var tailBlock time.Duration = 5 * time.Second

type Repository interface {
	// ReadRange returns the entries of one channel's log between two cursors, in increasing cursor order.
	ReadRange(ctx context.Context, logger log.Logger, channel string, start string, end string) ([]entity.LogEntry, error)
	// ReadTail blocks on the global log for entries after lastSeen, returning the usable batch
	// plus the raw cursor of the last record seen, "" when nothing arrived within the window.
	// The raw cursor can sit past the batch when trailing records carried no payload.
	// Pass an empty lastSeen to start at the current tip.
	ReadTail(ctx context.Context, logger log.Logger, lastSeen string) ([]entity.LogEntry, string, error)
}

// repository struct of relay Repository.
// Object of this will be passed around from main to internal.
// Helps to access the repository layer interface and call methods.
type repository struct {
	db        *db.RedisDB
	keyPrefix string
	globalLog string
}

// Returns a new instance of relay repository for other packages to access its interface.
func NewRepository(dbwrp *db.RedisDB, keyPrefix string, globalLog string) Repository {
	return repository{db: dbwrp, keyPrefix: keyPrefix, globalLog: globalLog}
}

func (r repository) ReadRange(ctx context.Context, logger log.Logger, channel string, start string, end string) ([]entity.LogEntry, error) {
	msgs, dberr := r.db.Client().XRange(ctx, r.keyPrefix+channel, start, end).Result()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of redis.XRange() in relay.ReadRange")
		return nil, dberr
	}
	return toLogEntries(ctx, logger, msgs), nil
}

func (r repository) ReadTail(ctx context.Context, logger log.Logger, lastSeen string) ([]entity.LogEntry, string, error) {
	if lastSeen == "" {
		// "$" means everything appended from this call onwards
		lastSeen = "$"
	}
	streams, dberr := r.db.Client().XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.globalLog, lastSeen},
		Count:   100,
		Block:   tailBlock,
	}).Result()
	if dberr == redis.Nil {
		// Nothing appended within the blocking window
		return nil, "", nil
	}
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of redis.XRead() in relay.ReadTail")
		return nil, "", dberr
	}
	var entries []entity.LogEntry
	next := ""
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			// Every raw record moves the cursor, usable or not
			next = msg.ID
			payload, ok := msg.Values[payloadField].(string)
			if !ok {
				logger.WithCtx(ctx).Warn().Msgf("Log entry %s carries no %s field, skipping it", msg.ID, payloadField)
				continue
			}
			entries = append(entries, entity.LogEntry{ID: msg.ID, Payload: payload})
		}
	}
	return entries, next, nil
}

// Helper to map raw stream messages onto log entries, skipping records without a payload field.
func toLogEntries(ctx context.Context, logger log.Logger, msgs []redis.XMessage) []entity.LogEntry {
	entries := make([]entity.LogEntry, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values[payloadField].(string)
		if !ok {
			logger.WithCtx(ctx).Warn().Msgf("Log entry %s carries no %s field, skipping it", msg.ID, payloadField)
			continue
		}
		entries = append(entries, entity.LogEntry{ID: msg.ID, Payload: payload})
	}
	return entries
}
