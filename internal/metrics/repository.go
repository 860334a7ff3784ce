// Metrics repository encapsulates the data access logic (interactions with the DB) related to gateway counters in Beacon.

package metrics

import (
	"Beacon/internal/entity"
	"Beacon/internal/errors"
	"Beacon/pkg/db"
	"Beacon/pkg/log"
	"context"

	"github.com/go-redis/redis/v8"
)

var metricsDbKey string = "beacon:metrics"

type Repository interface {
	// Get current gateway counters
	GetMetrics(ctx context.Context, logger log.Logger) (entity.Metrics, error)
	// Increment the lifetime connected-socket counter
	IncrConnected(ctx context.Context, logger log.Logger) error
	// Increment the live-dispatch push-failure counter
	IncrDispatchError(ctx context.Context, logger log.Logger) error
}

// repository struct of metrics Repository.
// Object of this will be passed around from main to internal.
// Helps to access the repository layer interface and call methods.
type repository struct {
	db *db.RedisDB
}

// Returns a new instance of metrics repository for other packages to access its interface.
func NewRepository(dbwrp *db.RedisDB) Repository {
	return repository{db: dbwrp}
}

func (r repository) GetMetrics(ctx context.Context, logger log.Logger) (entity.Metrics, error) {
	// check if metrics data is available in the db
	available, dberr := r.db.Client().Exists(ctx, metricsDbKey).Result()
	if dberr != nil && dberr != redis.Nil {
		// Error during interacting with DB
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of redis.Exists() in metrics.GetMetrics")
		return entity.Metrics{}, errors.InternalServerError("")
	} else if available == 0 {
		// no metrics data is available
		return entity.Metrics{}, nil
	}
	var metrics entity.Metrics
	if dberr = r.db.Client().HGetAll(ctx, metricsDbKey).Scan(&metrics); dberr != nil {
		// Error during interacting with DB
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of redis.HGetAll() in metrics.GetMetrics")
		return entity.Metrics{}, errors.InternalServerError("")
	}
	return metrics, nil
}

func (r repository) IncrConnected(ctx context.Context, logger log.Logger) error {
	dberr := r.db.Client().HIncrBy(ctx, metricsDbKey, "connected", 1).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of redis.HIncrBy() in metrics.IncrConnected")
		return errors.InternalServerError("")
	}
	return nil
}

func (r repository) IncrDispatchError(ctx context.Context, logger log.Logger) error {
	dberr := r.db.Client().HIncrBy(ctx, metricsDbKey, "dispatch_errors", 1).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of redis.HIncrBy() in metrics.IncrDispatchError")
		return errors.InternalServerError("")
	}
	return nil
}
