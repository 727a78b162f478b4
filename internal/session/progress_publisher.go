package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/config"
	"github.com/markscan/omr-backend/internal/model"
)

// progressTTL keeps stale snapshots from outliving their session forever.
const progressTTL = 24 * time.Hour

// RedisProgressPublisher caches the latest progress snapshot and fans it out
// on the session's pub/sub channel for WebSocket subscribers.
type RedisProgressPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisProgressPublisher creates a publisher on the given client.
func NewRedisProgressPublisher(rdb *redis.Client, log zerolog.Logger) *RedisProgressPublisher {
	return &RedisProgressPublisher{
		rdb: rdb,
		log: log.With().Str("component", "progress_publisher").Logger(),
	}
}

// Publish writes the snapshot to the progress cache key and the pub/sub
// channel. Publish failures are logged, never propagated: live progress is
// best effort and must not fail a worker.
func (p *RedisProgressPublisher) Publish(ctx context.Context, progress model.SessionProgress) {
	raw, err := json.Marshal(progress)
	if err != nil {
		p.log.Error().Err(err).Msg("Marshal progress snapshot")
		return
	}

	sid := progress.SessionID.String()
	if err := p.rdb.Set(ctx, config.CacheKey.SessionProgressKey(sid), raw, progressTTL).Err(); err != nil {
		p.log.Warn().Err(err).Str("session_id", sid).Msg("Cache progress snapshot failed")
	}
	if err := p.rdb.Publish(ctx, config.CacheKey.SessionProgressChannel(sid), raw).Err(); err != nil {
		p.log.Warn().Err(err).Str("session_id", sid).Msg("Publish progress snapshot failed")
	}
}
