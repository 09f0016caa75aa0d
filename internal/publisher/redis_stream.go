// Package publisher mirrors refresh progress events to Redis streams so
// other services can follow runs without holding a connection to this one.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Lolevel/thunderclap/internal/refresh"
)

const (
	// refreshStream is the shared stream carrying every team's events.
	refreshStream = "refresh.events"
	// streamMaxLen bounds the stream; old entries are trimmed approximately.
	streamMaxLen = 10000
	// latestKeyTTL bounds how long the per-team latest snapshot survives.
	latestKeyTTL = 24 * time.Hour
)

// RedisStreamSink mirrors refresh events to a Redis stream and keeps the
// latest snapshot per team under a plain key for cheap catch-up reads. It
// satisfies refresh.Sink; delivery errors are logged, never surfaced, since
// the mirror is best effort.
type RedisStreamSink struct {
	client *redis.Client
}

// NewRedisStreamSink creates a sink on an existing client.
func NewRedisStreamSink(client *redis.Client) *RedisStreamSink {
	return &RedisStreamSink{client: client}
}

var _ refresh.Sink = (*RedisStreamSink)(nil)

// Deliver mirrors one event. Called from the publisher's drain goroutine.
func (s *RedisStreamSink) Deliver(event refresh.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Str("component", "redis_sink").Err(err).Msg("failed to encode event")
		return
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: refreshStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"team_id":   event.TeamID.String(),
			"type":      string(event.Type),
			"data":      string(data),
			"timestamp": event.Timestamp.Unix(),
		},
	}).Err()
	if err != nil {
		log.Warn().Str("component", "redis_sink").Str("team_id", event.TeamID.String()).
			Err(err).Msg("failed to mirror event to stream")
		return
	}

	key := latestEventKey(event.TeamID.String())
	if err := s.client.Set(ctx, key, data, latestKeyTTL).Err(); err != nil {
		log.Warn().Str("component", "redis_sink").Str("team_id", event.TeamID.String()).
			Err(err).Msg("failed to store latest event")
	}
}

func latestEventKey(teamID string) string {
	return fmt.Sprintf("refresh.latest.%s", teamID)
}
