package worker

// redrive.go
// Background goroutine that periodically moves dead-lettered jobs back to
// their queue once the circuit breaker reports the relay healthy again.
// Each job is redriven at most MaxRedrives times; jobs that can never
// succeed (malformed, no handler) stay parked.

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"pettycash/internal/infra"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redriveTickInterval = 10 * time.Minute
	redriveBatchSize    = 20

	// MaxRedrives bounds how often one job leaves the DLQ.
	MaxRedrives = 1
)

// listStore is the subset of Redis list commands the redrive loop needs.
type listStore interface {
	LLen(ctx context.Context, key string) (int64, error)
	RPop(ctx context.Context, key string) (string, bool, error)
	LPush(ctx context.Context, key string, value []byte) error
}

type redisLists struct{ rdb *redis.Client }

func (l redisLists) LLen(ctx context.Context, key string) (int64, error) {
	return l.rdb.LLen(ctx, key).Result()
}

func (l redisLists) RPop(ctx context.Context, key string) (string, bool, error) {
	v, err := l.rdb.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (l redisLists) LPush(ctx context.Context, key string, value []byte) error {
	return l.rdb.LPush(ctx, key, value).Err()
}

// RedriveConfig holds the dependencies of the redrive goroutine.
type RedriveConfig struct {
	RDB   *redis.Client
	CB    *infra.CircuitBreaker
	Queue string
}

// StartRedriveCron ticks every 10 minutes until ctx is cancelled.
func StartRedriveCron(ctx context.Context, cfg RedriveConfig) {
	lists := redisLists{rdb: cfg.RDB}
	go func() {
		ticker := time.NewTicker(redriveTickInterval)
		defer ticker.Stop()

		log.Info().Str("queue", cfg.Queue).Msg("redrive_cron: started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("redrive_cron: shutting down")
				return
			case <-ticker.C:
				if n := redriveOnce(ctx, lists, cfg.CB, cfg.Queue, redriveBatchSize); n > 0 {
					log.Info().Int("count", n).Str("queue", cfg.Queue).Msg("redrive_cron: jobs requeued")
				}
			}
		}
	}()
}

// redriveOnce inspects up to batch DLQ entries and returns how many went
// back to queue. Ineligible entries are rotated to the head of the DLQ.
func redriveOnce(ctx context.Context, lists listStore, cb *infra.CircuitBreaker, queue string, batch int) int {
	if cb != nil && cb.State() == infra.CBOpen {
		log.Debug().Msg("redrive_cron: circuit breaker is open, skipping tick")
		return 0
	}

	dlqKey := DLQPrefix + queue
	pending, err := lists.LLen(ctx, dlqKey)
	if err != nil {
		log.Error().Err(err).Str("dlq_key", dlqKey).Msg("redrive_cron: failed to read DLQ length")
		return 0
	}
	if pending > int64(batch) {
		pending = int64(batch)
	}

	moved := 0
	for i := int64(0); i < pending; i++ {
		raw, ok, err := lists.RPop(ctx, dlqKey)
		if err != nil {
			log.Error().Err(err).Str("dlq_key", dlqKey).Msg("redrive_cron: failed to pop DLQ entry")
			return moved
		}
		if !ok {
			return moved
		}

		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || !redrivable(entry) {
			if err := lists.LPush(ctx, dlqKey, []byte(raw)); err != nil {
				log.Error().Err(err).Msg("redrive_cron: failed to park DLQ entry")
				return moved
			}
			continue
		}

		encoded, _ := json.Marshal(Job{Type: entry.JobType, Payload: entry.Payload, Redrives: entry.Redrives + 1})
		if err := lists.LPush(ctx, queue, encoded); err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("redrive_cron: failed to requeue job")
			_ = lists.LPush(ctx, dlqKey, []byte(raw))
			return moved
		}
		moved++
	}
	return moved
}

func redrivable(e DLQEntry) bool {
	if e.Redrives >= MaxRedrives {
		return false
	}
	return e.Reason != reasonMalformed && e.Reason != reasonNoHandler
}
