// Package consumer reads change notifications from the message queue and
// feeds them to the worker manager.
//
// Payloads are moved atomically from the queue list onto a processing list
// and only removed from there once the worker manager acknowledges them. On
// start the consumer moves whatever a previous run left on the processing
// list back to the head of the queue.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/dim-aggregator/internal/model"
	"github.com/fairyhunter13/dim-aggregator/internal/obs"
)

// MinBlockTimeout is the shortest blocking pop Redis accepts from the client.
const MinBlockTimeout = time.Second

// Submitter accepts a notification payload for processing. It returns false
// once intake has been closed.
type Submitter interface {
	SubmitAcked(payload []byte, source string, ack model.Acknowledger) (model.Delivery, bool)
}

// RedisListConsumer pops notification payloads from a Redis list.
type RedisListConsumer struct {
	Client *redis.Client
	Queue  string
	// Processing holds popped payloads until they are acknowledged.
	// Defaults to Queue + ":processing".
	Processing   string
	BlockTimeout time.Duration
	Target       Submitter
	Logger       *slog.Logger

	// ErrorBackoff is how long to wait after a failed pop.
	ErrorBackoff time.Duration
}

// ProcessingList returns the name of the in-flight list.
func (c *RedisListConsumer) ProcessingList() string {
	if c.Processing != "" {
		return c.Processing
	}
	return c.Queue + ":processing"
}

func (c *RedisListConsumer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return obs.Logger
}

// Run consumes until ctx is done or the target stops accepting deliveries.
// A payload popped after intake closed goes back to the head of the queue.
func (c *RedisListConsumer) Run(ctx context.Context) error {
	if c.Client == nil || c.Target == nil {
		return fmt.Errorf("redis list consumer: nil client or target")
	}
	logger := c.logger()
	block := c.BlockTimeout
	if block < MinBlockTimeout {
		if block > 0 {
			logger.Warn("consumer_block_timeout_raised", "configured", block.String(), "effective", MinBlockTimeout.String())
		}
		block = MinBlockTimeout
	}
	backoff := c.ErrorBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	processing := c.ProcessingList()
	source := "redis:" + c.Queue

	if err := c.restore(ctx); err != nil {
		return err
	}

	logger.Info("consumer_started", "queue", c.Queue, "processing", processing)
	defer logger.Info("consumer_stopped", "queue", c.Queue)
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, err := c.Client.BLMove(ctx, c.Queue, processing, "LEFT", "RIGHT", block).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("consumer_pop_failed", "queue", c.Queue, "error", err, "backoff", backoff.String())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		if _, ok := c.Target.SubmitAcked([]byte(payload), source, c); !ok {
			c.giveBack(context.WithoutCancel(ctx), payload)
			return nil
		}
	}
}

// Ack removes one copy of the delivery's payload from the processing list.
func (c *RedisListConsumer) Ack(ctx context.Context, d model.Delivery) error {
	if err := c.Client.LRem(ctx, c.ProcessingList(), 1, d.Payload).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", c.ProcessingList(), err)
	}
	return nil
}

// restore moves payloads left on the processing list back to the head of
// the queue, oldest first.
func (c *RedisListConsumer) restore(ctx context.Context) error {
	processing := c.ProcessingList()
	n := 0
	for {
		err := c.Client.LMove(ctx, processing, c.Queue, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return fmt.Errorf("restore %s: %w", processing, err)
		}
		n++
	}
	if n > 0 {
		c.logger().Warn("consumer_restored_unacked", "queue", c.Queue, "count", n)
	}
	return nil
}

func (c *RedisListConsumer) giveBack(ctx context.Context, payload string) {
	_, err := c.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, c.ProcessingList(), -1, payload)
		pipe.LPush(ctx, c.Queue, payload)
		return nil
	})
	if err != nil {
		c.logger().Error("consumer_requeue_failed", "queue", c.Queue, "payload", payload, "error", err)
	}
}

// RedisDeadLetter pushes failed payloads onto a Redis list unchanged, so
// they can be moved back onto the queue for replay.
type RedisDeadLetter struct {
	Client *redis.Client
	List   string
}

func (s *RedisDeadLetter) Fail(ctx context.Context, d model.Delivery, cause error) error {
	if err := s.Client.RPush(ctx, s.List, d.Payload).Err(); err != nil {
		return fmt.Errorf("dead-letter push: %w", err)
	}
	obs.DeadLettered.Inc()
	obs.Logger.Warn("notification_dead_lettered", "list", s.List, "sequence", d.Sequence, "cause", cause)
	return nil
}
