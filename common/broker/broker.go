package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/secbot-io/secbot/common/config"
	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/secerr"
)

// Broker hands task envelopes to background workers over a Redis stream
// with a consumer group. Delivery is at-least-once: unacknowledged
// messages are reclaimed after an idle period, so tasks must be safe to
// retry.
type Broker struct {
	redis        *redis.Client
	log          *logger.Logger
	stream       string
	group        string
	consumerName string
	reclaimIdle  time.Duration
	blockTimeout time.Duration
}

// TaskHandler executes one envelope and returns the result piped into the
// next chain link.
type TaskHandler func(ctx context.Context, envelope *Envelope) (json.RawMessage, error)

// ErrChainHalted is returned by a task handler after a failure was fully
// recorded: the message is acknowledged and the rest of the chain is not
// scheduled.
var ErrChainHalted = errors.New("chain halted")

// New creates a broker over the given Redis client
func New(redisClient *redis.Client, cfg *config.Config, log *logger.Logger) *Broker {
	return &Broker{
		redis:        redisClient,
		log:          log,
		stream:       cfg.Broker.Stream,
		group:        cfg.Broker.Group,
		consumerName: fmt.Sprintf("worker_%s", uuid.New().String()[:8]),
		reclaimIdle:  cfg.Broker.ReclaimIdle,
		blockTimeout: cfg.Broker.BlockTimeout,
	}
}

// EnsureGroup creates the consumer group if it does not exist yet
func (b *Broker) EnsureGroup(ctx context.Context) error {
	err := b.redis.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Enqueue publishes an envelope onto the task stream
func (b *Broker) Enqueue(ctx context.Context, envelope *Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal task envelope: %w", err)
	}

	err = b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{"envelope": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", envelope.Task.Name, err)
	}

	b.log.Debug("task enqueued", "task", envelope.Task.Name, "links", len(envelope.Next))
	return nil
}

// Consume processes envelopes until the context is cancelled. Completed
// chains advance inside the same processing step: the result of a link is
// piped into the next link before the message is acknowledged.
func (b *Broker) Consume(ctx context.Context, handler TaskHandler) error {
	if err := b.EnsureGroup(ctx); err != nil {
		return err
	}

	b.log.Info("task consumer starting",
		"stream", b.stream,
		"group", b.group,
		"consumer", b.consumerName)

	for {
		select {
		case <-ctx.Done():
			b.log.Info("task consumer stopping")
			return nil
		default:
		}

		if err := b.reclaimStale(ctx, handler); err != nil && ctx.Err() == nil {
			b.log.Error("reclaim pass failed", "error", err)
		}

		streams, err := b.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.consumerName,
			Streams:  []string{b.stream, ">"},
			Count:    1,
			Block:    b.blockTimeout,
		}).Result()

		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error("read task stream failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				b.processMessage(ctx, message, handler)
			}
		}
	}
}

// processMessage runs one message through the handler. Permanent failures
// and successes are acknowledged; transient failures stay pending and are
// redelivered by the reclaim pass.
func (b *Broker) processMessage(ctx context.Context, message redis.XMessage, handler TaskHandler) {
	envelope, err := decodeMessage(message)
	if err != nil {
		b.log.Error("dropping malformed task message", "message_id", message.ID, "error", err)
		b.ack(ctx, message.ID)
		return
	}

	result, err := handler(ctx, envelope)
	if err != nil {
		if errors.Is(err, ErrChainHalted) {
			b.log.Info("chain halted after recorded failure",
				"task", envelope.Task.Name,
				"message_id", message.ID)
			b.ack(ctx, message.ID)
			return
		}
		if secerr.Is(err, secerr.KindInput) {
			// Decoding failures are permanent; retrying cannot help.
			b.log.Error("dropping task with permanent error",
				"task", envelope.Task.Name,
				"message_id", message.ID,
				"error", err)
			b.ack(ctx, message.ID)
			return
		}
		b.log.Error("task failed, leaving pending for retry",
			"task", envelope.Task.Name,
			"message_id", message.ID,
			"error", err)
		return
	}

	for _, next := range envelope.advance(result) {
		if err := b.Enqueue(ctx, next); err != nil {
			// The chain link is lost if we ack now; leave the message
			// pending so the whole step is retried.
			b.log.Error("enqueue of chained task failed",
				"task", next.Task.Name,
				"error", err)
			return
		}
	}

	b.ack(ctx, message.ID)
}

// reclaimStale takes over messages a dead worker left pending
func (b *Broker) reclaimStale(ctx context.Context, handler TaskHandler) error {
	messages, _, err := b.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.stream,
		Group:    b.group,
		Consumer: b.consumerName,
		MinIdle:  b.reclaimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("xautoclaim: %w", err)
	}

	for _, message := range messages {
		b.log.Info("reclaimed stale task", "message_id", message.ID)
		b.processMessage(ctx, message, handler)
	}
	return nil
}

func (b *Broker) ack(ctx context.Context, messageID string) {
	if err := b.redis.XAck(ctx, b.stream, b.group, messageID).Err(); err != nil {
		b.log.Error("failed to ack message", "message_id", messageID, "error", err)
	}
}

func decodeMessage(message redis.XMessage) (*Envelope, error) {
	raw, ok := message.Values["envelope"].(string)
	if !ok {
		return nil, fmt.Errorf("message missing envelope field")
	}

	var envelope Envelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal task envelope: %w", err)
	}
	return &envelope, nil
}
