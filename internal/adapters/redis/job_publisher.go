// Package redis publishes document job changes on a Redis channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/domain/model"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "docflow:jobs"

// JobPublisher PUBLISHes every job change as JSON. Nothing is stored in
// Redis; late subscribers only see changes made after they subscribe.
type JobPublisher struct {
	client  redis.UniversalClient
	channel string
}

var _ core.EventPublisher = (*JobPublisher)(nil)

// NewJobPublisher creates a publisher for the given channel.
func NewJobPublisher(client redis.UniversalClient, channel string) *JobPublisher {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &JobPublisher{client: client, channel: channel}
}

// Channel returns the channel name events are published on.
func (p *JobPublisher) Channel() string {
	return p.channel
}

func (p *JobPublisher) Publish(ctx context.Context, ev model.JobEvent) error {
	if ev.JobID == "" {
		return errors.New("job event without job id")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Watch subscribes to the channel and calls fn for every decodable event
// until ctx is canceled. Undecodable messages are passed to onBad when set.
func (p *JobPublisher) Watch(ctx context.Context, fn func(model.JobEvent), onBad func(error)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", p.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				if onBad != nil {
					onBad(fmt.Errorf("decode job event: %w", err))
				}
				continue
			}
			fn(ev)
		}
	}
}
