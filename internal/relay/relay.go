package relay

import (
	"context"
	"encoding/json"
	"time"

	"automation-service/internal/domain"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Relay fans published events out to other service instances through a
// Redis channel. Remote instances feed received events to their local
// subscribers only; persistence and rule evaluation already happened on
// the origin instance.
type Relay struct {
	rc         *redis.Client
	channel    string
	instanceID string
}

type envelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

func New(rc *redis.Client, channel, instanceID string) *Relay {
	return &Relay{rc: rc, channel: channel, instanceID: instanceID}
}

// Publish implements the event bus sink: local events go out on the
// shared channel tagged with this instance's id.
func (r *Relay) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(envelope{Origin: r.instanceID, Event: event})
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, r.channel, payload).Err()
}

// Run subscribes to the shared channel and forwards events from other
// instances to broadcast. Reconnects with a short pause if the pubsub
// channel closes, until the context is cancelled.
func (r *Relay) Run(ctx context.Context, broadcast func(event domain.Event)) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		ch := sub.Channel()

	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.WithError(err).Error("Failed to parse relayed event")
					continue
				}
				if env.Origin == r.instanceID {
					continue
				}
				broadcast(env.Event)
			}
		}

		sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("Relay pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
