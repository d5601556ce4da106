package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

const relayChannelPrefix = "deal:"

// RedisRelay shares deal snapshots between instances. Local changes are
// handed to the local hub at once and published to deal:<id>; snapshots
// published by other instances are fed into the local hub.
type RedisRelay struct {
	client   *redis.Client
	local    ChangeNotifier
	origin   string
	outgoing chan relayMessage
}

type relayMessage struct {
	Origin string      `json:"origin"`
	DealID string      `json:"deal_id"`
	Deal   *model.Deal `json:"deal"`
}

var _ ChangeNotifier = (*RedisRelay)(nil)

func NewRedisRelay(client *redis.Client, local ChangeNotifier) *RedisRelay {
	return &RedisRelay{
		client:   client,
		local:    local,
		origin:   NewDealID(),
		outgoing: make(chan relayMessage, 256),
	}
}

func RelayChannel(dealID string) string {
	return relayChannelPrefix + dealID
}

func (r *RedisRelay) Notify(dealID string, snapshot *model.Deal) {
	r.local.Notify(dealID, snapshot)
	select {
	case r.outgoing <- relayMessage{Origin: r.origin, DealID: dealID, Deal: snapshot.Clone()}:
	default:
		logger.Warn(logger.WithDeal(context.Background(), dealID), "redis relay queue full, snapshot not shared")
	}
}

// Run publishes local changes and relays remote ones until ctx is done
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	incoming := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.outgoing:
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := r.client.Publish(ctx, RelayChannel(msg.DealID), payload).Err(); err != nil {
				logger.Warn(logger.WithDeal(ctx, msg.DealID), "failed to publish deal snapshot", "error", err)
			}
		case m, ok := <-incoming:
			if !ok {
				return nil
			}
			r.handle(m.Channel, m.Payload)
		}
	}
}

func (r *RedisRelay) handle(channel, payload string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		logger.Warn(context.Background(), "invalid relay payload", "channel", channel, "error", err)
		return
	}
	if msg.Origin == r.origin {
		return
	}
	if msg.DealID == "" {
		msg.DealID = strings.TrimPrefix(channel, relayChannelPrefix)
	}
	r.local.Notify(msg.DealID, msg.Deal)
}
