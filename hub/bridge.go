package hub

import (
	"context"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Soham-047/trello-mini/domain"
)

const eventChannelPattern = "board:*:events"

func eventChannel(boardID string) string {
	return "board:" + boardID + ":events"
}

// Bridge replicates hub traffic across instances over Redis pub/sub. Each
// broadcast is published to the board's channel; a subscriber loop delivers
// events published by other instances to the local hub. Messages carry the
// origin instance id so an instance never re-delivers its own events.
type Bridge struct {
	client     *redis.Client
	hub        *Hub
	logger     *log.Logger
	instanceID string

	ready     chan struct{}
	readyOnce sync.Once
}

type bridgeMessage struct {
	Origin  string          `json:"origin"`
	BoardID string          `json:"boardId"`
	Event   domain.Envelope `json:"event"`
}

// NewBridge creates a bridge and attaches it to the hub. Run must be
// called for inbound replication to start.
func NewBridge(client *redis.Client, h *Hub, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.StandardLogger()
	}
	b := &Bridge{
		client:     client,
		hub:        h,
		logger:     logger,
		instanceID: uuid.NewString(),
		ready:      make(chan struct{}),
	}
	h.bridge = b
	return b
}

// Ready is closed once the inbound subscription is established.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Run consumes events published by other instances until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, eventChannelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.readyOnce.Do(func() { close(b.ready) })

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg)
		}
	}
}

func (b *Bridge) handle(msg *redis.Message) {
	var bm bridgeMessage
	if err := sonic.Unmarshal([]byte(msg.Payload), &bm); err != nil {
		b.logger.WithError(err).Warn("bridge: dropping undecodable message")
		return
	}
	if bm.Origin == b.instanceID {
		return
	}
	if bm.BoardID == "" {
		bm.BoardID = boardIDFromChannel(msg.Channel)
	}
	b.hub.deliver(bm.BoardID, bm.Event)
}

func (b *Bridge) publish(boardID string, env domain.Envelope) {
	data, err := sonic.Marshal(bridgeMessage{
		Origin:  b.instanceID,
		BoardID: boardID,
		Event:   env,
	})
	if err != nil {
		b.logger.WithError(err).Error("bridge: encode event")
		return
	}
	// Best effort: a publish failure only affects remote instances, never
	// the local commit or delivery.
	if err := b.client.Publish(context.Background(), eventChannel(boardID), data).Err(); err != nil {
		b.logger.WithError(err).WithField("board_id", boardID).Warn("bridge: publish failed")
	}
}

func boardIDFromChannel(channel string) string {
	trimmed := strings.TrimPrefix(channel, "board:")
	return strings.TrimSuffix(trimmed, ":events")
}
