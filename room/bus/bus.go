// Package bus implements the Broadcast Bus: local in-process fan-out to
// every connection subscribed to a room, cross-process propagation over a
// shared Valkey Pub/Sub channel, and self-origin filtering so a process
// never re-delivers its own publish back to itself.
package bus

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/blockroom/roomd/infrastructure/valkey"
)

const channelName = "roomd:bus_broadcast"

// Subscriber is one connection's mailbox. The coordinator owns draining Send
// on its single outbound writer goroutine.
type Subscriber struct {
	ID   string
	Room string
	Send chan []byte
}

// wireMessage is what actually crosses Valkey Pub/Sub: the room the payload
// belongs to, the payload itself, and the originating process's ID so peers
// (and this same process, on its own publish loop) can filter it.
type wireMessage struct {
	Room     string          `json:"room"`
	Data     json.RawMessage `json:"data"`
	SenderID string          `json:"sender_id"`
}

type registration struct {
	sub  *Subscriber
	drop bool // true = unregister
}

type publication struct {
	room       string
	data       []byte
	fromRemote bool // true = arrived via Valkey subscriber, never re-publish
}

// Bus is the per-process hub. One Bus instance is shared across every room;
// rooms are just a partition key in its internal maps, not separate
// channels, so Valkey subscription count stays flat regardless of room
// count.
type Bus struct {
	client   *valkey.Client
	serverID string

	register  chan registration
	broadcast chan publication
	rooms     map[string]map[*Subscriber]struct{}
}

func New(client *valkey.Client, serverID string) *Bus {
	return &Bus{
		client:    client,
		serverID:  serverID,
		register:  make(chan registration),
		broadcast: make(chan publication),
		rooms:     make(map[string]map[*Subscriber]struct{}),
	}
}

// Run drives the hub's single goroutine; call it once, typically from main.
func (b *Bus) Run(ctx context.Context) {
	if b.client != nil {
		b.startSubscriber(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case reg := <-b.register:
			if reg.drop {
				b.unregisterLocked(reg.sub)
			} else {
				b.registerLocked(reg.sub)
			}

		case pub := <-b.broadcast:
			b.fanOutLocal(pub.room, pub.data)
			if b.client != nil && !pub.fromRemote {
				b.publishRemote(ctx, pub.room, pub.data)
			}
		}
	}
}

// Subscribe registers sub for delivery of every Publish in its room. The
// caller must eventually call Unsubscribe, normally via defer.
func (b *Bus) Subscribe(sub *Subscriber) {
	b.register <- registration{sub: sub}
}

func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.register <- registration{sub: sub, drop: true}
}

// Publish fans data out to every local subscriber of room, then propagates
// it to peer processes over Valkey. Safe to call concurrently.
func (b *Bus) Publish(room string, data []byte) {
	b.broadcast <- publication{room: room, data: data}
}

func (b *Bus) registerLocked(sub *Subscriber) {
	if b.rooms[sub.Room] == nil {
		b.rooms[sub.Room] = make(map[*Subscriber]struct{})
	}
	b.rooms[sub.Room][sub] = struct{}{}
}

func (b *Bus) unregisterLocked(sub *Subscriber) {
	delete(b.rooms[sub.Room], sub)
	if len(b.rooms[sub.Room]) == 0 {
		delete(b.rooms, sub.Room)
	}
}

func (b *Bus) fanOutLocal(room string, data []byte) {
	for sub := range b.rooms[room] {
		select {
		case sub.Send <- data:
		default:
			logrus.Warnf("[bus] dropping message for slow subscriber %s in room %s", sub.ID, room)
		}
	}
}

func (b *Bus) publishRemote(ctx context.Context, room string, data []byte) {
	wire := wireMessage{Room: room, Data: data, SenderID: b.serverID}
	payload, err := json.Marshal(wire)
	if err != nil {
		logrus.Errorf("[bus] marshal error: %v", err)
		return
	}

	cmd := b.client.Inner().B().Publish().Channel(channelName).Message(string(payload)).Build()
	if err := b.client.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.Errorf("[bus] failed to publish to valkey: %v", err)
	}
}

func (b *Bus) startSubscriber(ctx context.Context) {
	logrus.Info("[bus] starting valkey pub/sub subscriber for cross-process fanout")
	go func() {
		cmd := b.client.Inner().B().Subscribe().Channel(channelName).Build()
		err := b.client.Inner().Receive(ctx, cmd, func(msg valkeylib.PubSubMessage) {
			var wire wireMessage
			if err := json.Unmarshal([]byte(msg.Message), &wire); err != nil {
				logrus.Errorf("[bus] unmarshal error: %v", err)
				return
			}
			if wire.SenderID == b.serverID {
				return // this process already delivered it locally on publish
			}
			b.broadcast <- publication{room: wire.Room, data: wire.Data, fromRemote: true}
		})
		if err != nil && ctx.Err() == nil {
			logrus.Errorf("[bus] valkey subscriber failed: %v", err)
		}
	}()
}
