package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// DefaultMQTTPrefix is the topic prefix used when none is configured.
const DefaultMQTTPrefix = "remotedesk"

// mqttQoS is the quality of service for every publish and subscription.
const mqttQoS = 1

// envelope wraps every frame published to a room topic so members can
// recognise their own publications.
type envelope struct {
	From string          `json:"from"`
	Msg  json.RawMessage `json:"msg"`
}

// MQTTOptions configures an MQTTBus.
type MQTTOptions struct {
	Broker string // e.g. tcp://localhost:1883
	Prefix string // topic prefix; DefaultMQTTPrefix when empty
}

// Compile-time interface check.
var _ Bus = (*MQTTBus)(nil)

// MQTTBus is a Bus over a shared MQTT broker. Each room is the topic
// <prefix>/<roomID>. The broker does not know about rooms, so members emulate
// the relay's announcements: on join a member publishes peer-join, and each
// member answers the first peer-join of a sender it has not seen.
type MQTTBus struct {
	id      string
	prefix  string
	client  mqtt.Client
	publish func(topic string, payload []byte) error
	in      *inbox
	log     util.Logger

	mu    sync.Mutex
	topic string
	role  protocol.Role
	seen  map[string]bool
}

// DialMQTT connects to the broker.
func DialMQTT(ctx context.Context, opts MQTTOptions) (*MQTTBus, error) {
	id := uuid.NewString()

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID("remotedesk-" + id)
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)

	log := util.Tagged("mqtt")
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("connection lost: %v", err)
	})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect failed: %w", err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}

	b := newMQTTBus(id, opts.Prefix, func(topic string, payload []byte) error {
		// Never wait on the token here: publish also runs from the message
		// handler, and paho delivers in order on one goroutine.
		client.Publish(topic, mqttQoS, false, payload)
		return nil
	})
	b.client = client
	return b, nil
}

func newMQTTBus(id, prefix string, publish func(topic string, payload []byte) error) *MQTTBus {
	if prefix == "" {
		prefix = DefaultMQTTPrefix
	}
	return &MQTTBus{
		id:      id,
		prefix:  strings.TrimSuffix(prefix, "/"),
		publish: publish,
		in:      newInbox(),
		log:     util.Tagged("mqtt"),
		seen:    make(map[string]bool),
	}
}

// Join subscribes to the room topic and announces this member.
func (b *MQTTBus) Join(roomID string, role protocol.Role) error {
	topic := b.prefix + "/" + roomID

	b.mu.Lock()
	b.topic = topic
	b.role = role
	b.mu.Unlock()

	if b.client != nil {
		token := b.client.Subscribe(topic, mqttQoS, func(_ mqtt.Client, m mqtt.Message) {
			b.handle(m.Payload())
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe failed: %w", token.Error())
		}
	}

	return b.Send(protocol.PeerJoin(role))
}

// Send publishes msg to the room topic.
func (b *MQTTBus) Send(msg protocol.Message) error {
	select {
	case <-b.in.done:
		return ErrClosed
	default:
	}

	b.mu.Lock()
	topic := b.topic
	b.mu.Unlock()
	if topic == "" {
		return fmt.Errorf("send %s: not joined", msg.Type)
	}

	inner, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{From: b.id, Msg: inner})
	if err != nil {
		return err
	}
	if err := b.publish(topic, payload); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Receive returns the next message published by the other member.
func (b *MQTTBus) Receive(ctx context.Context) (protocol.Message, error) {
	return b.in.receive(ctx)
}

// Close unsubscribes and disconnects. Safe to call more than once.
func (b *MQTTBus) Close() error {
	b.in.fail(ErrClosed)
	if b.client != nil && b.client.IsConnected() {
		b.mu.Lock()
		topic := b.topic
		b.mu.Unlock()
		if topic != "" {
			b.client.Unsubscribe(topic)
		}
		b.client.Disconnect(250)
	}
	return nil
}

// handle processes one publication on the room topic.
func (b *MQTTBus) handle(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.From == "" {
		b.log.Debug("discarding publication without envelope")
		return
	}
	if env.From == b.id {
		return
	}

	msg, err := protocol.Decode(env.Msg)
	if err != nil {
		b.log.Debug("discarding frame from %s: %v", short(env.From), err)
		return
	}

	if msg.Type == protocol.TypePeerJoin {
		b.mu.Lock()
		first := !b.seen[env.From]
		b.seen[env.From] = true
		role := b.role
		b.mu.Unlock()

		if !first {
			return
		}
		if err := b.Send(protocol.PeerJoin(role)); err != nil {
			b.log.Debug("answer peer-join: %v", err)
		}
	}

	b.in.push(msg)
}
