// Package channel carries protocol messages over a peer data channel.
//
// A ControlChannel has exactly one attached data channel at a time. Attaching
// a new one replaces message routing: once Attach returns, the previous data
// channel delivers nothing more to the handler. Sends are fire-and-forget and
// dropped when no open channel is attached; control events are
// latest-value-wins, so stale drops are acceptable.
package channel

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/transport"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// Handler receives every well-formed message from the attached channel. It
// runs on the transport's callback goroutine and must not block or call
// Attach, Detach or Close.
type Handler func(protocol.Message)

// ControlChannel is a single-slot wrapper around a transport.Channel.
type ControlChannel struct {
	handler Handler
	log     util.Logger

	// deliverMu serializes handler calls against re-attachment.
	deliverMu sync.Mutex

	mu      sync.Mutex
	current transport.Channel
	gen     uint64
}

// New creates a ControlChannel with nothing attached.
func New(handler Handler, log util.Logger) *ControlChannel {
	return &ControlChannel{handler: handler, log: log}
}

// Attach routes ch's inbound messages to the handler and makes it the target
// of Send. Attaching the channel that is already attached does nothing.
func (c *ControlChannel) Attach(ch transport.Channel) {
	c.mu.Lock()
	if c.current == ch {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.current = ch
	c.mu.Unlock()

	// Wait out any delivery from the previous channel still in flight.
	c.deliverMu.Lock()
	c.deliverMu.Unlock()

	label := ch.Label()
	ch.OnOpen(func() {
		c.log.Info("control channel %q open", label)
	})
	ch.OnClose(func() {
		c.log.Info("control channel %q closed", label)
	})
	ch.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.receive(gen, msg.Data)
	})
}

// Detach stops routing and sending without closing the channel. Idempotent.
func (c *ControlChannel) Detach() {
	c.detach()
}

func (c *ControlChannel) detach() transport.Channel {
	c.mu.Lock()
	ch := c.current
	if ch != nil {
		c.gen++
		c.current = nil
	}
	c.mu.Unlock()

	c.deliverMu.Lock()
	c.deliverMu.Unlock()
	return ch
}

// Close detaches and closes the attached channel, if any. Idempotent.
func (c *ControlChannel) Close() error {
	if ch := c.detach(); ch != nil {
		return ch.Close()
	}
	return nil
}

// IsOpen reports whether a channel is attached and open.
func (c *ControlChannel) IsOpen() bool {
	c.mu.Lock()
	ch := c.current
	c.mu.Unlock()
	return ch != nil && ch.ReadyState() == webrtc.DataChannelStateOpen
}

// Send encodes msg and writes it to the attached channel. It never queues:
// when no open channel is attached the message is dropped. Reports whether
// the message was handed to the transport.
func (c *ControlChannel) Send(msg protocol.Message) bool {
	c.mu.Lock()
	ch := c.current
	c.mu.Unlock()

	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		util.Stats.AddDropped()
		c.log.Debug("channel not open, dropped %s", msg.Type)
		return false
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		c.log.Warn("refusing to send %s: %v", msg.Type, err)
		return false
	}

	if err := ch.SendText(string(data)); err != nil {
		util.Stats.AddDropped()
		c.log.Debug("send %s failed: %v", msg.Type, err)
		return false
	}
	return true
}

// receive decodes one inbound frame and hands it to the handler if it came
// from the channel that is still attached. Malformed frames are dropped.
func (c *ControlChannel) receive(gen uint64, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		util.Stats.AddMalformed()
		c.log.Debug("discarding channel frame: %v", err)
		return
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	current := c.gen == gen
	c.mu.Unlock()

	if current && c.handler != nil {
		c.handler(msg)
	}
}
