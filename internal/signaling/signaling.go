// Package signaling carries session descriptions, candidates and room
// membership between the two participants of a session.
//
// A Bus is one member's connection to a room. Buses are at-most-once and give
// no ordering guarantee across senders. Frames that fail to decode are
// discarded inside the bus and never reach the caller.
package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
)

// ErrClosed is returned by Send and Receive once the bus is closed.
var ErrClosed = errors.New("signaling bus closed")

// Bus is a member's connection to a signaling room.
type Bus interface {
	// Join enters roomID. The other member, if any, is announced with a
	// peer-join message, and the other member learns about us the same way.
	Join(roomID string, role protocol.Role) error

	// Send delivers msg to the other member of the room.
	Send(msg protocol.Message) error

	// Receive blocks until a message arrives, the bus fails, or ctx ends.
	Receive(ctx context.Context) (protocol.Message, error)

	Close() error
}

// inboxSize is the per-bus buffer of decoded inbound messages.
const inboxSize = 64

// inbox hands decoded messages from a bus's reader to Receive. Once failed,
// Receive drains what is already queued and then reports the failure.
type inbox struct {
	ch   chan protocol.Message
	done chan struct{}
	once sync.Once
	err  error // set before done is closed
}

func newInbox() *inbox {
	return &inbox{
		ch:   make(chan protocol.Message, inboxSize),
		done: make(chan struct{}),
	}
}

// push queues msg, waiting for room. Returns false once the inbox failed.
func (in *inbox) push(msg protocol.Message) bool {
	select {
	case in.ch <- msg:
		return true
	case <-in.done:
		return false
	}
}

// fail records err and wakes every Receive. Only the first call counts.
func (in *inbox) fail(err error) {
	in.once.Do(func() {
		in.err = err
		close(in.done)
	})
}

func (in *inbox) receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-in.ch:
		return msg, nil
	case <-in.done:
		select {
		case msg := <-in.ch:
			return msg, nil
		default:
		}
		return protocol.Message{}, in.err
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}
