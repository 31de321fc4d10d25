package signaling

import (
	"context"
	"sync"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
)

// MemoryRoom is an in-process relay for a single room. Frames are encoded
// and decoded on the way through, exactly as they would be on the wire.
type MemoryRoom struct {
	mu      sync.Mutex
	members []*MemoryBus
}

// NewMemoryRoom creates an empty room.
func NewMemoryRoom() *MemoryRoom {
	return &MemoryRoom{}
}

// Connect returns a new member connection. It takes part in the room once it
// joins.
func (r *MemoryRoom) Connect() *MemoryBus {
	return &MemoryBus{room: r, in: newInbox()}
}

// Compile-time interface check.
var _ Bus = (*MemoryBus)(nil)

// MemoryBus is one member of a MemoryRoom.
type MemoryBus struct {
	room *MemoryRoom
	in   *inbox

	mu     sync.Mutex
	role   protocol.Role
	joined bool
}

// Join adds the bus to the room and announces it both ways. The room ID is
// not checked: a MemoryRoom is a single room.
func (b *MemoryBus) Join(_ string, role protocol.Role) error {
	r := b.room
	r.mu.Lock()
	b.mu.Lock()
	if b.joined {
		b.mu.Unlock()
		r.mu.Unlock()
		return nil
	}
	if len(r.members) >= 2 {
		b.mu.Unlock()
		r.mu.Unlock()
		return ErrRoomFull
	}
	b.role = role
	b.joined = true
	b.mu.Unlock()
	others := append([]*MemoryBus(nil), r.members...)
	r.members = append(r.members, b)
	r.mu.Unlock()

	for _, other := range others {
		b.deliver(protocol.PeerJoin(other.memberRole()))
		other.deliver(protocol.PeerJoin(role))
	}
	return nil
}

// Send delivers msg to every other member of the room.
func (b *MemoryBus) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-b.in.done:
		return ErrClosed
	default:
	}

	b.room.mu.Lock()
	others := make([]*MemoryBus, 0, len(b.room.members))
	for _, m := range b.room.members {
		if m != b {
			others = append(others, m)
		}
	}
	b.room.mu.Unlock()

	for _, other := range others {
		decoded, err := protocol.Decode(data)
		if err != nil {
			return err
		}
		other.deliver(decoded)
	}
	return nil
}

// Receive returns the next message for this member.
func (b *MemoryBus) Receive(ctx context.Context) (protocol.Message, error) {
	return b.in.receive(ctx)
}

// Close leaves the room. Safe to call more than once.
func (b *MemoryBus) Close() error {
	b.in.fail(ErrClosed)

	r := b.room
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.members {
		if m == b {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	return nil
}

func (b *MemoryBus) memberRole() protocol.Role {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.role
}

// deliver queues msg without blocking the sender; a full inbox drops it,
// which is within the bus's at-most-once contract.
func (b *MemoryBus) deliver(msg protocol.Message) {
	select {
	case b.in.ch <- msg:
	case <-b.in.done:
	default:
	}
}
