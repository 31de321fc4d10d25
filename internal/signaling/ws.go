package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// writeTimeout bounds every websocket write.
const writeTimeout = 5 * time.Second

// Compile-time interface check.
var _ Bus = (*WSBus)(nil)

// WSBus is a Bus over a websocket connection to a relay.
type WSBus struct {
	conn *websocket.Conn
	in   *inbox
	log  util.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closing   chan struct{}
}

// Dial connects to the relay at url, e.g. ws://localhost:4000/ws.
func Dial(ctx context.Context, url string) (*WSBus, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	b := &WSBus{
		conn:    conn,
		in:      newInbox(),
		log:     util.Tagged("relay"),
		closing: make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

// Join announces this member to the relay.
func (b *WSBus) Join(roomID string, role protocol.Role) error {
	return b.Send(protocol.Join(roomID, role))
}

// Send writes msg as one text frame. Safe for concurrent use.
func (b *WSBus) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-b.closing:
		return ErrClosed
	default:
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to relay: %w", err)
	}
	return nil
}

// Receive returns the next well-formed message from the relay.
func (b *WSBus) Receive(ctx context.Context) (protocol.Message, error) {
	return b.in.receive(ctx)
}

// Close sends a close frame and tears down the connection. Safe to call more
// than once.
func (b *WSBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closing)
		b.in.fail(ErrClosed)

		b.writeMu.Lock()
		b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		b.writeMu.Unlock()

		err = b.conn.Close()
	})
	return err
}

func (b *WSBus) readLoop() {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case <-b.closing:
				b.in.fail(ErrClosed)
			default:
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					b.log.Warn("relay closed the connection: %d %s", closeErr.Code, closeErr.Text)
				}
				b.in.fail(fmt.Errorf("read from relay: %w", err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			b.log.Debug("discarding relay frame: %v", err)
			continue
		}
		if !b.in.push(msg) {
			return
		}
	}
}
