// Package agent connects the host to a privileged local agent that injects
// input at the OS level, and provides a reference agent server speaking the
// same protocol.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// DefaultURL is where the agent listens.
const DefaultURL = "ws://127.0.0.1:7777"

const (
	defaultDialTimeout = 2 * time.Second
	writeTimeout       = 2 * time.Second
)

// ErrNotConnected is returned when sending through a bridge with no agent.
var ErrNotConnected = errors.New("agent not connected")

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	URL         string        // DefaultURL when empty
	Token       string        // sent in hello and with every frame when set
	Allowed     bool          // initial control toggle
	DialTimeout time.Duration // defaultDialTimeout when zero
}

// Bridge is the host's connection to the agent. It connects once, at
// creation; if the agent is not reachable the bridge stays disconnected for
// its whole life and callers fall back to in-page replay. The bridge performs
// no authorization of its own.
type Bridge struct {
	url   string
	token string
	log   util.Logger

	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected atomic.Bool
	allowed   atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the agent. It never fails: an unreachable agent yields a
// disconnected Bridge.
func Dial(ctx context.Context, opts BridgeOptions) *Bridge {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}

	b := &Bridge{
		url:   opts.URL,
		token: opts.Token,
		log:   util.Tagged("agent"),
		done:  make(chan struct{}),
	}
	b.allowed.Store(opts.Allowed)

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, opts.URL, nil)
	if err != nil {
		b.log.Info("no agent at %s, using in-page replay", opts.URL)
		b.log.Debug("agent dial: %v", err)
		close(b.done)
		return b
	}
	b.conn = conn

	if b.token != "" {
		if err := b.write(protocol.Hello(b.token)); err != nil {
			b.log.Warn("agent hello: %v", err)
			conn.Close()
			b.conn = nil
			close(b.done)
			return b
		}
	}
	if err := b.write(protocol.SetAllowed(b.allowed.Load(), b.token)); err != nil {
		b.log.Warn("agent set-allowed: %v", err)
	}

	b.connected.Store(true)
	b.log.Info("connected to agent at %s (token %s)", opts.URL, util.Fingerprint(b.token))
	go b.readLoop()
	return b
}

// Connected reports whether the agent link is up.
func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// Done is closed once the agent link is gone, or at once if it never came up.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// SetAllowed records the toggle and forwards it when connected.
func (b *Bridge) SetAllowed(allowed bool) error {
	b.allowed.Store(allowed)
	if !b.Connected() {
		return nil
	}
	return b.write(protocol.SetAllowed(allowed, b.token))
}

// SendCtrl forwards ev to the agent.
func (b *Bridge) SendCtrl(ev protocol.ControlEvent) error {
	if !b.Connected() {
		return ErrNotConnected
	}
	return b.write(protocol.Control(ev).WithToken(b.token))
}

// Close drops the agent link. Safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.connected.Store(false)
		if b.conn != nil {
			err = b.conn.Close()
		}
	})
	return err
}

func (b *Bridge) write(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to agent: %w", err)
	}
	return nil
}

// readLoop watches the link. Anything the agent sends is ignored; the loop
// exists to notice when the link goes away.
func (b *Bridge) readLoop() {
	defer close(b.done)
	for {
		if _, _, err := b.conn.ReadMessage(); err != nil {
			if b.connected.Swap(false) {
				b.log.Warn("agent disconnected, using in-page replay: %v", err)
			}
			return
		}
	}
}
