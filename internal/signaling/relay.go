package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// ErrRoomFull is returned when a third member tries to join a room.
var ErrRoomFull = errors.New("room full")

// maxMembers is the number of participants a room admits.
const maxMembers = 2

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay is a reference signaling server. A member's first frame must be a
// join; after that every frame is forwarded unchanged to the other member of
// the room. The relay never looks inside forwarded frames.
type Relay struct {
	log util.Logger

	mu    sync.Mutex
	rooms map[string]map[string]*member // roomID -> member ID -> member
}

type member struct {
	id   string
	role protocol.Role
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (m *member) write(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

func (m *member) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return m.write(data)
}

// NewRelay creates a relay with no rooms.
func NewRelay() *Relay {
	return &Relay{
		log:   util.Tagged("relay"),
		rooms: make(map[string]map[string]*member),
	}
}

// Handler serves GET /ws and GET /health.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWS)
	mux.HandleFunc("/health", r.handleHealth)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	return r.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled.
func (r *Relay) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{Handler: r.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	r.log.Info("listening on %s", listener.Addr())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Counts returns the number of open rooms and connected members.
func (r *Relay) Counts() (rooms, members int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		members += len(room)
	}
	return len(r.rooms), members
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rooms, members := r.Counts()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"rooms":   rooms,
		"members": members,
	})
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	m := &member{id: uuid.NewString(), conn: conn}
	roomID, ok := r.awaitJoin(m)
	if !ok {
		return
	}
	defer r.leave(roomID, m)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.log.Debug("member %s left room %s: %v", short(m.id), roomID, err)
			return
		}
		for _, other := range r.others(roomID, m.id) {
			if err := other.write(data); err != nil {
				r.log.Debug("forward to %s: %v", short(other.id), err)
			}
		}
	}
}

// awaitJoin reads until the member's join frame and admits it to the room.
// Frames before the join are discarded.
func (r *Relay) awaitJoin(m *member) (string, bool) {
	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			return "", false
		}
		msg, err := protocol.Decode(data)
		if err != nil || msg.Type != protocol.TypeJoin {
			r.log.Debug("discarding frame before join")
			continue
		}

		m.role = msg.Role
		existing, err := r.join(msg.RoomID, m)
		if err != nil {
			r.log.Warn("refusing member %s in room %s: %v", short(m.id), msg.RoomID, err)
			m.writeMu.Lock()
			m.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
				time.Now().Add(time.Second))
			m.writeMu.Unlock()
			return "", false
		}

		r.log.Info("member %s joined room %s as %q", short(m.id), msg.RoomID, m.role)
		for _, other := range existing {
			if err := m.send(protocol.PeerJoin(other.role)); err != nil {
				r.log.Debug("announce to %s: %v", short(m.id), err)
			}
			if err := other.send(protocol.PeerJoin(m.role)); err != nil {
				r.log.Debug("announce to %s: %v", short(other.id), err)
			}
		}
		return msg.RoomID, true
	}
}

func (r *Relay) join(roomID string, m *member) ([]*member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*member)
		r.rooms[roomID] = room
	}
	if len(room) >= maxMembers {
		return nil, ErrRoomFull
	}

	existing := make([]*member, 0, len(room))
	for _, other := range room {
		existing = append(existing, other)
	}
	room[m.id] = m
	return existing, nil
}

func (r *Relay) leave(roomID string, m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[roomID]
	delete(room, m.id)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
}

func (r *Relay) others(roomID, selfID string) []*member {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*member, 0, 1)
	for id, m := range r.rooms[roomID] {
		if id != selfID {
			out = append(out, m)
		}
	}
	return out
}

// short abbreviates a member ID for logs.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
