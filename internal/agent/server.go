package agent

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// Injector performs OS-level input for accepted events.
type Injector interface {
	Inject(ev protocol.ControlEvent) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(protocol.ControlEvent) error

func (f InjectorFunc) Inject(ev protocol.ControlEvent) error { return f(ev) }

// LogInjector logs events instead of injecting them.
type LogInjector struct{}

func (LogInjector) Inject(ev protocol.ControlEvent) error {
	util.LogInfo("[inject] %s", ev)
	return nil
}

// ErrNotLoopback is returned when the agent is asked to listen on a
// non-loopback address.
var ErrNotLoopback = errors.New("agent must listen on a loopback address")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Token    string   // required in hello and on every frame when set
	Injector Injector // LogInjector when nil
}

// Server is a reference agent. It accepts one bridge at a time and enforces
// the token and the allowed flag on its own, independently of the host.
type Server struct {
	token    string
	injector Injector
	log      util.Logger

	mu     sync.Mutex
	active bool
}

// NewServer creates an agent server.
func NewServer(opts ServerOptions) *Server {
	if opts.Injector == nil {
		opts.Injector = LogInjector{}
	}
	return &Server{
		token:    opts.Token,
		injector: opts.Injector,
		log:      util.Tagged("agent"),
	}
}

// Handler upgrades every request to an agent link.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

// ListenAndServe serves on addr, which must be a loopback address, until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("agent address %q: %w", addr, err)
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("%w: %s", ErrNotLoopback, addr)
		}
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening on %s (token %s)", listener.Addr(), util.Fingerprint(s.token))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !s.claim() {
		s.log.Warn("refusing second bridge from %s", r.RemoteAddr)
		refuse(conn, "busy")
		return
	}
	defer s.release()

	s.log.Info("bridge connected from %s", r.RemoteAddr)
	s.serve(conn)
	s.log.Info("bridge disconnected")
}

func (s *Server) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// serve runs one bridge link. Every link starts unauthenticated (unless no
// token is configured) and disallowed.
func (s *Server) serve(conn *websocket.Conn) {
	authed := s.token == ""
	allowed := false

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.log.Debug("discarding frame: %v", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeHello:
			if !s.tokenMatches(msg.Token) {
				s.log.Warn("hello with wrong token")
				refuse(conn, "bad token")
				return
			}
			authed = true

		case protocol.TypeSetAllowed:
			if !authed || !s.tokenMatches(msg.Token) {
				s.log.Warn("ignoring unauthenticated set-allowed")
				continue
			}
			if allowed != msg.Allowed {
				s.log.Info("control allowed: %v", msg.Allowed)
			}
			allowed = msg.Allowed

		case protocol.TypeControl:
			if !authed || !s.tokenMatches(msg.Token) {
				s.log.Warn("ignoring unauthenticated %s", msg.Event)
				continue
			}
			if !allowed {
				s.log.Debug("control not allowed, dropping %s", msg.Event)
				continue
			}
			if err := s.injector.Inject(msg.Event); err != nil {
				s.log.Warn("inject %s: %v", msg.Event, err)
			}

		default:
			s.log.Debug("ignoring %s", msg.Type)
		}
	}
}

// tokenMatches compares in constant time. With no configured token every
// frame matches.
func (s *Server) tokenMatches(got string) bool {
	if s.token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func refuse(conn *websocket.Conn, reason string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}
