// Package socket implements the persistent event channel to one backend
// namespace (orders or tracking). A Session owns exactly one websocket at a
// time, reconnects with a bounded attempt count and fixed delay, and
// dispatches incoming events serially so handlers never run concurrently.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status is the connection state machine of a Session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	// StatusError means the bounded reconnect budget is exhausted. The
	// session stays in this state until Close; callers degrade to REST.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

var (
	// ErrNotConnected is returned by Emit while the socket is down. Callers
	// queue or fall back to REST; this is an expected condition.
	ErrNotConnected = errors.New("socket: not connected")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("socket: session closed")
)

// frame is the wire envelope. Client emits carry an id when an
// acknowledgment is requested; the server answers with event "ack" and the
// same id.
type frame struct {
	Event string          `json:"event"`
	ID    int64           `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type handshakePayload struct {
	Auth struct {
		Token string `json:"token,omitempty"`
	} `json:"auth"`
}

type connectedPayload struct {
	SessionID string `json:"sessionId"`
}

// Handler receives the raw data of one server event. Handlers run on the
// session's read loop, one at a time, and must not block.
type Handler func(data json.RawMessage)

// Config configures a Session. URL points at one namespace endpoint.
type Config struct {
	URL       string
	AuthToken string

	// ReconnectAttempts bounds consecutive failed dials before the session
	// settles in StatusError. Zero means the default of 10.
	ReconnectAttempts int
	// ReconnectDelay is the fixed pause between attempts. Zero means 1s.
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Session is the connection state holder for one namespace. All exported
// methods are safe for concurrent use.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu              sync.Mutex
	conn            *websocket.Conn
	status          Status
	sessionID       string
	lastErr         error
	handlers        map[string][]Handler
	connectHooks    []func()
	disconnectHooks []func(error)
	closeHooks      []func()
	acks            map[int64]chan json.RawMessage
	nextAck         int64
	opened          bool
	// closing is set while Close runs the close hooks; the connection stays
	// writable so their emits reach the wire. closed flips once teardown
	// starts and Emit refuses from then on.
	closing bool
	closed  bool

	writeMu sync.Mutex
	done    chan struct{}
}

// New creates a session without connecting. Register handlers and hooks,
// then call Open.
func New(cfg Config) *Session {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 10
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		logger:   logger.WithGroup("socket"),
		handlers: make(map[string][]Handler),
		acks:     make(map[int64]chan json.RawMessage),
		done:     make(chan struct{}),
	}
}

// OnEvent registers a handler for a named server event. Registration is
// long-lived; it survives reconnects and is never a suspension point.
func (s *Session) OnEvent(event string, fn Handler) {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], fn)
	s.mu.Unlock()
}

// OnConnect registers a hook that runs synchronously on every successful
// (re)connect, in registration order, before any server event of the new
// connection is dispatched. Room replay relies on this ordering.
func (s *Session) OnConnect(fn func()) {
	s.mu.Lock()
	s.connectHooks = append(s.connectHooks, fn)
	s.mu.Unlock()
}

// OnDisconnect registers a hook invoked after the connection drops, before
// the next reconnect attempt.
func (s *Session) OnDisconnect(fn func(err error)) {
	s.mu.Lock()
	s.disconnectHooks = append(s.disconnectHooks, fn)
	s.mu.Unlock()
}

// OnClose registers a hook invoked once during Close while the connection,
// if any, is still writable. Used for best-effort room unsubscribes.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	s.closeHooks = append(s.closeHooks, fn)
	s.mu.Unlock()
}

// Open starts the connection manager. It returns immediately; callers that
// need the socket may WaitConnected or just Emit and handle ErrNotConnected.
func (s *Session) Open() error {
	s.mu.Lock()
	if s.closed || s.closing {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return errors.New("socket: already opened")
	}
	s.opened = true
	s.status = StatusConnecting
	s.mu.Unlock()

	go s.run()
	return nil
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connected reports whether the session currently holds a live connection.
func (s *Session) Connected() bool {
	return s.Status() == StatusConnected
}

// SessionID returns the server-assigned id of the current connection. It
// changes on every reconnect and is empty while disconnected.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// LastError returns the most recent transport error, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// WaitConnected blocks until the session is connected or ctx expires.
func (s *Session) WaitConnected(ctx context.Context) error {
	for {
		switch s.Status() {
		case StatusConnected:
			return nil
		case StatusError:
			s.mu.Lock()
			err := s.lastErr
			s.mu.Unlock()
			if err == nil {
				err = ErrNotConnected
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Emit sends a fire-and-forget event. While disconnected it returns
// ErrNotConnected without buffering; queueing is the room tracker's job.
func (s *Session) Emit(event string, payload any) error {
	data, err := marshalData(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status != StatusConnected || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	return s.writeFrame(conn, frame{Event: event, Data: data})
}

// EmitWithAck sends a request/response call and waits for the server's
// acknowledgment. If the connection drops mid-flight the call is left
// unresolved until ctx expires; the caller's fallback path supersedes it.
func (s *Session) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := marshalData(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.status != StatusConnected || s.conn == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := s.conn
	s.nextAck++
	id := s.nextAck
	ch := make(chan json.RawMessage, 1)
	s.acks[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.acks, id)
		s.mu.Unlock()
	}()

	if err := s.writeFrame(conn, frame{Event: event, ID: id, Data: data}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	case reply := <-ch:
		return reply, nil
	}
}

// Close tears the session down in two phases: first the close hooks run
// while the connection, if any, is still writable, so best-effort room
// unsubscribes reach the wire; then reconnect attempts are cancelled and the
// socket is closed exactly once. Calling Close twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed || s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	hooks := append([]func(){}, s.closeHooks...)
	s.mu.Unlock()

	// Best-effort: these emits ride on a connection that may already be
	// gone; failures are intentionally ignored.
	for _, fn := range hooks {
		fn()
	}

	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	close(s.done)

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	s.mu.Lock()
	s.conn = nil
	s.status = StatusDisconnected
	s.sessionID = ""
	s.mu.Unlock()

	return nil
}

// run is the connection manager: dial, handshake, dispatch, reconnect.
func (s *Session) run() {
	attempts := 0
	for {
		if s.isClosed() {
			return
		}

		conn, sessionID, err := s.dial()
		if err != nil {
			attempts++
			s.mu.Lock()
			s.lastErr = err
			budget := s.cfg.ReconnectAttempts
			if attempts >= budget {
				s.status = StatusError
				s.mu.Unlock()
				s.logger.Warn("reconnect budget exhausted",
					slog.Int("attempts", attempts),
					slog.String("error", err.Error()))
				return
			}
			s.status = StatusConnecting
			s.mu.Unlock()
			s.logger.Debug("connect failed, retrying",
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()))
			select {
			case <-s.done:
				return
			case <-time.After(s.cfg.ReconnectDelay):
			}
			continue
		}
		attempts = 0

		s.mu.Lock()
		if s.closed || s.closing {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.sessionID = sessionID
		s.status = StatusConnected
		s.lastErr = nil
		hooks := append([]func(){}, s.connectHooks...)
		s.mu.Unlock()

		s.logger.Info("connected", slog.String("session_id", sessionID))

		// Connect hooks complete before the read loop starts, so room
		// replay is never raced by events of the new connection.
		for _, fn := range hooks {
			fn()
		}

		err = s.readLoop(conn)
		if s.isClosed() {
			return
		}

		s.mu.Lock()
		s.conn = nil
		s.sessionID = ""
		s.status = StatusDisconnected
		s.lastErr = err
		// In-flight acks stay unresolved; their callers' contexts and the
		// REST fallback path supersede them.
		s.acks = make(map[int64]chan json.RawMessage)
		dhooks := append([]func(error){}, s.disconnectHooks...)
		s.mu.Unlock()

		s.logger.Warn("disconnected", slog.String("error", errString(err)))
		for _, fn := range dhooks {
			fn(err)
		}
	}
}

func (s *Session) dial() (*websocket.Conn, string, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(s.cfg.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}

	var hello handshakePayload
	hello.Auth.Token = s.cfg.AuthToken
	data, err := json.Marshal(hello)
	if err != nil {
		_ = conn.Close()
		return nil, "", err
	}
	if err := s.writeFrame(conn, frame{Event: "handshake", Data: data}); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("handshake write: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	var reply frame
	if err := conn.ReadJSON(&reply); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("handshake read: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if reply.Event != "connected" {
		_ = conn.Close()
		return nil, "", fmt.Errorf("handshake: unexpected event %q", reply.Event)
	}
	var connected connectedPayload
	if err := json.Unmarshal(reply.Data, &connected); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("handshake payload: %w", err)
	}
	return conn, connected.SessionID, nil
}

// readLoop dispatches frames serially until the connection fails.
func (s *Session) readLoop(conn *websocket.Conn) (err error) {
	// A panicking handler must not take the whole client down; it is
	// converted into a disconnect and the session reconnects.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("socket handler panic: %v", r)
			_ = conn.Close()
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}

		if f.Event == "ack" {
			s.mu.Lock()
			ch := s.acks[f.ID]
			s.mu.Unlock()
			if ch != nil {
				ch <- f.Data
			}
			continue
		}

		s.mu.Lock()
		handlers := append([]Handler{}, s.handlers[f.Event]...)
		s.mu.Unlock()
		for _, fn := range handlers {
			fn(f.Data)
		}
	}
}

func (s *Session) writeFrame(conn *websocket.Conn, f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.closing
}

func marshalData(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
