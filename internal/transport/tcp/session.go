package tcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/auth"
	"github.com/vovakirdan/relaychat-server/internal/core"
	"github.com/vovakirdan/relaychat-server/internal/metrics"
	"github.com/vovakirdan/relaychat-server/internal/proto"
	"github.com/vovakirdan/relaychat-server/internal/store"
)

// State is the session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// maxLineBytes bounds one wire line; anything larger is a protocol error.
const maxLineBytes = 64 * 1024

const writeTimeout = 10 * time.Second

// ErrSendBufferFull is reported to the router when the outbound queue is
// full; the message then falls back to the mailbox.
var ErrSendBufferFull = errors.New("send buffer full")

var errSessionClosed = errors.New("session closed")

// Options tune per-session behavior.
type Options struct {
	// AuthTimeout bounds how long a connection may sit unauthenticated.
	AuthTimeout time.Duration
	// SendBuffer is the outbound envelope queue size.
	SendBuffer int
}

// Session is the per-client protocol state machine: authenticate, loop
// reading and dispatching envelopes, tear down exactly once on logout,
// read failure, or shutdown. It is the only kind of delivery target the
// directory ever stores.
type Session struct {
	conn    net.Conn
	router  *core.Router
	auth    *auth.Service
	opts    Options
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	state    State
	userID   int64
	writerOn bool

	out        chan *proto.Envelope
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

// NewSession wraps an accepted transport connection. Run drives it.
func NewSession(conn net.Conn, router *core.Router, authService *auth.Service, opts Options, m *metrics.Metrics, logger *zerolog.Logger) *Session {
	if opts.AuthTimeout == 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.SendBuffer == 0 {
		opts.SendBuffer = 256
	}
	return &Session{
		conn:       conn,
		router:     router,
		auth:       authService,
		opts:       opts,
		metrics:    m,
		log:        logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		out:        make(chan *proto.Envelope, opts.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// UserID returns the authenticated user this session belongs to, or zero
// before authentication completes. Safe for concurrent use; teardown can
// race authentication when the context is cancelled mid-handshake.
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Deliver hands a message to this session for transmission. A full outbound
// buffer or a closed session is an error, which the router treats the same
// as "recipient absent".
func (s *Session) Deliver(msg *core.Message) error {
	env := &proto.Envelope{
		ID:        msg.ID,
		Type:      proto.TypeChat,
		SenderID:  msg.SenderID,
		Content:   msg.Body,
		Timestamp: msg.CreatedAt.Unix(),
		Status:    string(core.StatusDelivered),
	}
	if msg.RecipientID != nil {
		env.ReceiverID = *msg.RecipientID
	}
	if msg.GroupID != nil {
		env.GroupID = *msg.GroupID
	}
	return s.send(env)
}

// NotifyStatus informs this session's client that another user's online
// flag changed.
func (s *Session) NotifyStatus(userID int64, online bool) error {
	status := proto.StatusOffline
	if online {
		status = proto.StatusOnline
	}
	return s.send(&proto.Envelope{
		ID:        uuid.New().String(),
		Type:      proto.TypeStatusUpdate,
		SenderID:  userID,
		Status:    status,
		Timestamp: time.Now().Unix(),
	})
}

func (s *Session) send(env *proto.Envelope) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.out <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run executes the session until the peer disconnects, logs out, or the
// context is cancelled. It always leaves the directory clean.
func (s *Session) Run(ctx context.Context) {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	// Cancellation closes the transport, which unblocks the reader.
	stop := context.AfterFunc(ctx, func() { s.close() })
	defer stop()

	reader := bufio.NewScanner(s.conn)
	reader.Buffer(make([]byte, 0, 4096), maxLineBytes)

	s.setState(StateAuthenticating)
	user, err := s.authenticate(ctx, reader)
	if err != nil {
		s.log.Info().Err(err).Msg("authentication rejected")
		s.close()
		return
	}

	s.mu.Lock()
	s.userID = user.ID
	s.log = s.log.With().Int64("user_id", user.ID).Logger()
	s.mu.Unlock()
	s.log.Info().Str("email", user.Email).Msg("session authenticated")

	s.startWriter()

	s.router.Attach(ctx, user.ID, s)
	s.setState(StateActive)

	s.readLoop(ctx, reader)
	s.close()
}

// authenticate reads exactly one credential line and answers with a bare
// literal line, the protocol's single non-JSON exchange.
func (s *Session) authenticate(ctx context.Context, reader *bufio.Scanner) (*store.User, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.AuthTimeout)); err != nil {
		return nil, fmt.Errorf("set auth deadline: %w", err)
	}

	if !reader.Scan() {
		if scanErr := reader.Err(); scanErr != nil {
			return nil, fmt.Errorf("read credentials: %w", scanErr)
		}
		return nil, errors.New("connection closed before credentials")
	}

	var creds proto.Credentials
	if err := json.Unmarshal(reader.Bytes(), &creds); err != nil {
		s.writeLine(proto.AuthFailed)
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	u, err := s.auth.Authenticate(ctx, creds.Email, creds.Password)
	if err != nil {
		s.writeLine(proto.AuthFailed)
		return nil, err
	}

	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear auth deadline: %w", err)
	}
	if err := s.writeLine(proto.AuthSuccess); err != nil {
		return nil, fmt.Errorf("write auth reply: %w", err)
	}
	return u, nil
}

// readLoop dispatches inbound envelopes until the transport fails or the
// client logs out. Malformed input never closes the connection by itself.
func (s *Session) readLoop(ctx context.Context, reader *bufio.Scanner) {
	for reader.Scan() {
		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}

		env, err := proto.Decode(line)
		if err != nil {
			s.log.Debug().Err(err).Msg("malformed envelope")
			s.sendError("malformed envelope")
			continue
		}
		if !env.Type.Valid() {
			s.log.Debug().Str("type", string(env.Type)).Msg("unknown envelope type")
			s.sendError("unknown envelope type")
			continue
		}

		s.metrics.EnvelopeReceived(string(env.Type))
		// Any inbound traffic counts as a heartbeat.
		s.router.Heartbeat(ctx, s.userID, s)

		if !s.dispatch(ctx, env) {
			return
		}
	}

	if err := reader.Err(); err != nil {
		s.log.Debug().Err(err).Msg("read loop ended")
	}
}

// dispatch handles one envelope; it returns false when the session should
// move to closing.
func (s *Session) dispatch(ctx context.Context, env *proto.Envelope) bool {
	switch env.Type {
	case proto.TypeChat:
		s.handleChat(ctx, env)
	case proto.TypeAcknowledge:
		s.router.Acknowledge(ctx, s.userID, env.Content)
	case proto.TypePing:
		// Heartbeat already recorded; nothing to answer.
	case proto.TypeLogout:
		s.sendEnvelope(&proto.Envelope{
			ID:        uuid.New().String(),
			Type:      proto.TypeLogoutConfirm,
			Timestamp: time.Now().Unix(),
		})
		return false
	case proto.TypeLogoutConfirm, proto.TypeStatusUpdate, proto.TypeConfirmation, proto.TypeError:
		// Server-to-client types have no business arriving here.
		s.sendError(fmt.Sprintf("unexpected envelope type %q", env.Type))
	}
	return true
}

func (s *Session) handleChat(ctx context.Context, env *proto.Envelope) {
	msg, err := core.NewMessage(s.userID, env.ReceiverID, env.GroupID, env.Content)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	if env.ID != "" {
		msg.ID = env.ID
	}

	receipts, err := s.router.Route(ctx, msg)
	if err != nil {
		s.log.Warn().Err(err).Str("msg_id", msg.ID).Msg("route failed")
		s.sendError("message could not be routed")
		return
	}

	for _, rcpt := range receipts {
		outcome := proto.StatusQueued
		if rcpt.Status == core.StatusDelivered {
			outcome = proto.StatusDelivered
		}
		s.sendEnvelope(&proto.Envelope{
			ID:         rcpt.MessageID,
			Type:       proto.TypeConfirmation,
			ReceiverID: rcpt.RecipientID,
			Timestamp:  time.Now().Unix(),
			Status:     outcome,
		})
	}
}

func (s *Session) sendError(msg string) {
	s.sendEnvelope(&proto.Envelope{
		ID:        uuid.New().String(),
		Type:      proto.TypeError,
		Content:   msg,
		Timestamp: time.Now().Unix(),
	})
}

// sendEnvelope queues a session-originated envelope; drops are logged since
// the protocol has no recovery for them.
func (s *Session) sendEnvelope(env *proto.Envelope) {
	if err := s.send(env); err != nil {
		s.log.Warn().Err(err).Str("type", string(env.Type)).Msg("drop outbound envelope")
	}
}

// startWriter records that the write loop is live so teardown knows to wait
// for its final flush.
func (s *Session) startWriter() {
	s.mu.Lock()
	s.writerOn = true
	s.mu.Unlock()
	go s.writeLoop()
}

// writeLoop is the only writer of JSON envelopes; the handshake lines are
// written before it starts. On teardown it drains what is already queued
// before exiting, so a logout confirmation or a final error envelope still
// reaches the peer.
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case env := <-s.out:
			if err := s.writeEnvelope(env); err != nil {
				s.log.Debug().Err(err).Msg("write failed, closing session")
				go s.close()
				return
			}
		case <-s.done:
			s.drainOut()
			return
		}
	}
}

// drainOut flushes the envelopes queued before teardown. Each write is
// bounded by the write deadline; the first failure abandons the rest.
func (s *Session) drainOut() {
	for {
		select {
		case env := <-s.out:
			if err := s.writeEnvelope(env); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) writeEnvelope(env *proto.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("encode envelope")
		return nil
	}
	return s.writeBytes(append(data, '\n'))
}

func (s *Session) writeLine(line string) error {
	return s.writeBytes([]byte(line + "\n"))
}

func (s *Session) writeBytes(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(data)
	return err
}

// close runs the CLOSING -> CLOSED transition exactly once, whatever
// triggered it: logout, read failure, auth rejection, or shutdown. The
// transport stays open until the writer has flushed what was queued, so
// the peer sees its logout confirmation before the stream ends.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)

		s.mu.Lock()
		userID := s.userID
		writerOn := s.writerOn
		log := s.log
		s.mu.Unlock()

		if userID != 0 {
			s.router.Detach(context.Background(), userID, s)
		}
		close(s.done)
		if writerOn {
			select {
			case <-s.writerDone:
			case <-time.After(writeTimeout):
				log.Warn().Msg("writer flush timed out")
			}
		}
		if err := s.conn.Close(); err != nil {
			log.Debug().Err(err).Msg("close transport")
		}
		s.setState(StateClosed)
		log.Info().Msg("session closed")
	})
}
