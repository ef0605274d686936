package tcp

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/auth"
	"github.com/vovakirdan/relaychat-server/internal/core"
	"github.com/vovakirdan/relaychat-server/internal/metrics"
)

// Server accepts stream connections and runs one session goroutine per
// client. A slow or wedged client only ever blocks its own goroutine; all
// cross-session work goes through the router's short per-user locks.
type Server struct {
	addr    string
	router  *core.Router
	auth    *auth.Service
	opts    Options
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer builds the chat listener.
func NewServer(addr string, router *core.Router, authService *auth.Service, opts Options, m *metrics.Metrics, logger *zerolog.Logger) *Server {
	return &Server{
		addr:    addr,
		router:  router,
		auth:    authService,
		opts:    opts,
		metrics: m,
		log:     logger.With().Str("component", "tcp").Logger(),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Run listens until the context is cancelled, then closes the listener and
// every live connection and waits for the sessions to finish.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.log.Info().Str("addr", s.addr).Msg("chat listener started")

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			sess := NewSession(conn, s.router, s.auth, s.opts, s.metrics, &s.log)
			sess.Run(ctx)
		}()
	}

	s.closeAll()
	s.wg.Wait()
	s.log.Info().Msg("chat listener stopped")
	return nil
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
}
