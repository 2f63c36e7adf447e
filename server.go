package wireframe

import (
	"context"

	"github.com/wireframe-go/wireframe/transport"
)

// Server accepts connections from a transport.ServerTransport and spins up
// one Controller per accepted connection. Unlike
// Client, a server-side Controller never reconnects — a dropped connection
// is simply gone.
type Server struct {
	t   transport.ServerTransport
	cfg *config

	onConnectionFn func(*Controller)
}

// NewServer constructs a Server bound to t. Every connection it accepts
// shares the same ack/operation/resumption configuration.
func NewServer(t transport.ServerTransport, opts ...Option) *Server {
	return &Server{t: t, cfg: newConfig(opts)}
}

// OnConnection registers the callback invoked once per accepted
// connection, before any inbound message is dispatched. Use it to
// register the new connection's Emitter handlers.
func (s *Server) OnConnection(fn func(conn *Controller)) {
	s.onConnectionFn = fn
}

// OnStarted registers a callback invoked once the underlying transport is
// ready to accept connections.
func (s *Server) OnStarted(fn func()) {
	s.t.OnStarted(fn)
}

// Serve starts accepting connections. It blocks until the transport's
// Start returns (typically when the context is canceled or Stop/Close is
// called).
func (s *Server) Serve(ctx context.Context) error {
	s.t.OnConnection(func(conn transport.ServerConnTransport) {
		ctrl := newController(conn, s.cfg, conn.RemoteAddr())
		if s.onConnectionFn != nil {
			s.onConnectionFn(ctrl)
		}
	})

	if err := s.t.Start(ctx); err != nil {
		return newTransportStartError(err)
	}
	return nil
}

// Stop gracefully stops accepting new connections, honoring
// WithShutdownTimeout if configured.
func (s *Server) Stop(ctx context.Context) error {
	if s.cfg.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.shutdownTimeout)
		defer cancel()
	}
	return s.t.Stop(ctx)
}

// Close stops the server immediately, bypassing any shutdown timeout.
func (s *Server) Close(err error) {
	s.t.Close(err)
}
