// Package ws provides a WebSocket transport.ClientTransport and
// transport.ServerTransport pair built on gorilla/websocket, with the
// upgrade, ping/pong keep-alive, and single-writer-goroutine-per-connection
// shape of a typical gorilla/websocket chat server.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wireframe-go/wireframe/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	shutdownWindow = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// conn wraps one websocket.Conn as a transport.ServerConnTransport. A
// single writer goroutine owns the socket (gorilla/websocket connections
// are not safe for concurrent writers), draining outCh.
type conn struct {
	ws         *websocket.Conn
	remoteAddr string

	outCh  chan []byte
	closed sync.Once
	done   chan struct{}
	cancel context.CancelFunc

	onConnectedFn    func()
	onDisconnectedFn func(intentional bool, err error)
	onDataFn         func([]byte)
}

func newConn(ws *websocket.Conn, remoteAddr string) *conn {
	return &conn{
		ws:         ws,
		remoteAddr: remoteAddr,
		outCh:      make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

func (c *conn) OnConnected(fn func())                              { c.onConnectedFn = fn }
func (c *conn) OnDisconnected(fn func(intentional bool, err error)) { c.onDisconnectedFn = fn }
func (c *conn) OnData(fn func([]byte))                             { c.onDataFn = fn }
func (c *conn) RemoteAddr() string                                 { return c.remoteAddr }

// Connect starts the writer and reader loops as a pair under a single
// errgroup, so the paired read/write goroutines share one cancelable
// context, then fires OnConnected. For a
// client-dialed connection this is called by Client.Connect; for a
// server-accepted connection the handler below calls it itself, per the
// ServerConnTransport contract.
func (c *conn) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return c.writeLoop(gctx) })
	group.Go(func() error { return c.readLoop(gctx) })

	go func() {
		err := group.Wait()
		c.closeWith(err == nil, err)
	}()

	if c.onConnectedFn != nil {
		c.onConnectedFn()
	}
	return nil
}

func (c *conn) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-c.outCh:
			if !ok {
				return nil
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
				return newTransportWriteError(err)
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return newTransportWriteError(err)
			}
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		}
	}
}

func (c *conn) readLoop(ctx context.Context) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if c.onDataFn != nil {
			c.onDataFn(data)
		}
	}
}

// Send queues b for the writer goroutine. One wireframe message is sent
// as exactly one WS frame; arbitrary chunking on the receiving end is
// handled by the Reader's own framing, not by this adapter.
func (c *conn) Send(ctx context.Context, b []byte) error {
	select {
	case c.outCh <- b:
		return nil
	case <-c.done:
		return newTransportWriteError(errClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) Disconnect(ctx context.Context) error {
	c.closeWith(true, nil)
	return nil
}

func (c *conn) Close(err error) {
	c.closeWith(err == nil, err)
}

func (c *conn) closeWith(intentional bool, err error) {
	c.closed.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		close(c.outCh)
		_ = c.ws.Close()
		if c.onDisconnectedFn != nil {
			c.onDisconnectedFn(intentional, err)
		}
	})
}

// Client dials a WebSocket endpoint and behaves as a transport.ClientTransport.
type Client struct {
	url string
	mu  sync.Mutex
	c   *conn
}

// NewClient returns a Client that dials the given ws:// or wss:// URL on
// Connect.
func NewClient(url string) *Client {
	return &Client{url: url}
}

func (cl *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, cl.url, nil)
	if err != nil {
		return newTransportConnectError(err)
	}

	cl.mu.Lock()
	c := newConn(ws, ws.RemoteAddr().String())
	if cl.c != nil {
		// Re-wire callbacks registered before this (re)connect.
		c.onConnectedFn = cl.c.onConnectedFn
		c.onDisconnectedFn = cl.c.onDisconnectedFn
		c.onDataFn = cl.c.onDataFn
	}
	cl.c = c
	cl.mu.Unlock()

	return c.Connect(ctx)
}

func (cl *Client) Disconnect(ctx context.Context) error {
	cl.mu.Lock()
	c := cl.c
	cl.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Disconnect(ctx)
}

func (cl *Client) Close(err error) {
	cl.mu.Lock()
	c := cl.c
	cl.mu.Unlock()
	if c != nil {
		c.Close(err)
	}
}

func (cl *Client) Send(ctx context.Context, b []byte) error {
	cl.mu.Lock()
	c := cl.c
	cl.mu.Unlock()
	if c == nil {
		return newTransportWriteError(errClosed)
	}
	return c.Send(ctx, b)
}

func (cl *Client) OnConnected(fn func()) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.c == nil {
		cl.c = &conn{}
	}
	cl.c.onConnectedFn = fn
}

func (cl *Client) OnDisconnected(fn func(intentional bool, err error)) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.c == nil {
		cl.c = &conn{}
	}
	cl.c.onDisconnectedFn = fn
}

func (cl *Client) OnData(fn func([]byte)) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.c == nil {
		cl.c = &conn{}
	}
	cl.c.onDataFn = fn
}

// Server serves WebSocket connections over an http.Server, handing each
// accepted connection to the registered OnConnection callback as a
// transport.ServerConnTransport. RemoteAddr is the peer's TCP address, or a
// uuid-based id when that address is empty.
type Server struct {
	Addr string
	Path string

	httpServer *http.Server

	onStartedFn func()
	onStoppedFn func(error)
	onConnFn    func(transport.ServerConnTransport)
}

// NewServer returns a Server that will listen on addr and upgrade
// connections at path (defaulting to "/ws").
func NewServer(addr, path string) *Server {
	if path == "" {
		path = "/ws"
	}
	return &Server{Addr: addr, Path: path}
}

func (s *Server) OnStarted(fn func())     { s.onStartedFn = fn }
func (s *Server) OnStopped(fn func(error)) { s.onStoppedFn = fn }
func (s *Server) OnConnection(fn func(transport.ServerConnTransport)) {
	s.onConnFn = fn
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.Path, s.handleUpgrade)
	s.httpServer = &http.Server{Addr: s.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.onStartedFn != nil {
		s.onStartedFn()
	}

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		err = nil
	}
	if s.onStoppedFn != nil {
		s.onStoppedFn(err)
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Close(err error) {
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	remoteAddr := ws.RemoteAddr().String()
	if remoteAddr == "" {
		remoteAddr = uuid.New().String()
	}

	c := newConn(ws, remoteAddr)
	if s.onConnFn != nil {
		s.onConnFn(c)
	}
	// The callback above registers OnConnected/OnData synchronously
	// (typically building a Controller); bring the connection up now so
	// it fires its own OnConnected, per the ServerConnTransport contract.
	// Deliberately not r.Context(): that context is canceled as soon as
	// this handler returns, which would tear the connection down right
	// after the upgrade completes.
	_ = c.Connect(context.Background())
}
