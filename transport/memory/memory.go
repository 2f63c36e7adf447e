// Package memory provides an in-process loopback transport pair: two
// ClientTransports wired back-to-back by buffered byte channels, with no
// network, serialization, or OS involvement.
//
// Grounded on a createTestTCPPair-style test helper, generalized from a
// throwaway fixture into a reusable transport suitable for example
// programs and end-to-end tests alike.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/wireframe-go/wireframe/transport"
)

// ErrClosed is returned by Send once a side has closed (and by Client.Send
// before its first Connect).
var ErrClosed = errors.New("memory: transport closed")

// pipe is the shared plumbing between the two ends of a connected pair: a
// buffered channel in each direction plus the bookkeeping needed to close
// both ends together.
type pipe struct {
	toServer chan []byte
	toClient chan []byte

	mu     sync.Mutex
	closed bool
}

func newPipe() *pipe {
	return &pipe{
		toServer: make(chan []byte, 64),
		toClient: make(chan []byte, 64),
	}
}

func (p *pipe) close() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	close(p.toServer)
	close(p.toClient)
	return true
}

// NewPair returns two connected ClientTransports: dial them directly, or
// use one as the connection handed to a ServerTransport's OnConnection
// callback via Listener.
func NewPair() (transport.ClientTransport, transport.ClientTransport) {
	p := newPipe()
	client := &conn{p: p, out: p.toServer, in: p.toClient, remoteAddr: "memory-server"}
	server := &conn{p: p, out: p.toClient, in: p.toServer, remoteAddr: "memory-client"}
	return client, server
}

// conn is a transport.ServerConnTransport (and, for the dialing side, a
// transport.ClientTransport) backed by a pipe. The zero value is not
// usable; construct via NewPair or Listener.
type conn struct {
	p   *pipe
	out chan<- []byte
	in  <-chan []byte

	remoteAddr string

	mu      sync.Mutex
	started bool
	closed  bool

	onConnectedFn    func()
	onDisconnectedFn func(intentional bool, err error)
	onDataFn         func([]byte)
}

func (c *conn) OnConnected(fn func())                              { c.onConnectedFn = fn }
func (c *conn) OnDisconnected(fn func(intentional bool, err error)) { c.onDisconnectedFn = fn }
func (c *conn) OnData(fn func([]byte))                             { c.onDataFn = fn }
func (c *conn) RemoteAddr() string                                 { return c.remoteAddr }

// Connect starts the receive loop and fires OnConnected. Safe to call
// once; per the transport contract's single-threaded-per-connection
// model, calling it again is a no-op.
func (c *conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	go c.receiveLoop()

	if c.onConnectedFn != nil {
		c.onConnectedFn()
	}
	return nil
}

func (c *conn) receiveLoop() {
	for b := range c.in {
		if c.onDataFn != nil {
			c.onDataFn(b)
		}
	}
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if !already && c.onDisconnectedFn != nil {
		// The channel closing with no error means the peer (or this
		// side, via Disconnect) shut the pipe down cleanly rather than
		// erroring out, so this is reported as intentional too.
		c.onDisconnectedFn(true, nil)
	}
}

// Disconnect closes the shared pipe intentionally; both ends' receive
// loops drain and report an intentional disconnect. Safe to call on a
// conn that was registered for callbacks but never actually Connect-ed
// (p is nil in that case; there is no pipe to close, but the caller still
// gets its disconnected notification).
func (c *conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	p := c.p
	c.mu.Unlock()

	if (p == nil || p.close()) && c.onDisconnectedFn != nil {
		c.onDisconnectedFn(true, nil)
	}
	return nil
}

// Close closes the pipe immediately, attributing the closure to err. Same
// nil-pipe handling as Disconnect.
func (c *conn) Close(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	p := c.p
	c.mu.Unlock()

	if (p == nil || p.close()) && c.onDisconnectedFn != nil {
		c.onDisconnectedFn(err == nil, err)
	}
}

// Send delivers b to the peer's OnData callback, on the peer's own
// receive-loop goroutine, preserving arrival order. The slice is copied so
// the caller may reuse its buffer.
func (c *conn) Send(ctx context.Context, b []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	cp := make([]byte, len(b))
	copy(cp, b)

	select {
	case c.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Client is a reconnect-capable transport.ClientTransport that dials a
// Listener fresh on every Connect call, mirroring the "allocate a new conn
// per dial" shape of transport/ws.Client.Connect. A bare *conn returned by
// NewPair treats a second Connect as a no-op once started, so it can never
// fire OnConnected again after a disconnect; wrapping one end of NewPair in
// a Client instead, dialing a Listener, is what lets a persistent
// wireframe.Client reconnect loop actually re-establish a session against
// an in-process transport rather than silently reusing an already-closed
// conn.
type Client struct {
	listener *Listener

	mu sync.Mutex
	c  *conn
}

// NewClient returns a Client that dials listener fresh on every Connect.
func NewClient(listener *Listener) *Client {
	return &Client{listener: listener}
}

func (cl *Client) Connect(ctx context.Context) error {
	t, err := cl.listener.Dial(ctx)
	if err != nil {
		return err
	}
	c := t.(*conn)

	cl.mu.Lock()
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
		return ErrClosed
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

// Listener is a transport.ServerTransport that hands out in-process
// connections as they are dialed via Dial, rather than listening on a
// real socket.
type Listener struct {
	mu          sync.Mutex
	onStartedFn func()
	onStoppedFn func(error)
	onConnFn    func(transport.ServerConnTransport)

	dialCh chan struct{}
	stopCh chan struct{}
}

// NewListener constructs an idle Listener; call Start to begin accepting
// connections created by Dial.
func NewListener() *Listener {
	return &Listener{dialCh: make(chan struct{}), stopCh: make(chan struct{})}
}

func (l *Listener) OnStarted(fn func())                        { l.onStartedFn = fn }
func (l *Listener) OnStopped(fn func(error))                    { l.onStoppedFn = fn }
func (l *Listener) OnConnection(fn func(transport.ServerConnTransport)) { l.onConnFn = fn }

// Start marks the listener live and blocks until the context is canceled
// or Stop/Close is called.
func (l *Listener) Start(ctx context.Context) error {
	if l.onStartedFn != nil {
		l.onStartedFn()
	}

	select {
	case <-ctx.Done():
		if l.onStoppedFn != nil {
			l.onStoppedFn(nil)
		}
		return ctx.Err()
	case <-l.stopCh:
		if l.onStoppedFn != nil {
			l.onStoppedFn(nil)
		}
		return nil
	}
}

func (l *Listener) Stop(ctx context.Context) error {
	l.Close(nil)
	return nil
}

func (l *Listener) Close(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}

// Dial creates a new connected pair and hands the server side to the
// listener's registered OnConnection callback, then calls Connect on the
// server side itself so it fires its own OnConnected, per the
// ServerConnTransport contract. The returned client side is not yet
// connected; the caller calls its Connect.
func (l *Listener) Dial(ctx context.Context) (transport.ClientTransport, error) {
	client, server := NewPair()
	serverConn := server.(*conn)
	if l.onConnFn != nil {
		l.onConnFn(serverConn)
	}
	// The callback above (typically building a Controller) registers
	// OnConnected/OnData synchronously, so it's safe to bring the
	// server side up now: per the ServerConnTransport contract, the
	// accepted connection must fire its own OnConnected rather than
	// waiting for an explicit Connect call.
	_ = serverConn.Connect(ctx)
	return client, nil
}
