package wireframe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wireframe-go/wireframe/transport"
)

// Client is the client-side connection controller: it owns a
// transport.ClientTransport, a Reader/Writer/Emitter trio, and the
// persistent-reconnect policy.
type Client struct {
	ctrl *Controller
	t    transport.ClientTransport
	cfg  *config

	stopCh     chan struct{}
	persistent atomic.Bool
}

// NewClient constructs a Client around t. The connection is not started
// until Connect or Start is called.
func NewClient(t transport.ClientTransport, opts ...Option) *Client {
	cfg := newConfig(opts)
	return &Client{
		ctrl: newController(t, cfg, ""),
		t:    t,
		cfg:  cfg,
	}
}

// SendEvent, SendBinary, SendRequest, OnEvent/OnceEvent, OnBinary/OnceBinary
// and OnRequest delegate to the connection's Emitter.
func (cl *Client) SendEvent(channel string, args ...any) (Completion, error) {
	return cl.ctrl.Emitter().SendEvent(channel, args...)
}

func (cl *Client) SendBinary(channel string, data []byte, args ...any) (Completion, error) {
	return cl.ctrl.Emitter().SendBinary(channel, data, args...)
}

func (cl *Client) SendRequest(channel string, opts RequestOptions, args ...any) (Completion, error) {
	return cl.ctrl.Emitter().SendRequest(channel, opts, args...)
}

func (cl *Client) OnEvent(channel string, fn EventHandler)   { cl.ctrl.Emitter().OnEvent(channel, fn) }
func (cl *Client) OnceEvent(channel string, fn EventHandler) { cl.ctrl.Emitter().OnceEvent(channel, fn) }
func (cl *Client) OnBinary(channel string, fn BinaryHandler) { cl.ctrl.Emitter().OnBinary(channel, fn) }
func (cl *Client) OnceBinary(channel string, fn BinaryHandler) {
	cl.ctrl.Emitter().OnceBinary(channel, fn)
}
func (cl *Client) OnRequest(channel string, fn RequestHandler) { cl.ctrl.Emitter().OnRequest(channel, fn) }

// OnConnected, OnDisconnected, OnMessage and OnError register connection
// lifecycle/observability callbacks.
func (cl *Client) OnConnected(fn func())                                 { cl.ctrl.OnConnected(fn) }
func (cl *Client) OnDisconnected(fn func(intentional bool, err error))    { cl.ctrl.OnDisconnected(fn) }
func (cl *Client) OnMessage(fn func(Message))                            { cl.ctrl.OnMessage(fn) }
func (cl *Client) OnError(fn func(error))                                { cl.ctrl.OnError(fn) }

// IsConnected reports whether the transport is currently up.
func (cl *Client) IsConnected() bool { return cl.ctrl.IsConnected() }

// Connect performs a single connection attempt.
func (cl *Client) Connect(ctx context.Context) error {
	if err := cl.t.Connect(ctx); err != nil {
		return newTransportConnectError(err)
	}
	return nil
}

// Disconnect exits persistent mode (if running) and gracefully
// disconnects.
func (cl *Client) Disconnect(ctx context.Context) error {
	cl.exitPersistent()
	return cl.t.Disconnect(ctx)
}

// Start enters persistent mode: it repeatedly attempts
// transport.Connect, retrying after cfg.reconnectDelay on failure or on an
// unintentional disconnect, until ctx is done or Disconnect is called.
// Start returns once the first connection attempt's outcome is known; the
// reconnect loop continues in the background.
func (cl *Client) Start(ctx context.Context) error {
	cl.persistent.Store(true)
	cl.stopCh = make(chan struct{})

	firstAttempt := make(chan error, 1)
	go cl.persistentLoop(ctx, firstAttempt)

	select {
	case err := <-firstAttempt:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cl *Client) persistentLoop(ctx context.Context, firstAttempt chan<- error) {
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.stopCh:
			return
		default:
		}

		err := cl.t.Connect(ctx)
		if first {
			firstAttempt <- err
			first = false
		}

		if err != nil {
			cl.ctrl.logger.Warn("reconnect attempt failed", "error", err)
			select {
			case <-time.After(cl.cfg.reconnectDelay):
				continue
			case <-ctx.Done():
				return
			case <-cl.stopCh:
				return
			}
		}

		select {
		case <-cl.ctrl.reconnectSignal:
		case <-ctx.Done():
			return
		case <-cl.stopCh:
			return
		}

		select {
		case <-time.After(cl.cfg.reconnectDelay):
		case <-ctx.Done():
			return
		case <-cl.stopCh:
			return
		}
	}
}

func (cl *Client) exitPersistent() {
	if cl.persistent.CompareAndSwap(true, false) && cl.stopCh != nil {
		close(cl.stopCh)
	}
}
