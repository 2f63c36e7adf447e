package wireframe

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/wireframe-go/wireframe/transport"
)

// Controller wires one transport to a Reader/Writer/Emitter trio and
// implements the inbound routing and transport-lifecycle policy for a connection.
// One Controller exists per logical connection: a Client owns exactly one
// (reused across reconnects), and a Server spins up a fresh Controller for
// every accepted connection.
type Controller struct {
	logger     Logger
	remoteAddr string

	t transport.ClientTransport

	reader  *Reader
	writer  *Writer
	emitter *Emitter

	connected atomic.Bool

	// reconnectSignal fires (non-blocking) each time the transport ends
	// unintentionally, so a persistent Client knows to retry.
	reconnectSignal chan struct{}

	onConnectedFn    func()
	onDisconnectedFn func(intentional bool, err error)
	onMessageFn      func(Message)
	onErrorFn        func(error)
}

func newController(t transport.ClientTransport, cfg *config, remoteAddr string) *Controller {
	logger := withScope(cfg.logger, "remote_addr", remoteAddr)

	ctrl := &Controller{
		logger:          logger,
		remoteAddr:      remoteAddr,
		t:               t,
		reconnectSignal: make(chan struct{}, 1),
	}

	ctrl.writer = NewWriter(logger, cfg.resumptionEnabled, ctrl.reportError)
	ctrl.emitter = NewEmitter(ctrl.writer, cfg.ackTimeout, cfg.defaultOperationTimeout, logger, ctrl.reportError)
	ctrl.reader = NewReader(ctrl.handleMessage, ctrl.handleReaderError)

	t.OnConnected(ctrl.handleConnected)
	t.OnDisconnected(ctrl.handleDisconnected)
	t.OnData(ctrl.reader.Write)

	return ctrl
}

// Emitter exposes the typed send/on facade for this connection.
func (c *Controller) Emitter() *Emitter { return c.emitter }

// RemoteAddr is the connected peer's address, populated for server-side
// controllers, taken from the transport's RemoteAddr.
func (c *Controller) RemoteAddr() string { return c.remoteAddr }

// IsConnected reports whether the underlying transport is currently up.
func (c *Controller) IsConnected() bool { return c.connected.Load() }

// OnConnected registers a callback invoked each time the transport
// connects (including reconnects).
func (c *Controller) OnConnected(fn func()) { c.onConnectedFn = fn }

// OnDisconnected registers a callback invoked each time the transport
// disconnects, intentionally or not.
func (c *Controller) OnDisconnected(fn func(intentional bool, err error)) {
	c.onDisconnectedFn = fn
}

// OnMessage registers an observer invoked for every non-system inbound
// message, after it has been dispatched to its channel handlers.
func (c *Controller) OnMessage(fn func(Message)) { c.onMessageFn = fn }

// OnError registers the controller's error observer. Errors are
// always logged regardless of whether a callback is registered.
func (c *Controller) OnError(fn func(error)) { c.onErrorFn = fn }

func (c *Controller) handleConnected() {
	c.connected.Store(true)

	// The reference behavior always passes isResumed=true to
	// setConnectionOpened, so a fresh connection and a resumed one are
	// handled identically here. Reproduced faithfully rather than guessed
	// at; see DESIGN.md "Open Question decisions" item 1.
	//
	// TODO: thread a real "was this connection resumed" signal from the
	// reconnect loop once the transport contract can distinguish a first
	// connect from a reconnect.
	c.writer.SetConnectionOpened(transportSender{ctx: context.Background(), t: c.t}, true)

	c.logger.Info("connected")
	if c.onConnectedFn != nil {
		c.onConnectedFn()
	}
}

func (c *Controller) handleDisconnected(intentional bool, err error) {
	c.reader.Clear()
	c.connected.Store(false)

	if err != nil || !intentional {
		c.writer.SetConnectionLost()
		select {
		case c.reconnectSignal <- struct{}{}:
		default:
		}
	} else {
		c.writer.SetConnectionClosed()
	}

	c.logger.Info("disconnected", "intentional", intentional, "error", err)
	if c.onDisconnectedFn != nil {
		c.onDisconnectedFn(intentional, err)
	}
}

// handleMessage implements the inbound routing for one decoded message.
func (c *Controller) handleMessage(m Message) {
	if m.Type != System && m.Type != Response {
		c.sendAck(m.ID)
	}

	switch m.Type {
	case System:
		if m.Channel == ackChannel {
			if id, ok := parseAckID(m); ok {
				c.writer.OnAck(id)
			}
		}
		// reserved: other system channels are a no-op.
	case Response:
		c.handleResponse(m)
		c.observeMessage(m)
	case Event:
		c.emitter.DispatchEvent(m)
		c.observeMessage(m)
	case Binary:
		c.emitter.DispatchBinary(m)
		c.observeMessage(m)
	case Request:
		go c.handleRequest(m)
		c.observeMessage(m)
	case Stream:
		// reserved; never produced.
		c.observeMessage(m)
	}
}

func (c *Controller) sendAck(id MessageID) {
	payload, err := NewJSONPayload(id)
	if err != nil {
		c.reportError(err)
		return
	}
	ack := Message{ID: c.emitter.NextID(), Type: System, Channel: ackChannel, Payloads: []Payload{payload}}
	c.writer.Send(ack)
}

func parseAckID(m Message) (MessageID, bool) {
	if len(m.Payloads) == 0 || m.Payloads[0].Kind != JsonPayload {
		return 0, false
	}
	var id MessageID
	if err := json.Unmarshal(m.Payloads[0].Json, &id); err != nil {
		return 0, false
	}
	return id, true
}

func (c *Controller) handleResponse(m Message) {
	if len(m.Payloads) == 0 || m.Payloads[0].Kind != JsonPayload {
		c.reportError(newDecodeError(nil))
		return
	}
	var body responseBody
	if err := json.Unmarshal(m.Payloads[0].Json, &body); err != nil {
		c.reportError(newDecodeError(err))
		return
	}
	if body.Success {
		c.writer.OnResponse(body.RequestID, body.Value, nil)
	} else {
		c.writer.OnResponse(body.RequestID, nil, newRemoteError(body.Error))
	}
}

// handleRequest invokes the registered handler and sends back a Response.
// Run on its own goroutine so a slow handler does not stall the delivery
// of subsequent inbound messages (ack for this Request has already been
// sent by the time this runs).
func (c *Controller) handleRequest(m Message) {
	value, handlerErr, found := c.emitter.InvokeRequest(m)

	body := responseBody{RequestID: m.ID}
	switch {
	case !found:
		body.Success = false
		body.Error = genericRequestErrorMessage
	case handlerErr != nil:
		body.Success = false
		body.Error = handlerErr.Error()
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			body.Success = false
			body.Error = genericRequestErrorMessage
			c.reportError(err)
		} else {
			body.Success = true
			body.Value = raw
		}
	}

	payload, err := NewJSONPayload(body)
	if err != nil {
		c.reportError(err)
		return
	}
	resp := Message{ID: c.emitter.NextID(), Type: Response, Channel: m.Channel, Payloads: []Payload{payload}}
	c.writer.Send(resp)
}

func (c *Controller) observeMessage(m Message) {
	if c.onMessageFn != nil {
		c.onMessageFn(m)
	}
}

// handleReaderError treats a parse failure as fatal to the connection: the
// transport is closed with the error, which drives a normal disconnected
// flow.
func (c *Controller) handleReaderError(err error) {
	c.reportError(err)
	c.t.Close(err)
}

// reportError logs every error unconditionally, then forwards to the
// registered observer if any, so an error is never silently dropped even
// when no observer is registered.
func (c *Controller) reportError(err error) {
	c.logger.Error("connection error", "error", err)
	if c.onErrorFn != nil {
		c.onErrorFn(err)
	}
}

// transportSender adapts a transport.ClientTransport down to the narrow
// sender port Writer needs.
type transportSender struct {
	ctx context.Context
	t   transport.ClientTransport
}

func (s transportSender) Send(b []byte) error {
	return s.t.Send(s.ctx, b)
}
