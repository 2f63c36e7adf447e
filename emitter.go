package wireframe

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RequestHandler answers a Request with a value to marshal into the
// Response, or an error. Returning a *RequestError sends its Message
// verbatim to the requester; any other error produces the generic remote
// error message.
type RequestHandler func(args []json.RawMessage) (any, error)

// EventHandler handles a received Event.
type EventHandler func(args []json.RawMessage)

// BinaryHandler handles a received Binary event; data is the message's
// binary payload, prepended conceptually ahead of args.
type BinaryHandler func(data []byte, args []json.RawMessage)

type eventEntry struct {
	fn   EventHandler
	once bool
}

type binaryEntry struct {
	fn   BinaryHandler
	once bool
}

// RequestOptions configures SendRequest.
type RequestOptions struct {
	// Timeout overrides the Emitter's defaultOperationTimeout for this
	// request. Zero means "use the default."
	Timeout time.Duration
}

// Emitter is the public send/on facade: it assigns monotonically
// increasing message IDs, builds typed Messages for Queue, and routes
// inbound Event/Binary/Request messages to user-registered callbacks.
type Emitter struct {
	writer *Writer
	logger Logger

	ackTimeout              time.Duration
	defaultOperationTimeout time.Duration

	nextID atomic.Uint32

	mu              sync.Mutex
	eventHandlers   map[string][]*eventEntry
	binaryHandlers  map[string][]*binaryEntry
	requestHandlers map[string]RequestHandler

	onHandlerError func(error)
}

// NewEmitter constructs an Emitter bound to writer. ackTimeout applies to
// every Queue call this Emitter makes; defaultOperationTimeout is used by
// SendRequest when RequestOptions.Timeout is zero.
func NewEmitter(writer *Writer, ackTimeout, defaultOperationTimeout time.Duration, logger Logger, onHandlerError func(error)) *Emitter {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Emitter{
		writer:                  writer,
		logger:                  logger,
		ackTimeout:              ackTimeout,
		defaultOperationTimeout: defaultOperationTimeout,
		eventHandlers:           make(map[string][]*eventEntry),
		binaryHandlers:          make(map[string][]*binaryEntry),
		requestHandlers:         make(map[string]RequestHandler),
		onHandlerError:          onHandlerError,
	}
}

// NextID assigns the next strictly-increasing, never-reused MessageID for
// this direction.
func (e *Emitter) NextID() MessageID {
	return MessageID(e.nextID.Add(1))
}

func argsPayload(args []any) (Payload, error) {
	if args == nil {
		args = []any{}
	}
	return NewJSONPayload(args)
}

// SendEvent builds an Event Message and queues it for reliable delivery.
// The returned Completion settles with (nil, nil) on ack or
// (nil, NetworkTimeoutError) on ack timeout.
func (e *Emitter) SendEvent(channel string, args ...any) (Completion, error) {
	payload, err := argsPayload(args)
	if err != nil {
		return Completion{}, err
	}
	m := Message{ID: e.NextID(), Type: Event, Channel: channel, Payloads: []Payload{payload}}
	return e.writer.Queue(m, QueueOptions{AckTimeout: e.ackTimeout, ResolveOnAck: true}), nil
}

// SendBinary builds a Binary Message (args payload followed by a raw byte
// payload) and queues it for reliable delivery.
func (e *Emitter) SendBinary(channel string, data []byte, args ...any) (Completion, error) {
	payload, err := argsPayload(args)
	if err != nil {
		return Completion{}, err
	}
	m := Message{
		ID:      e.NextID(),
		Type:    Binary,
		Channel: channel,
		Payloads: []Payload{
			payload,
			NewBinaryPayload(data),
		},
	}
	return e.writer.Queue(m, QueueOptions{AckTimeout: e.ackTimeout, ResolveOnAck: true}), nil
}

// SendRequest builds a Request Message and queues it. The returned
// Completion settles with the decoded response value, a remote error, or
// NetworkTimeoutError when the operation timeout elapses first.
func (e *Emitter) SendRequest(channel string, opts RequestOptions, args ...any) (Completion, error) {
	payload, err := argsPayload(args)
	if err != nil {
		return Completion{}, err
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = e.defaultOperationTimeout
	}
	m := Message{ID: e.NextID(), Type: Request, Channel: channel, Payloads: []Payload{payload}}
	return e.writer.Queue(m, QueueOptions{
		AckTimeout:       e.ackTimeout,
		OperationTimeout: timeout,
		ResolveOnAck:     false,
	}), nil
}

// OnEvent registers a persistent Event handler for channel. Multiple
// handlers per channel are invoked in insertion order.
func (e *Emitter) OnEvent(channel string, fn EventHandler) {
	e.addEventHandler(channel, fn, false)
}

// OnceEvent registers an Event handler removed after its first invocation.
func (e *Emitter) OnceEvent(channel string, fn EventHandler) {
	e.addEventHandler(channel, fn, true)
}

func (e *Emitter) addEventHandler(channel string, fn EventHandler, once bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventHandlers[channel] = append(e.eventHandlers[channel], &eventEntry{fn: fn, once: once})
}

// OnBinary registers a persistent Binary handler for channel.
func (e *Emitter) OnBinary(channel string, fn BinaryHandler) {
	e.addBinaryHandler(channel, fn, false)
}

// OnceBinary registers a Binary handler removed after its first invocation.
func (e *Emitter) OnceBinary(channel string, fn BinaryHandler) {
	e.addBinaryHandler(channel, fn, true)
}

func (e *Emitter) addBinaryHandler(channel string, fn BinaryHandler, once bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.binaryHandlers[channel] = append(e.binaryHandlers[channel], &binaryEntry{fn: fn, once: once})
}

// OnRequest registers channel's request handler. At most one handler per
// channel is kept; the last registration wins.
func (e *Emitter) OnRequest(channel string, fn RequestHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestHandlers[channel] = fn
}

// DispatchEvent invokes every handler registered for m.Channel with m's
// argument array, removing "once" handlers afterward. Handler panics are
// recovered and surfaced the same way a returned error would be.
func (e *Emitter) DispatchEvent(m Message) {
	args := decodeArgs(m)

	e.mu.Lock()
	entries := append([]*eventEntry(nil), e.eventHandlers[m.Channel]...)
	e.mu.Unlock()

	var remaining []*eventEntry
	for _, entry := range entries {
		e.invokeEvent(entry, args)
		if !entry.once {
			remaining = append(remaining, entry)
		}
	}

	e.mu.Lock()
	e.eventHandlers[m.Channel] = remaining
	e.mu.Unlock()
}

func (e *Emitter) invokeEvent(entry *eventEntry, args []json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.handlerError(panicToError(r))
		}
	}()
	entry.fn(args)
}

// DispatchBinary invokes every handler registered for m.Channel with the
// message's binary payload and argument array.
func (e *Emitter) DispatchBinary(m Message) {
	args := decodeArgs(m)
	var data []byte
	if len(m.Payloads) > 1 && m.Payloads[1].Kind == BinaryPayload {
		data = m.Payloads[1].Binary
	}

	e.mu.Lock()
	entries := append([]*binaryEntry(nil), e.binaryHandlers[m.Channel]...)
	e.mu.Unlock()

	var remaining []*binaryEntry
	for _, entry := range entries {
		e.invokeBinary(entry, data, args)
		if !entry.once {
			remaining = append(remaining, entry)
		}
	}

	e.mu.Lock()
	e.binaryHandlers[m.Channel] = remaining
	e.mu.Unlock()
}

func (e *Emitter) invokeBinary(entry *binaryEntry, data []byte, args []json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.handlerError(panicToError(r))
		}
	}()
	entry.fn(data, args)
}

// InvokeRequest runs m.Channel's registered request handler, recovering
// panics into the generic remote error message. found is false when no
// handler is registered for the channel.
func (e *Emitter) InvokeRequest(m Message) (value any, err error, found bool) {
	e.mu.Lock()
	handler, ok := e.requestHandlers[m.Channel]
	e.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	args := decodeArgs(m)

	defer func() {
		if r := recover(); r != nil {
			err = newRemoteError(genericRequestErrorMessage)
			found = true
			e.handlerError(panicToError(r))
		}
	}()

	v, handlerErr := handler(args)
	if handlerErr == nil {
		return v, nil, true
	}

	if reqErr, ok := handlerErr.(*RequestError); ok {
		return nil, newRemoteError(reqErr.Message), true
	}
	e.handlerError(handlerErr)
	return nil, newRemoteError(genericRequestErrorMessage), true
}

func (e *Emitter) handlerError(err error) {
	e.logger.Error("handler error", "error", err)
	if e.onHandlerError != nil {
		e.onHandlerError(err)
	}
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return newNetworkError(fmt.Sprintf("panic in handler: %v", r))
}

func decodeArgs(m Message) []json.RawMessage {
	if len(m.Payloads) == 0 || m.Payloads[0].Kind != JsonPayload {
		return nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(m.Payloads[0].Json, &args); err != nil {
		return nil
	}
	return args
}
