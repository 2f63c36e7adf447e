package wireframe

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// sender is the narrow "send encoded bytes" port the Writer needs from a
// transport ("pass a narrow port into Writer instead of the whole
// transport").
type sender interface {
	Send(b []byte) error
}

// outgoingRecord tracks one message the Writer is responsible for getting
// acknowledged (or responded to).
type outgoingRecord struct {
	message      Message
	sent         bool
	acknowledged bool
	resolveOnAck bool

	ackTimeout      time.Duration
	operationTimeout time.Duration

	ackTimer *time.Timer
	opTimer  *time.Timer

	done     chan struct{}
	once     sync.Once
	value    []byte
	err      error
}

func (r *outgoingRecord) resolve(value []byte, err error) {
	r.once.Do(func() {
		r.value = value
		r.err = err
		close(r.done)
	})
}

// Completion is the one-shot future a caller receives from Writer.Queue: it
// settles exactly once with a decoded response value (for requests), nil
// (for acknowledged non-requests), or an error.
type Completion struct {
	rec *outgoingRecord
}

// Wait blocks until the completion settles.
func (c Completion) Wait() ([]byte, error) {
	<-c.rec.done
	return c.rec.value, c.rec.err
}

// Done exposes the underlying channel for select-based waiting.
func (c Completion) Done() <-chan struct{} { return c.rec.done }

// Writer places messages assigned an ID by the Emitter into a register,
// encodes and pushes them to the transport, tracks ack/response
// correlation and timeouts, and implements the resume protocol.
type Writer struct {
	logger Logger

	resumptionEnabled bool

	mu        sync.Mutex
	connected bool
	transport sender
	records   map[MessageID]*outgoingRecord

	onError func(error)
}

// NewWriter constructs a disconnected Writer. Call SetConnectionOpened once
// a transport is available. resumptionEnabled selects what
// SetConnectionLost does with in-flight records: retain them for replay on
// reconnect (true) or drop them immediately, same as SetConnectionClosed
// (false).
func NewWriter(logger Logger, resumptionEnabled bool, onError func(error)) *Writer {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Writer{
		logger:            logger,
		resumptionEnabled: resumptionEnabled,
		records:           make(map[MessageID]*outgoingRecord),
		onError:           onError,
	}
}

// Send is fire-and-forget: if connected, encode and forward to the
// transport and return true; otherwise return false. Used for acks and,
// at the controller's discretion, for responses. Never retried.
func (w *Writer) Send(m Message) bool {
	w.mu.Lock()
	connected := w.connected
	transport := w.transport
	w.mu.Unlock()

	if !connected {
		return false
	}

	data, err := Encode(m)
	if err != nil {
		w.emitError(errors.Wrap(err, "writer: encode failed"))
		return true
	}
	if err := transport.Send(data); err != nil {
		w.emitError(newTransportWriteError(err))
	}
	return true
}

// QueueOptions configures a reliable Queue call.
type QueueOptions struct {
	AckTimeout       time.Duration
	OperationTimeout time.Duration
	// ResolveOnAck selects the completion semantics: true for
	// non-request messages (settle on ack), false for requests (settle
	// on response).
	ResolveOnAck bool
}

// Queue always inserts m into the outgoing register and attempts delivery
// immediately if connected. It returns a Completion that settles as follows:
// on ack (non-requests), on response (requests), or with
// NetworkTimeoutError if the ack or operation timer fires first.
func (w *Writer) Queue(m Message, opts QueueOptions) Completion {
	rec := &outgoingRecord{
		message:           m,
		resolveOnAck:      opts.ResolveOnAck,
		ackTimeout:        opts.AckTimeout,
		operationTimeout:  opts.OperationTimeout,
		done:              make(chan struct{}),
	}

	w.mu.Lock()
	w.records[m.ID] = rec
	w.mu.Unlock()

	w.sendMessage(rec)

	return Completion{rec: rec}
}

// sendMessage performs (or re-performs, on resume) delivery of rec. Caller
// must not hold w.mu.
func (w *Writer) sendMessage(rec *outgoingRecord) {
	w.mu.Lock()
	connected := w.connected
	transport := w.transport
	w.mu.Unlock()

	if !connected {
		return
	}

	rec.sent = true
	rec.acknowledged = false
	w.armTimers(rec)

	data, err := Encode(rec.message)
	if err != nil {
		w.emitError(errors.Wrap(err, "writer: encode failed"))
		return
	}
	if err := transport.Send(data); err != nil {
		w.emitError(newTransportWriteError(err))
	}
}

func (w *Writer) armTimers(rec *outgoingRecord) {
	if rec.ackTimer != nil {
		rec.ackTimer.Stop()
	}
	if rec.ackTimeout > 0 {
		id := rec.message.ID
		rec.ackTimer = time.AfterFunc(rec.ackTimeout, func() { w.onAckTimeout(id) })
	}

	if rec.message.Type == Request && rec.opTimer == nil && rec.operationTimeout > 0 {
		id := rec.message.ID
		rec.opTimer = time.AfterFunc(rec.operationTimeout, func() { w.onOperationTimeout(id) })
	}
}

func (w *Writer) onAckTimeout(id MessageID) {
	w.mu.Lock()
	rec, ok := w.records[id]
	if ok {
		rec.ackTimer = nil
	}
	w.mu.Unlock()

	if !ok || rec.acknowledged {
		return
	}
	// The record stays registered so a late ack or a resume can still
	// clear it; only the caller's completion is rejected here.
	timeoutErr := newNetworkTimeoutError(id, "ack")
	w.emitError(timeoutErr)
	rec.resolve(nil, timeoutErr)
}

func (w *Writer) onOperationTimeout(id MessageID) {
	w.mu.Lock()
	rec, ok := w.records[id]
	if ok {
		delete(w.records, id)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	if rec.ackTimer != nil {
		rec.ackTimer.Stop()
	}

	select {
	case <-rec.done:
		// already settled
	default:
		rec.resolve(nil, newNetworkTimeoutError(id, "operation"))
	}
}

// OnAck marks id acknowledged, clears its ack timer, and resolves its
// completion if ResolveOnAck. For requests the record remains until the
// response arrives. Re-acking an already-acked id is a no-op.
func (w *Writer) OnAck(id MessageID) {
	w.mu.Lock()
	rec, ok := w.records[id]
	if !ok || rec.acknowledged {
		w.mu.Unlock()
		return
	}
	rec.acknowledged = true
	if rec.ackTimer != nil {
		rec.ackTimer.Stop()
		rec.ackTimer = nil
	}
	if rec.resolveOnAck {
		delete(w.records, id)
	}
	w.mu.Unlock()

	if rec.resolveOnAck {
		rec.resolve(nil, nil)
	}
}

// OnResponse deletes the record and its timers and resolves its completion
// with value.
func (w *Writer) OnResponse(id MessageID, value []byte, responseErr error) {
	w.mu.Lock()
	rec, ok := w.records[id]
	if ok {
		delete(w.records, id)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	if rec.ackTimer != nil {
		rec.ackTimer.Stop()
	}
	if rec.opTimer != nil {
		rec.opTimer.Stop()
	}
	rec.resolve(value, responseErr)
}

// SetConnectionLost cancels all timers. If resumption is enabled every
// record is retained so delivery can resume once the connection comes
// back; otherwise every record is dropped, the same as SetConnectionClosed.
func (w *Writer) SetConnectionLost() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		return
	}
	w.connected = false
	for _, rec := range w.records {
		if rec.ackTimer != nil {
			rec.ackTimer.Stop()
			rec.ackTimer = nil
		}
		if rec.opTimer != nil {
			rec.opTimer.Stop()
			rec.opTimer = nil
		}
	}
	if !w.resumptionEnabled {
		w.records = make(map[MessageID]*outgoingRecord)
	}
}

// SetConnectionOpened flips to connected and flushes retained records:
// for !sent || isResumed, the record is (re)sent so the remote can (re)ack
// it.
func (w *Writer) SetConnectionOpened(transport sender, isResumed bool) {
	w.mu.Lock()
	if w.connected {
		w.mu.Unlock()
		return
	}
	w.connected = true
	w.transport = transport
	var toFlush []*outgoingRecord
	for _, rec := range w.records {
		if !rec.sent || isResumed {
			toFlush = append(toFlush, rec)
		}
	}
	w.mu.Unlock()

	// IDs are assigned monotonically, so sorting by id reproduces the
	// source's "insertion order" resend sequence regardless of map
	// iteration order.
	sort.Slice(toFlush, func(i, j int) bool { return toFlush[i].message.ID < toFlush[j].message.ID })
	for _, rec := range toFlush {
		w.sendMessage(rec)
	}
}

// SetConnectionClosed flips to disconnected, cancels all timers, and drops
// every record. Pending completions are left pending. Used on intentional
// close when resumption is foregone.
func (w *Writer) SetConnectionClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.connected = false
	w.transport = nil
	for _, rec := range w.records {
		if rec.ackTimer != nil {
			rec.ackTimer.Stop()
		}
		if rec.opTimer != nil {
			rec.opTimer.Stop()
		}
	}
	w.records = make(map[MessageID]*outgoingRecord)
}

func (w *Writer) emitError(err error) {
	w.logger.Error("writer error", "error", err)
	if w.onError != nil {
		w.onError(err)
	}
}
