package wireframe

import "fmt"

// Reader is an incremental parser atop a byte queue. It accepts
// arbitrary-sized byte chunks from a transport and emits whole Messages in
// arrival order, or a parse error, until Clear is called.
//
// Reader is not safe for concurrent use. Per the single-threaded
// cooperative scheduling model, all calls to Write/Clear for one
// connection must come from that connection's own event loop goroutine.
// Write may be called reentrantly from within an OnMessage/OnError
// callback; the reentrancy guard below makes that safe.
type Reader struct {
	queue       [][]byte
	available   int
	headOffset  int
	generation  uint64
	parsing     bool

	phase        parsePhase
	id           MessageID
	typ          MessageType
	channelLen   int
	channel      string
	payloadCount int
	payloads     []Payload
	curKind      PayloadKind
	curSize      int

	onMessage func(Message)
	onError   func(error)
}

type parsePhase int

const (
	phaseMarker parsePhase = iota
	phaseHead
	phaseChannelAndCount
	phasePayloadHeader
	phasePayloadData
)

// NewReader constructs a Reader that invokes onMessage for each fully
// parsed Message and onError on InvalidFramingError/DecodeError.
func NewReader(onMessage func(Message), onError func(error)) *Reader {
	return &Reader{onMessage: onMessage, onError: onError}
}

// Write appends chunk to the queue and drives the parse loop as far as the
// buffered bytes allow. Write(nil) and Write([]byte{}) are no-ops.
func (r *Reader) Write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	r.queue = append(r.queue, chunk)
	r.available += len(chunk)

	if r.parsing {
		// A pump() further up the call stack (we are being invoked
		// reentrantly from an OnMessage/OnError callback) will observe
		// the bytes we just enqueued on its next loop iteration.
		return
	}

	r.pump()
}

// Clear discards buffered bytes and suppresses the final emission of any
// parse currently suspended mid-message.
func (r *Reader) Clear() {
	r.generation++
	r.queue = nil
	r.available = 0
	r.headOffset = 0
	r.resetMessageState()
}

func (r *Reader) resetMessageState() {
	r.phase = phaseMarker
	r.id = 0
	r.typ = 0
	r.channelLen = 0
	r.channel = ""
	r.payloadCount = 0
	r.payloads = nil
	r.curKind = 0
	r.curSize = 0
}

// consume removes exactly n bytes from the front of the queue. It must
// only be called when r.available >= n; consuming more than is available
// is a programming error and panics rather than silently returning short.
func (r *Reader) consume(n int) []byte {
	if n > r.available {
		panic("wireframe: Reader.consume requested more bytes than available")
	}
	if n == 0 {
		return nil
	}

	out := make([]byte, 0, n)
	for n > 0 {
		head := r.queue[0]
		remaining := head[r.headOffset:]
		if len(remaining) <= n {
			out = append(out, remaining...)
			n -= len(remaining)
			r.available -= len(remaining)
			r.queue = r.queue[1:]
			r.headOffset = 0
		} else {
			out = append(out, remaining[:n]...)
			r.available -= n
			r.headOffset += n
			n = 0
		}
	}
	return out
}

// pump runs the parse loop until either the queue runs dry mid-message or
// a fatal parse error is emitted.
func (r *Reader) pump() {
	r.parsing = true
	defer func() { r.parsing = false }()

	gen := r.generation

	for {
		switch r.phase {
		case phaseMarker:
			if r.available < 2 {
				return
			}
			data := r.consume(2)
			if data[0] != startMarker[0] || data[1] != startMarker[1] {
				r.emitError(gen, newInvalidFramingError(fmt.Errorf("expected marker %x, got %x", startMarker, data)))
				return
			}
			r.phase = phaseHead

		case phaseHead:
			if r.available < 6 {
				return
			}
			data := r.consume(6)
			r.id = MessageID(uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]))
			r.typ = MessageType(data[4])
			r.channelLen = int(data[5])
			r.phase = phaseChannelAndCount

		case phaseChannelAndCount:
			need := r.channelLen + 1
			if r.available < need {
				return
			}
			data := r.consume(need)
			r.channel = string(data[:r.channelLen])
			r.payloadCount = int(data[r.channelLen])
			r.payloads = make([]Payload, 0, r.payloadCount)

			if r.payloadCount == 0 {
				if !r.finishMessage(gen) {
					return
				}
				continue
			}
			r.phase = phasePayloadHeader

		case phasePayloadHeader:
			if r.available < 4 {
				return
			}
			data := r.consume(4)
			r.curKind = PayloadKind(data[0])
			r.curSize = int(getUint24(data[1:4]))
			r.phase = phasePayloadData

		case phasePayloadData:
			if r.available < r.curSize {
				return
			}
			var data []byte
			if r.curSize > 0 {
				data = r.consume(r.curSize)
			}

			p, err := decodePayload(r.curKind, data)
			if err != nil {
				r.emitError(gen, newDecodeError(err))
				return
			}
			r.payloads = append(r.payloads, p)

			if len(r.payloads) == r.payloadCount {
				if !r.finishMessage(gen) {
					return
				}
				continue
			}
			r.phase = phasePayloadHeader
		}
	}
}

// finishMessage resets parse state for the next message and emits the fully
// parsed one. It returns false if the caller should stop pumping because
// the generation changed during the onMessage callback (Clear was called
// from it).
func (r *Reader) finishMessage(gen uint64) bool {
	msg := Message{ID: r.id, Type: r.typ, Channel: r.channel, Payloads: r.payloads}
	r.resetMessageState()

	if r.onMessage != nil {
		r.onMessage(msg)
	}
	return gen == r.generation
}

func (r *Reader) emitError(gen uint64, err error) {
	if gen != r.generation {
		return
	}
	if r.onError != nil {
		r.onError(err)
	}
}
