package wireframe

import "encoding/json"

// MessageType identifies the kind of a Message on the wire.
type MessageType uint8

const (
	// System carries protocol-internal traffic such as acks. Channel
	// "ack" is the only system channel implemented.
	System MessageType = iota
	// Event is a fire-and-forget, multi-handler message.
	Event
	// Binary is an Event with a raw byte payload appended.
	Binary
	// Request expects exactly one Response.
	Request
	// Response completes a pending Request.
	Response
	// Stream is reserved; no operation produces or consumes it.
	Stream
)

// String renders the MessageType the way it appears in log lines.
func (t MessageType) String() string {
	switch t {
	case System:
		return "system"
	case Event:
		return "event"
	case Binary:
		return "binary"
	case Request:
		return "request"
	case Response:
		return "response"
	case Stream:
		return "stream"
	default:
		return "unknown"
	}
}

// MessageID is a per-direction, monotonically increasing, never-reused
// 32-bit message identifier.
type MessageID uint32

// Payload is a tagged union over a JSON value or a raw byte buffer. Exactly
// one of Json/Binary is meaningful, selected by Kind.
type Payload struct {
	Kind    PayloadKind
	Json    json.RawMessage
	Binary  []byte
}

// PayloadKind discriminates the Payload union.
type PayloadKind uint8

const (
	// JsonPayload holds an arbitrary JSON value in Payload.Json.
	JsonPayload PayloadKind = iota
	// BinaryPayload holds an opaque byte buffer in Payload.Binary.
	BinaryPayload
)

// NewJSONPayload builds a Payload carrying v marshaled to JSON.
func NewJSONPayload(v any) (Payload, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return Payload{Kind: JsonPayload, Json: raw}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Kind: JsonPayload, Json: b}, nil
}

// NewBinaryPayload builds a Payload wrapping raw bytes verbatim.
func NewBinaryPayload(b []byte) Payload {
	return Payload{Kind: BinaryPayload, Binary: b}
}

// Message is the immutable-ish record exchanged over the wire: an id, a
// type, a routing channel, and an ordered list of payloads.
type Message struct {
	ID       MessageID
	Type     MessageType
	Channel  string
	Payloads []Payload
}

// responseBody is the sole Json payload of a Response message.
type responseBody struct {
	RequestID MessageID       `json:"requestId"`
	Success   bool            `json:"success"`
	Value     json.RawMessage `json:"value,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ackBody is the sole Json payload of a System "ack" message.
type ackBody = MessageID

const ackChannel = "ack"
