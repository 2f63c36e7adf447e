package wireframe

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// startMarker is the 2-byte sentinel that opens every message on the wire.
var startMarker = [2]byte{0xDD, 0xF0}

// jsonFormatMarker is the only format marker this codec understands for a
// Json payload: JSON encoded as UTF-8 text.
const jsonFormatMarker = 0x00

const (
	maxChannelLen = 255
	maxPayloads   = 255
	maxPayloadLen = 1<<24 - 1
)

// Encode serializes m to the wire format: start marker, big-endian uint32
// id, type byte, channel length byte, channel bytes, payload count byte,
// then for each payload a kind byte, a big-endian uint24 size and the
// payload data (a Json payload's data is a format-marker byte followed by
// the JSON text). It never fails for
// a Message built by NewJSONPayload/NewBinaryPayload, but returns an error
// if a channel or payload exceeds the format's length limits.
func Encode(m Message) ([]byte, error) {
	if len(m.Channel) > maxChannelLen {
		return nil, errors.Errorf("wireframe: channel %q exceeds %d bytes", m.Channel, maxChannelLen)
	}
	if len(m.Payloads) > maxPayloads {
		return nil, errors.Errorf("wireframe: %d payloads exceeds max of %d", len(m.Payloads), maxPayloads)
	}

	var buf bytes.Buffer
	buf.Write(startMarker[:])

	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], uint32(m.ID))
	buf.Write(idBuf[:])

	buf.WriteByte(byte(m.Type))
	buf.WriteByte(byte(len(m.Channel)))
	buf.WriteString(m.Channel)
	buf.WriteByte(byte(len(m.Payloads)))

	for _, p := range m.Payloads {
		data, err := encodePayloadData(p)
		if err != nil {
			return nil, err
		}
		if len(data) > maxPayloadLen {
			return nil, errors.Errorf("wireframe: payload of %d bytes exceeds max of %d", len(data), maxPayloadLen)
		}

		buf.WriteByte(byte(p.Kind))

		var sizeBuf [3]byte
		putUint24(sizeBuf[:], uint32(len(data)))
		buf.Write(sizeBuf[:])

		buf.Write(data)
	}

	return buf.Bytes(), nil
}

func encodePayloadData(p Payload) ([]byte, error) {
	switch p.Kind {
	case BinaryPayload:
		return p.Binary, nil
	case JsonPayload:
		data := make([]byte, 1+len(p.Json))
		data[0] = jsonFormatMarker
		copy(data[1:], p.Json)
		return data, nil
	default:
		return nil, errors.Errorf("wireframe: unknown payload kind %d", p.Kind)
	}
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// Decode reads exactly one message's worth of bytes from r and parses it.
// r must yield exactly the header + payload bytes for one message (the
// Reader is responsible for carving those bytes out of a byte stream; this
// function does no buffering of its own).
func Decode(r io.Reader) (Message, error) {
	var marker [2]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return Message{}, newInvalidFramingError(errors.Wrap(err, "reading start marker"))
	}
	if marker != startMarker {
		return Message{}, newInvalidFramingError(errors.Errorf("expected marker %x, got %x", startMarker, marker))
	}

	var head [6]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Message{}, newDecodeError(errors.Wrap(err, "reading id+type+channel_len"))
	}
	id := MessageID(binary.BigEndian.Uint32(head[0:4]))
	typ := MessageType(head[4])
	channelLen := int(head[5])

	channelAndCount := make([]byte, channelLen+1)
	if _, err := io.ReadFull(r, channelAndCount); err != nil {
		return Message{}, newDecodeError(errors.Wrap(err, "reading channel+payload_count"))
	}
	channel := string(channelAndCount[:channelLen])
	payloadCount := int(channelAndCount[channelLen])

	payloads := make([]Payload, 0, payloadCount)
	for i := 0; i < payloadCount; i++ {
		var ph [4]byte
		if _, err := io.ReadFull(r, ph[:]); err != nil {
			return Message{}, newDecodeError(errors.Wrapf(err, "reading payload %d header", i))
		}
		kind := PayloadKind(ph[0])
		size := getUint24(ph[1:4])

		data := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(r, data); err != nil {
				return Message{}, newDecodeError(errors.Wrapf(err, "reading payload %d data", i))
			}
		}

		p, err := decodePayload(kind, data)
		if err != nil {
			return Message{}, newDecodeError(errors.Wrapf(err, "decoding payload %d", i))
		}
		payloads = append(payloads, p)
	}

	return Message{ID: id, Type: typ, Channel: channel, Payloads: payloads}, nil
}

func decodePayload(kind PayloadKind, data []byte) (Payload, error) {
	switch kind {
	case BinaryPayload:
		return Payload{Kind: BinaryPayload, Binary: data}, nil
	case JsonPayload:
		if len(data) == 0 || data[0] != jsonFormatMarker {
			return Payload{}, errors.New("unsupported json format marker")
		}
		raw := json.RawMessage(append([]byte(nil), data[1:]...))
		if !json.Valid(raw) {
			return Payload{}, errors.New("invalid json payload")
		}
		return Payload{Kind: JsonPayload, Json: raw}, nil
	default:
		return Payload{}, errors.Errorf("unknown payload kind %d", kind)
	}
}
