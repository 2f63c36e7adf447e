package wireframe

import "fmt"

// NetworkError is the base for messaging-level failures: problems that
// occur after a transport connection exists, as opposed to transport-layer
// failures (see TransportError).
type NetworkError struct {
	msg string
}

func (e *NetworkError) Error() string { return e.msg }

func newNetworkError(msg string) *NetworkError { return &NetworkError{msg: msg} }

// NetworkTimeoutError is returned when an ack or operation deadline
// elapses before the corresponding completion settled.
type NetworkTimeoutError struct {
	*NetworkError
	MessageID MessageID
}

func newNetworkTimeoutError(id MessageID, what string) *NetworkTimeoutError {
	return &NetworkTimeoutError{
		NetworkError: newNetworkError(fmt.Sprintf("%s timed out for message %d", what, id)),
		MessageID:    id,
	}
}

// TransportError is the base for transport-layer failures.
type TransportError struct {
	msg string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return e.msg + ": " + e.Err.Error()
	}
	return e.msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransportConnectError wraps a failure to establish a transport connection.
type TransportConnectError struct{ *TransportError }

func newTransportConnectError(err error) *TransportConnectError {
	return &TransportConnectError{&TransportError{msg: "transport connect failed", Err: err}}
}

// TransportWriteError wraps a failure to write bytes to an open transport.
// Per the transport contract, a write error causes the transport to
// close itself.
type TransportWriteError struct{ *TransportError }

func newTransportWriteError(err error) *TransportWriteError {
	return &TransportWriteError{&TransportError{msg: "transport write failed", Err: err}}
}

// TransportStartError wraps a failure to start a server transport.
type TransportStartError struct{ *TransportError }

func newTransportStartError(err error) *TransportStartError {
	return &TransportStartError{&TransportError{msg: "transport start failed", Err: err}}
}

// RequestError is the error type request handlers return to control the
// message forwarded to the requester verbatim. The handler must return the
// *RequestError itself: a wrapped one is not unwrapped and, like any other
// handler error, produces the generic remote error message instead.
type RequestError struct {
	Message string
}

func NewRequestError(message string) *RequestError {
	return &RequestError{Message: message}
}

func (e *RequestError) Error() string { return e.Message }

// genericRequestErrorMessage is sent to the requester when a request
// handler panics or returns a non-RequestError error.
const genericRequestErrorMessage = "An error occurred when handling this request"

// InvalidFramingError is raised by the Reader when the 2-byte start marker
// is missing or wrong. Fatal to the connection.
type InvalidFramingError struct {
	Err error
}

func newInvalidFramingError(err error) *InvalidFramingError {
	return &InvalidFramingError{Err: err}
}

func (e *InvalidFramingError) Error() string {
	if e.Err != nil {
		return "invalid framing: " + e.Err.Error()
	}
	return "invalid framing"
}

func (e *InvalidFramingError) Unwrap() error { return e.Err }

// DecodeError is raised by the Reader when a payload fails to parse. Fatal
// to the connection.
type DecodeError struct {
	Err error
}

func newDecodeError(err error) *DecodeError {
	return &DecodeError{Err: err}
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode error: " + e.Err.Error()
	}
	return "decode error"
}

func (e *DecodeError) Unwrap() error { return e.Err }

// remoteError is the error a pending Request completion rejects with when
// the remote side replied with success=false.
type remoteError struct {
	msg string
}

func newRemoteError(msg string) *remoteError { return &remoteError{msg: msg} }

func (e *remoteError) Error() string { return e.msg }
