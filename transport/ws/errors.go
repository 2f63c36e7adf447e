package ws

import "errors"

var errClosed = errors.New("ws: connection closed")

type transportConnectError struct{ err error }

func newTransportConnectError(err error) *transportConnectError {
	return &transportConnectError{err: err}
}

func (e *transportConnectError) Error() string { return "transport connect failed: " + e.err.Error() }
func (e *transportConnectError) Unwrap() error { return e.err }

type transportWriteError struct{ err error }

func newTransportWriteError(err error) *transportWriteError {
	return &transportWriteError{err: err}
}

func (e *transportWriteError) Error() string { return "transport write failed: " + e.err.Error() }
func (e *transportWriteError) Unwrap() error { return e.err }
