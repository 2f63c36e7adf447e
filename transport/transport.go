// Package transport defines the abstract stream transport contract
// that wireframe's Controller drives. A transport delivers ordered opaque
// byte chunks; it knows nothing about Messages, channels, or the wire
// format in codec.go.
package transport

import "context"

// ClientTransport is a transport with a single remote peer, driven through
// an explicit Connect/Disconnect lifecycle. Implementations must call the
// registered callbacks from a single goroutine per transport instance,
// matching a single-threaded-per-connection model.
type ClientTransport interface {
	// Connect establishes the underlying connection. Returns
	// TransportConnectError-wrapped errors on failure.
	Connect(ctx context.Context) error
	// Disconnect closes the connection intentionally.
	Disconnect(ctx context.Context) error
	// Close closes the connection immediately, attributing it to err
	// (nil for a clean close). Safe to call multiple times.
	Close(err error)
	// Send writes b to the peer. Returns TransportWriteError on
	// failure; a write failure causes the transport to close
	// itself before returning.
	Send(ctx context.Context, b []byte) error

	// OnConnected registers the callback invoked once Connect succeeds.
	OnConnected(fn func())
	// OnDisconnected registers the callback invoked when the connection
	// ends, whether intentionally (via Disconnect/Close(nil)) or not.
	OnDisconnected(fn func(intentional bool, err error))
	// OnData registers the callback invoked with each inbound chunk, in
	// arrival order.
	OnData(fn func(b []byte))
}

// ServerTransport listens for and accepts connections, handing each one to
// the registered OnConnection callback as a ServerConnTransport. A
// ServerConnTransport handed to OnConnection must invoke its own
// OnConnected callback (registered by the caller before or just after
// OnConnection fires) to signal that it is already live — callers build a
// Controller per accepted connection exactly as they would for a
// ClientTransport, and the Controller only starts routing inbound data
// once it has observed a connected event.
type ServerTransport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Close(err error)

	OnStarted(fn func())
	OnStopped(fn func(err error))
	OnConnection(fn func(ServerConnTransport))
}

// ServerConnTransport is the server-side transport for one accepted
// connection: the same surface as ClientTransport, plus the remote
// address for logging/observability.
type ServerConnTransport interface {
	ClientTransport
	// RemoteAddr identifies the connected peer.
	RemoteAddr() string
}
