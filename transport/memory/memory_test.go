package memory

import (
	"context"
	"testing"
	"time"

	"github.com/wireframe-go/wireframe/transport"
)

func TestNewPair_SendDeliversToPeer(t *testing.T) {
	client, server := NewPair()

	received := make(chan []byte, 1)
	server.OnData(func(b []byte) { received <- b })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	if err := server.Connect(context.Background()); err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	if err := client.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("peer never received data")
	}
}

func TestConn_SendCopiesBuffer(t *testing.T) {
	client, server := NewPair()
	received := make(chan []byte, 1)
	server.OnData(func(b []byte) { received <- b })

	_ = client.Connect(context.Background())
	_ = server.Connect(context.Background())

	buf := []byte("mutate me")
	if err := client.Send(context.Background(), buf); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf[0] = 'X'

	got := <-received
	if string(got) != "mutate me" {
		t.Fatalf("got %q, want unmutated copy %q", got, "mutate me")
	}
}

func TestConn_DisconnectNotifiesBothEnds(t *testing.T) {
	client, server := NewPair()

	clientDone := make(chan struct{})
	serverDone := make(chan struct{})
	client.OnDisconnected(func(intentional bool, err error) { close(clientDone) })
	server.OnDisconnected(func(intentional bool, err error) { close(serverDone) })

	_ = client.Connect(context.Background())
	_ = server.Connect(context.Background())

	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case <-clientDone:
	case <-time.After(time.Second):
		t.Fatal("client side never saw disconnect")
	}
	select {
	case <-serverDone:
	case <-time.After(time.Second):
		t.Fatal("server side never saw disconnect")
	}
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	client, server := NewPair()
	_ = client.Connect(context.Background())
	_ = server.Connect(context.Background())

	client.Close(nil)

	if err := client.Send(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected Send to fail after Close")
	}
}

func TestClient_ReconnectsAfterDisconnect(t *testing.T) {
	l := NewListener()

	var accepted int
	var lastServer transport.ServerConnTransport
	l.OnConnection(func(conn transport.ServerConnTransport) {
		accepted++
		lastServer = conn
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Start(ctx) }()

	cl := NewClient(l)

	connects := make(chan struct{}, 2)
	cl.OnConnected(func() { connects <- struct{}{} })

	if err := cl.Connect(context.Background()); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	select {
	case <-connects:
	case <-time.After(time.Second):
		t.Fatal("OnConnected never fired for the first connect")
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1", accepted)
	}

	// A bare conn from NewPair would silently no-op on a second Connect
	// after being closed; Client must dial a fresh pair instead.
	lastServer.Close(nil)

	if err := cl.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	select {
	case <-connects:
	case <-time.After(time.Second):
		t.Fatal("OnConnected never fired for the reconnect")
	}
	if accepted != 2 {
		t.Fatalf("accepted = %d, want 2 after reconnect", accepted)
	}

	if err := cl.Send(context.Background(), []byte("after reconnect")); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
}

func TestListener_DialInvokesOnConnection(t *testing.T) {
	l := NewListener()

	accepted := make(chan struct{}, 1)
	l.OnConnection(func(conn transport.ServerConnTransport) {
		accepted <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = l.Start(ctx) }()

	if _, err := l.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("OnConnection callback never fired")
	}
}
