package wireframe

import (
	"context"
	"testing"
	"time"

	"github.com/wireframe-go/wireframe/transport/memory"
)

func TestClient_ConnectAndIsConnected(t *testing.T) {
	clientTransport, serverTransport := memory.NewPair()
	_ = newController(serverTransport, newConfig(nil), "")
	if err := serverTransport.Connect(context.Background()); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	client := NewClient(clientTransport)
	if client.IsConnected() {
		t.Fatal("should not be connected before Connect")
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("should be connected after Connect")
	}
}

func TestClient_DisconnectStopsPersistentMode(t *testing.T) {
	clientTransport, serverTransport := memory.NewPair()
	_ = newController(serverTransport, newConfig(nil), "")
	if err := serverTransport.Connect(context.Background()); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	client := NewClient(clientTransport, WithReconnectDelay(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startErr := make(chan error, 1)
	go func() { startErr <- client.Start(ctx) }()

	select {
	case err := <-startErr:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start never returned for the first attempt")
	}

	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if client.IsConnected() {
		t.Fatal("should not be connected after Disconnect")
	}
	if client.persistent.Load() {
		t.Fatal("persistent mode should be off after Disconnect")
	}
}
