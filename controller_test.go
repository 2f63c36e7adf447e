package wireframe

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/wireframe-go/wireframe/transport/memory"
)

func TestController_EventRoundTripBetweenPair(t *testing.T) {
	clientTransport, serverTransport := memory.NewPair()

	clientCtrl := newController(clientTransport, newConfig(nil), "")
	serverCtrl := newController(serverTransport, newConfig(nil), "")

	received := make(chan []json.RawMessage, 1)
	serverCtrl.Emitter().OnEvent("greet", func(args []json.RawMessage) {
		received <- args
	})

	if err := clientTransport.Connect(context.Background()); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	if err := serverTransport.Connect(context.Background()); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	completion, err := clientCtrl.Emitter().SendEvent("greet", "hello")
	if err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	select {
	case args := <-received:
		if len(args) != 1 {
			t.Fatalf("got %d args, want 1", len(args))
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}

	if _, err := completion.Wait(); err != nil {
		t.Fatalf("completion failed to ack: %v", err)
	}
}

func TestController_RequestResponseRoundTrip(t *testing.T) {
	clientTransport, serverTransport := memory.NewPair()
	clientCtrl := newController(clientTransport, newConfig(nil), "")
	serverCtrl := newController(serverTransport, newConfig(nil), "")

	serverCtrl.Emitter().OnRequest("double", func(args []json.RawMessage) (any, error) {
		var n int
		if len(args) > 0 {
			_ = json.Unmarshal(args[0], &n)
		}
		return n * 2, nil
	})

	if err := clientTransport.Connect(context.Background()); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	if err := serverTransport.Connect(context.Background()); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	completion, err := clientCtrl.Emitter().SendRequest("double", RequestOptions{Timeout: time.Second}, 21)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	value, err := completion.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	var got int
	if err := json.Unmarshal(value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != 42 {
		t.Fatalf("got = %d, want 42", got)
	}
}

func TestController_UnregisteredRequestChannelReturnsGenericError(t *testing.T) {
	clientTransport, serverTransport := memory.NewPair()
	clientCtrl := newController(clientTransport, newConfig(nil), "")
	_ = newController(serverTransport, newConfig(nil), "")

	if err := clientTransport.Connect(context.Background()); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	if err := serverTransport.Connect(context.Background()); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	completion, err := clientCtrl.Emitter().SendRequest("missing", RequestOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	_, err = completion.Wait()
	if err == nil {
		t.Fatal("expected an error for an unregistered request channel")
	}
}

func TestController_DisconnectNotifiesBothSides(t *testing.T) {
	clientTransport, serverTransport := memory.NewPair()
	clientCtrl := newController(clientTransport, newConfig(nil), "")
	serverCtrl := newController(serverTransport, newConfig(nil), "")

	clientDisconnected := make(chan bool, 1)
	serverDisconnected := make(chan bool, 1)
	clientCtrl.OnDisconnected(func(intentional bool, err error) { clientDisconnected <- intentional })
	serverCtrl.OnDisconnected(func(intentional bool, err error) { serverDisconnected <- intentional })

	if err := clientTransport.Connect(context.Background()); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	if err := serverTransport.Connect(context.Background()); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	if err := clientTransport.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	select {
	case intentional := <-clientDisconnected:
		if !intentional {
			t.Error("client side: expected intentional disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("client never observed disconnect")
	}

	select {
	case intentional := <-serverDisconnected:
		if !intentional {
			t.Error("server side: expected intentional disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("server never observed disconnect")
	}

	if clientCtrl.IsConnected() || serverCtrl.IsConnected() {
		t.Fatal("both sides should report disconnected")
	}
}
