package wireframe

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

type mockSender struct {
	mu      sync.Mutex
	sent    [][]byte
	failNext bool
}

func (s *mockSender) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errMockSendFailed
	}
	s.sent = append(s.sent, b)
	return nil
}

func (s *mockSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var errMockSendFailed = &remoteError{msg: "mock send failed"}

func TestWriter_SendRequiresConnection(t *testing.T) {
	w := NewWriter(nil, true, nil)
	m := Message{ID: 1, Type: System, Channel: ackChannel}

	if ok := w.Send(m); ok {
		t.Fatal("Send returned true while disconnected")
	}

	s := &mockSender{}
	w.SetConnectionOpened(s, true)
	if ok := w.Send(m); !ok {
		t.Fatal("Send returned false while connected")
	}
	if s.count() != 1 {
		t.Fatalf("sent %d messages, want 1", s.count())
	}
}

func TestWriter_QueueResolvesOnAck(t *testing.T) {
	w := NewWriter(nil, true, nil)
	s := &mockSender{}
	w.SetConnectionOpened(s, true)

	m := Message{ID: 10, Type: Event, Channel: "c"}
	completion := w.Queue(m, QueueOptions{AckTimeout: time.Second, ResolveOnAck: true})

	w.OnAck(10)

	select {
	case <-completion.Done():
	case <-time.After(time.Second):
		t.Fatal("completion never settled")
	}
	if _, err := completion.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWriter_AckTimeoutReportsError(t *testing.T) {
	var reported error
	var mu sync.Mutex
	w := NewWriter(nil, true, func(err error) {
		mu.Lock()
		reported = err
		mu.Unlock()
	})
	s := &mockSender{}
	w.SetConnectionOpened(s, true)

	m := Message{ID: 11, Type: Event, Channel: "c"}
	w.Queue(m, QueueOptions{AckTimeout: 10 * time.Millisecond, ResolveOnAck: true})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if reported == nil {
		t.Fatal("expected an ack timeout error to be reported")
	}
	if _, ok := reported.(*NetworkTimeoutError); !ok {
		t.Fatalf("got %T, want *NetworkTimeoutError", reported)
	}
}

func TestWriter_RequestResolvesOnResponse(t *testing.T) {
	w := NewWriter(nil, true, nil)
	s := &mockSender{}
	w.SetConnectionOpened(s, true)

	m := Message{ID: 12, Type: Request, Channel: "c"}
	completion := w.Queue(m, QueueOptions{AckTimeout: time.Second, ResolveOnAck: false})

	w.OnAck(12)
	select {
	case <-completion.Done():
		t.Fatal("completion settled on ack alone; requests should wait for a response")
	default:
	}

	w.OnResponse(12, []byte(`"ok"`), nil)

	value, err := completion.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(value) != `"ok"` {
		t.Fatalf("value = %s", value)
	}
}

func TestWriter_ConnectionLostThenOpenedResendsUnacked(t *testing.T) {
	w := NewWriter(nil, true, nil)
	s1 := &mockSender{}
	w.SetConnectionOpened(s1, true)

	m := Message{ID: 13, Type: Event, Channel: "c"}
	w.Queue(m, QueueOptions{AckTimeout: time.Second, ResolveOnAck: true})
	if s1.count() != 1 {
		t.Fatalf("sent %d via s1, want 1", s1.count())
	}

	w.SetConnectionLost()

	s2 := &mockSender{}
	w.SetConnectionOpened(s2, true)

	if s2.count() != 1 {
		t.Fatalf("sent %d via s2 after resume, want 1 (the unacked record resent)", s2.count())
	}
}

func TestWriter_ResumeResendsInAscendingIDOrder(t *testing.T) {
	w := NewWriter(nil, true, nil)
	s1 := &mockSender{}
	w.SetConnectionOpened(s1, true)

	ids := []MessageID{23, 21, 25, 22, 24}
	for _, id := range ids {
		w.Queue(Message{ID: id, Type: Event, Channel: "c"}, QueueOptions{AckTimeout: time.Second, ResolveOnAck: true})
	}

	w.SetConnectionLost()

	s2 := &mockSender{}
	w.SetConnectionOpened(s2, true)

	if len(s2.sent) != len(ids) {
		t.Fatalf("resent %d messages, want %d", len(s2.sent), len(ids))
	}
	for i, data := range s2.sent {
		msg, err := Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode resent message %d: %v", i, err)
		}
		want := MessageID(21 + i)
		if msg.ID != want {
			t.Fatalf("resent message %d has id %d, want %d (ascending order)", i, msg.ID, want)
		}
	}
}

func TestWriter_ConnectionClosedDropsRecords(t *testing.T) {
	w := NewWriter(nil, true, nil)
	s := &mockSender{}
	w.SetConnectionOpened(s, true)

	m := Message{ID: 14, Type: Event, Channel: "c"}
	w.Queue(m, QueueOptions{AckTimeout: time.Second, ResolveOnAck: true})

	w.SetConnectionClosed()

	// OnAck for a dropped record is a no-op, not a panic.
	w.OnAck(14)
}

func TestWriter_ConnectionLostDropsRecordsWhenResumptionDisabled(t *testing.T) {
	w := NewWriter(nil, false, nil)
	s1 := &mockSender{}
	w.SetConnectionOpened(s1, true)

	m := Message{ID: 15, Type: Event, Channel: "c"}
	w.Queue(m, QueueOptions{AckTimeout: time.Second, ResolveOnAck: true})
	if s1.count() != 1 {
		t.Fatalf("sent %d via s1, want 1", s1.count())
	}

	w.SetConnectionLost()

	s2 := &mockSender{}
	w.SetConnectionOpened(s2, true)

	if s2.count() != 0 {
		t.Fatalf("sent %d via s2 after resume, want 0 (record must be dropped, not resent)", s2.count())
	}

	// OnAck for the dropped record is a no-op, not a panic.
	w.OnAck(15)
}
