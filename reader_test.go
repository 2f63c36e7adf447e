package wireframe

import "testing"

func TestReader_SingleMessageOneWrite(t *testing.T) {
	var got []Message
	var errs []error
	r := NewReader(func(m Message) { got = append(got, m) }, func(err error) { errs = append(errs, err) })

	m := Message{ID: 1, Type: Event, Channel: "c"}
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r.Write(data)

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(got) != 1 || got[0].ID != 1 || got[0].Channel != "c" {
		t.Fatalf("got %+v", got)
	}
}

func TestReader_MessageSplitAcrossWrites(t *testing.T) {
	var got []Message
	r := NewReader(func(m Message) { got = append(got, m) }, func(error) {})

	m := Message{ID: 2, Type: Event, Channel: "split"}
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, b := range data {
		r.Write([]byte{b})
	}

	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestReader_TwoMessagesOneWrite(t *testing.T) {
	var got []Message
	r := NewReader(func(m Message) { got = append(got, m) }, func(error) {})

	a, _ := Encode(Message{ID: 1, Type: Event, Channel: "a"})
	b, _ := Encode(Message{ID: 2, Type: Event, Channel: "b"})

	r.Write(append(append([]byte{}, a...), b...))

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestReader_BadMarkerEmitsError(t *testing.T) {
	var errs []error
	r := NewReader(func(Message) {}, func(err error) { errs = append(errs, err) })

	r.Write([]byte{0x00, 0x00})

	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if _, ok := errs[0].(*InvalidFramingError); !ok {
		t.Fatalf("got %T, want *InvalidFramingError", errs[0])
	}
}

func TestReader_ClearSuppressesInFlightMessage(t *testing.T) {
	var got []Message
	r := NewReader(func(m Message) { got = append(got, m) }, func(error) {})

	m := Message{ID: 3, Type: Event, Channel: "c"}
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Write everything but the last byte, then Clear mid-message.
	r.Write(data[:len(data)-1])
	r.Clear()
	r.Write(data[len(data)-1:])

	if len(got) != 0 {
		t.Fatalf("got %+v, want no emissions after Clear", got)
	}
}

func TestReader_ConsumePanicsWhenStarved(t *testing.T) {
	r := NewReader(func(Message) {}, func(error) {})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic consuming more than available")
		}
	}()
	r.consume(10)
}

func TestReader_ReentrantWriteFromOnMessage(t *testing.T) {
	var got []Message
	var r *Reader
	second, err := Encode(Message{ID: 5, Type: Event, Channel: "second"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	fired := false
	r = NewReader(func(m Message) {
		got = append(got, m)
		if !fired {
			fired = true
			r.Write(second)
		}
	}, func(error) {})

	first, err := Encode(Message{ID: 4, Type: Event, Channel: "first"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	r.Write(first)

	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 5 {
		t.Fatalf("got %+v", got)
	}
}
