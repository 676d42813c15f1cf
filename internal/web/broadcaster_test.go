package web

import (
	"encoding/json"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt StatusEvent
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
		return StatusEvent{}
	}
}

func TestBroadcaster_SubscribeAndReceive(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("info", "hello")

	evt := recv(t, ch)
	if evt.Kind != KindLog {
		t.Errorf("kind = %q, want %q", evt.Kind, KindLog)
	}
	if evt.Msg != "hello" {
		t.Errorf("msg = %q, want \"hello\"", evt.Msg)
	}
	if evt.Level != "info" {
		t.Errorf("level = %q, want \"info\"", evt.Level)
	}
	if evt.Time == "" {
		t.Error("event should have a timestamp")
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	if b.Clients() != 2 {
		t.Fatalf("Clients = %d, want 2", b.Clients())
	}
	b.Broadcast("info", "multi")

	for i, ch := range []<-chan string{ch1, ch2} {
		if evt := recv(t, ch); evt.Msg != "multi" {
			t.Errorf("subscriber %d: msg = %q, want \"multi\"", i, evt.Msg)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	b.Broadcast("info", "after unsub")
	if b.Clients() != 0 {
		t.Errorf("Clients = %d, want 0", b.Clients())
	}
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < 64; i++ {
		b.Broadcast("info", "fill")
	}
	b.Broadcast("info", "overflow")

	count := 0
	for len(ch) > 0 {
		<-ch
		count++
	}
	if count != 64 {
		t.Errorf("expected 64 buffered messages, got %d", count)
	}
}

func TestBroadcaster_StateReplayedToLateSubscriber(t *testing.T) {
	b := NewStatusBroadcaster()
	if err := b.BroadcastState(map[string]string{"status": "running"}); err != nil {
		t.Fatal(err)
	}
	b.Broadcast("info", "not replayed")

	ch, unsub := b.Subscribe()
	defer unsub()

	evt := recv(t, ch)
	if evt.Kind != KindState {
		t.Fatalf("kind = %q, want %q", evt.Kind, KindState)
	}
	var st map[string]string
	if err := json.Unmarshal(evt.State, &st); err != nil {
		t.Fatal(err)
	}
	if st["status"] != "running" {
		t.Errorf("state = %v", st)
	}
	if len(ch) != 0 {
		t.Errorf("log lines must not be replayed, %d pending", len(ch))
	}
}

func TestBroadcastWriter_Write(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	in := "  trimmed message  \n"
	n, err := w.Write([]byte(in))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(in) {
		t.Errorf("n = %d, want %d", n, len(in))
	}
	if evt := recv(t, ch); evt.Msg != "trimmed message" {
		t.Errorf("msg = %q, want \"trimmed message\"", evt.Msg)
	}
}

func TestBroadcastWriter_Levels(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	BroadcastWriter(b).Write([]byte("12:00:00 [ERROR] boom\n12:00:01 [WARN] careful\n12:00:02 fine\n"))

	for _, want := range []string{"error", "warn", "info"} {
		if evt := recv(t, ch); evt.Level != want {
			t.Errorf("level = %q, want %q (%s)", evt.Level, want, evt.Msg)
		}
	}
}

func TestBroadcastWriter_EmptyWriteIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	BroadcastWriter(b).Write([]byte("   \n"))

	select {
	case <-ch:
		t.Error("expected no message for whitespace-only write")
	case <-time.After(50 * time.Millisecond):
	}
}
