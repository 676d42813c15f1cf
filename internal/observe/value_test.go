package observe

import (
	"sync"
	"testing"
	"time"
)

func TestValue_SubscribeReceivesCurrent(t *testing.T) {
	v := NewValue("unknown")
	ch, unsub := v.Subscribe()
	defer unsub()

	select {
	case got := <-ch:
		if got != "unknown" {
			t.Errorf("first value = %q, want \"unknown\"", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for current value")
	}
}

func TestValue_SetOrderPreserved(t *testing.T) {
	v := NewValue(0)
	ch, unsub := v.Subscribe()
	defer unsub()
	<-ch

	for i := 1; i <= 5; i++ {
		v.Set(i)
	}
	for want := 1; want <= 5; want++ {
		select {
		case got := <-ch:
			if got != want {
				t.Fatalf("got %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
}

func TestValue_SlowSubscriberSeesLatest(t *testing.T) {
	v := NewValueBuffered(0, 2)
	ch, unsub := v.Subscribe()
	defer unsub()

	for i := 1; i <= 100; i++ {
		v.Set(i)
	}

	var last, prev int
	prev = -1
	for {
		select {
		case got := <-ch:
			if got <= prev {
				t.Fatalf("out of order: %d after %d", got, prev)
			}
			prev = got
			last = got
			continue
		default:
		}
		break
	}
	if last != 100 {
		t.Errorf("last observed = %d, want 100", last)
	}
}

func TestValue_SetNeverBlocks(t *testing.T) {
	v := NewValueBuffered(0, 1)
	_, unsub := v.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			v.Set(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked on a subscriber that never reads")
	}
}

func TestValue_UnsubscribeClosesChannel(t *testing.T) {
	v := NewValue(1)
	ch, unsub := v.Subscribe()
	unsub()
	unsub()

	<-ch // current value
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	v.Set(2) // must not panic
}

func TestValue_CloseClosesSubscribers(t *testing.T) {
	v := NewValue(1)
	ch, unsub := v.Subscribe()
	defer unsub()
	v.Close()

	<-ch
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after Close")
	}
	v.Set(3)
	if v.Get() != 1 {
		t.Errorf("Set after Close changed value to %d", v.Get())
	}
}

func TestValue_UpdateAndVersion(t *testing.T) {
	v := NewValue(10)
	got := v.Update(func(x int) int { return x + 5 })
	if got != 15 || v.Get() != 15 {
		t.Errorf("Update = %d, Get = %d, want 15", got, v.Get())
	}
	if v.Version() != 1 {
		t.Errorf("Version = %d, want 1", v.Version())
	}
}

func TestValue_ConcurrentSetters(t *testing.T) {
	v := NewValue(0)
	ch, unsub := v.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				v.Update(func(x int) int { return x + 1 })
			}
		}()
	}
	wg.Wait()

	var last int
	for {
		select {
		case x := <-ch:
			last = x
			continue
		default:
		}
		break
	}
	if last != 800 {
		t.Errorf("last observed = %d, want 800", last)
	}
}
