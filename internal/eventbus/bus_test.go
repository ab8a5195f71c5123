package eventbus

import (
	"testing"
	"time"
)

func TestSubscribePrefixFilters(t *testing.T) {
	b := New()
	mod, unsubMod := b.SubscribePrefix(4, "moderation.")
	defer unsubMod()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TypeWarned})
	b.Publish(Event{Type: TypeLifecycle})

	select {
	case e := <-mod:
		if e.Type != TypeWarned {
			t.Fatalf("got %q, want %q", e.Type, TypeWarned)
		}
		if e.Time.IsZero() {
			t.Fatalf("publish did not stamp time")
		}
	case <-time.After(time.Second):
		t.Fatalf("no moderation event delivered")
	}
	select {
	case e := <-mod:
		t.Fatalf("unexpected event %q on prefixed subscription", e.Type)
	default:
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all))
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeViolation})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: TypeRemoved})
}
