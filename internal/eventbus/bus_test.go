package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeRunStarted})
	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		if ev.Type != TypeRunStarted {
			t.Fatalf("type = %q", ev.Type)
		}
		if ev.Time.IsZero() {
			t.Fatal("publish should stamp time")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped, must not block
	if ev := <-ch; ev.Type != "a" {
		t.Fatalf("type = %q", ev.Type)
	}
}

func TestUnsubscribeConcurrentWithPublish(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(4)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Type: "x"})
		}
	}()
	go func() {
		defer wg.Done()
		unsub()
		unsub()
	}()
	wg.Wait()
}
