package bus

import (
	"testing"
	"time"
)

func TestPublishOrderPreservedPerProducer(t *testing.T) {
	b := NewBus()
	events := b.Events()

	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(New(KindSystem, Source{ID: "p1"}, PriorityNormal, map[string]interface{}{"i": i}))
		}
		b.Close()
	}()

	var got []int
	for e := range events {
		got = append(got, e.Payload["i"].(int))
	}
	for i := 0; i < 5; i++ {
		if got[i] != i {
			t.Fatalf("order mismatch at %d: got %v", i, got)
		}
	}
}

func TestEventIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		e := New(KindSystem, Source{}, PriorityNormal, nil)
		if seen[string(e.ID)] {
			t.Fatalf("duplicate event id %s", e.ID)
		}
		seen[string(e.ID)] = true
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			b.Publish(New(KindSystem, Source{}, PriorityNormal, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no consumer draining the queue")
	}
}

func TestSubscribeFanOut(t *testing.T) {
	b := NewBus()
	received := make(chan DaemonEvent, 1)
	unsub := b.Subscribe(func(e DaemonEvent) { received <- e })
	defer unsub()

	b.Publish(New(KindCustom, Source{}, PriorityNormal, nil))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("subscriber never received published event")
	}
}
