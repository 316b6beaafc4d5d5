package events

import (
	"errors"
	"testing"
	"time"

	"github.com/rescale/filehub/internal/models"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventQueryChanged)

	q := models.DefaultFileCollectionQuery()
	bus.Publish(NewQueryChangedEvent(q))

	select {
	case event := <-ch:
		qe, ok := event.(*QueryChangedEvent)
		if !ok {
			t.Fatalf("Expected *QueryChangedEvent, got %T", event)
		}
		if qe.Key != q.Key() {
			t.Errorf("Expected key %q, got %q", q.Key(), qe.Key)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventSelectionChanged)
	ch2 := bus.Subscribe(EventSelectionChanged)

	bus.Publish(NewSelectionChangedEvent([]string{"a"}))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			t.Errorf("Subscriber %d did not receive event", i)
		}
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	cacheCh := bus.Subscribe(EventCacheUpdated)
	dedupCh := bus.Subscribe(EventDedupStateChanged)

	bus.Publish(NewCacheEvent(EventCacheUpdated, "files", "page=1", nil))

	select {
	case <-cacheCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("Cache subscriber didn't receive event")
	}

	select {
	case <-dedupCh:
		t.Error("Dedup subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.Publish(NewCacheEvent(EventCacheInvalidated, "files", "k", nil))
	bus.Publish(NewDedupStateEvent("idle", "polling", 1, nil))

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
			count++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if count != 2 {
		t.Errorf("Expected to receive 2 events, got %d", count)
	}
}

func TestEventBus_NonBlocking(t *testing.T) {
	bus := NewEventBus(2)
	defer bus.Close()

	ch := bus.Subscribe(EventFileListChanged)

	for i := 0; i < 10; i++ {
		bus.Publish(NewFileListEvent(EventFileListChanged, "k", nil, nil))
	}

	if got := bus.GetDroppedEventCount(); got != 8 {
		t.Errorf("Expected 8 dropped events, got %d", got)
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		case <-time.After(10 * time.Millisecond):
		}
		break
	}
	if count != 2 {
		t.Errorf("Expected 2 buffered events, got %d", count)
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe(EventMutationCompleted)

	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	// Publishing after close should not panic
	bus.Publish(NewMutationEvent("delete", []string{"1"}, nil))

	// Subscribing after close returns a closed channel
	if _, ok := <-bus.Subscribe(EventMutationCompleted); ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}

func TestEventBus_NilPublish(t *testing.T) {
	var bus *EventBus
	bus.Publish(NewMutationEvent("delete", nil, nil))
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventCacheFetchFailed)
	bus.Unsubscribe(EventCacheFetchFailed, ch)

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after Unsubscribe")
	}

	all := bus.SubscribeAll()
	bus.UnsubscribeAll(all)
	if _, ok := <-all; ok {
		t.Error("Channel should be closed after UnsubscribeAll")
	}

	// Publishing after unsubscribe must not panic on closed channels
	bus.Publish(NewCacheEvent(EventCacheFetchFailed, "files", "k", errors.New("boom")))
}

func TestNewMutationEvent_Type(t *testing.T) {
	tests := []struct {
		err  error
		want EventType
	}{
		{nil, EventMutationCompleted},
		{errors.New("x"), EventMutationFailed},
	}
	for _, tt := range tests {
		if got := NewMutationEvent("upload", nil, tt.err).Type(); got != tt.want {
			t.Errorf("err=%v: expected %s, got %s", tt.err, tt.want, got)
		}
	}
}

func TestBufferSizeClamping(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 1000},
		{-5, 1000},
		{50, 50},
		{100000, 5000},
	}
	for _, tt := range tests {
		if got := NewEventBus(tt.in).bufferSize; got != tt.want {
			t.Errorf("NewEventBus(%d).bufferSize = %d, want %d", tt.in, got, tt.want)
		}
	}
}
