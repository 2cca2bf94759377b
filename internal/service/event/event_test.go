package event

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// failingStore 保存总是失败的事件存储
type failingStore struct{ MemoryStore }

func (f *failingStore) SaveEvent(ctx context.Context, evt *Event) error {
	return errors.New("disk full")
}

// ========== New 测试 ==========

func TestNew(t *testing.T) {
	evt := New(EventMessageUpserted, "s1", "t1", "m1")

	if !strings.HasPrefix(evt.ID, "evt_") {
		t.Errorf("ID = %q, want evt_ prefix", evt.ID)
	}
	if evt.Type != EventMessageUpserted || evt.SessionID != "s1" || evt.TopicID != "t1" || evt.MessageID != "m1" {
		t.Errorf("New() = %+v", evt)
	}
	if evt.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

// ========== Bus 测试 ==========

func TestBus_SubscribeNil(t *testing.T) {
	bus := NewBus(nil)
	if _, err := bus.Subscribe(nil); err == nil {
		t.Error("Subscribe(nil) expected error")
	}
}

func TestBus_PublishOrdered(t *testing.T) {
	bus := NewBus(nil)
	ctx := context.Background()

	var got []string
	unsubscribe, err := bus.Subscribe(HandlerFunc(func(ctx context.Context, evt *Event) error {
		got = append(got, evt.MessageID)
		return nil
	}))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := bus.Publish(ctx, New(EventMessageUpserted, "s", "", id)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("delivery order = %v, want a,b,c", got)
	}

	unsubscribe()
	unsubscribe() // 重复调用无副作用
	_ = bus.Publish(ctx, New(EventMessageUpserted, "s", "", "d"))
	if len(got) != 3 {
		t.Errorf("handler called after unsubscribe: %v", got)
	}
}

func TestBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewBus(nil)
	calls := 0

	_, _ = bus.Subscribe(HandlerFunc(func(ctx context.Context, evt *Event) error {
		calls++
		return errors.New("boom")
	}))
	_, _ = bus.Subscribe(HandlerFunc(func(ctx context.Context, evt *Event) error {
		calls++
		return nil
	}))

	if err := bus.Publish(context.Background(), New(EventTaskStarted, "s", "", "m")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestBus_HandlerMaySubscribeDuringPublish(t *testing.T) {
	bus := NewBus(nil)
	done := false

	_, _ = bus.Subscribe(HandlerFunc(func(ctx context.Context, evt *Event) error {
		if !done {
			done = true
			_, _ = bus.Subscribe(HandlerFunc(func(ctx context.Context, evt *Event) error { return nil }))
		}
		return nil
	}))

	// 不应死锁
	_ = bus.Publish(context.Background(), New(EventTaskStarted, "s", "", "m"))
	if !done {
		t.Error("handler not invoked")
	}
}

func TestBus_StoreFailure(t *testing.T) {
	bus := NewBus(&failingStore{})
	if err := bus.Publish(context.Background(), New(EventTaskStarted, "s", "", "m")); err == nil {
		t.Error("Publish() expected store error")
	}
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	if err := bus.Publish(context.Background(), New(EventTaskStarted, "s", "", "m")); err != nil {
		t.Errorf("nil bus Publish() error = %v", err)
	}
}

// ========== MemoryStore 测试 ==========

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(2)
	bus := NewBus(store)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		_ = bus.Publish(ctx, New(EventMessageUpserted, "s1", "", id))
	}
	_ = bus.Publish(ctx, New(EventMessageUpserted, "s2", "", "x"))

	events, err := bus.Events(ctx, "s1")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 2 || events[0].MessageID != "m2" || events[1].MessageID != "m3" {
		t.Errorf("Events(s1) = %v, want last two", events)
	}

	if err := store.ClearEvents(ctx, "s1"); err != nil {
		t.Fatalf("ClearEvents() error = %v", err)
	}
	events, _ = store.GetEvents(ctx, "s1")
	if len(events) != 0 {
		t.Errorf("events after clear = %d, want 0", len(events))
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore(1000)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.SaveEvent(context.Background(), New(EventTaskStarted, "s", "", "m"))
		}()
	}
	wg.Wait()

	events, _ := store.GetEvents(context.Background(), "s")
	if len(events) != 20 {
		t.Errorf("len(events) = %d, want 20", len(events))
	}
}
