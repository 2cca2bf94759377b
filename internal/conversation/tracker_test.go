package conversation

import (
	"context"
	"sort"
	"testing"

	"github.com/ashwinyue/next-crm/internal/service/event"
)

func TestTracker_StartCancelsPrior(t *testing.T) {
	tr := NewTracker(nil)

	ctx1, h1 := tr.Start(context.Background(), "m1", "s1", "")
	ctx2, h2 := tr.Start(context.Background(), "m1", "s1", "")

	if !h1.Canceled() {
		t.Error("first handle not canceled")
	}
	select {
	case <-ctx1.Done():
	default:
		t.Error("first task context not canceled")
	}
	if h2.Canceled() || ctx2.Err() != nil {
		t.Error("second task should be live")
	}
	if tr.Len() != 1 || !tr.IsActive("m1") {
		t.Errorf("Len() = %d, want exactly one active task", tr.Len())
	}
}

func TestTracker_CancelIdempotent(t *testing.T) {
	tr := NewTracker(nil)
	ctx, h := tr.Start(context.Background(), "m1", "s1", "")

	if !tr.Cancel("m1") {
		t.Error("first Cancel() = false, want true")
	}
	if tr.Cancel("m1") {
		t.Error("second Cancel() = true, want false")
	}
	if tr.IsActive("m1") {
		t.Error("task still active after cancel")
	}
	if ctx.Err() == nil || !h.Canceled() {
		t.Error("handle not invoked")
	}
	if h.Cancel() {
		t.Error("handle.Cancel() after tracker cancel should be a no-op")
	}
}

func TestTracker_FinishStaleHandle(t *testing.T) {
	tr := NewTracker(nil)
	_, h1 := tr.Start(context.Background(), "m1", "s1", "")
	_, h2 := tr.Start(context.Background(), "m1", "s1", "")

	tr.Finish("m1", h1)
	if !tr.IsActive("m1") {
		t.Fatal("Finish() with stale handle removed the newer task")
	}

	tr.Finish("m1", h2)
	if tr.IsActive("m1") {
		t.Error("Finish() with current handle did not remove the task")
	}
	if h2.Canceled() {
		t.Error("normal finish must not count as cancellation")
	}
}

func TestTracker_RekeyAndTopics(t *testing.T) {
	tr := NewTracker(nil)
	_, h := tr.Start(context.Background(), "tmp_a", "s1", "t1")
	tr.Start(context.Background(), "m2", "s1", "t2")
	tr.Start(context.Background(), "m3", "s1", "t1")

	tr.Rekey("tmp_a", "srv_a")
	if tr.IsActive("tmp_a") || !tr.IsActive("srv_a") {
		t.Fatal("Rekey() did not move the task")
	}

	ids := tr.ActiveInTopic("s1", "t1")
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "m3" || ids[1] != "srv_a" {
		t.Errorf("ActiveInTopic() = %v, want [m3 srv_a]", ids)
	}

	tr.Finish("srv_a", h)
	if tr.IsActive("srv_a") {
		t.Error("Finish() after rekey did not remove the task")
	}
}

func TestTracker_PublishesLifecycle(t *testing.T) {
	bus := event.NewBus(nil)
	var types []event.EventType
	_, _ = bus.Subscribe(event.HandlerFunc(func(ctx context.Context, evt *event.Event) error {
		types = append(types, evt.Type)
		return nil
	}))

	tr := NewTracker(bus)
	tr.Start(context.Background(), "m1", "s1", "")
	tr.Cancel("m1")
	tr.Cancel("m1")

	if len(types) != 2 || types[0] != event.EventTaskStarted || types[1] != event.EventTaskFinished {
		t.Errorf("events = %v, want [task.started task.finished]", types)
	}
}
