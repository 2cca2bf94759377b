package stream

import (
	"context"
	"testing"
)

func TestRegistry_RegisterReplacesPrevious(t *testing.T) {
	r := NewRegistry(nil, nil)
	ctx := context.Background()

	ctx1, cancel1 := context.WithCancel(ctx)
	a1 := r.Register("s1", "m1", cancel1)
	_, cancel2 := context.WithCancel(ctx)
	a2 := r.Register("s1", "m1", cancel2)

	if ctx1.Err() == nil || !a1.Stopped() {
		t.Error("previous stream not canceled")
	}
	if r.Get("m1") != a2 || r.Len() != 1 {
		t.Error("Get() did not return the newest stream")
	}

	r.Unregister(ctx, a1)
	if r.Get("m1") != a2 {
		t.Error("Unregister() of stale stream removed the current one")
	}
	r.Unregister(ctx, a2)
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_Stop(t *testing.T) {
	r := NewRegistry(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	a := r.Register("s1", "m1", cancel)

	if !r.Stop("m1") {
		t.Fatal("Stop() = false, want true")
	}
	if ctx.Err() == nil || !a.Stopped() {
		t.Error("Stop() did not cancel the stream")
	}
	if r.Stop("m1") {
		t.Error("second Stop() = true, want false")
	}
}

func TestRegistry_AppendAndPartial(t *testing.T) {
	r := NewRegistry(nil, nil)
	ctx := context.Background()
	a := r.Register("s1", "m1", func() {})

	r.Append(ctx, a, "Hel")
	r.Append(ctx, a, "lo")

	got, ok := r.Partial(ctx, "m1")
	if !ok || got != "Hello" {
		t.Errorf("Partial() = %q, %v, want Hello, true", got, ok)
	}
	if _, ok := r.Partial(ctx, "missing"); ok {
		t.Error("Partial(missing) = true without redis")
	}

	r.Unregister(ctx, a)
	if _, ok := r.Partial(ctx, "m1"); ok {
		t.Error("Partial() after Unregister = true")
	}
}
