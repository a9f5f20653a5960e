package mods

import (
	"context"
	"errors"
	"testing"

	"github.com/patchworkmods/patchwork/internal/event"
	"github.com/patchworkmods/patchwork/internal/monkey"
)

func mustMod(t *testing.T, id string, opts ...ModOption) *Mod {
	t.Helper()
	m, err := NewMod(id, "1.0.0", opts...)
	if err != nil {
		t.Fatalf("NewMod(%q) error = %v", id, err)
	}
	return m
}

func TestNewModRejectsBadVersion(t *testing.T) {
	if _, err := NewMod("broken", "not-semver"); err == nil {
		t.Error("NewMod() error = nil for an invalid version")
	}
}

func TestModString(t *testing.T) {
	m := mustMod(t, "chat-overhaul")
	if got := m.String(); got != "chat-overhaul v1.0.0" {
		t.Errorf("String() = %q, want %q", got, "chat-overhaul v1.0.0")
	}
}

func TestLoadMonkeysRunsInPriorityOrder(t *testing.T) {
	var ran []string
	mk := func(name string, priority int) monkey.Monkey {
		return monkey.NewFunc(name, priority, func(context.Context) error {
			ran = append(ran, name)
			return nil
		})
	}
	m := mustMod(t, "ordered",
		WithMonkey(mk("low", 1)),
		WithMonkey(mk("high", 10)),
		WithMonkey(mk("mid", 5)),
	)

	if !m.LoadMonkeys(context.Background()) {
		t.Fatal("LoadMonkeys() = false")
	}
	want := []string{"high", "mid", "low"}
	if len(ran) != len(want) {
		t.Fatalf("ran %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Errorf("ran[%d] = %q, want %q", i, ran[i], want[i])
		}
	}
}

func TestLoadMonkeysGateIsOneShot(t *testing.T) {
	m := mustMod(t, "once")
	m.LoadMonkeys(context.Background())

	defer func() {
		if recover() == nil {
			t.Error("second LoadMonkeys did not panic")
		}
	}()
	m.LoadMonkeys(context.Background())
}

func TestLoadEarlyMonkeysGateIsOneShot(t *testing.T) {
	m := mustMod(t, "once")
	m.LoadEarlyMonkeys(context.Background())
	if !m.EarlyMonkeysRan() {
		t.Error("EarlyMonkeysRan() = false after the gate ran")
	}

	defer func() {
		if recover() == nil {
			t.Error("second LoadEarlyMonkeys did not panic")
		}
	}()
	m.LoadEarlyMonkeys(context.Background())
}

func TestFailuresAreContained(t *testing.T) {
	ran := false
	m := mustMod(t, "broken",
		WithMonkey(monkey.NewFunc("panics", 10, func(context.Context) error {
			panic("boom")
		})),
		WithMonkey(monkey.NewFunc("errors", 5, func(context.Context) error {
			return errors.New("patch target missing")
		})),
		WithMonkey(monkey.NewFunc("survives", 1, func(context.Context) error {
			ran = true
			return nil
		})),
	)

	if m.LoadMonkeys(context.Background()) {
		t.Error("LoadMonkeys() = true despite failing patches")
	}
	if !ran {
		t.Error("later patch did not run after earlier failures")
	}
	if !m.MonkeysRan() {
		t.Error("MonkeysRan() = false after the gate ran")
	}
	if !m.MonkeysFailed() {
		t.Error("MonkeysFailed() = false after failing patches")
	}
}

func TestShutdownEventsAndHooks(t *testing.T) {
	bus := event.NewBus(nil)

	var order []string
	bus.Subscribe("test", event.TopicModShuttingDown, func(event.Event) {
		order = append(order, "shutting-down")
	})
	bus.Subscribe("test", event.TopicModShutdownDone, func(event.Event) {
		order = append(order, "done")
	})

	m := mustMod(t, "tidy",
		WithBus(bus),
		WithShutdownHook(func(context.Context) error {
			order = append(order, "hook")
			return nil
		}),
	)

	if !m.Shutdown(context.Background(), false) {
		t.Fatal("Shutdown() = false")
	}
	want := []string{"shutting-down", "hook", "done"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestShutdownRemovesOwnRegistrations(t *testing.T) {
	bus := event.NewBus(nil)
	bus.Subscribe("tidy", event.TopicConfigChanged, func(event.Event) {})
	bus.Subscribe("other", event.TopicConfigChanged, func(event.Event) {})

	m := mustMod(t, "tidy", WithBus(bus))
	m.Shutdown(context.Background(), false)

	if got := bus.SubscriberCount(event.TopicConfigChanged); got != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", got)
	}
}

func TestShutdownKeepsRegistrationsWhenExiting(t *testing.T) {
	bus := event.NewBus(nil)
	bus.Subscribe("tidy", event.TopicConfigChanged, func(event.Event) {})

	m := mustMod(t, "tidy", WithBus(bus))
	m.Shutdown(context.Background(), true)

	if got := bus.SubscriberCount(event.TopicConfigChanged); got != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", got)
	}
}

func TestShutdownHookFailureStillFiresDone(t *testing.T) {
	bus := event.NewBus(nil)
	done := 0
	bus.Subscribe("test", event.TopicModShutdownDone, func(event.Event) { done++ })

	m := mustMod(t, "flaky",
		WithBus(bus),
		WithShutdownHook(func(context.Context) error { panic("hook panic") }),
	)

	if m.Shutdown(context.Background(), false) {
		t.Error("Shutdown() = true despite a failing hook")
	}
	if !m.ShutdownFailed() {
		t.Error("ShutdownFailed() = false")
	}
	if done != 1 {
		t.Errorf("shutdown-done events = %d, want 1", done)
	}
}

func TestShutdownGateIsOneShot(t *testing.T) {
	m := mustMod(t, "once")
	m.Shutdown(context.Background(), false)

	defer func() {
		if recover() == nil {
			t.Error("second Shutdown did not panic")
		}
	}()
	m.Shutdown(context.Background(), false)
}
