package monkey

import (
	"context"
	"errors"
	"testing"
)

func TestSortByPriorityThenName(t *testing.T) {
	noop := func(context.Context) error { return nil }
	monkeys := []Monkey{
		NewFunc("b-low", 1, noop),
		NewFunc("z-high", 10, noop),
		NewFunc("a-low", 1, noop),
		NewFunc("a-high", 10, noop),
	}
	Sort(monkeys)

	want := []string{"a-high", "z-high", "a-low", "b-low"}
	for i, name := range want {
		if monkeys[i].Name() != name {
			t.Errorf("order[%d] = %q, want %q", i, monkeys[i].Name(), name)
		}
	}
}

func TestSortedLeavesInputUntouched(t *testing.T) {
	noop := func(context.Context) error { return nil }
	monkeys := []Monkey{
		NewFunc("low", 1, noop),
		NewFunc("high", 10, noop),
	}
	out := Sorted(monkeys)

	if monkeys[0].Name() != "low" {
		t.Error("Sorted() reordered its input")
	}
	if out[0].Name() != "high" {
		t.Errorf("Sorted()[0] = %q, want %q", out[0].Name(), "high")
	}
}

func TestFunc(t *testing.T) {
	ran := false
	f := NewFunc("probe", 5, func(context.Context) error {
		ran = true
		return nil
	})

	if f.Name() != "probe" || f.Priority() != 5 {
		t.Errorf("Name()/Priority() = %q/%d, want probe/5", f.Name(), f.Priority())
	}
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !ran {
		t.Error("function body did not run")
	}
}

func TestFuncPropagatesError(t *testing.T) {
	wantErr := errors.New("target missing")
	f := NewFunc("failing", 0, func(context.Context) error { return wantErr })

	if err := f.Run(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestFuncNilBody(t *testing.T) {
	f := NewFunc("empty", 0, nil)
	if err := f.Run(context.Background()); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}
