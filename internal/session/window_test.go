package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/MrWong99/cherry/pkg/types"
)

func contents(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func equal(a, b []string) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func TestWindow_KeepsSystemTurn(t *testing.T) {
	t.Parallel()

	w := New(3)
	w.AddTurn(types.RoleSystem, "sys")
	w.AddTurn(types.RoleUser, "u1")
	w.AddTurn(types.RoleAssistant, "a1")
	w.AddTurn(types.RoleUser, "u2")
	w.AddTurn(types.RoleAssistant, "a2")

	if got := contents(w.Context()); !equal(got, []string{"sys", "u2", "a2"}) {
		t.Errorf("Context = %v", got)
	}
	if w.Len() != 3 {
		t.Errorf("Len = %d", w.Len())
	}
}

func TestWindow_NoSystemEvictsOldest(t *testing.T) {
	t.Parallel()

	w := New(2)
	for _, c := range []string{"u1", "a1", "u2"} {
		w.AddTurn(types.RoleUser, c)
	}
	if got := contents(w.Context()); !equal(got, []string{"a1", "u2"}) {
		t.Errorf("Context = %v", got)
	}
}

func TestWindow_CapNeverExceeded(t *testing.T) {
	t.Parallel()

	for size := 1; size <= 5; size++ {
		w := New(size)
		w.AddTurn(types.RoleSystem, "sys")
		for i := range 20 {
			w.AddTurn(types.RoleUser, fmt.Sprint(i))
			if w.Len() > size {
				t.Fatalf("size %d: Len = %d", size, w.Len())
			}
		}
		if size > 1 && w.Context()[0].Content != "sys" {
			t.Errorf("size %d: system turn evicted", size)
		}
	}
}

func TestWindow_SingleSlotWithSystem(t *testing.T) {
	t.Parallel()

	// With room for one turn only the pinned system turn survives.
	w := New(1)
	w.AddTurn(types.RoleSystem, "sys")
	w.AddTurn(types.RoleUser, "hello")
	if got := contents(w.Context()); !equal(got, []string{"sys"}) {
		t.Errorf("Context = %v", got)
	}
}

func TestWindow_SetSystem(t *testing.T) {
	t.Parallel()

	w := New(4)
	w.AddTurn(types.RoleUser, "u1")
	w.SetSystem("v1")
	w.SetSystem("v2")
	if got := contents(w.Context()); !equal(got, []string{"v2", "u1"}) {
		t.Errorf("Context = %v", got)
	}
	if got := contents(w.History()); !equal(got, []string{"u1"}) {
		t.Errorf("History = %v", got)
	}
	w.SetSystem("")
	if got := contents(w.Context()); !equal(got, []string{"u1"}) {
		t.Errorf("Context after removal = %v", got)
	}
}

func TestWindow_Reset(t *testing.T) {
	t.Parallel()

	w := New(4)
	w.SetSystem("sys")
	w.AddTurn(types.RoleUser, "u1")
	w.Reset()
	if got := contents(w.Context()); !equal(got, []string{"sys"}) {
		t.Errorf("Context = %v", got)
	}

	w = New(4)
	w.AddTurn(types.RoleUser, "u1")
	w.Reset()
	if w.Len() != 0 {
		t.Errorf("Len = %d", w.Len())
	}
}

func TestWindow_ContextIsCopy(t *testing.T) {
	t.Parallel()

	w := New(2)
	w.AddTurn(types.RoleUser, "u1")
	ctx := w.Context()
	ctx[0].Content = "mutated"
	if w.Context()[0].Content != "u1" {
		t.Error("Context exposed internal storage")
	}
}

func TestWindow_Defaults(t *testing.T) {
	t.Parallel()

	if New(0).Size() != DefaultSize {
		t.Errorf("Size = %d", New(0).Size())
	}
	w := New(2)
	w.AddTurn(types.RoleUser, "12345678")
	if got := w.TokenEstimate(); got != 3 {
		t.Errorf("TokenEstimate = %d, want 3", got)
	}
}

func TestWindow_Concurrent(t *testing.T) {
	t.Parallel()

	w := New(5)
	w.SetSystem("sys")
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.AddTurn(types.RoleUser, fmt.Sprint(i))
			_ = w.Context()
		}()
	}
	wg.Wait()
	if w.Len() != 5 || w.Context()[0].Content != "sys" {
		t.Errorf("Len = %d, first = %q", w.Len(), w.Context()[0].Content)
	}
}
