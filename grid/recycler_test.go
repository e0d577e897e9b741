package grid

import "testing"

func TestRecycler_BindsWindowWithinPool(t *testing.T) {
	r := NewRecycler(12)
	w := Window{Start: 0, End: 7, BufferAfter: 4}

	ch, err := r.Reconcile(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.Assign) != 12 {
		t.Fatalf("expected 12 assignments, got %d", len(ch.Assign))
	}
	for i := 0; i < 12; i++ {
		if _, ok := r.SlotFor(i); !ok {
			t.Errorf("index %d not bound after reconcile", i)
		}
	}
}

func TestRecycler_SlotCountNeverExceedsPool(t *testing.T) {
	const pool = 16
	r := NewRecycler(pool)

	// Walk a large dataset in jumps; the bound slot count must stay within
	// the pool no matter where the window lands.
	for _, start := range []int{0, 100, 5000, 99980, 42} {
		w := Window{Start: start, End: start + 11, BufferBefore: 2, BufferAfter: 2}
		if w.First() < 0 {
			w.BufferBefore = 0
		}
		if _, err := r.Reconcile(w); err != nil {
			t.Fatalf("start=%d: %v", start, err)
		}
		bound := 0
		for slot := 0; slot < pool; slot++ {
			if r.IndexAt(slot) >= 0 {
				bound++
			}
		}
		if bound > pool {
			t.Fatalf("start=%d: %d bound slots exceed pool %d", start, bound, pool)
		}
	}
}

func TestRecycler_ScrollReusesNearestSlots(t *testing.T) {
	r := NewRecycler(8)
	if _, err := r.Reconcile(Window{Start: 0, End: 7}); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}

	// Scroll down by one row of four: indices 0..3 leave, 8..11 enter.
	ch, err := r.Reconcile(Window{Start: 4, End: 11})
	if err != nil {
		t.Fatalf("scrolled reconcile: %v", err)
	}
	if len(ch.Release) != 4 || len(ch.Assign) != 4 {
		t.Fatalf("expected 4 releases and 4 assigns, got %d/%d", len(ch.Release), len(ch.Assign))
	}

	// The freed slots previously held 0..3; the nearest freed slot for the
	// first new index 8 is the one that held 3.
	released := map[int]bool{}
	for _, s := range ch.Release {
		released[s] = true
	}
	for _, b := range ch.Assign {
		if !released[b.Slot] {
			t.Errorf("index %d assigned to slot %d which was not freed", b.Index, b.Slot)
		}
	}
	if slot, ok := r.SlotFor(8); !ok || r.lastIndex[slot] != 8 {
		t.Fatalf("index 8 not bound correctly")
	}
}

func TestRecycler_ReuseIsDeterministic(t *testing.T) {
	run := func() []SlotBinding {
		r := NewRecycler(8)
		r.Reconcile(Window{Start: 0, End: 7})
		ch, _ := r.Reconcile(Window{Start: 4, End: 11})
		return ch.Assign
	}
	first := run()
	for i := 0; i < 10; i++ {
		again := run()
		if len(again) != len(first) {
			t.Fatalf("assignment count varies across runs")
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: assignment %d = %+v, want %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestRecycler_TiesBreakByAscendingSlot(t *testing.T) {
	r := NewRecycler(4)
	// Nothing ever bound: all slots are equally far, so assignment order
	// must follow slot ids.
	ch, err := r.Reconcile(Window{Start: 10, End: 13})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, b := range ch.Assign {
		if b.Slot != i {
			t.Fatalf("assignment %d went to slot %d, want %d", i, b.Slot, i)
		}
	}
}

func TestRecycler_InvalidWindowMutatesNothing(t *testing.T) {
	r := NewRecycler(8)
	if _, err := r.Reconcile(Window{Start: 0, End: 7}); err != nil {
		t.Fatalf("setup reconcile: %v", err)
	}

	bad := []Window{
		{Start: 5, End: 2},                   // end before start beyond empty
		{Start: 0, End: 3, BufferBefore: -1}, // negative buffer
		{Start: 0, End: 3, BufferAfter: -2},
		{Start: 1, End: 3, BufferBefore: 5}, // first index negative
	}
	for _, w := range bad {
		if _, err := r.Reconcile(w); !IsConfigurationError(err) {
			t.Errorf("window %+v: expected configuration error, got %v", w, err)
		}
	}

	// Bindings from the valid reconcile must be intact.
	for i := 0; i < 8; i++ {
		if _, ok := r.SlotFor(i); !ok {
			t.Errorf("index %d lost after failed reconcile", i)
		}
	}
}

func TestRecycler_EmptyWindowReleasesAll(t *testing.T) {
	r := NewRecycler(8)
	r.Reconcile(Window{Start: 0, End: 7})

	ch, err := r.Reconcile(Window{Start: 0, End: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.Release) != 8 || len(ch.Assign) != 0 {
		t.Fatalf("expected 8 releases and no assigns, got %d/%d", len(ch.Release), len(ch.Assign))
	}
}

func TestRecycler_ResizeShrinksHighestSlots(t *testing.T) {
	r := NewRecycler(8)
	r.Reconcile(Window{Start: 0, End: 7})

	r.Resize(4)
	if r.Size() != 4 {
		t.Fatalf("size after shrink = %d, want 4", r.Size())
	}
	for slot := 0; slot < 4; slot++ {
		if r.IndexAt(slot) < 0 {
			t.Errorf("low slot %d should survive shrink", slot)
		}
	}

	// Indices that lost their slot get rebound on the next reconcile.
	r.Resize(8)
	ch, err := r.Reconcile(Window{Start: 0, End: 7})
	if err != nil {
		t.Fatalf("reconcile after regrow: %v", err)
	}
	if len(ch.Assign) != 4 {
		t.Fatalf("expected 4 rebinds after regrow, got %d", len(ch.Assign))
	}
}
