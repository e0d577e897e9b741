package grid

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSource produces tiny images and lets tests gate, fail and count calls.
type fakeSource struct {
	mu         sync.Mutex
	thumbCalls int
	fullCalls  int
	failFirst  map[string]int // item ID -> remaining failures
	gate       chan struct{}  // when set, Thumbnail blocks until released or ctx done
}

func (s *fakeSource) Thumbnail(ctx context.Context, item Item) (image.Image, error) {
	s.mu.Lock()
	s.thumbCalls++
	gate := s.gate
	if s.failFirst != nil && s.failFirst[item.ID] > 0 {
		s.failFirst[item.ID]--
		s.mu.Unlock()
		return nil, errors.New("decode failed")
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (s *fakeSource) FullImage(ctx context.Context, item Item) (image.Image, error) {
	s.mu.Lock()
	s.fullCalls++
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, 16, 16)), nil
}

func (s *fakeSource) calls() (thumb, full int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thumbCalls, s.fullCalls
}

func newTestLoader(t *testing.T, src Source, concurrency int) (*Loader, *fakeProvider) {
	t.Helper()
	p := &fakeProvider{total: 1000}
	d := NewDataset(p, 64, time.Minute, zerolog.Nop())
	l := NewLoader(src, d, nil, concurrency, zerolog.Nop())
	t.Cleanup(l.Close)
	return l, p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestLoader_DeliversThumbnail(t *testing.T) {
	src := &fakeSource{}
	l, _ := newTestLoader(t, src, 4)

	var got atomic.Value
	l.Request(7, 0, func(img image.Image, err error) {
		if err != nil {
			got.Store(err)
			return
		}
		got.Store(img)
	})

	waitFor(t, "delivery", func() bool { return got.Load() != nil })
	if _, ok := got.Load().(image.Image); !ok {
		t.Fatalf("expected image, got %v", got.Load())
	}
}

func TestLoader_ConcurrencyCap(t *testing.T) {
	const limit = 3
	src := &fakeSource{gate: make(chan struct{})}
	l, _ := newTestLoader(t, src, limit)

	var peak atomic.Int64
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		l.Request(i, i, func(image.Image, error) { done <- struct{}{} })
	}

	// Sample the in-flight count while the gate is shut.
	waitFor(t, "loads to start", func() bool {
		n := int64(l.InFlight())
		if n > peak.Load() {
			peak.Store(n)
		}
		return n >= limit
	})
	time.Sleep(30 * time.Millisecond)
	if n := int64(l.InFlight()); n > peak.Load() {
		peak.Store(n)
	}

	close(src.gate)
	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("timed out draining deliveries")
		}
	}

	if peak.Load() > limit {
		t.Fatalf("in-flight peak %d exceeds cap %d", peak.Load(), limit)
	}
}

func TestLoader_CancelDiscardsResult(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	l, _ := newTestLoader(t, src, 2)

	result := make(chan error, 1)
	l.Request(3, 0, func(_ image.Image, err error) { result <- err })

	waitFor(t, "load to start", func() bool { return l.InFlight() > 0 })
	l.Cancel(3)
	close(src.gate)

	select {
	case err := <-result:
		if err != ErrCancelled {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled request never delivered")
	}
}

func TestLoader_HandleCancelDiscardsResult(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	l, _ := newTestLoader(t, src, 2)

	result := make(chan error, 1)
	h := l.Request(3, 0, func(_ image.Image, err error) { result <- err })

	waitFor(t, "load to start", func() bool { return l.InFlight() > 0 })
	h.Cancel()
	close(src.gate)

	if err := <-result; err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestLoader_RetriesOnceThenSucceeds(t *testing.T) {
	src := &fakeSource{failFirst: map[string]int{"item-5": 1}}
	l, _ := newTestLoader(t, src, 2)

	result := make(chan error, 1)
	l.Request(5, 0, func(_ image.Image, err error) { result <- err })

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected success after retry, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	if thumbs, _ := src.calls(); thumbs != 2 {
		t.Fatalf("expected exactly 2 source calls (original + one retry), got %d", thumbs)
	}
}

func TestLoader_RetriesOnceThenFails(t *testing.T) {
	src := &fakeSource{failFirst: map[string]int{"item-5": 10}}
	l, _ := newTestLoader(t, src, 2)

	result := make(chan error, 1)
	l.Request(5, 0, func(_ image.Image, err error) { result <- err })

	err := <-result
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Index != 5 {
		t.Fatalf("FetchError.Index = %d, want 5", fe.Index)
	}
	if thumbs, _ := src.calls(); thumbs != 2 {
		t.Fatalf("expected exactly 2 source calls before giving up, got %d", thumbs)
	}
}

// selfRetrySource marks itself as retrying internally, the way the HTTP
// source does.
type selfRetrySource struct {
	fakeSource
}

func (s *selfRetrySource) RetriesInternally() bool { return true }

func TestLoader_NoExtraAttemptForSelfRetryingSource(t *testing.T) {
	src := &selfRetrySource{fakeSource: fakeSource{failFirst: map[string]int{"item-5": 10}}}
	l, _ := newTestLoader(t, src, 2)

	result := make(chan error, 1)
	l.Request(5, 0, func(_ image.Image, err error) { result <- err })

	err := <-result
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if thumbs, _ := src.calls(); thumbs != 1 {
		t.Fatalf("source retries internally, loader must not add a round: %d calls", thumbs)
	}
}

// vanishingProvider claims items it never returns.
type vanishingProvider struct{}

func (vanishingProvider) TotalCount() int { return 100 }

func (vanishingProvider) FetchRange(int, int) ([]Item, error) { return nil, nil }

func TestLoader_MissingItemReportsUnavailable(t *testing.T) {
	d := NewDataset(vanishingProvider{}, 64, time.Minute, zerolog.Nop())
	l := NewLoader(&fakeSource{}, d, nil, 2, zerolog.Nop())
	t.Cleanup(l.Close)

	result := make(chan error, 1)
	l.Request(5, 0, func(_ image.Image, err error) { result <- err })

	err := <-result
	if !errors.Is(err, errItemUnavailable) {
		t.Fatalf("expected item-unavailable, got %v", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Fatal("a provider miss must not masquerade as cancellation")
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Index != 5 {
		t.Fatalf("expected FetchError for index 5, got %v", err)
	}
}

func TestLoader_PopCompactsCancelledRequests(t *testing.T) {
	mk := func(index, priority int, cancelled bool) *loadRequest {
		ctx, cancel := context.WithCancel(context.Background())
		if cancelled {
			cancel()
		} else {
			t.Cleanup(cancel)
		}
		return &loadRequest{index: index, priority: priority, ctx: ctx, cancel: cancel}
	}

	l := &Loader{}
	l.pending = []*loadRequest{
		mk(1, 5, true),
		mk(2, 3, false),
		mk(3, 9, true),
		mk(4, 1, false),
		mk(5, 7, true),
	}

	req := l.popBestLocked()
	if req == nil || req.index != 4 {
		t.Fatalf("expected live request 4, got %+v", req)
	}
	if len(l.pending) != 1 || l.pending[0].index != 2 {
		t.Fatalf("cancelled requests should be compacted out, %d left", len(l.pending))
	}

	l.pending = append(l.pending, mk(6, 0, true))
	if req := l.popBestLocked(); req == nil || req.index != 2 {
		t.Fatalf("expected live request 2, got %+v", req)
	}
	if req := l.popBestLocked(); req != nil || len(l.pending) != 0 {
		t.Fatalf("queue should drain to empty, got %+v with %d pending", req, len(l.pending))
	}
}

func TestLoader_SameIndexSupersedes(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	l, _ := newTestLoader(t, src, 1)

	first := make(chan error, 1)
	l.Request(4, 0, func(_ image.Image, err error) { first <- err })
	waitFor(t, "first load to start", func() bool { return l.InFlight() > 0 })

	second := make(chan error, 1)
	l.Request(4, 0, func(_ image.Image, err error) { second <- err })
	close(src.gate)

	if err := <-first; err != ErrCancelled {
		t.Fatalf("superseded request should see ErrCancelled, got %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("superseding request should succeed, got %v", err)
	}
}

func TestLoader_CachedAfterDelivery(t *testing.T) {
	src := &fakeSource{}
	l, _ := newTestLoader(t, src, 2)

	done := make(chan struct{}, 1)
	l.Request(8, 0, func(image.Image, error) { done <- struct{}{} })
	<-done

	item, ok := l.dataset.Get(8)
	if !ok {
		t.Fatal("dataset should hold item 8")
	}
	if _, ok := l.Cached(item); !ok {
		t.Fatal("delivered thumbnail should be memory-cached")
	}

	// A second request is served from cache without touching the source.
	before, _ := src.calls()
	done2 := make(chan struct{}, 1)
	l.Request(8, 0, func(image.Image, error) { done2 <- struct{}{} })
	<-done2
	after, _ := src.calls()
	if after != before {
		t.Fatalf("cached thumbnail refetched: %d -> %d source calls", before, after)
	}
}

func TestLoader_FullLane(t *testing.T) {
	src := &fakeSource{}
	l, _ := newTestLoader(t, src, 2)

	result := make(chan image.Image, 1)
	l.RequestFull(12, func(img image.Image, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		result <- img
	})

	select {
	case img := <-result:
		if img == nil {
			t.Fatal("expected full image")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	waitFor(t, "outstanding count to drain", func() bool { return l.OutstandingFull() == 0 })
}

func TestLoader_FullCancelDrains(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	l, _ := newTestLoader(t, src, 2)

	result := make(chan error, 1)
	h := l.RequestFull(12, func(_ image.Image, err error) { result <- err })
	waitFor(t, "full load to start", func() bool { return l.OutstandingFull() > 0 })

	h.Cancel()
	if err := <-result; err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	waitFor(t, "outstanding count to drain", func() bool { return l.OutstandingFull() == 0 })
	close(src.gate)
}

func TestLoader_PriorityOrder(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	l, _ := newTestLoader(t, src, 1)

	// Occupy the single worker so the rest queue up.
	blocker := make(chan error, 1)
	l.Request(999, 0, func(_ image.Image, err error) { blocker <- err })
	waitFor(t, "blocker to start", func() bool { return l.InFlight() > 0 })

	var mu sync.Mutex
	var order []int
	record := func(index int) func(image.Image, error) {
		return func(image.Image, error) {
			mu.Lock()
			order = append(order, index)
			mu.Unlock()
		}
	}
	l.Request(50, 50, record(50))
	l.Request(10, 10, record(10))
	l.Request(30, 30, record(30))

	close(src.gate)
	<-blocker
	waitFor(t, "queue to drain", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []int{10, 30, 50}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery order %v, want %v", order, want)
		}
	}
}
