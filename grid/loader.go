package grid

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const retryBackoff = 250 * time.Millisecond

// LoadHandle identifies one issued load and lets its owner cancel it.
type LoadHandle struct {
	ID     uuid.UUID
	Index  int
	cancel context.CancelFunc
}

// Cancel aborts the load. A completed-but-undelivered result is discarded.
func (h *LoadHandle) Cancel() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

type loadRequest struct {
	id       uuid.UUID
	index    int
	priority int // distance from window center, lower runs sooner
	deliver  func(image.Image, error)
	ctx      context.Context
	cancel   context.CancelFunc
}

// Loader schedules thumbnail fetches for bound render slots and
// full-resolution fetches for the lightbox. Thumbnails go through a
// priority queue bounded by a semaphore; full-resolution loads run on a
// separate, smaller semaphore so opening an item never queues behind
// scroll traffic.
//
// Every request carries a cancellation token. Completion re-checks the
// token before delivering, so a slot recycled mid-flight never receives a
// stale image; the slot's own binding check is the second half of that
// guard.
type Loader struct {
	source  Source
	dataset *Dataset
	mem     *memoryCache
	disk    *DiskCache // nil without WithDiskCache
	log     zerolog.Logger

	sem     *semaphore.Weighted
	fullSem *semaphore.Weighted

	// False when the source retries internally (see InternalRetrier).
	retryFetches bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*loadRequest
	byIndex map[int]*loadRequest
	closed  bool

	inFlight        atomic.Int64
	outstandingFull atomic.Int64
}

// NewLoader starts the dispatch goroutine. Close must be called to stop it.
func NewLoader(source Source, dataset *Dataset, disk *DiskCache, concurrency int, log zerolog.Logger) *Loader {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	retry := true
	if r, ok := source.(InternalRetrier); ok && r.RetriesInternally() {
		retry = false
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		source:       source,
		retryFetches: retry,
		dataset:      dataset,
		mem:          newMemoryCache(4 * defaultPageSize),
		disk:         disk,
		log:          log,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		fullSem:      semaphore.NewWeighted(defaultFullConcurrency),
		baseCtx:      ctx,
		baseCancel:   cancel,
		byIndex:      make(map[int]*loadRequest),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.dispatch()
	return l
}

// Cached returns the thumbnail for item from the memory cache, if present.
// Lets a slot scrolled back into view repaint synchronously.
func (l *Loader) Cached(item Item) (image.Image, bool) {
	return l.mem.get(item.ID)
}

// Request queues a thumbnail load for index. Priority is the distance from
// the window center; lower values are serviced first. An earlier request
// for the same index is superseded.
func (l *Loader) Request(index, priority int, deliver func(image.Image, error)) *LoadHandle {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	if prev, ok := l.byIndex[index]; ok {
		prev.cancel()
		delete(l.byIndex, index)
	}
	ctx, cancel := context.WithCancel(l.baseCtx)
	req := &loadRequest{
		id:       uuid.New(),
		index:    index,
		priority: priority,
		deliver:  deliver,
		ctx:      ctx,
		cancel:   cancel,
	}
	l.pending = append(l.pending, req)
	l.byIndex[index] = req
	l.cond.Signal()
	l.mu.Unlock()
	return &LoadHandle{ID: req.id, Index: index, cancel: cancel}
}

// Cancel aborts any pending or running thumbnail load for index.
func (l *Loader) Cancel(index int) {
	l.mu.Lock()
	if req, ok := l.byIndex[index]; ok {
		req.cancel()
		delete(l.byIndex, index)
	}
	l.mu.Unlock()
}

// CancelAll aborts every thumbnail load.
func (l *Loader) CancelAll() {
	l.mu.Lock()
	for index, req := range l.byIndex {
		req.cancel()
		delete(l.byIndex, index)
	}
	l.pending = nil
	l.mu.Unlock()
}

// Retarget re-prioritizes the pending queue around a new window center.
func (l *Loader) Retarget(center int) {
	l.mu.Lock()
	for _, req := range l.pending {
		d := req.index - center
		if d < 0 {
			d = -d
		}
		req.priority = d
	}
	l.mu.Unlock()
}

// InFlight returns the number of thumbnail source calls currently running.
func (l *Loader) InFlight() int {
	return int(l.inFlight.Load())
}

// OutstandingFull returns the number of full-resolution loads that have
// been issued and neither delivered nor cancelled-and-drained yet.
func (l *Loader) OutstandingFull() int {
	return int(l.outstandingFull.Load())
}

// Close cancels everything and stops the dispatcher.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.pending = nil
	for index, req := range l.byIndex {
		req.cancel()
		delete(l.byIndex, index)
	}
	l.cond.Broadcast()
	l.mu.Unlock()
	l.baseCancel()
}

func (l *Loader) dispatch() {
	for {
		l.mu.Lock()
		for !l.closed && len(l.pending) == 0 {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()

		// Capacity first, then pick: the best request is chosen at the
		// moment a worker is actually free, so late Retargets still win.
		if err := l.sem.Acquire(l.baseCtx, 1); err != nil {
			return
		}
		l.mu.Lock()
		req := l.popBestLocked()
		l.mu.Unlock()
		if req == nil {
			l.sem.Release(1)
			continue
		}
		go l.run(req)
	}
}

// popBestLocked removes and returns the highest-priority live request.
// Cancelled requests are compacted out of the queue on every scan, so
// sustained scrolling cannot accumulate dead entries.
func (l *Loader) popBestLocked() *loadRequest {
	live := l.pending[:0]
	best := -1
	for _, req := range l.pending {
		if req.ctx.Err() != nil {
			continue
		}
		live = append(live, req)
		if best == -1 || req.priority < live[best].priority ||
			(req.priority == live[best].priority && req.index < live[best].index) {
			best = len(live) - 1
		}
	}
	if best == -1 {
		l.pending = nil
		return nil
	}
	req := live[best]
	l.pending = append(live[:best], live[best+1:]...)
	return req
}

func (l *Loader) run(req *loadRequest) {
	defer l.sem.Release(1)
	defer func() {
		l.mu.Lock()
		if l.byIndex[req.index] == req {
			delete(l.byIndex, req.index)
		}
		l.mu.Unlock()
	}()

	l.inFlight.Add(1)
	img, err := l.loadThumbnail(req)
	l.inFlight.Add(-1)

	if req.ctx.Err() != nil {
		// Recycled or cancelled while loading; discard whatever we got.
		req.deliver(nil, ErrCancelled)
		return
	}
	if err != nil {
		l.log.Warn().Err(err).Int("index", req.index).Str("request", req.id.String()).Msg("loader: thumbnail failed")
		req.deliver(nil, &FetchError{Index: req.index, Err: err})
		return
	}
	req.deliver(img, nil)
}

func (l *Loader) loadThumbnail(req *loadRequest) (image.Image, error) {
	if err := l.dataset.EnsureRange(req.index, req.index); err != nil {
		return nil, err
	}
	item, ok := l.dataset.Get(req.index)
	if !ok {
		return nil, errItemUnavailable
	}

	if img, ok := l.mem.get(item.ID); ok {
		return img, nil
	}
	var key string
	if l.disk != nil {
		key = l.disk.Key(item)
		if img, ok := l.disk.Get(key); ok {
			l.mem.put(item.ID, img)
			return img, nil
		}
	}

	img, err := l.source.Thumbnail(req.ctx, item)
	if err != nil && req.ctx.Err() == nil && l.retryFetches {
		// One retry with backoff, then give up silently. A single broken
		// thumbnail must never block the grid.
		l.log.Debug().Err(err).Int("index", req.index).Msg("loader: retrying thumbnail")
		t := time.NewTimer(retryBackoff)
		select {
		case <-req.ctx.Done():
			t.Stop()
			return nil, req.ctx.Err()
		case <-t.C:
		}
		img, err = l.source.Thumbnail(req.ctx, item)
	}
	if err != nil {
		return nil, err
	}

	l.mem.put(item.ID, img)
	if l.disk != nil {
		l.disk.Put(key, img)
	}
	return img, nil
}

// RequestFull fetches the full-resolution image for index on the dedicated
// lane. Deliver runs exactly once with either pixels or an error;
// cancellation delivers ErrCancelled.
func (l *Loader) RequestFull(index int, deliver func(image.Image, error)) *LoadHandle {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(l.baseCtx)
	handle := &LoadHandle{ID: uuid.New(), Index: index, cancel: cancel}
	l.outstandingFull.Add(1)

	go func() {
		defer l.outstandingFull.Add(-1)
		if err := l.fullSem.Acquire(ctx, 1); err != nil {
			deliver(nil, ErrCancelled)
			return
		}
		defer l.fullSem.Release(1)

		img, err := l.loadFull(ctx, index)
		if ctx.Err() != nil {
			deliver(nil, ErrCancelled)
			return
		}
		if err != nil {
			l.log.Warn().Err(err).Int("index", index).Str("request", handle.ID.String()).Msg("loader: full image failed")
			deliver(nil, &FetchError{Index: index, Err: err})
			return
		}
		deliver(img, nil)
	}()

	return handle
}

func (l *Loader) loadFull(ctx context.Context, index int) (image.Image, error) {
	if err := l.dataset.EnsureRange(index, index); err != nil {
		return nil, err
	}
	item, ok := l.dataset.Get(index)
	if !ok {
		return nil, errItemUnavailable
	}

	img, err := l.source.FullImage(ctx, item)
	if err != nil && ctx.Err() == nil && l.retryFetches {
		t := time.NewTimer(retryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		img, err = l.source.FullImage(ctx, item)
	}
	return img, err
}

// Prewarm pulls thumbnails for the given range from the disk cache into
// memory in the background, so a freshly scrolled-to region paints from
// cache instead of re-decoding.
func (l *Loader) Prewarm(first, last int) {
	if l.disk == nil {
		return
	}
	go func() {
		for i := first; i <= last; i++ {
			if l.baseCtx.Err() != nil {
				return
			}
			item, ok := l.dataset.Get(i)
			if !ok {
				continue
			}
			if _, ok := l.mem.get(item.ID); ok {
				continue
			}
			if img, ok := l.disk.Get(l.disk.Key(item)); ok {
				l.mem.put(item.ID, img)
			}
			// Small sleep to avoid I/O spikes.
			time.Sleep(5 * time.Millisecond)
		}
	}()
}
