package grid

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Dataset is the sparse, index-keyed materialization of the provider's
// ordered result sequence. Only indices near the live window are held in
// memory; everything else is recreatable via re-fetch. Fetches are paged
// and deduplicated, so many slots asking for neighbouring indices cost one
// provider round trip.
type Dataset struct {
	provider Provider
	pageSize int
	grace    time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	items   map[int]Item
	outside map[int]time.Time // index -> when it left the live range

	group singleflight.Group
}

// NewDataset wraps provider with a sparse cache fetching pageSize items at
// a time.
func NewDataset(provider Provider, pageSize int, grace time.Duration, log zerolog.Logger) *Dataset {
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if grace <= 0 {
		grace = defaultEvictionGrace
	}
	return &Dataset{
		provider: provider,
		pageSize: pageSize,
		grace:    grace,
		log:      log,
		now:      time.Now,
		items:    make(map[int]Item),
		outside:  make(map[int]time.Time),
	}
}

// Total returns the provider's current item count.
func (d *Dataset) Total() int {
	n := d.provider.TotalCount()
	if n < 0 {
		return 0
	}
	return n
}

// Get returns the cached item at index, if materialized.
func (d *Dataset) Get(index int) (Item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.items[index]
	return it, ok
}

// EnsureRange materializes [first, last], fetching any missing pages.
// Safe to call from any goroutine; concurrent callers wanting the same page
// share one provider fetch.
func (d *Dataset) EnsureRange(first, last int) error {
	total := d.Total()
	if total == 0 || last < first {
		return nil
	}
	if first < 0 {
		first = 0
	}
	if last > total-1 {
		last = total - 1
	}

	for page := first / d.pageSize; page <= last/d.pageSize; page++ {
		if d.pageCached(page, total) {
			continue
		}
		if err := d.fetchPage(page); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) pageCached(page, total int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := page * d.pageSize
	end := start + d.pageSize
	if end > total {
		end = total
	}
	for i := start; i < end; i++ {
		if _, ok := d.items[i]; !ok {
			return false
		}
	}
	return true
}

func (d *Dataset) fetchPage(page int) error {
	_, err, _ := d.group.Do(fmt.Sprintf("page-%d", page), func() (any, error) {
		start := page * d.pageSize
		items, err := d.provider.FetchRange(start, d.pageSize)
		if err != nil {
			d.log.Warn().Err(err).Int("page", page).Msg("dataset: page fetch failed")
			return nil, err
		}
		d.mu.Lock()
		for i, it := range items {
			d.items[start+i] = it
			delete(d.outside, start+i)
		}
		d.mu.Unlock()
		return nil, nil
	})
	return err
}

// Evict drops cached items that have been outside the live window for
// longer than the grace period. Items back inside the window are unmarked.
func (d *Dataset) Evict(w Window) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	dropped := 0
	for index := range d.items {
		if w.Contains(index) {
			delete(d.outside, index)
			continue
		}
		since, marked := d.outside[index]
		if !marked {
			d.outside[index] = now
			continue
		}
		if now.Sub(since) >= d.grace {
			delete(d.items, index)
			delete(d.outside, index)
			dropped++
		}
	}
	if dropped > 0 {
		d.log.Debug().Int("dropped", dropped).Int("cached", len(d.items)).Msg("dataset: evicted stale items")
	}
}

// CachedCount returns how many items are currently materialized.
func (d *Dataset) CachedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// DeleteAt re-indexes the cache after the provider removed the item at
// index: the entry is dropped and every cached index above it shifts down.
func (d *Dataset) DeleteAt(index int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = shiftDown(d.items, index)
	d.outside = shiftDown(d.outside, index)
}

// InsertAt re-indexes the cache after the provider inserted an item at
// index: every cached index at or above it shifts up. The new item itself
// is fetched on demand.
func (d *Dataset) InsertAt(index int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = shiftUp(d.items, index)
	d.outside = shiftUp(d.outside, index)
}

// Invalidate empties the cache, forcing re-fetches. Used when the result
// set changed wholesale (new query).
func (d *Dataset) Invalidate() {
	d.mu.Lock()
	d.items = make(map[int]Item)
	d.outside = make(map[int]time.Time)
	d.mu.Unlock()
}

func shiftDown[V any](m map[int]V, index int) map[int]V {
	next := make(map[int]V, len(m))
	for i, v := range m {
		switch {
		case i < index:
			next[i] = v
		case i == index:
		default:
			next[i-1] = v
		}
	}
	return next
}

func shiftUp[V any](m map[int]V, index int) map[int]V {
	next := make(map[int]V, len(m))
	for i, v := range m {
		if i >= index {
			next[i+1] = v
		} else {
			next[i] = v
		}
	}
	return next
}
