package grid

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// NavMode distinguishes user-driven browsing from the timed slideshow.
type NavMode int

const (
	ModeBrowsing NavMode = iota
	ModeSlideshow
)

// Lightbox is the navigation state machine behind the full-item viewer.
// It owns a single current index independent of grid scroll position.
//
// Every transition bumps a generation counter; asynchronous side effects
// (scroll-into-view, full-resolution fetches) carry the generation they
// were issued under and are dropped when a later transition superseded
// them. Last writer wins on the current index.
type Lightbox struct {
	mu       sync.Mutex
	current  int // -1 when closed
	total    int
	wrap     bool
	gen      uint64
	mode     NavMode
	interval time.Duration
	timer    *time.Timer

	onNavigate func(index int, gen uint64)
	onClose    func(gen uint64)
	log        zerolog.Logger
}

// NewLightbox creates a closed lightbox over total items. With wrap set,
// next/previous use modular arithmetic instead of clamping at the
// boundaries.
func NewLightbox(total int, wrap bool, interval time.Duration, log zerolog.Logger) *Lightbox {
	if total < 0 {
		total = 0
	}
	if interval <= 0 {
		interval = defaultSlideshowInterval
	}
	return &Lightbox{
		current:  -1,
		total:    total,
		wrap:     wrap,
		interval: interval,
		log:      log,
	}
}

// OnNavigate registers the callback fired after every transition that
// leaves the lightbox open. The generation identifies the transition for
// stale-response guarding.
func (l *Lightbox) OnNavigate(fn func(index int, gen uint64)) {
	l.mu.Lock()
	l.onNavigate = fn
	l.mu.Unlock()
}

// OnClose registers the callback fired when the lightbox closes.
func (l *Lightbox) OnClose(fn func(gen uint64)) {
	l.mu.Lock()
	l.onClose = fn
	l.mu.Unlock()
}

// IsOpen reports whether the lightbox is showing an item.
func (l *Lightbox) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current >= 0
}

// Current returns the open index, or false when closed.
func (l *Lightbox) Current() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current < 0 {
		return 0, false
	}
	return l.current, true
}

// Mode returns the current navigation mode.
func (l *Lightbox) Mode() NavMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// Generation returns the id of the latest transition.
func (l *Lightbox) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// Superseded reports whether a side effect issued under gen has been
// overtaken by a later transition and must be discarded.
func (l *Lightbox) Superseded(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen != l.gen
}

// Open transitions Closed -> Open(index). Out-of-range indices clamp to the
// nearest valid index; opening over an empty dataset stays closed.
func (l *Lightbox) Open(index int) {
	l.mu.Lock()
	if l.total == 0 {
		l.log.Debug().Msg("lightbox: open ignored, dataset empty")
		l.mu.Unlock()
		return
	}
	clamped := clampIndex(index, l.total)
	if clamped != index {
		l.log.Debug().Int("index", index).Int("clamped", clamped).Msg("lightbox: open index clamped")
	}
	l.setCurrentLocked(clamped)
}

// Next advances to the following item. At the last index it clamps (or
// wraps when configured).
func (l *Lightbox) Next() { l.step(1) }

// Prev moves to the preceding item. At index 0 it clamps (or wraps).
func (l *Lightbox) Prev() { l.step(-1) }

func (l *Lightbox) step(delta int) {
	l.mu.Lock()
	if l.current < 0 || l.total == 0 {
		l.mu.Unlock()
		return
	}
	next := l.current + delta
	if l.wrap {
		next = ((next % l.total) + l.total) % l.total
	} else {
		next = clampIndex(next, l.total)
	}
	if next == l.current {
		l.mu.Unlock()
		return
	}
	l.setCurrentLocked(next)
}

// Close transitions to Closed and invalidates outstanding side effects.
func (l *Lightbox) Close() {
	l.mu.Lock()
	if l.current < 0 {
		l.mu.Unlock()
		return
	}
	l.stopSlideshowLocked()
	l.current = -1
	l.gen++
	gen := l.gen
	fn := l.onClose
	l.mu.Unlock()
	if fn != nil {
		fn(gen)
	}
}

// SetTotal informs the lightbox that the dataset size changed wholesale
// (re-query, remount). The current index is re-validated against it.
func (l *Lightbox) SetTotal(total int) {
	if total < 0 {
		total = 0
	}
	l.mu.Lock()
	l.total = total
	if l.current < 0 {
		l.mu.Unlock()
		return
	}
	if total == 0 {
		l.mu.Unlock()
		l.Close()
		return
	}
	if l.current > total-1 {
		l.setCurrentLocked(total - 1)
		return
	}
	l.mu.Unlock()
}

// HandleDeletion repairs the state machine after the item at deletedIndex
// was removed from the dataset. When the open item itself was deleted the
// lightbox moves to the item that slid into its place, or the new last
// index at the tail, or closes when the dataset became empty.
func (l *Lightbox) HandleDeletion(deletedIndex int) {
	l.mu.Lock()
	if deletedIndex < 0 || deletedIndex >= l.total {
		l.log.Debug().Int("index", deletedIndex).Int("total", l.total).Msg("lightbox: deletion index out of range")
		l.mu.Unlock()
		return
	}
	l.total--

	if l.current < 0 || deletedIndex > l.current {
		l.mu.Unlock()
		return
	}

	if deletedIndex < l.current {
		l.setCurrentLocked(l.current - 1)
		return
	}

	// The open item was deleted.
	if l.total == 0 {
		l.mu.Unlock()
		l.Close()
		return
	}
	l.setCurrentLocked(clampIndex(l.current, l.total))
}

// setCurrentLocked commits a transition and fires OnNavigate outside the
// lock. Callers must hold l.mu; it is released here.
func (l *Lightbox) setCurrentLocked(index int) {
	l.current = index
	l.gen++
	gen := l.gen
	fn := l.onNavigate
	l.mu.Unlock()
	if fn != nil {
		fn(index, gen)
	}
}

// StartSlideshow begins advancing automatically every interval. Without
// wraparound the slideshow stops at the last item.
func (l *Lightbox) StartSlideshow() {
	l.mu.Lock()
	if l.current < 0 || l.mode == ModeSlideshow {
		l.mu.Unlock()
		return
	}
	l.mode = ModeSlideshow
	l.scheduleAdvanceLocked()
	l.mu.Unlock()
	l.log.Debug().Dur("interval", l.interval).Msg("lightbox: slideshow started")
}

// StopSlideshow returns to browsing mode.
func (l *Lightbox) StopSlideshow() {
	l.mu.Lock()
	l.stopSlideshowLocked()
	l.mu.Unlock()
}

// ToggleSlideshow flips between browsing and slideshow mode.
func (l *Lightbox) ToggleSlideshow() {
	if l.Mode() == ModeSlideshow {
		l.StopSlideshow()
	} else {
		l.StartSlideshow()
	}
}

func (l *Lightbox) stopSlideshowLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mode = ModeBrowsing
}

func (l *Lightbox) scheduleAdvanceLocked() {
	l.timer = time.AfterFunc(l.interval, l.advanceSlideshow)
}

func (l *Lightbox) advanceSlideshow() {
	l.mu.Lock()
	if l.mode != ModeSlideshow || l.current < 0 {
		l.mu.Unlock()
		return
	}
	if !l.wrap && l.current >= l.total-1 {
		l.stopSlideshowLocked()
		l.mu.Unlock()
		return
	}
	l.scheduleAdvanceLocked()
	l.mu.Unlock()
	l.Next()
}

func clampIndex(i, total int) int {
	if i < 0 {
		return 0
	}
	if i > total-1 {
		return total - 1
	}
	return i
}
