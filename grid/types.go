package grid

import (
	"time"

	"github.com/rs/zerolog"
)

// Item is a single search result. Items are immutable once fetched; the
// Dataset owns them and render slots only hold copies of the small header
// fields, never pixel data.
type Item struct {
	ID        string
	Path      string
	ThumbRef  string
	FullRef   string
	Score     float64
	Badges    []string
	Snippet   string
}

// Provider supplies the ordered result sequence. Implementations live
// outside this package (search backend, test fixtures, demo generators).
type Provider interface {
	TotalCount() int
	// FetchRange returns the items at [start, start+count). Ranges partially
	// beyond the end return fewer items; fully beyond return none.
	FetchRange(start, count int) ([]Item, error)
}

// Geometry describes the layout inputs the window calculator works from.
// All extents are in Fyne device-independent units.
type Geometry struct {
	ItemWidth  float32
	ItemHeight float32
	Padding    float32
	Columns    int

	ViewportWidth  float32
	ViewportHeight float32
}

// Window is the contiguous index range that must be live. Start..End is the
// visible range; BufferBefore/BufferAfter extend it by whole prefetch rows.
// An empty window has End == Start-1.
type Window struct {
	Start        int
	End          int
	BufferBefore int
	BufferAfter  int
}

// First returns the first live (buffered) index.
func (w Window) First() int { return w.Start - w.BufferBefore }

// Last returns the last live (buffered) index.
func (w Window) Last() int { return w.End + w.BufferAfter }

// Len is the number of live indices including buffers.
func (w Window) Len() int {
	if w.End < w.Start {
		return 0
	}
	return w.Last() - w.First() + 1
}

// Contains reports whether index i falls inside the live range.
func (w Window) Contains(i int) bool {
	return w.Len() > 0 && i >= w.First() && i <= w.Last()
}

// Center returns the midpoint of the visible range, used as the load
// priority origin. Zero for an empty window.
func (w Window) Center() int {
	if w.End < w.Start {
		return 0
	}
	return w.Start + (w.End-w.Start)/2
}

const (
	// Thumbnails are rendered into square cells; backing pixels are 2x for
	// high density displays.
	thumbCellSize   = 96
	thumbTargetSize = thumbCellSize * 2

	defaultBufferRows      = 2
	defaultConcurrency     = 6
	defaultFullConcurrency = 2
	defaultPageSize        = 64

	// Outside the live range, cached items survive this long before Evict
	// drops them. Masks jitter when the user scrolls back and forth.
	defaultEvictionGrace = 10 * time.Second

	defaultSlideshowInterval = 4 * time.Second

	// Scroll handling is coalesced so the window is recomputed at most once
	// per frame at 60fps.
	frameBudget = 16 * time.Millisecond
)

var zoomLevels = []float32{
	0.75,
	1.0,
	1.25,
	1.5,
	1.75,
	2.0,
}

const defaultZoomLevelIndex = 1 // 1.0

func clampZoomLevelIndex(i int) int {
	if i < 0 {
		return 0
	}
	if i >= len(zoomLevels) {
		return len(zoomLevels) - 1
	}
	return i
}

// Option configures a Grid and the collaborators it constructs.
type Option func(*config)

type config struct {
	columns       int
	bufferRows    int
	concurrency   int
	pageSize      int
	wrapAround    bool
	diskCacheDir  string
	slideInterval time.Duration
	evictionGrace time.Duration
	logger        zerolog.Logger
}

func defaultConfig() config {
	return config{
		columns:       0, // auto-fit from viewport width
		bufferRows:    defaultBufferRows,
		concurrency:   defaultConcurrency,
		pageSize:      defaultPageSize,
		slideInterval: defaultSlideshowInterval,
		evictionGrace: defaultEvictionGrace,
		logger:        zerolog.Nop(),
	}
}

// WithColumns fixes the number of grid columns. The default derives the
// count from the viewport width.
func WithColumns(n int) Option {
	return func(c *config) {
		if n >= 1 {
			c.columns = n
		}
	}
}

// WithBufferRows sets how many prefetch rows are kept live on each side of
// the viewport.
func WithBufferRows(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.bufferRows = n
		}
	}
}

// WithConcurrency bounds the number of thumbnail loads in flight at once.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n >= 1 {
			c.concurrency = n
		}
	}
}

// WithPageSize sets how many items a single provider fetch requests.
func WithPageSize(n int) Option {
	return func(c *config) {
		if n >= 1 {
			c.pageSize = n
		}
	}
}

// WithWrapAround makes lightbox next/previous wrap at the collection
// boundaries instead of clamping.
func WithWrapAround() Option {
	return func(c *config) { c.wrapAround = true }
}

// WithDiskCache persists generated thumbnails under dir.
func WithDiskCache(dir string) Option {
	return func(c *config) { c.diskCacheDir = dir }
}

// WithSlideshowInterval sets the delay between slideshow advances.
func WithSlideshowInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.slideInterval = d
		}
	}
}

// WithLogger routes diagnostics to the given logger. Default is a no-op.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}
