package grid

import (
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"
)

// Grid is the virtualized result grid: an effectively unbounded ordered
// collection rendered through a fixed pool of slots. Scroll and resize
// recompute the live window at most once per frame; everything outside the
// window plus a small buffer is released and its loads cancelled.
type Grid struct {
	widget.BaseWidget

	dataset   *Dataset
	loader    *Loader
	recycler  *Recycler
	selection *Selection
	lightbox  *Lightbox
	cfg       config
	log       zerolog.Logger

	scroll      *container.Scroll
	content     *fyne.Container
	spacer      *canvas.Rectangle
	dragOverlay *dragOverlay
	zoomOverlay *zoomScrollOverlay
	slots       []*slotWidget

	window    Window
	zoomLevel int
	lastSize  fyne.Size

	// Frame coalescing for scroll handling.
	lastReconcile time.Time
	frameTimer    *time.Timer

	// Drag-rectangle selection state.
	dragSelecting     bool
	dragStartContent  fyne.Position
	dragCurViewport   fyne.Position
	lastDragSelection []int
	lastDragTime      time.Time
	autoScrollTicker  *time.Ticker
	autoScrollStop    chan struct{}
	autoScrollDir     int
	autoScrollStep    float32

	// Viewer hooks, set when a Viewer attaches.
	viewerNavigate func(index int, gen uint64)
	viewerClose    func(gen uint64)

	// Host callbacks.
	OnWindowChange    func(Window)
	OnSelectionChange func([]int)
	OnNavigate        func(int)
	OnDeleteRequest   func([]int)
	OnError           func(error)
}

// NewGrid builds a grid over the provider, loading pixels through source.
func NewGrid(provider Provider, source Source, opts ...Option) *Grid {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &Grid{
		cfg:       cfg,
		log:       cfg.logger,
		zoomLevel: defaultZoomLevelIndex,
		window:    Window{Start: 0, End: -1},
	}

	g.dataset = NewDataset(provider, cfg.pageSize, cfg.evictionGrace, cfg.logger)
	var disk *DiskCache
	if cfg.diskCacheDir != "" {
		var err error
		disk, err = NewDiskCache(cfg.diskCacheDir, cfg.logger)
		if err != nil {
			cfg.logger.Warn().Err(err).Msg("grid: disk cache unavailable")
		} else {
			go disk.Cleanup()
		}
	}
	g.loader = NewLoader(source, g.dataset, disk, cfg.concurrency, cfg.logger)

	total := g.dataset.Total()
	g.selection = NewSelection(total, cfg.logger)
	g.selection.OnChange(func(indices []int) {
		fyne.Do(func() {
			g.refreshSelection()
			if g.OnSelectionChange != nil {
				g.OnSelectionChange(indices)
			}
		})
	})

	g.lightbox = NewLightbox(total, cfg.wrapAround, cfg.slideInterval, cfg.logger)
	g.lightbox.OnNavigate(func(index int, gen uint64) {
		fyne.Do(func() {
			g.scrollToIndex(index)
			if g.viewerNavigate != nil {
				g.viewerNavigate(index, gen)
			}
			if g.OnNavigate != nil {
				g.OnNavigate(index)
			}
		})
	})
	g.lightbox.OnClose(func(gen uint64) {
		fyne.Do(func() {
			if g.viewerClose != nil {
				g.viewerClose(gen)
			}
		})
	})

	g.spacer = canvas.NewRectangle(color.Transparent)
	g.content = container.New(&gridContentLayout{g: g}, g.spacer)
	g.scroll = container.NewVScroll(g.content)
	g.scroll.OnScrolled = func(fyne.Position) { g.scheduleReconcile() }

	g.dragOverlay = newDragOverlay(g)
	g.zoomOverlay = newZoomScrollOverlay(g.AdjustZoom)

	g.ExtendBaseWidget(g)
	return g
}

// Lightbox exposes the navigation state machine, mainly for the Viewer and
// for tests.
func (g *Grid) Lightbox() *Lightbox { return g.lightbox }

// Selection exposes the selection tracker.
func (g *Grid) Selection() *Selection { return g.selection }

// Loader exposes the image load scheduler.
func (g *Grid) Loader() *Loader { return g.loader }

// Dataset exposes the sparse item cache.
func (g *Grid) Dataset() *Dataset { return g.dataset }

// Window returns the current live window.
func (g *Grid) Window() Window { return g.window }

// geometry derives the layout inputs from viewport size, zoom level and
// configuration. Pure per call; no state beyond the scroll offset.
func (g *Grid) geometry() Geometry {
	scale := zoomLevels[clampZoomLevelIndex(g.zoomLevel)]
	pad := theme.Padding()
	cellW := float32(thumbCellSize)*1.6*scale + pad
	cellH := float32(thumbCellSize)*scale + 56

	size := g.lastSize
	cols := g.cfg.columns
	if cols < 1 {
		cols = int((size.Width + pad) / (cellW + pad))
		if cols < 1 {
			cols = 1
		}
	}
	return Geometry{
		ItemWidth:      cellW,
		ItemHeight:     cellH,
		Padding:        pad,
		Columns:        cols,
		ViewportWidth:  size.Width,
		ViewportHeight: size.Height,
	}
}

// scheduleReconcile coalesces bursts of scroll events into at most one
// window recomputation per frame.
func (g *Grid) scheduleReconcile() {
	now := time.Now()
	if now.Sub(g.lastReconcile) >= frameBudget {
		g.lastReconcile = now
		g.reconcile()
		return
	}
	if g.frameTimer != nil {
		return
	}
	delay := frameBudget - now.Sub(g.lastReconcile)
	g.frameTimer = time.AfterFunc(delay, func() {
		fyne.Do(func() {
			g.frameTimer = nil
			g.lastReconcile = time.Now()
			g.reconcile()
		})
	})
}

// reconcile recomputes the window and moves the slot pool to match it.
// Runs on the UI thread.
func (g *Grid) reconcile() {
	if g.lastSize.Width <= 0 || g.lastSize.Height <= 0 {
		return
	}
	geom := g.geometry()
	total := g.dataset.Total()

	w, err := ComputeWindow(geom, g.scroll.Offset.Y, total, g.cfg.bufferRows)
	if err != nil {
		g.log.Error().Err(err).Msg("grid: window computation failed")
		return
	}

	g.ensurePool(geom)

	changed := w != g.window
	g.window = w

	if g.recycler == nil {
		return
	}
	changes, err := g.recycler.Reconcile(w)
	if err != nil {
		g.log.Error().Err(err).Msg("grid: reconcile failed")
		return
	}

	for _, slot := range changes.Release {
		g.slots[slot].unbind()
	}
	for _, b := range changes.Assign {
		g.slots[b.Slot].bind(b.Index)
	}
	g.positionSlots(geom)
	g.loader.Retarget(w.Center())
	g.refreshSelection()

	if w.Len() > 0 {
		first, last := w.First(), w.Last()
		go func() {
			if err := g.dataset.EnsureRange(first, last); err != nil {
				fyne.Do(func() {
					if g.OnError != nil {
						g.OnError(err)
					}
				})
				return
			}
			fyne.Do(func() { g.applyFetchedItems() })
		}()
		g.loader.Prewarm(first, last)
	}
	g.dataset.Evict(w)

	if changed && g.OnWindowChange != nil {
		g.OnWindowChange(w)
	}
}

// ensurePool sizes the slot pool to the worst case for the current
// geometry. Pool size never depends on the dataset size.
func (g *Grid) ensurePool(geom Geometry) {
	need := PoolSize(geom, g.cfg.bufferRows)
	if g.recycler == nil {
		g.recycler = NewRecycler(need)
	}
	if need == len(g.slots) {
		return
	}
	for len(g.slots) > need {
		last := g.slots[len(g.slots)-1]
		last.unbind()
		g.content.Remove(last)
		g.slots = g.slots[:len(g.slots)-1]
	}
	for len(g.slots) < need {
		s := newSlotWidget(g, len(g.slots))
		g.slots = append(g.slots, s)
		g.content.Add(s)
	}
	g.recycler.Resize(need)
}

func (g *Grid) positionSlots(geom Geometry) {
	for _, s := range g.slots {
		if s.boundIndex < 0 {
			continue
		}
		x, y := ItemPosition(geom, s.boundIndex)
		s.Move(fyne.NewPos(x, y))
		s.Resize(fyne.NewSize(geom.ItemWidth, geom.ItemHeight))
	}
}

// applyFetchedItems fills metadata into slots whose page arrived after
// they were bound.
func (g *Grid) applyFetchedItems() {
	for _, s := range g.slots {
		if s.boundIndex < 0 || s.hasItem {
			continue
		}
		if item, ok := g.dataset.Get(s.boundIndex); ok {
			s.applyItem(s.boundIndex, item)
			if img, ok := g.loader.Cached(item); ok {
				s.applyImage(s.boundIndex, img)
			}
		}
	}
}

func (g *Grid) refreshSelection() {
	for _, s := range g.slots {
		if s.boundIndex < 0 {
			continue
		}
		s.setSelected(g.selection.IsSelected(s.boundIndex))
	}
}

// scrollToIndex brings index into the viewport and reconciles immediately
// so navigation never outruns the window.
func (g *Grid) scrollToIndex(index int) {
	geom := g.geometry()
	total := g.dataset.Total()
	offset := OffsetForIndex(geom, g.scroll.Offset.Y, index, total)
	if offset != g.scroll.Offset.Y {
		g.scroll.ScrollToOffset(fyne.NewPos(0, offset))
	}
	g.reconcile()
}

func (g *Grid) openIndex(index int) {
	g.selection.Select(index)
	g.lightbox.Open(index)
}

// HandleDeletion repairs every index-bearing component after the host
// removed the item at index from the backing result set.
func (g *Grid) HandleDeletion(index int) {
	g.dataset.DeleteAt(index)
	g.selection.AdjustForDeletion(index)
	g.lightbox.HandleDeletion(index)
	g.reconcile()
}

// HandleInsertion re-indexes after the host inserted an item at index.
func (g *Grid) HandleInsertion(index int) {
	g.dataset.InsertAt(index)
	g.selection.AdjustForInsertion(index)
	g.lightbox.SetTotal(g.dataset.Total())
	g.reconcile()
}

// Reload drops all cached state and rebuilds from the provider. For use
// after the result set changed wholesale (new query).
func (g *Grid) Reload() {
	g.dataset.Invalidate()
	total := g.dataset.Total()
	g.selection.Clear()
	g.selection.SetTotal(total)
	g.lightbox.SetTotal(total)
	g.loader.CancelAll()
	g.window = Window{Start: 0, End: -1}
	g.reconcile()
}

// AdjustZoom moves the zoom level by steps and relays the grid out.
func (g *Grid) AdjustZoom(steps int) {
	if steps == 0 {
		return
	}
	level := clampZoomLevelIndex(g.zoomLevel + steps)
	if level == g.zoomLevel {
		return
	}
	g.zoomLevel = level
	g.content.Refresh()
	g.reconcile()
}

// Close releases the loader and its goroutines.
func (g *Grid) Close() {
	g.lightbox.Close()
	g.loader.Close()
}

var _ fyne.Focusable = (*Grid)(nil)

func (g *Grid) FocusGained() {}
func (g *Grid) FocusLost()   {}

func (g *Grid) TypedRune(rune) {}

// TypedKey exposes the grid's key surface: Delete requests deletion of the
// selected items (the host owns the destructive part), Escape clears the
// selection.
func (g *Grid) TypedKey(ev *fyne.KeyEvent) {
	switch ev.Name {
	case fyne.KeyDelete:
		if g.OnDeleteRequest != nil && g.selection.Count() > 0 {
			g.OnDeleteRequest(g.selection.Indices())
		}
	case fyne.KeyEscape:
		g.selection.Clear()
	}
}

func (g *Grid) CreateRenderer() fyne.WidgetRenderer {
	return &gridRenderer{g: g}
}

type gridRenderer struct {
	g *Grid
}

func (r *gridRenderer) Layout(size fyne.Size) {
	r.g.scroll.Resize(size)
	r.g.dragOverlay.Resize(size)
	r.g.zoomOverlay.Resize(size)

	// Only react to real size changes; layouts run for other reasons too.
	if abs32(size.Width-r.g.lastSize.Width) >= 0.5 || abs32(size.Height-r.g.lastSize.Height) >= 0.5 {
		r.g.lastSize = size
		r.g.scheduleReconcile()
	}
}

func (r *gridRenderer) MinSize() fyne.Size {
	return fyne.NewSize(120, 120)
}

func (r *gridRenderer) Refresh() {
	r.g.scroll.Refresh()
}

func (r *gridRenderer) Objects() []fyne.CanvasObject {
	return []fyne.CanvasObject{r.g.scroll, r.g.dragOverlay, r.g.zoomOverlay}
}

func (r *gridRenderer) Destroy() {
	r.g.stopAutoScroll()
	if r.g.frameTimer != nil {
		r.g.frameTimer.Stop()
	}
}

// gridContentLayout sizes the scrolled content to the full virtual height
// and keeps bound slots at their cell positions.
type gridContentLayout struct {
	g *Grid
}

func (l *gridContentLayout) Layout(objects []fyne.CanvasObject, size fyne.Size) {
	geom := l.g.geometry()
	total := l.g.dataset.Total()
	l.g.spacer.Move(fyne.NewPos(0, 0))
	l.g.spacer.Resize(fyne.NewSize(size.Width, ContentHeight(geom, total)))
	l.g.positionSlots(geom)
}

func (l *gridContentLayout) MinSize([]fyne.CanvasObject) fyne.Size {
	geom := l.g.geometry()
	return fyne.NewSize(0, ContentHeight(geom, l.g.dataset.Total()))
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
