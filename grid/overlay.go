package grid

import (
	"image/color"
	"math"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// dragOverlay sits above the scroll area and turns background drags into
// rectangle selection. It implements Draggable only, so taps fall through
// to the slots underneath.
type dragOverlay struct {
	widget.BaseWidget
	grid *Grid

	rect     *canvas.Rectangle
	startPos fyne.Position
	curPos   fyne.Position
	dragging bool
}

func newDragOverlay(g *Grid) *dragOverlay {
	o := &dragOverlay{
		grid: g,
		rect: canvas.NewRectangle(color.Transparent),
	}
	o.rect.StrokeColor = theme.Color(theme.ColorNamePrimary)
	o.rect.StrokeWidth = 2
	r, gr, b, _ := theme.Color(theme.ColorNameFocus).RGBA()
	o.rect.FillColor = color.RGBA{R: uint8(r >> 8), G: uint8(gr >> 8), B: uint8(b >> 8), A: 64}
	o.rect.Hide()
	o.ExtendBaseWidget(o)
	return o
}

var _ fyne.Draggable = (*dragOverlay)(nil)

func (o *dragOverlay) Dragged(e *fyne.DragEvent) {
	if !o.dragging {
		o.dragging = true
		o.startPos = e.PointEvent.Position.Subtract(e.Dragged)
		o.rect.Show()
	}
	o.curPos = e.PointEvent.Position
	o.refreshRect()
	o.grid.onSelectionDrag(o.startPos, o.curPos)
}

func (o *dragOverlay) DragEnd() {
	if !o.dragging {
		return
	}
	o.dragging = false
	o.rect.Hide()
	o.rect.Refresh()
	o.grid.onSelectionEnd()
}

func (o *dragOverlay) setStartPos(pos fyne.Position) {
	o.startPos = pos
	o.refreshRect()
}

func (o *dragOverlay) refreshRect() {
	tl := fyne.NewPos(min32(o.startPos.X, o.curPos.X), min32(o.startPos.Y, o.curPos.Y))
	br := fyne.NewPos(max32(o.startPos.X, o.curPos.X), max32(o.startPos.Y, o.curPos.Y))
	o.rect.Move(tl)
	o.rect.Resize(fyne.NewSize(br.X-tl.X, br.Y-tl.Y))
}

func (o *dragOverlay) CreateRenderer() fyne.WidgetRenderer {
	return &dragOverlayRenderer{o: o}
}

type dragOverlayRenderer struct {
	o *dragOverlay
}

func (r *dragOverlayRenderer) Layout(fyne.Size)            {}
func (r *dragOverlayRenderer) MinSize() fyne.Size          { return fyne.NewSize(0, 0) }
func (r *dragOverlayRenderer) Refresh()                    { r.o.rect.Refresh() }
func (r *dragOverlayRenderer) Objects() []fyne.CanvasObject { return []fyne.CanvasObject{r.o.rect} }
func (r *dragOverlayRenderer) Destroy()                    {}

// Drag selection. Positions arrive in viewport coordinates; the start
// anchor is stored in content coordinates so it stays put while the grid
// auto-scrolls under the pointer.

func (g *Grid) onSelectionDrag(start, cur fyne.Position) {
	dragStart := !g.dragSelecting
	g.dragSelecting = true

	if g.dataset.Total() == 0 {
		return
	}

	g.dragCurViewport = cur
	if dragStart {
		g.dragStartContent = fyne.NewPos(start.X, start.Y+g.scroll.Offset.Y)
	}

	g.updateAutoScroll()
	g.updateDragSelection()
}

func (g *Grid) updateDragSelection() {
	if !g.dragSelecting {
		return
	}
	total := g.dataset.Total()
	if total == 0 {
		return
	}

	geom := g.geometry()
	offset := g.scroll.Offset.Y

	// Keep the on-screen rectangle anchored to the original content
	// position even as the grid auto-scrolls.
	g.dragOverlay.setStartPos(fyne.NewPos(g.dragStartContent.X, g.dragStartContent.Y-offset))

	curContent := fyne.NewPos(g.dragCurViewport.X, g.dragCurViewport.Y+offset)
	tl := fyne.NewPos(min32(g.dragStartContent.X, curContent.X), min32(g.dragStartContent.Y, curContent.Y))
	br := fyne.NewPos(max32(g.dragStartContent.X, curContent.X), max32(g.dragStartContent.Y, curContent.Y))

	stepX := geom.ItemWidth + geom.Padding
	stepY := geom.ItemHeight + geom.Padding

	startRow := int(tl.Y / stepY)
	endRow := int(br.Y / stepY)
	maxRow := RowCount(total, geom.Columns) - 1
	if startRow < 0 {
		startRow = 0
	}
	if endRow > maxRow {
		endRow = maxRow
	}

	startCol := int(tl.X / stepX)
	endCol := int(br.X / stepX)
	if startCol < 0 {
		startCol = 0
	}
	if endCol > geom.Columns-1 {
		endCol = geom.Columns - 1
	}

	var ids []int
	for row := startRow; row <= endRow; row++ {
		for col := startCol; col <= endCol; col++ {
			i := row*geom.Columns + col
			if i < 0 || i >= total {
				continue
			}

			x1 := float32(col) * stepX
			y1 := float32(row) * stepY
			x2 := x1 + geom.ItemWidth
			y2 := y1 + geom.ItemHeight

			if x1 < br.X && x2 > tl.X && y1 < br.Y && y2 > tl.Y {
				ids = append(ids, i)
			}
		}
	}

	if sameSelection(g.lastDragSelection, ids) {
		return
	}
	g.lastDragSelection = ids
	g.selection.Replace(ids)
}

func (g *Grid) onSelectionEnd() {
	g.stopAutoScroll()
	g.lastDragSelection = nil
	g.dragSelecting = false
	g.lastDragTime = time.Now()
}

func (g *Grid) updateAutoScroll() {
	if !g.dragSelecting {
		g.stopAutoScroll()
		return
	}

	size := g.scroll.Size()
	if size.Height <= 0 {
		g.stopAutoScroll()
		return
	}

	zone := theme.Padding() * 4
	if zone < 24 {
		zone = 24
	}
	if zone > size.Height/2 {
		zone = size.Height / 2
	}

	var dir int
	var intensity float32
	if g.dragCurViewport.Y < zone {
		dir = -1
		intensity = (zone - g.dragCurViewport.Y) / zone
	} else if g.dragCurViewport.Y > size.Height-zone {
		dir = 1
		intensity = (g.dragCurViewport.Y - (size.Height - zone)) / zone
	}
	if intensity > 1 {
		intensity = 1
	}

	if dir == 0 || intensity <= 0 {
		g.stopAutoScroll()
		return
	}

	maxStep := g.geometry().ItemHeight * 0.5
	if maxStep < 12 {
		maxStep = 12
	}
	if maxStep > 80 {
		maxStep = 80
	}

	g.autoScrollDir = dir
	g.autoScrollStep = intensity * maxStep
	g.startAutoScroll()
}

func (g *Grid) startAutoScroll() {
	if g.autoScrollTicker != nil {
		return
	}
	g.autoScrollTicker = time.NewTicker(30 * time.Millisecond)
	g.autoScrollStop = make(chan struct{})

	stop := g.autoScrollStop
	ticker := g.autoScrollTicker
	go func() {
		for {
			select {
			case <-ticker.C:
				fyne.Do(func() {
					g.autoScrollTick()
				})
			case <-stop:
				return
			}
		}
	}()
}

func (g *Grid) stopAutoScroll() {
	if g.autoScrollTicker == nil {
		return
	}
	g.autoScrollTicker.Stop()
	g.autoScrollTicker = nil
	if g.autoScrollStop != nil {
		close(g.autoScrollStop)
		g.autoScrollStop = nil
	}
	g.autoScrollDir = 0
	g.autoScrollStep = 0
}

func (g *Grid) autoScrollTick() {
	if !g.dragSelecting || g.autoScrollDir == 0 || g.autoScrollStep <= 0 {
		g.stopAutoScroll()
		return
	}

	offset := g.scroll.Offset.Y
	maxOffset := MaxScrollOffset(g.geometry(), g.dataset.Total())
	if maxOffset <= 0 {
		g.stopAutoScroll()
		return
	}

	next := offset + float32(g.autoScrollDir)*g.autoScrollStep
	if next < 0 {
		next = 0
	} else if next > maxOffset {
		next = maxOffset
	}
	if next == offset {
		// Hit the end, no need to keep ticking.
		g.stopAutoScroll()
		return
	}

	g.scroll.ScrollToOffset(fyne.NewPos(0, next))
	g.scheduleReconcile()

	// Scrolling moves the content under the held pointer, so the selected
	// rectangle must be recomputed.
	g.updateDragSelection()
}

// zoomScrollOverlay turns Ctrl/Cmd + scroll into zoom steps. It is only
// visible (and therefore only receives scroll events) while the modifier
// is held, so normal scrolling passes through to the grid.
type zoomScrollOverlay struct {
	widget.BaseWidget
	onStep func(steps int)
	accDY  float32
}

func newZoomScrollOverlay(onStep func(steps int)) *zoomScrollOverlay {
	z := &zoomScrollOverlay{onStep: onStep}
	z.ExtendBaseWidget(z)
	return z
}

func (z *zoomScrollOverlay) Visible() bool {
	if !z.BaseWidget.Visible() {
		return false
	}
	return isZoomModifierActive()
}

func isZoomModifierActive() bool {
	d, ok := fyne.CurrentApp().Driver().(desktop.Driver)
	if !ok {
		return false
	}
	mods := d.CurrentKeyModifiers()
	if mods&fyne.KeyModifierControl != 0 {
		return true
	}
	return mods&fyne.KeyModifierShortcutDefault != 0
}

var _ fyne.Scrollable = (*zoomScrollOverlay)(nil)

func (z *zoomScrollOverlay) Scrolled(e *fyne.ScrollEvent) {
	if z.onStep == nil {
		return
	}
	dy := float64(e.Scrolled.DY)
	if math.IsNaN(dy) || math.IsInf(dy, 0) {
		return
	}

	// Mouse wheels report roughly 40 per detent, touchpads a stream of
	// small deltas. Emit whole steps and carry the remainder so a slow
	// touchpad gesture still adds up to a step.
	const notch = 40.0
	z.accDY += float32(dy)
	steps := int(z.accDY / notch)
	if steps == 0 {
		return
	}
	z.accDY -= float32(steps) * notch
	z.onStep(steps)
}

func (z *zoomScrollOverlay) CreateRenderer() fyne.WidgetRenderer {
	return &zoomScrollOverlayRenderer{}
}

type zoomScrollOverlayRenderer struct{}

func (r *zoomScrollOverlayRenderer) Layout(fyne.Size)             {}
func (r *zoomScrollOverlayRenderer) MinSize() fyne.Size           { return fyne.NewSize(0, 0) }
func (r *zoomScrollOverlayRenderer) Refresh()                     {}
func (r *zoomScrollOverlayRenderer) Objects() []fyne.CanvasObject { return nil }
func (r *zoomScrollOverlayRenderer) Destroy()                     {}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func sameSelection(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
