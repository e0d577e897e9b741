package grid

import (
	"image"
	"path/filepath"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// slotWidget is one reusable render slot. The pool is created at mount and
// slots are rebound to different dataset indices as the window moves; a
// slot never owns its content, it only displays the index it is bound to.
type slotWidget struct {
	widget.BaseWidget
	grid *Grid

	slotID     int
	boundIndex int // -1 while recycled

	item    Item
	hasItem bool
	failed  bool

	thumbnail *canvas.Image
	icon      *widget.Icon
	label     *widget.Label
	badges    *widget.Label
	bg        *canvas.Rectangle

	handle *LoadHandle
}

func newSlotWidget(g *Grid, slotID int) *slotWidget {
	s := &slotWidget{
		grid:       g,
		slotID:     slotID,
		boundIndex: -1,
		thumbnail:  canvas.NewImageFromImage(nil),
		icon:       widget.NewIcon(theme.MediaPhotoIcon()),
		label:      widget.NewLabel(""),
		badges:     widget.NewLabel(""),
		bg:         canvas.NewRectangle(theme.Color(theme.ColorNameSelection)),
	}
	s.thumbnail.FillMode = canvas.ImageFillContain
	s.thumbnail.Hide()
	s.bg.Hide()
	s.label.Alignment = fyne.TextAlignCenter
	s.label.Truncation = fyne.TextTruncateEllipsis
	s.badges.Alignment = fyne.TextAlignCenter
	s.badges.TextStyle = fyne.TextStyle{Italic: true}
	s.badges.Hide()
	s.Hide()
	s.ExtendBaseWidget(s)
	return s
}

// bind points the slot at a dataset index and kicks off its thumbnail
// load. Must run on the UI thread.
func (s *slotWidget) bind(index int) {
	if s.boundIndex == index {
		return
	}
	s.cancelLoad()
	s.boundIndex = index
	s.failed = false
	s.hasItem = false
	s.showPlaceholder()
	s.Show()

	if item, ok := s.grid.dataset.Get(index); ok {
		s.applyItem(index, item)
	} else {
		s.label.SetText("…")
		s.badges.Hide()
	}

	center := s.grid.window.Center()
	dist := index - center
	if dist < 0 {
		dist = -dist
	}
	s.requestThumbnail(index, dist)
}

// unbind recycles the slot: the pending load is cancelled and the slot
// hides until rebound.
func (s *slotWidget) unbind() {
	if s.boundIndex < 0 {
		return
	}
	s.grid.loader.Cancel(s.boundIndex)
	s.cancelLoad()
	s.boundIndex = -1
	s.hasItem = false
	s.thumbnail.Image = nil
	s.thumbnail.Hide()
	s.Hide()
}

func (s *slotWidget) cancelLoad() {
	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
	}
}

func (s *slotWidget) requestThumbnail(index, priority int) {
	if item, ok := s.grid.dataset.Get(index); ok {
		if img, ok := s.grid.loader.Cached(item); ok {
			s.applyImage(index, img)
			return
		}
	}
	s.handle = s.grid.loader.Request(index, priority, func(img image.Image, err error) {
		fyne.Do(func() {
			// Stale-response guard: the slot may have been rebound while
			// the fetch was in flight.
			if s.boundIndex != index {
				return
			}
			if err != nil {
				if err != ErrCancelled {
					s.failed = true
					s.showPlaceholder()
				}
				return
			}
			s.applyImage(index, img)
		})
	})
}

// applyItem fills in the metadata fields once the dataset page arrived.
func (s *slotWidget) applyItem(index int, item Item) {
	if s.boundIndex != index {
		return
	}
	s.item = item
	s.hasItem = true
	s.label.SetText(filepath.Base(item.Path))
	if len(item.Badges) > 0 {
		s.badges.SetText(strings.Join(item.Badges, " · "))
		s.badges.Show()
	} else {
		s.badges.Hide()
	}
	s.Refresh()
}

func (s *slotWidget) applyImage(index int, img image.Image) {
	if s.boundIndex != index {
		return
	}
	s.thumbnail.Image = img
	s.icon.Hide()
	s.thumbnail.Show()
	s.thumbnail.Refresh()
}

func (s *slotWidget) showPlaceholder() {
	s.thumbnail.Image = nil
	s.thumbnail.Hide()
	if s.failed {
		s.icon.SetResource(theme.BrokenImageIcon())
	} else {
		s.icon.SetResource(theme.MediaPhotoIcon())
	}
	s.icon.Show()
	s.Refresh()
}

func (s *slotWidget) setSelected(selected bool) {
	if selected {
		s.bg.Show()
	} else {
		s.bg.Hide()
	}
	s.bg.Refresh()
}

// Tapped opens the item in the lightbox. Selection is driven by modifier
// clicks (see MouseUp) and the drag rectangle; the tap that ends a drag
// must not open anything.
func (s *slotWidget) Tapped(*fyne.PointEvent) {
	if s.boundIndex < 0 || s.grid.dragSelecting {
		return
	}
	if time.Since(s.grid.lastDragTime) < 200*time.Millisecond {
		return
	}
	s.grid.openIndex(s.boundIndex)
}

var _ desktop.Mouseable = (*slotWidget)(nil)

func (s *slotWidget) MouseDown(*desktop.MouseEvent) {}

func (s *slotWidget) MouseUp(e *desktop.MouseEvent) {
	if s.boundIndex < 0 || e.Button != desktop.MouseButtonPrimary {
		return
	}
	if e.Modifier&fyne.KeyModifierControl != 0 {
		s.grid.selection.Toggle(s.boundIndex)
		s.grid.refreshSelection()
		return
	}
	if e.Modifier&fyne.KeyModifierShift != 0 {
		s.grid.selection.Extend(s.boundIndex)
		s.grid.refreshSelection()
	}
}

func (s *slotWidget) CreateRenderer() fyne.WidgetRenderer {
	return &slotRenderer{slot: s}
}

type slotRenderer struct {
	slot *slotWidget
}

func (r *slotRenderer) Layout(size fyne.Size) {
	r.slot.bg.Resize(size)

	thumbEdge := size.Width - theme.Padding()*2
	if max := size.Height * 0.65; thumbEdge > max {
		thumbEdge = max
	}
	thumbSize := fyne.NewSquareSize(thumbEdge)
	thumbPos := fyne.NewPos((size.Width-thumbEdge)/2, theme.Padding())
	r.slot.thumbnail.Resize(thumbSize)
	r.slot.thumbnail.Move(thumbPos)
	r.slot.icon.Resize(thumbSize)
	r.slot.icon.Move(thumbPos)

	labelTop := thumbEdge + theme.Padding()*1.5
	labelHeight := r.slot.label.MinSize().Height
	r.slot.label.Resize(fyne.NewSize(size.Width, labelHeight))
	r.slot.label.Move(fyne.NewPos(0, labelTop))

	r.slot.badges.Resize(fyne.NewSize(size.Width, size.Height-labelTop-labelHeight))
	r.slot.badges.Move(fyne.NewPos(0, labelTop+labelHeight-theme.Padding()*2))
}

func (r *slotRenderer) MinSize() fyne.Size {
	g := r.slot.grid.geometry()
	return fyne.NewSize(g.ItemWidth, g.ItemHeight)
}

func (r *slotRenderer) Refresh() {
	r.slot.bg.Refresh()
	r.slot.icon.Refresh()
	r.slot.thumbnail.Refresh()
	r.slot.label.Refresh()
	r.slot.badges.Refresh()
}

func (r *slotRenderer) Objects() []fyne.CanvasObject {
	return []fyne.CanvasObject{r.slot.bg, r.slot.icon, r.slot.thumbnail, r.slot.label, r.slot.badges}
}

func (r *slotRenderer) Destroy() {
	r.slot.cancelLoad()
}
