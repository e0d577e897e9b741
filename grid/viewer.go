package grid

import (
	"fmt"
	"image"
	"path/filepath"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// Viewer is the full-item lightbox overlay. It renders the item the
// Lightbox state machine points at, takes over keyboard navigation while
// open, and restores the previous key handler on close.
//
// Full-resolution pixels arrive asynchronously; every fetch carries the
// lightbox generation it was issued under and is dropped when navigation
// has moved on. Rapid Next presses therefore settle on the final item
// without flashing intermediate ones.
type Viewer struct {
	grid *Grid
	win  fyne.Window

	popup   *widget.PopUp
	img     *canvas.Image
	caption *widget.Label
	counter *widget.Label
	loading *widget.ProgressBarInfinite
	openBtn *widget.Button
	playBtn *widget.Button

	visible     bool
	currentPath string

	prevKeyHandler func(*fyne.KeyEvent)

	fullHandle      *LoadHandle
	prefetchHandles []*LoadHandle
}

// NewViewer attaches a viewer to the grid. The grid's lightbox drives it:
// opening any item shows the overlay, closing hides it.
func NewViewer(g *Grid, win fyne.Window) *Viewer {
	v := &Viewer{
		grid:    g,
		win:     win,
		img:     canvas.NewImageFromImage(nil),
		caption: widget.NewLabel(""),
		counter: widget.NewLabel(""),
		loading: widget.NewProgressBarInfinite(),
	}
	v.img.FillMode = canvas.ImageFillContain
	v.caption.Alignment = fyne.TextAlignCenter
	v.caption.Truncation = fyne.TextTruncateEllipsis
	v.counter.Alignment = fyne.TextAlignCenter
	v.counter.TextStyle = fyne.TextStyle{Monospace: true}
	v.loading.Hide()

	v.openBtn = widget.NewButtonWithIcon("", theme.ComputerIcon(), func() {
		if v.currentPath != "" {
			go openExternally(v.currentPath)
		}
	})
	v.playBtn = widget.NewButtonWithIcon("", theme.MediaPlayIcon(), func() {
		g.lightbox.ToggleSlideshow()
		v.refreshPlayButton()
	})
	closeBtn := widget.NewButtonWithIcon("", theme.CancelIcon(), func() {
		g.lightbox.Close()
	})
	prevBtn := widget.NewButtonWithIcon("", theme.NavigateBackIcon(), g.lightbox.Prev)
	nextBtn := widget.NewButtonWithIcon("", theme.NavigateNextIcon(), g.lightbox.Next)

	bottom := container.NewVBox(
		v.caption,
		container.NewHBox(
			prevBtn,
			v.playBtn,
			v.openBtn,
			nextBtn,
			widget.NewSeparator(),
			v.counter,
			closeBtn,
		),
	)
	content := container.NewBorder(nil, container.NewCenter(bottom), nil, nil,
		container.NewStack(v.img, container.NewCenter(v.loading)))

	v.popup = widget.NewModalPopUp(content, win.Canvas())

	g.viewerNavigate = v.navigate
	g.viewerClose = v.closed
	return v
}

// navigate runs on the UI thread for every lightbox transition that leaves
// it open.
func (v *Viewer) navigate(index int, gen uint64) {
	if !v.visible {
		v.show()
	}

	total := v.grid.dataset.Total()
	v.counter.SetText(fmt.Sprintf("%d / %d", index+1, total))

	if item, ok := v.grid.dataset.Get(index); ok {
		v.applyCaption(item)
	} else {
		v.caption.SetText("…")
		v.currentPath = ""
	}

	v.cancelFull()
	v.loading.Show()
	v.loading.Start()

	v.fullHandle = v.grid.loader.RequestFull(index, func(img image.Image, err error) {
		if v.grid.lightbox.Superseded(gen) {
			return
		}
		fyne.Do(func() {
			if v.grid.lightbox.Superseded(gen) || !v.visible {
				return
			}
			v.loading.Stop()
			v.loading.Hide()
			if err != nil {
				if err != ErrCancelled {
					v.caption.SetText(v.caption.Text + "  (failed to load)")
				}
				return
			}
			v.img.Image = img
			v.img.Refresh()
			if item, ok := v.grid.dataset.Get(index); ok {
				v.applyCaption(item)
			}
		})
	})

	v.prefetch(index, total)
	v.refreshPlayButton()
}

func (v *Viewer) applyCaption(item Item) {
	v.currentPath = item.Path
	text := fmt.Sprintf("%s  ·  %.2f", filepath.Base(item.Path), item.Score)
	if item.Snippet != "" {
		text += "\n" + item.Snippet
	}
	v.caption.SetText(text)
}

// prefetch warms the neighbours so the next arrow press paints instantly.
// Prefetch results go to the loader caches only; the visible image is
// always set by the generation-tagged fetch in navigate.
func (v *Viewer) prefetch(index, total int) {
	v.cancelPrefetch()
	for _, n := range []int{index - 1, index + 1} {
		if n < 0 || n >= total {
			continue
		}
		h := v.grid.loader.RequestFull(n, func(image.Image, error) {})
		if h != nil {
			v.prefetchHandles = append(v.prefetchHandles, h)
		}
	}
}

func (v *Viewer) show() {
	v.visible = true
	v.img.Image = nil

	cnv := v.win.Canvas()
	v.prevKeyHandler = cnv.OnTypedKey()
	cnv.SetOnTypedKey(v.typedKey)

	size := cnv.Size()
	v.popup.Resize(fyne.NewSize(size.Width*0.92, size.Height*0.92))
	v.popup.Show()
}

// closed runs on the UI thread when the lightbox transitioned to Closed.
func (v *Viewer) closed(uint64) {
	if !v.visible {
		return
	}
	v.visible = false

	v.cancelFull()
	v.cancelPrefetch()
	v.loading.Stop()
	v.loading.Hide()
	v.img.Image = nil

	v.win.Canvas().SetOnTypedKey(v.prevKeyHandler)
	v.prevKeyHandler = nil
	v.popup.Hide()
}

func (v *Viewer) cancelFull() {
	if v.fullHandle != nil {
		v.fullHandle.Cancel()
		v.fullHandle = nil
	}
}

func (v *Viewer) cancelPrefetch() {
	for _, h := range v.prefetchHandles {
		h.Cancel()
	}
	v.prefetchHandles = nil
}

func (v *Viewer) refreshPlayButton() {
	if v.grid.lightbox.Mode() == ModeSlideshow {
		v.playBtn.SetIcon(theme.MediaPauseIcon())
	} else {
		v.playBtn.SetIcon(theme.MediaPlayIcon())
	}
}

// typedKey is the viewer's keyboard surface while open. Arrow keys
// navigate, Escape closes, Space toggles the slideshow and Delete asks the
// host to remove the open item.
func (v *Viewer) typedKey(ev *fyne.KeyEvent) {
	switch ev.Name {
	case fyne.KeyLeft:
		v.grid.lightbox.Prev()
	case fyne.KeyRight:
		v.grid.lightbox.Next()
	case fyne.KeyEscape:
		v.grid.lightbox.Close()
	case fyne.KeySpace:
		v.grid.lightbox.ToggleSlideshow()
		v.refreshPlayButton()
	case fyne.KeyHome:
		v.grid.lightbox.Open(0)
	case fyne.KeyEnd:
		v.grid.lightbox.Open(v.grid.dataset.Total() - 1)
	case fyne.KeyDelete:
		if cur, ok := v.grid.lightbox.Current(); ok && v.grid.OnDeleteRequest != nil {
			v.grid.OnDeleteRequest([]int{cur})
		}
	}
}
