package grid

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/image/draw"
)

// Source resolves an item's references into pixels. Thumbnail returns a
// small square letterboxed image; FullImage returns the original at full
// resolution. Implementations must honour ctx cancellation.
type Source interface {
	Thumbnail(ctx context.Context, item Item) (image.Image, error)
	FullImage(ctx context.Context, item Item) (image.Image, error)
}

// InternalRetrier is implemented by sources that already retry a failed
// fetch themselves. The loader skips its own retry for these, keeping a
// broken image at two attempts total rather than stacking retries.
type InternalRetrier interface {
	RetriesInternally() bool
}

// FileSource reads item references as local file paths.
type FileSource struct {
	// TargetSize is the square thumbnail edge in pixels. Zero means the
	// package default.
	TargetSize int
}

func (s *FileSource) targetSize() int {
	if s.TargetSize > 0 {
		return s.TargetSize
	}
	return thumbTargetSize
}

func (s *FileSource) Thumbnail(ctx context.Context, item Item) (image.Image, error) {
	img, err := decodeFile(ctx, item.ThumbRef)
	if err != nil {
		return nil, err
	}
	return scaleLetterbox(img, s.targetSize())
}

func (s *FileSource) FullImage(ctx context.Context, item Item) (image.Image, error) {
	ref := item.FullRef
	if ref == "" {
		ref = item.ThumbRef
	}
	return decodeFile(ctx, ref)
}

func decodeFile(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// HTTPSource fetches item references as URLs. The underlying client
// retries once with backoff before the loader sees a failure.
type HTTPSource struct {
	client *retryablehttp.Client

	// TargetSize is the square thumbnail edge in pixels.
	TargetSize int
}

// NewHTTPSource builds a source with a single-retry HTTP client.
func NewHTTPSource() *HTTPSource {
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil
	return &HTTPSource{client: client}
}

// RetriesInternally reports that the retryablehttp client already retries,
// so the loader must not add another round.
func (s *HTTPSource) RetriesInternally() bool { return true }

func (s *HTTPSource) targetSize() int {
	if s.TargetSize > 0 {
		return s.TargetSize
	}
	return thumbTargetSize
}

func (s *HTTPSource) Thumbnail(ctx context.Context, item Item) (image.Image, error) {
	img, err := s.fetch(ctx, item.ThumbRef)
	if err != nil {
		return nil, err
	}
	return scaleLetterbox(img, s.targetSize())
}

func (s *HTTPSource) FullImage(ctx context.Context, item Item) (image.Image, error) {
	ref := item.FullRef
	if ref == "" {
		ref = item.ThumbRef
	}
	return s.fetch(ctx, ref)
}

func (s *HTTPSource) fetch(ctx context.Context, url string) (image.Image, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	img, _, err := image.Decode(resp.Body)
	return img, err
}

// scaleLetterbox fits img into a black square of the target size, keeping
// aspect ratio and centering. ApproxBiLinear trades a little quality for a
// lot of speed, which is the right trade for scroll-time thumbnails.
func scaleLetterbox(img image.Image, target int) (image.Image, error) {
	srcBounds := img.Bounds()
	srcW, srcH := srcBounds.Dx(), srcBounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("empty source image %dx%d", srcW, srcH)
	}

	dst := image.NewRGBA(image.Rect(0, 0, target, target))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{image.Black}, image.Point{}, draw.Src)

	var scaledW, scaledH int
	ratio := float64(srcW) / float64(srcH)
	if ratio > 1 {
		scaledW = target
		scaledH = int(float64(target) / ratio)
	} else {
		scaledH = target
		scaledW = int(float64(target) * ratio)
	}

	xBase := (target - scaledW) / 2
	yBase := (target - scaledH) / 2
	targetRect := image.Rect(xBase, yBase, xBase+scaledW, yBase+scaledH)

	draw.ApproxBiLinear.Scale(dst, targetRect, img, srcBounds, draw.Over, nil)
	return dst, nil
}
