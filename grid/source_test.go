package grid

import (
	"image"
	"image/color"
	"testing"
)

func TestScaleLetterbox_Landscape(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	out, err := scaleLetterbox(src, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.Bounds(); got.Dx() != 100 || got.Dy() != 100 {
		t.Fatalf("output should be a 100px square, got %v", got)
	}

	// A 2:1 image in a 100px square scales to 100x50, centered vertically:
	// rows 0..24 and 75..99 are letterbox bars.
	if r, _, _, _ := out.At(50, 10).RGBA(); r != 0 {
		t.Error("top letterbox bar should be black")
	}
	if r, _, _, _ := out.At(50, 90).RGBA(); r != 0 {
		t.Error("bottom letterbox bar should be black")
	}
	if r, _, _, _ := out.At(50, 50).RGBA(); r == 0 {
		t.Error("center should contain scaled source pixels")
	}
}

func TestScaleLetterbox_Portrait(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 100; x++ {
			src.Set(x, y, color.RGBA{G: 255, A: 255})
		}
	}

	out, err := scaleLetterbox(src, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1:3 portrait scales to 30x90, centered horizontally.
	if _, g, _, _ := out.At(5, 45).RGBA(); g != 0 {
		t.Error("left bar should be black")
	}
	if _, g, _, _ := out.At(85, 45).RGBA(); g != 0 {
		t.Error("right bar should be black")
	}
	if _, g, _, _ := out.At(45, 45).RGBA(); g == 0 {
		t.Error("center should contain scaled source pixels")
	}
}

func TestScaleLetterbox_EmptySource(t *testing.T) {
	if _, err := scaleLetterbox(image.NewRGBA(image.Rect(0, 0, 0, 0)), 100); err == nil {
		t.Fatal("expected error for an empty source image")
	}
}
