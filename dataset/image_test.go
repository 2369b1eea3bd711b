package dataset_test

import (
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/openfluke/capseg/dataset"
)

func TestFrame(t *testing.T) {
	img := []uint8{
		0, 0, 0, 0, 0,
		0, 0, 9, 0, 0,
		0, 4, 0, 7, 0,
		0, 0, 0, 0, 0,
	}
	b, err := dataset.Frame(img, 4, 5)
	if err != nil {
		t.Fatalf("Frame returned error: %v", err)
	}
	want := dataset.Bounds{MinRow: 1, MaxRow: 2, MinCol: 1, MaxCol: 3}
	if b != want {
		t.Fatalf("unexpected bounds: got %+v want %+v", b, want)
	}
	if b.Height() != 2 || b.Width() != 3 {
		t.Fatalf("unexpected extent %dx%d", b.Height(), b.Width())
	}

	if _, err := dataset.Frame(make([]uint8, 20), 4, 5); !errors.Is(err, dataset.ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
	if _, err := dataset.Frame(img, 5, 5); err == nil {
		t.Fatal("expected error for wrong pixel count")
	}
}

func TestCropPreservesDigit(t *testing.T) {
	img := make([]uint8, 6*6)
	img[1*6+2] = 10
	img[2*6+2] = 20
	img[2*6+3] = 30

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		out, err := dataset.Crop(img, 6, 6, 4, 5, rng)
		if err != nil {
			t.Fatalf("Crop returned error: %v", err)
		}
		if len(out) != 20 {
			t.Fatalf("expected 4x5 output, got %d pixels", len(out))
		}
		b, err := dataset.Frame(out, 4, 5)
		if err != nil {
			t.Fatal(err)
		}
		if b.Height() != 2 || b.Width() != 2 {
			t.Fatalf("digit extent changed: %+v", b)
		}
		got := []uint8{out[b.MinRow*5+b.MinCol], out[(b.MinRow+1)*5+b.MinCol], out[(b.MinRow+1)*5+b.MinCol+1]}
		if got[0] != 10 || got[1] != 20 || got[2] != 30 {
			t.Fatalf("digit pixels moved: %v", got)
		}
		var sum int
		for _, v := range out {
			sum += int(v)
		}
		if sum != 60 {
			t.Fatalf("padding must be zero, pixel sum %d", sum)
		}
	}
}

func TestCropRejectsLargeDigit(t *testing.T) {
	img := []uint8{1, 1, 1, 1}
	_, err := dataset.Crop(img, 1, 4, 3, 3, rand.New(rand.NewSource(1)))
	if !errors.Is(err, dataset.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestCropIsSeeded(t *testing.T) {
	img := make([]uint8, 10*10)
	img[55] = 1
	a, _ := dataset.Crop(img, 10, 10, 8, 8, rand.New(rand.NewSource(3)))
	b, _ := dataset.Crop(img, 10, 10, 8, 8, rand.New(rand.NewSource(3)))
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same seed must give the same placement")
		}
	}
}

func TestLabelMask(t *testing.T) {
	mask := dataset.LabelMask([]uint8{0, 3, 255, 0}, 2)
	want := []uint8{0, 2, 2, 0}
	for i := range want {
		if mask[i] != want[i] {
			t.Fatalf("unexpected mask %v", mask)
		}
	}
	if c, ok := dataset.ClassOf(dataset.DefaultDigits, 5); !ok || c != 2 {
		t.Fatalf("expected digit 5 to map to class 2, got %d %v", c, ok)
	}
	if _, ok := dataset.ClassOf(dataset.DefaultDigits, 7); ok {
		t.Fatal("digit 7 is not selected")
	}
}

func TestGrayscale(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 3, 2))
	rgba.Set(1, 0, color.White)
	rgba.Set(2, 1, color.RGBA{R: 255, A: 255})
	pixels, h, w := dataset.Grayscale(rgba)
	if h != 2 || w != 3 {
		t.Fatalf("unexpected size %dx%d", h, w)
	}
	if pixels[1] != 255 || pixels[0] != 0 || pixels[5] == 0 {
		t.Fatalf("unexpected luminance %v", pixels)
	}

	gray := image.NewGray(image.Rect(2, 2, 4, 3))
	gray.SetGray(3, 2, color.Gray{Y: 77})
	pixels, h, w = dataset.Grayscale(gray)
	if h != 1 || w != 2 || pixels[1] != 77 {
		t.Fatalf("unexpected gray conversion %v (%dx%d)", pixels, h, w)
	}
}
