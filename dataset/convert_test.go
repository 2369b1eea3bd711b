package dataset_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfluke/capseg/dataset"
)

func writeDigit(t *testing.T, root string, digit, index, size int, ink image.Rectangle) {
	t.Helper()
	dir := filepath.Join(root, string(rune('0'+digit)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := ink.Min.Y; y < ink.Max.Y; y++ {
		for x := ink.Min.X; x < ink.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: 180})
		}
	}
	f, err := os.Create(filepath.Join(dir, "img"+string(rune('a'+index))+".png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func buildArchive(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeDigit(t, root, 3, 0, 12, image.Rect(2, 3, 6, 9))
	writeDigit(t, root, 3, 1, 12, image.Rect(0, 0, 3, 3))
	writeDigit(t, root, 5, 0, 12, image.Rect(4, 4, 9, 8))
	writeDigit(t, root, 5, 1, 12, image.Rect(0, 0, 12, 12)) // too large for the frame
	writeDigit(t, root, 5, 2, 12, image.Rect(0, 0, 0, 0))   // blank
	writeDigit(t, root, 7, 0, 12, image.Rect(2, 2, 5, 5))   // not selected
	return root
}

func TestConvert(t *testing.T) {
	ctx := context.Background()
	root := buildArchive(t)
	store := openStore(t)

	conv := &dataset.Converter{Store: store, Height: 8, Width: 10, Seed: 4, Workers: 3}
	res, err := conv.Convert(ctx, root)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if res.Counts[3] != 2 || res.Counts[5] != 1 {
		t.Fatalf("unexpected counts %v", res.Counts)
	}
	if res.Skipped != 2 || res.Duplicates != 0 {
		t.Fatalf("unexpected skipped/duplicates %+v", res)
	}

	recs, err := store.List(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 stored records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.Height != 8 || r.Width != 10 {
			t.Fatalf("record %s has frame %dx%d", r.Source, r.Height, r.Width)
		}
		want, _ := dataset.ClassOf(dataset.DefaultDigits, r.Digit)
		var ink int
		for i, v := range r.Image {
			switch {
			case v > 0 && r.Label[i] != want:
				t.Fatalf("record %s: ink pixel labeled %d, want %d", r.Source, r.Label[i], want)
			case v == 0 && r.Label[i] != 0:
				t.Fatalf("record %s: background pixel labeled %d", r.Source, r.Label[i])
			}
			if v > 0 {
				ink++
			}
		}
		if ink == 0 {
			t.Fatalf("record %s lost its digit", r.Source)
		}
	}

	// Converting again stores nothing new.
	again, err := conv.Convert(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if again.Duplicates != 3 || again.Counts[3] != 2 {
		t.Fatalf("expected idempotent conversion, got %+v", again)
	}
}

func TestConvertIsDeterministic(t *testing.T) {
	ctx := context.Background()
	root := buildArchive(t)

	var images [2][][]uint8
	for i, workers := range []int{1, 4} {
		store := openStore(t)
		conv := &dataset.Converter{Store: store, Height: 8, Width: 10, Seed: 9, Workers: workers}
		if _, err := conv.Convert(ctx, root); err != nil {
			t.Fatal(err)
		}
		recs, err := store.List(ctx, 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range recs {
			images[i] = append(images[i], r.Image)
		}
	}
	for i := range images[0] {
		for p := range images[0][i] {
			if images[0][i][p] != images[1][i][p] {
				t.Fatalf("record %d differs between worker counts", i)
			}
		}
	}
}

func TestConvertHonorsLock(t *testing.T) {
	root := buildArchive(t)
	store := openStore(t)
	lock, err := dataset.AcquireLock(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	conv := &dataset.Converter{Store: store, Height: 8, Width: 10}
	if _, err := conv.Convert(context.Background(), root); !errors.Is(err, dataset.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestConvertCanceled(t *testing.T) {
	root := buildArchive(t)
	store := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conv := &dataset.Converter{Store: store, Height: 8, Width: 10}
	if _, err := conv.Convert(ctx, root); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
