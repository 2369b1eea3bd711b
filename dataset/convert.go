package dataset

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

const insertBatchSize = 256

// Converter turns a directory archive of digit PNGs into stored records.
// The archive layout is root/<digit>/*.png.
type Converter struct {
	Store *Store

	// Height and Width are the target frame every digit is padded to.
	Height int
	Width  int

	// Digits selects the converted digits. Empty means DefaultDigits.
	Digits []int

	// Seed drives the random placement of digits inside the frame.
	Seed int64

	// Workers bounds concurrent PNG decoding. Zero or less means one.
	Workers int

	Logger *slog.Logger
}

// ConvertResult summarizes one conversion.
type ConvertResult struct {
	// Counts holds the stored records per selected digit after conversion.
	Counts map[int]int
	// Skipped counts images that were empty or did not fit the frame.
	Skipped int
	// Duplicates counts images already present in the store.
	Duplicates int
}

type sourceImage struct {
	index int
	digit int
	path  string
	rel   string
}

type converted struct {
	record  Record
	skipped bool
	err     error
}

// Convert reads every selected digit image under src and stores it. The
// dataset writer lock is held for the whole conversion. Output is identical
// for identical inputs and seed, independent of Workers.
func (c *Converter) Convert(ctx context.Context, src string) (ConvertResult, error) {
	if c.Store == nil {
		return ConvertResult{}, errors.New("converter requires a store")
	}
	if c.Height <= 0 || c.Width <= 0 {
		return ConvertResult{}, fmt.Errorf("invalid target frame %dx%d", c.Height, c.Width)
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	digits := c.Digits
	if len(digits) == 0 {
		digits = DefaultDigits
	}

	lock, err := AcquireLock(c.Store.Path())
	if err != nil {
		return ConvertResult{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release dataset lock", slog.String("lock", lock.Path()), slog.Any("error", err))
		}
	}()

	sources, err := listSources(src, digits)
	if err != nil {
		return ConvertResult{}, err
	}
	logger.Info("converting digit archive",
		slog.String("source", src),
		slog.Int("images", len(sources)),
		slog.Any("digits", digits),
		slog.String("frame", fmt.Sprintf("%dx%d", c.Height, c.Width)))

	results, err := c.decodeAll(ctx, sources, digits)
	if err != nil {
		return ConvertResult{}, err
	}

	res := ConvertResult{Counts: make(map[int]int)}
	pending := make([]Record, 0, insertBatchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := c.Store.Insert(ctx, pending)
		if err != nil {
			return err
		}
		res.Duplicates += len(pending) - n
		pending = pending[:0]
		return nil
	}

	for i, r := range results {
		if r.err != nil {
			return res, fmt.Errorf("convert %s: %w", sources[i].rel, r.err)
		}
		if r.skipped {
			res.Skipped++
			continue
		}
		pending = append(pending, r.record)
		if len(pending) == insertBatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	counts, err := c.Store.CountByDigit(ctx)
	if err != nil {
		return res, err
	}
	for _, d := range digits {
		res.Counts[d] = counts[d]
	}
	logger.Info("conversion complete",
		slog.Any("counts", res.Counts),
		slog.Int("skipped", res.Skipped),
		slog.Int("duplicates", res.Duplicates))
	return res, nil
}

// decodeAll converts every source on a bounded worker pool. Each image gets
// its own rng seeded from its index, so placement does not depend on
// scheduling.
func (c *Converter) decodeAll(ctx context.Context, sources []sourceImage, digits []int) ([]converted, error) {
	results := make([]converted, len(sources))
	workers := max(c.Workers, 1)

	jobs := make(chan sourceImage)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				results[s.index] = c.convertOne(s, digits)
			}
		}()
	}

feed:
	for _, s := range sources {
		select {
		case jobs <- s:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Converter) convertOne(s sourceImage, digits []int) converted {
	f, err := os.Open(s.path)
	if err != nil {
		return converted{err: err}
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return converted{err: fmt.Errorf("decode png: %w", err)}
	}
	pixels, h, w := Grayscale(img)

	rng := rand.New(rand.NewSource(c.Seed + int64(s.index)))
	framed, err := Crop(pixels, h, w, c.Height, c.Width, rng)
	if errors.Is(err, ErrEmptyImage) || errors.Is(err, ErrFrameTooLarge) {
		return converted{skipped: true}
	}
	if err != nil {
		return converted{err: err}
	}

	class, _ := ClassOf(digits, s.digit)
	return converted{record: Record{
		ID:     RecordID(s.rel),
		Digit:  s.digit,
		Height: c.Height,
		Width:  c.Width,
		Image:  framed,
		Label:  LabelMask(framed, class),
		Source: s.rel,
	}}
}

// listSources returns the PNG files of the selected digit directories in a
// stable order.
func listSources(root string, digits []int) ([]sourceImage, error) {
	var sources []sourceImage
	for _, d := range digits {
		dir := filepath.Join(root, strconv.Itoa(d))
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read digit directory: %w", err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			sources = append(sources, sourceImage{
				index: len(sources),
				digit: d,
				path:  filepath.Join(dir, name),
				rel:   filepath.ToSlash(filepath.Join(strconv.Itoa(d), name)),
			})
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no png images for digits %v under %s", digits, root)
	}
	return sources, nil
}
