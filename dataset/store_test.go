package dataset_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/openfluke/capseg/dataset"
)

func testRecord(source string, digit int) dataset.Record {
	img := []uint8{0, 12, 0, 200, 0, 0}
	return dataset.Record{
		ID:     dataset.RecordID(source),
		Digit:  digit,
		Height: 2,
		Width:  3,
		Image:  img,
		Label:  dataset.LabelMask(img, 1),
		Source: source,
	}
}

func openStore(t *testing.T) *dataset.Store {
	t.Helper()
	store, err := dataset.Open(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	recs := []dataset.Record{testRecord("3/a.png", 3), testRecord("5/b.png", 5), testRecord("3/c.png", 3)}
	n, err := store.Insert(ctx, recs)
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 inserted, got %d", n)
	}

	got, err := store.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records after offset, got %d", len(got))
	}
	if got[0].ID != recs[1].ID || got[0].Digit != 5 || got[0].Source != "5/b.png" {
		t.Fatalf("unexpected first record %+v", got[0])
	}
	for i := range recs[1].Image {
		if got[0].Image[i] != recs[1].Image[i] || got[0].Label[i] != recs[1].Label[i] {
			t.Fatal("pixel data did not round trip")
		}
	}

	counts, err := store.CountByDigit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[3] != 2 || counts[5] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestStoreSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if _, err := store.Insert(ctx, []dataset.Record{testRecord("3/a.png", 3)}); err != nil {
		t.Fatal(err)
	}
	n, err := store.Insert(ctx, []dataset.Record{testRecord("3/a.png", 3), testRecord("3/b.png", 3)})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected only the new record inserted, got %d", n)
	}
	if total, _ := store.Count(ctx); total != 2 {
		t.Fatalf("expected 2 records, got %d", total)
	}
}

func TestStoreRejectsMalformedRecord(t *testing.T) {
	store := openStore(t)
	bad := testRecord("3/a.png", 3)
	bad.Label = bad.Label[:2]
	if _, err := store.Insert(context.Background(), []dataset.Record{bad}); err == nil {
		t.Fatal("expected error for label/image length mismatch")
	}
}

func TestStoreSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")
	store, err := dataset.Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	if _, err := dataset.Open(ctx, path); !errors.Is(err, dataset.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	first, err := dataset.AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock returned error: %v", err)
	}
	if _, err := dataset.AcquireLock(path); !errors.Is(err, dataset.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatal(err)
	}
	second, err := dataset.AcquireLock(path)
	if err != nil {
		t.Fatalf("lock should be free after release: %v", err)
	}
	_ = second.Release()
}
