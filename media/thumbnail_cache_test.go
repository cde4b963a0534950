package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"

	"github.com/camden-git/scamqc/database"
	"github.com/disintegration/imaging"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	data  []byte
	err   error
}

func (f *fakeFetcher) GetThumbnailBytes(ctx context.Context, thumbnailPath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[thumbnailPath]++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeFetcher) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{200, 100, 50, 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func newTestCache(t *testing.T, fetcher ThumbnailFetcher) (*ThumbnailCache, *LocalStorage) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.InitDB(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewLocalStorage(filepath.Join(dir, "media"), map[AssetType]string{AssetTypeThumbnail: "thumbnails"})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return NewThumbnailCache(db, store, fetcher), store
}

func TestThumbnailCacheFetchesOnce(t *testing.T) {
	fetcher := &fakeFetcher{data: testJPEG(t, 80, 60)}
	cache, store := newTestCache(t, fetcher)
	ctx := context.Background()

	data, row, err := cache.Original(ctx, "W1/I1/", "thumbs/a.jpg")
	if err != nil {
		t.Fatalf("Original failed: %v", err)
	}
	if row.Width != 80 || row.Height != 60 || row.FolderPath != "W1/I1/" {
		t.Errorf("unexpected cache row %+v", row)
	}
	if !bytes.Equal(data, fetcher.data) {
		t.Errorf("cached bytes differ from the fetched ones")
	}
	if _, err := store.GetFullPath(row.CacheFile); err != nil {
		t.Errorf("cache file path rejected: %v", err)
	}

	if _, _, err := cache.Original(ctx, "W1/I1/", "thumbs/a.jpg"); err != nil {
		t.Fatalf("second Original failed: %v", err)
	}
	if n := fetcher.count("thumbs/a.jpg"); n != 1 {
		t.Errorf("expected one download, got %d", n)
	}
}

func TestThumbnailCacheRefetchesMissingFile(t *testing.T) {
	fetcher := &fakeFetcher{data: testJPEG(t, 40, 30)}
	cache, store := newTestCache(t, fetcher)
	ctx := context.Background()

	_, row, err := cache.Original(ctx, "F/", "thumbs/b.jpg")
	if err != nil {
		t.Fatalf("Original failed: %v", err)
	}
	if err := store.Delete(row.CacheFile); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, row2, err := cache.Original(ctx, "F/", "thumbs/b.jpg")
	if err != nil {
		t.Fatalf("Original after delete failed: %v", err)
	}
	if row2.CacheFile == row.CacheFile {
		t.Errorf("expected a fresh cache file")
	}
	if n := fetcher.count("thumbs/b.jpg"); n != 2 {
		t.Errorf("expected two downloads, got %d", n)
	}
}

func TestThumbnailCacheRenderedRotation(t *testing.T) {
	fetcher := &fakeFetcher{data: testJPEG(t, 80, 60)}
	cache, _ := newTestCache(t, fetcher)

	tests := []struct {
		rotation int
		w, h     int
	}{
		{0, 80, 60},
		{90, 60, 80},
		{180, 80, 60},
		{-90, 60, 80},
	}
	for _, tt := range tests {
		out, err := cache.Rendered(context.Background(), "F/", "thumbs/c.jpg", tt.rotation)
		if err != nil {
			t.Fatalf("Rendered(%d) failed: %v", tt.rotation, err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("decode rendered: %v", err)
		}
		if cfg.Width != tt.w || cfg.Height != tt.h {
			t.Errorf("rotation %d: got %dx%d, want %dx%d", tt.rotation, cfg.Width, cfg.Height, tt.w, tt.h)
		}
	}
}

func TestThumbnailCachePurge(t *testing.T) {
	fetcher := &fakeFetcher{data: testJPEG(t, 20, 20)}
	cache, store := newTestCache(t, fetcher)
	ctx := context.Background()

	var files []string
	for _, p := range []string{"thumbs/1.jpg", "thumbs/2.jpg"} {
		_, row, err := cache.Original(ctx, "F/", p)
		if err != nil {
			t.Fatalf("Original failed: %v", err)
		}
		files = append(files, row.CacheFile)
	}
	if _, _, err := cache.Original(ctx, "G/", "thumbs/3.jpg"); err != nil {
		t.Fatalf("Original failed: %v", err)
	}

	n, err := cache.Purge("F/")
	if err != nil || n != 2 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
	for _, f := range files {
		if _, _, err := store.Get(f); err == nil {
			t.Errorf("%s should be gone", f)
		}
	}
	if rows, _ := database.ListCachedThumbnails(cache.db, "G/"); len(rows) != 1 {
		t.Errorf("other folders must be kept, got %d rows", len(rows))
	}
}

func TestThumbnailCacheFetchError(t *testing.T) {
	boom := errors.New("boom")
	cache, _ := newTestCache(t, &fakeFetcher{err: boom})
	if _, _, err := cache.Original(context.Background(), "F/", "thumbs/x.jpg"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped fetch error, got %v", err)
	}
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	if _, err := store.GetFullPath("../outside.jpg"); err == nil {
		t.Errorf("expected traversal to be rejected")
	}
	if _, err := store.Save(AssetTypePreview, "../../x.jpg", "", bytes.NewReader(nil)); err == nil {
		t.Errorf("expected traversal through the filename to be rejected")
	}
	if err := store.Delete("preview/missing.jpg"); err != nil {
		t.Errorf("deleting a missing asset should succeed, got %v", err)
	}
}
