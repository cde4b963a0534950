package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/camden-git/scamqc/database"
)

type fakeLoader struct {
	mu    sync.Mutex
	seen  map[string]int
	block chan struct{}
}

func (f *fakeLoader) Original(ctx context.Context, folder, thumbnailPath string) ([]byte, database.CachedThumbnail, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, database.CachedThumbnail{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.seen[thumbnailPath]++
	f.mu.Unlock()
	return nil, database.CachedThumbnail{ThumbnailPath: thumbnailPath, FolderPath: folder}, nil
}

func (f *fakeLoader) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.seen {
		n += c
	}
	return n
}

func TestPrefetcherLoadsFolder(t *testing.T) {
	loader := &fakeLoader{seen: make(map[string]int)}
	p := NewThumbnailPrefetcher(loader, 10, 2)
	defer p.Stop()

	if n := p.QueueFolder("F/", []string{"a", "b", "c"}); n != 3 {
		t.Fatalf("expected 3 queued, got %d", n)
	}
	deadline := time.Now().Add(2 * time.Second)
	for loader.total() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("prefetch did not finish, loaded %d", loader.total())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPrefetcherSkipsPendingAndFullQueue(t *testing.T) {
	loader := &fakeLoader{seen: make(map[string]int), block: make(chan struct{})}
	p := NewThumbnailPrefetcher(loader, 1, 1)
	defer p.Stop()
	defer close(loader.block)

	if !p.QueueJob(ThumbnailJob{Folder: "F/", ThumbnailPath: "a"}) {
		t.Fatalf("first job should be queued")
	}
	if p.QueueJob(ThumbnailJob{Folder: "F/", ThumbnailPath: "a"}) {
		t.Errorf("pending job must not be queued twice")
	}

	// one job in the worker, one in the buffer, the rest is dropped
	queued := 0
	for _, path := range []string{"b", "c", "d"} {
		if p.QueueJob(ThumbnailJob{Folder: "F/", ThumbnailPath: path}) {
			queued++
		}
	}
	if queued > 2 {
		t.Errorf("queue of size 1 accepted %d extra jobs", queued)
	}
}
