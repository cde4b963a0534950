package workers

import (
	"context"
	"log"
	"sync"

	"github.com/camden-git/scamqc/database"
)

// ThumbnailLoader is the part of the thumbnail cache the prefetcher needs
type ThumbnailLoader interface {
	Original(ctx context.Context, folder, thumbnailPath string) ([]byte, database.CachedThumbnail, error)
}

type ThumbnailJob struct {
	Folder        string
	ThumbnailPath string
}

// ThumbnailPrefetcher warms the thumbnail cache for a freshly opened folder
// so the browser does not wait on the API while scrolling
type ThumbnailPrefetcher struct {
	JobQueue chan ThumbnailJob
	Loader   ThumbnailLoader
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[string]bool
	Mutex    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewThumbnailPrefetcher(loader ThumbnailLoader, queueSize, numWorkers int) *ThumbnailPrefetcher {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ThumbnailPrefetcher{
		JobQueue: make(chan ThumbnailJob, queueSize),
		Loader:   loader,
		StopChan: make(chan struct{}),
		Pending:  make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker(i)
	}
	log.Printf("workers.thumbnail: started %d prefetch worker(s) with queue size %d", numWorkers, queueSize)
	return p
}

func (p *ThumbnailPrefetcher) worker(id int) {
	defer p.Wg.Done()
	for {
		select {
		case job := <-p.JobQueue:
			p.processJob(job)
			p.Mutex.Lock()
			delete(p.Pending, job.ThumbnailPath)
			p.Mutex.Unlock()

		case <-p.StopChan:
			log.Printf("workers.thumbnail: worker %d stopping", id)
			return
		}
	}
}

func (p *ThumbnailPrefetcher) processJob(job ThumbnailJob) {
	if _, _, err := p.Loader.Original(p.ctx, job.Folder, job.ThumbnailPath); err != nil {
		if p.ctx.Err() != nil {
			return
		}
		log.Printf("workers.thumbnail: ERROR prefetching %s: %v", job.ThumbnailPath, err)
	}
}

// QueueJob enqueues one thumbnail unless it is already pending. It never
// blocks; a full queue drops the job.
func (p *ThumbnailPrefetcher) QueueJob(job ThumbnailJob) bool {
	p.Mutex.Lock()
	if p.Pending[job.ThumbnailPath] {
		p.Mutex.Unlock()
		return false
	}
	p.Pending[job.ThumbnailPath] = true
	p.Mutex.Unlock()

	select {
	case p.JobQueue <- job:
		return true
	default:
		log.Printf("workers.thumbnail: WARNING queue full, dropping prefetch of %s", job.ThumbnailPath)
		p.Mutex.Lock()
		delete(p.Pending, job.ThumbnailPath)
		p.Mutex.Unlock()
		return false
	}
}

// QueueFolder enqueues every thumbnail of a folder and returns how many were queued
func (p *ThumbnailPrefetcher) QueueFolder(folder string, thumbnailPaths []string) int {
	queued := 0
	for _, path := range thumbnailPaths {
		if p.QueueJob(ThumbnailJob{Folder: folder, ThumbnailPath: path}) {
			queued++
		}
	}
	log.Printf("workers.thumbnail: queued %d/%d thumbnail(s) of %s", queued, len(thumbnailPaths), folder)
	return queued
}

func (p *ThumbnailPrefetcher) Stop() {
	log.Println("workers.thumbnail: stopping prefetcher...")
	p.cancel()
	close(p.StopChan)
	p.Wg.Wait()
	log.Println("workers.thumbnail: all prefetch workers stopped")
}
