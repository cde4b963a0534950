package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/camden-git/scamqc/geometry"
	"github.com/camden-git/scamqc/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultLanes is the number of fixed worker lanes, which bounds the number of
// detector requests in flight.
const DefaultLanes = 6

// QueueStatus replaces a free "already running" flag
type QueueStatus string

const (
	StatusIdle     QueueStatus = "idle"
	StatusRunning  QueueStatus = "running"
	StatusAborting QueueStatus = "aborting"
)

var (
	ErrAlreadyRunning = errors.New("sync queue: a run is already in progress")
	ErrAborted        = errors.New("sync queue: run aborted")
)

// Detector runs page detection on a single image
type Detector interface {
	RunScamFile(ctx context.Context, folder string, opts models.DetectionOptions, file models.ScamImageData) (*models.ScamImageData, error)
}

// SubmissionToken identifies what a detector request was computed against.
// It is compared with the current state when the response arrives.
type SubmissionToken struct {
	RunID       string
	ImageID     string
	Rotation    int
	OptionsHash string
	Generation  int
}

// Result is one successful detector response
type Result struct {
	Token   SubmissionToken
	Data    models.ScamImageData
	Options models.DetectionOptions
}

// Progress is the overall {todo, done} pair of the current run
type Progress struct {
	Status QueueStatus `json:"status"`
	Todo   []string    `json:"todo"`
	Done   []string    `json:"done"`
}

// Percent is done over todo, and 100 when nothing is queued
func (p Progress) Percent() float64 {
	if len(p.Todo) == 0 {
		return 100
	}
	return float64(len(p.Done)) / float64(len(p.Todo)) * 100
}

// Filter restricts a submission. A nil Selection means every image.
type Filter struct {
	Selection  map[string]bool
	WarnedOnly bool
	Warned     map[string]bool
}

// Submission is one batch run request
type Submission struct {
	Folder     string
	Images     []models.ScamImageData
	Filter     Filter
	Options    models.DetectionOptions
	Generation int
}

// Callbacks connect the queue to the rest of the engine. OnResult and
// OnProgress run under the queue lock and must not call back into the queue.
type Callbacks struct {
	OnResult    func(Result)
	OnProgress  func(Progress)
	OnBatchDone func(applied int)
}

// SyncQueue submits images to the detector through a fixed set of lanes
type SyncQueue struct {
	detector Detector
	lanes    int
	cb       Callbacks

	mu           sync.Mutex
	status       QueueStatus
	runID        string
	cancel       context.CancelFunc
	todo         []string
	done         []string
	applied      int
	imageCancels map[string]context.CancelFunc
	idle         chan struct{}
}

func NewSyncQueue(detector Detector, lanes int, cb Callbacks) *SyncQueue {
	if lanes <= 0 {
		lanes = DefaultLanes
	}
	return &SyncQueue{
		detector:     detector,
		lanes:        lanes,
		cb:           cb,
		status:       StatusIdle,
		imageCancels: make(map[string]context.CancelFunc),
	}
}

// Eligible reports whether an image takes part in a run
func Eligible(img models.ScamImageData, f Filter) bool {
	if img.Checked || img.Hidden {
		return false
	}
	if f.Selection != nil && !f.Selection[img.ThumbnailPath] {
		return false
	}
	if f.WarnedOnly && !f.Warned[img.ThumbnailPath] {
		return false
	}
	return true
}

// Partition splits images round-robin into n lanes
func Partition(images []models.ScamImageData, n int) [][]models.ScamImageData {
	lanes := make([][]models.ScamImageData, n)
	for i, img := range images {
		lanes[i%n] = append(lanes[i%n], img)
	}
	return lanes
}

// Submit starts a run in the background. It returns ErrAlreadyRunning when a
// previous run has not finished.
func (q *SyncQueue) Submit(ctx context.Context, sub Submission) error {
	var eligible []models.ScamImageData
	for _, img := range sub.Images {
		if Eligible(img, sub.Filter) {
			eligible = append(eligible, img)
		}
	}

	q.mu.Lock()
	if q.status != StatusIdle {
		q.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(eligible) == 0 {
		q.mu.Unlock()
		log.Printf("workers.sync: nothing to submit for %s", sub.Folder)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	runID := uuid.NewString()
	q.runID = runID
	q.cancel = cancel
	q.status = StatusRunning
	q.applied = 0
	q.done = nil
	q.todo = make([]string, 0, len(eligible))
	for _, img := range eligible {
		q.todo = append(q.todo, img.ThumbnailPath)
	}
	q.idle = make(chan struct{})
	q.publishLocked()
	q.mu.Unlock()

	lanes := Partition(eligible, q.lanes)
	log.Printf("workers.sync: run %s started for %s: %d image(s) over %d lane(s)", runID, sub.Folder, len(eligible), q.lanes)

	go func() {
		var g errgroup.Group
		for i, lane := range lanes {
			if len(lane) == 0 {
				continue
			}
			laneID, images := i, lane
			g.Go(func() error {
				return q.runLane(runCtx, runID, laneID, sub, images)
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, ErrAborted) {
			log.Printf("workers.sync: run %s ended with error: %v", runID, err)
		}
		cancel()
		q.finish(runID)
	}()
	return nil
}

func (q *SyncQueue) runLane(ctx context.Context, runID string, laneID int, sub Submission, images []models.ScamImageData) error {
	for _, img := range images {
		if ctx.Err() != nil {
			return ErrAborted
		}
		id := img.ThumbnailPath
		token := SubmissionToken{
			RunID:       runID,
			ImageID:     id,
			Rotation:    img.Rotation,
			OptionsHash: sub.Options.Hash(),
			Generation:  sub.Generation,
		}

		imgCtx, imgCancel := context.WithCancel(ctx)
		q.mu.Lock()
		q.imageCancels[id] = imgCancel
		q.mu.Unlock()

		data, err := q.detector.RunScamFile(imgCtx, sub.Folder, sub.Options, outgoing(img))
		imageCancelled := imgCtx.Err() != nil && ctx.Err() == nil
		imgCancel()

		q.mu.Lock()
		delete(q.imageCancels, id)
		if q.runID != runID || ctx.Err() != nil {
			q.mu.Unlock()
			return ErrAborted
		}
		switch {
		case err != nil && imageCancelled:
			log.Printf("workers.sync: lane %d: request for %s cancelled", laneID, id)
		case err != nil:
			log.Printf("workers.sync: lane %d: ERROR running detector for %s: %v", laneID, id, err)
		case data == nil:
			log.Printf("workers.sync: lane %d: ERROR empty detector response for %s", laneID, id)
		default:
			if q.cb.OnResult != nil {
				q.cb.OnResult(Result{Token: token, Data: *data, Options: sub.Options})
			}
			q.applied++
		}
		q.done = append(q.done, id)
		q.publishLocked()
		q.mu.Unlock()
	}
	return nil
}

// outgoing strips the engine-only parts of an image before it is sent
func outgoing(img models.ScamImageData) models.ScamImageData {
	out := img.Clone()
	out.Pages = geometry.WithoutRotatedHandles(out.Pages)
	out.Rects = nil
	return out
}

// finish reports the batch, then returns the queue to idle. Waiters are only
// released once the batch callback has run.
func (q *SyncQueue) finish(runID string) {
	q.mu.Lock()
	drained := q.status == StatusRunning && q.runID == runID && len(q.todo) > 0 && len(q.done) == len(q.todo)
	applied := q.applied
	q.mu.Unlock()

	if drained {
		log.Printf("workers.sync: run %s finished, %d result(s) applied", runID, applied)
		if applied > 0 && q.cb.OnBatchDone != nil {
			q.cb.OnBatchDone(applied)
		}
	} else {
		log.Printf("workers.sync: run %s stopped", runID)
	}

	q.mu.Lock()
	q.status = StatusIdle
	q.runID = ""
	q.cancel = nil
	q.todo, q.done = nil, nil
	if q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
	q.publishLocked()
	q.mu.Unlock()
}

// Abort stops every lane. In-flight responses are dropped; once Abort returns
// no further result of the run is applied.
func (q *SyncQueue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.status != StatusRunning {
		return
	}
	log.Printf("workers.sync: aborting run %s (%d/%d done)", q.runID, len(q.done), len(q.todo))
	q.cancel()
	q.status = StatusAborting
	q.todo, q.done = nil, nil
	q.publishLocked()
}

// CancelImage cancels the in-flight request of one image without touching the
// rest of the run.
func (q *SyncQueue) CancelImage(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	cancel, ok := q.imageCancels[id]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until the queue is idle or ctx is done
func (q *SyncQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sync queue: %w", ctx.Err())
	}
}

// Close aborts any run and waits for the lanes to exit
func (q *SyncQueue) Close() {
	q.Abort()
	_ = q.Wait(context.Background())
}

func (q *SyncQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Progress returns a snapshot of the current run
func (q *SyncQueue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.progressLocked()
}

func (q *SyncQueue) progressLocked() Progress {
	return Progress{
		Status: q.status,
		Todo:   append([]string{}, q.todo...),
		Done:   append([]string{}, q.done...),
	}
}

func (q *SyncQueue) publishLocked() {
	if q.cb.OnProgress != nil {
		q.cb.OnProgress(q.progressLocked())
	}
}
