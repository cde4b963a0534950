package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/repository"
	"github.com/camden-git/scamqc/state"
	"github.com/camden-git/scamqc/workers"
)

type fakeAPI struct {
	mu      sync.Mutex
	scam    models.ScamData
	saved   []models.ScamData
	calls   []string
	gates   map[string]chan struct{}
	started chan string
}

func newFakeAPI(n int) *fakeAPI {
	files := make([]models.ScamImageData, n)
	for i := range files {
		files[i] = models.ScamImageData{SourceImage: models.SourceImage{
			ImgPath:       fmt.Sprintf("I%d.tif", n-i),
			ThumbnailPath: fmt.Sprintf("thumbs/I%d.jpg", n-i),
			Width:         4000,
			Height:        3000,
			ThumbnailInfo: models.ThumbnailInfo{Width: 800, Height: 600},
		}}
	}
	return &fakeAPI{
		scam:    models.ScamData{FolderPath: "W1/I1/", Files: files},
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func detectedPages() []models.Region {
	return []models.Region{
		{Rect: models.Rect{3000, 1500, 1200, 2400, 0}, Warnings: []string{}},
		{Rect: models.Rect{1000, 1500, 1200, 2400, 0}, Warnings: []string{}},
	}
}

func (f *fakeAPI) RunScamFile(ctx context.Context, folder string, opts models.DetectionOptions, file models.ScamImageData) (*models.ScamImageData, error) {
	f.mu.Lock()
	f.calls = append(f.calls, file.ThumbnailPath)
	gate := f.gates[file.ThumbnailPath]
	f.mu.Unlock()

	f.started <- file.ThumbnailPath
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := file.Clone()
	out.Pages = detectedPages()
	out.Rects = []models.DisplayRegion{{N: 99}}
	return &out, nil
}

func (f *fakeAPI) GetScamJSON(ctx context.Context, folder string) (*models.ScamData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scam := f.scam
	scam.Files = make([]models.ScamImageData, len(f.scam.Files))
	for i, file := range f.scam.Files {
		scam.Files[i] = file.Clone()
	}
	return &scam, nil
}

func (f *fakeAPI) SaveScamJSON(ctx context.Context, folder string, data models.ScamData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, data)
	return nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) gate(id string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[id] = ch
	return ch
}

func newTestSession(t *testing.T, api *fakeAPI, kv repository.KeyValueStore) (*Session, *state.Store) {
	t.Helper()
	if kv == nil {
		kv = repository.NewMemoryKeyValueStore(0)
	}
	store := state.NewStore()
	s := NewSession(api, store, NewDraftService(kv), SessionConfig{
		Lanes:   workers.DefaultLanes,
		Options: models.DefaultDetectionOptions(),
	})
	t.Cleanup(s.Close)
	return s, store
}

func waitQueue(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("queue did not drain: %v", err)
	}
}

func TestFreshFolderRunsEveryImage(t *testing.T) {
	api := newFakeAPI(3)
	s, store := newTestSession(t, api, nil)

	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	waitQueue(t, s)

	if api.callCount() != 3 {
		t.Fatalf("expected 3 detector calls, got %d", api.callCount())
	}
	for _, id := range store.IDs() {
		rec, _ := store.Get(id)
		if rec.State != models.StateNew {
			t.Errorf("%s: state %s, want new", id, rec.State)
		}
		if len(rec.Data.Rects) != len(rec.Data.Pages) {
			t.Errorf("%s: %d rects for %d pages", id, len(rec.Data.Rects), len(rec.Data.Pages))
		}
		if rec.Data.Rects[0].N != 0 {
			t.Errorf("%s: rects must be derived locally, got %+v", id, rec.Data.Rects[0])
		}
	}
	if store.Len() != 3 {
		t.Errorf("expected 3 records, got %d", store.Len())
	}
	if f := s.Flags(); !f.Modified || f.Drafted || f.Published {
		t.Errorf("unexpected flags after batch: %+v", f)
	}
}

func TestFilesAreNaturallySorted(t *testing.T) {
	api := newFakeAPI(12)
	s, _ := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	waitQueue(t, s)

	images := s.Images()
	if images[0].ID != "thumbs/I1.jpg" || images[1].ID != "thumbs/I2.jpg" || images[11].ID != "thumbs/I12.jpg" {
		t.Errorf("unexpected order: %s %s %s", images[0].ID, images[1].ID, images[11].ID)
	}
}

func TestDraftDecisionGatesReconciliation(t *testing.T) {
	api := newFakeAPI(3)
	kv := repository.NewMemoryKeyValueStore(0)
	drafts := NewDraftService(kv)
	stale := models.AnnotationRecord{
		Data:    api.scam.Files[0].Clone(),
		State:   models.StateModified,
		Visible: true,
	}
	if _, err := drafts.Save("W1/I1/", map[string]models.AnnotationRecord{stale.Data.ThumbnailPath: stale}, models.DefaultDetectionOptions()); err != nil {
		t.Fatalf("seeding draft failed: %v", err)
	}

	s, store := newTestSession(t, api, kv)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	if !s.DraftPending() {
		t.Fatalf("expected the draft decision to be pending")
	}
	if store.Len() != 0 || api.callCount() != 0 {
		t.Fatalf("nothing may happen before the draft decision: %d records, %d calls", store.Len(), api.callCount())
	}
	if _, err := s.Run(RunRequest{}); !errors.Is(err, ErrDraftDecisionNeeded) {
		t.Errorf("expected ErrDraftDecisionNeeded, got %v", err)
	}

	if err := s.DecideDraft(false, true); err != nil {
		t.Fatalf("DecideDraft failed: %v", err)
	}
	waitQueue(t, s)

	if api.callCount() != 3 {
		t.Errorf("expected every image to run after declining, got %d calls", api.callCount())
	}
	if d, _ := drafts.Load("W1/I1/"); !d.Empty() {
		t.Errorf("discard should remove the stored draft")
	}
	if err := s.DecideDraft(true, false); !errors.Is(err, ErrNoDraftDecision) {
		t.Errorf("expected ErrNoDraftDecision, got %v", err)
	}
}

func TestDraftRoundTripRestoresRecords(t *testing.T) {
	api := newFakeAPI(3)
	kv := repository.NewMemoryKeyValueStore(0)
	s, store := newTestSession(t, api, kv)

	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	waitQueue(t, s)

	if _, err := s.SetChecked("thumbs/I2.jpg", true); err != nil {
		t.Fatalf("SetChecked failed: %v", err)
	}
	if _, err := s.SetVisible("thumbs/I3.jpg", false); err != nil {
		t.Fatalf("SetVisible failed: %v", err)
	}
	if n, err := s.SaveDraft(); err != nil || n != 3 {
		t.Fatalf("SaveDraft returned %d, %v", n, err)
	}
	if !s.Flags().Drafted {
		t.Errorf("drafted flag should be set after saving")
	}
	calls := api.callCount()

	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("reopening failed: %v", err)
	}
	if err := s.DecideDraft(true, false); err != nil {
		t.Fatalf("DecideDraft failed: %v", err)
	}
	waitQueue(t, s)

	if api.callCount() != calls {
		t.Errorf("restored drafts should not be recomputed, %d new calls", api.callCount()-calls)
	}
	for _, id := range store.IDs() {
		rec, _ := store.Get(id)
		if rec.State != models.StateDraft {
			t.Errorf("%s: state %s, want draft", id, rec.State)
		}
		if len(rec.Data.Rects) != len(rec.Data.Pages) {
			t.Errorf("%s: rects were not recomputed", id)
		}
	}
	if rec, _ := store.Get("thumbs/I2.jpg"); !rec.Checked {
		t.Errorf("draft checked flag was not adopted")
	}
	if rec, _ := store.Get("thumbs/I3.jpg"); rec.Visible {
		t.Errorf("draft visibility was not adopted")
	}
}

func TestRotationDuringFlightMarksModified(t *testing.T) {
	api := newFakeAPI(1)
	id := api.scam.Files[0].ThumbnailPath
	api.scam.Files[0].Pages = detectedPages()
	s, store := newTestSession(t, api, nil)

	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	if rec, _ := store.Get(id); rec.State != models.StateUploaded {
		t.Fatalf("published data should be adopted, got %s", rec.State)
	}
	if api.callCount() != 0 {
		t.Fatalf("uploaded data must not be recomputed on open")
	}

	gate := api.gate(id)
	if _, err := s.Run(RunRequest{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	select {
	case <-api.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("request never started")
	}

	if _, err := s.RotateImage(id, 90); err != nil {
		t.Fatalf("RotateImage failed: %v", err)
	}
	close(gate)
	waitQueue(t, s)

	rec, _ := store.Get(id)
	if rec.State != models.StateModified {
		t.Fatalf("stale result should be marked modified, got %s", rec.State)
	}
	if rec.Data.Rotation != 90 || rec.Image.Rotation != 90 {
		t.Errorf("expected rotation 90, got data %d image %d", rec.Data.Rotation, rec.Image.Rotation)
	}
	if rec.Data.Width != 3000 || rec.Data.Height != 4000 {
		t.Errorf("dimensions should follow the rotation, got %dx%d", rec.Data.Width, rec.Data.Height)
	}
	// (3000, 1500) around (2000, 1500) clockwise lands at (1500, 3000)
	got := rec.Data.Pages[0].Rect
	if math.Abs(got.CX()-1500) > 1e-9 || math.Abs(got.CY()-3000) > 1e-9 || got.W() != 2400 || got.H() != 1200 {
		t.Errorf("result was not rotated into the current orientation: %v", got)
	}
}

func TestResultWithoutRotationIsNew(t *testing.T) {
	api := newFakeAPI(1)
	id := api.scam.Files[0].ThumbnailPath
	api.scam.Files[0].Pages = detectedPages()
	s, store := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	if _, err := s.RotateImage(id, -90); err != nil {
		t.Fatalf("RotateImage failed: %v", err)
	}
	if _, err := s.Run(RunRequest{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitQueue(t, s)

	rec, _ := store.Get(id)
	if rec.State != models.StateNew || rec.Image.Rotation != 270 {
		t.Errorf("expected new record at 270, got %s at %d", rec.State, rec.Image.Rotation)
	}
}

func TestCheckedImagesAreFrozen(t *testing.T) {
	api := newFakeAPI(3)
	api.scam.Files[1].Checked = true
	api.scam.Files[1].Pages = detectedPages()
	s, store := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	waitQueue(t, s)
	calls := api.callCount()
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}

	if _, err := s.Run(RunRequest{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitQueue(t, s)
	if api.callCount()-calls != 2 {
		t.Errorf("checked image must not be recomputed")
	}
	checkedID := api.scam.Files[1].ThumbnailPath
	if rec, _ := store.Get(checkedID); rec.State != models.StateUploaded {
		t.Errorf("checked image record changed to %s", rec.State)
	}
}

func TestRunSelectionAndWarnedFilter(t *testing.T) {
	api := newFakeAPI(3)
	s, store := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	waitQueue(t, s)
	calls := api.callCount()

	n, err := s.Run(RunRequest{Selection: []string{"thumbs/I2.jpg"}})
	if err != nil || n != 1 {
		t.Fatalf("Run with selection returned %d, %v", n, err)
	}
	waitQueue(t, s)
	if api.callCount()-calls != 1 {
		t.Errorf("only the selected image should run")
	}

	// every record has the expected two pages, so none is warned
	if _, err := s.DeleteRegion("thumbs/I3.jpg", 0); err != nil {
		t.Fatalf("DeleteRegion failed: %v", err)
	}
	warned := s.Summary().Warned
	if len(warned) != 1 || warned[0] != "thumbs/I3.jpg" {
		t.Fatalf("unexpected warned set %v", warned)
	}
	calls = api.callCount()
	n, err = s.Run(RunRequest{WarnedOnly: true})
	if err != nil || n != 1 {
		t.Fatalf("warned-only run returned %d, %v", n, err)
	}
	waitQueue(t, s)
	if rec, _ := store.Get("thumbs/I3.jpg"); rec.State != models.StateNew || len(rec.Data.Pages) != 2 {
		t.Errorf("warned image should be recomputed, got %s with %d pages", rec.State, len(rec.Data.Pages))
	}
}

func TestAbortKeepsRecordsUnchanged(t *testing.T) {
	api := newFakeAPI(2)
	for _, f := range api.scam.Files {
		api.gate(f.ThumbnailPath)
	}
	s, store := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	<-api.started
	s.Abort()
	waitQueue(t, s)

	if store.Len() != 0 {
		t.Errorf("aborted run must not add records, got %d", store.Len())
	}
	if p := s.Progress(); p.Percent() != 100 || len(p.Todo) != 0 {
		t.Errorf("unexpected progress after abort: %+v", p)
	}
}

func TestSaveDraftQuota(t *testing.T) {
	api := newFakeAPI(2)
	s, store := newTestSession(t, api, repository.NewMemoryKeyValueStore(16))
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	waitQueue(t, s)
	before := store.Snapshot()

	_, err := s.SaveDraft()
	if !errors.Is(err, repository.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if msg := DraftErrorMessage(err); !strings.Contains(msg, "quota") {
		t.Errorf("quota failures need their own message, got %q", msg)
	}
	if DraftErrorMessage(errors.New("disk on fire")) == DraftErrorMessage(err) {
		t.Errorf("generic failures must not use the quota message")
	}
	if s.Flags().Drafted {
		t.Errorf("drafted flag must stay false on failure")
	}
	if store.Len() != len(before) {
		t.Errorf("in-memory records changed after a failed save")
	}
}

func TestPublish(t *testing.T) {
	api := newFakeAPI(2)
	s, store := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	waitQueue(t, s)
	if _, err := s.CheckPrevious("thumbs/I2.jpg"); err != nil {
		t.Fatalf("CheckPrevious failed: %v", err)
	}

	built, err := s.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(api.saved) != 1 {
		t.Fatalf("expected one save call, got %d", len(api.saved))
	}
	if len(built.OptionsList) != 1 {
		t.Errorf("identical options should be de-duplicated, got %d", len(built.OptionsList))
	}
	if !built.Checked {
		t.Errorf("folder should be checked when every image is")
	}
	for _, f := range built.Files {
		if f.OptionsIndex == nil || *f.OptionsIndex != 0 {
			t.Errorf("%s: expected options_index 0", f.ThumbnailPath)
		}
		if f.Rects != nil {
			t.Errorf("%s: rects must not be published", f.ThumbnailPath)
		}
		if f.Pages[0].Rect.CX() != 1000 {
			t.Errorf("%s: pages should be ordered left to right, got %v", f.ThumbnailPath, f.Pages[0].Rect)
		}
	}
	if f := s.Flags(); !f.Published || f.Modified {
		t.Errorf("unexpected flags after publish: %+v", f)
	}
	for _, id := range store.IDs() {
		if rec, _ := store.Get(id); rec.State != models.StateUploaded {
			t.Errorf("%s: expected uploaded after publish, got %s", id, rec.State)
		}
	}
}

func TestHiddenImageCanBeShownAndRun(t *testing.T) {
	api := newFakeAPI(2)
	api.scam.Files[0].Hidden = true
	hiddenID := api.scam.Files[0].ThumbnailPath
	s, store := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	waitQueue(t, s)
	if api.callCount() != 1 {
		t.Fatalf("only the visible image should run, got %d call(s)", api.callCount())
	}

	rec, ok := store.Get(hiddenID)
	if !ok {
		t.Fatalf("hidden image should get a record")
	}
	if rec.Visible || len(rec.Data.Pages) != 0 {
		t.Errorf("unexpected placeholder %+v", rec)
	}

	if _, err := s.SetVisible(hiddenID, true); err != nil {
		t.Fatalf("SetVisible failed: %v", err)
	}
	if n := s.Reconcile(); n != 1 {
		t.Fatalf("shown image should be submitted, got %d", n)
	}
	waitQueue(t, s)
	if api.callCount() != 2 {
		t.Errorf("expected a second detector call, got %d", api.callCount())
	}
	if rec, _ := store.Get(hiddenID); rec.State != models.StateNew || len(rec.Data.Pages) != 2 || !rec.Visible {
		t.Errorf("shown image was not computed: %s with %d page(s)", rec.State, len(rec.Data.Pages))
	}
}

func TestCheckedImageWithoutPagesCanBeUnchecked(t *testing.T) {
	api := newFakeAPI(1)
	api.scam.Files[0].Checked = true
	id := api.scam.Files[0].ThumbnailPath
	s, _ := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	waitQueue(t, s)

	rec, err := s.SetChecked(id, false)
	if err != nil {
		t.Fatalf("SetChecked failed: %v", err)
	}
	if rec.Checked || rec.Image.Checked {
		t.Errorf("image should be unchecked, got %+v", rec.Image)
	}
}

func TestRotateImageRequestsDetection(t *testing.T) {
	api := newFakeAPI(1)
	id := api.scam.Files[0].ThumbnailPath
	api.scam.Files[0].Pages = detectedPages()
	s, store := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}

	rec, err := s.RotateImage(id, 90)
	if err != nil {
		t.Fatalf("RotateImage failed: %v", err)
	}
	if rec.Image.Rotation != 90 || rec.Data.Rotation != 0 {
		t.Fatalf("data should keep the detected rotation until rerun, got image %d data %d", rec.Image.Rotation, rec.Data.Rotation)
	}
	if n := s.Reconcile(); n != 1 {
		t.Fatalf("rotated image should be submitted, got %d", n)
	}
	waitQueue(t, s)

	rec, _ = store.Get(id)
	if rec.State != models.StateNew || rec.Data.Rotation != 90 || rec.Data.Width != 3000 || rec.Data.Height != 4000 {
		t.Errorf("expected a fresh result at 90 (3000x4000), got %s at %d (%dx%d)", rec.State, rec.Data.Rotation, rec.Data.Width, rec.Data.Height)
	}
	if n := s.Reconcile(); n != 0 || api.callCount() != 1 {
		t.Errorf("up to date image must not run again, submitted %d, calls %d", n, api.callCount())
	}
}

func TestRotateBackDoesNotRequestDetection(t *testing.T) {
	api := newFakeAPI(1)
	id := api.scam.Files[0].ThumbnailPath
	api.scam.Files[0].Pages = detectedPages()
	s, _ := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	for _, angle := range []int{90, -90} {
		if _, err := s.RotateImage(id, angle); err != nil {
			t.Fatalf("RotateImage(%d) failed: %v", angle, err)
		}
	}
	if n := s.Reconcile(); n != 0 {
		t.Errorf("image back at its detected rotation should not run, got %d", n)
	}
}

func TestPublishRefusedWhileRunning(t *testing.T) {
	api := newFakeAPI(1)
	id := api.scam.Files[0].ThumbnailPath
	gate := api.gate(id)
	s, _ := newTestSession(t, api, nil)
	if err := s.OpenFolder(context.Background(), "W1/I1/"); err != nil {
		t.Fatalf("OpenFolder failed: %v", err)
	}
	select {
	case <-api.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("request never started")
	}

	if _, err := s.Publish(context.Background()); !errors.Is(err, workers.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if len(api.saved) != 0 {
		t.Errorf("nothing should be saved while a run is in flight")
	}

	close(gate)
	waitQueue(t, s)
	if _, err := s.Publish(context.Background()); err != nil {
		t.Errorf("Publish after the run failed: %v", err)
	}
}
