package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/state"
	"github.com/camden-git/scamqc/workers"
	"github.com/facette/natsort"
)

var (
	ErrNoFolder            = errors.New("no folder is open")
	ErrNoRecord            = errors.New("no record for image")
	ErrRegionIndex         = errors.New("region index out of range")
	ErrNoDraftDecision     = errors.New("no draft decision is pending")
	ErrDraftDecisionNeeded = errors.New("decide whether to load the draft first")
	ErrEmptyGesture        = errors.New("press and release must differ on both axes")
	ErrRotation            = errors.New("rotation must be a non-zero multiple of 90")
)

// ScamAPI is the remote detection and storage API
type ScamAPI interface {
	workers.Detector
	GetScamJSON(ctx context.Context, folder string) (*models.ScamData, error)
	SaveScamJSON(ctx context.Context, folder string, data models.ScamData) error
}

// Flags drive the save controls of the client
type Flags struct {
	Modified  bool `json:"modified"`
	Drafted   bool `json:"drafted"`
	Published bool `json:"published"`
}

// Hooks are notified of session-level changes. They must not call back into
// the session.
type Hooks struct {
	OnProgress func(workers.Progress)
	OnFlags    func(Flags)
}

type SessionConfig struct {
	Lanes   int
	Options models.DetectionOptions
	Hooks   Hooks
}

// RunRequest asks for a fresh detector pass. A nil Selection means every
// image; Options replaces the session options when set.
type RunRequest struct {
	Selection  []string
	WarnedOnly bool
	Options    *models.DetectionOptions
}

// Session is one operator's view of one folder at a time
type Session struct {
	api        ScamAPI
	store      *state.Store
	drafts     *DraftService
	queue      *workers.SyncQueue
	reconciler *Reconciler
	hooks      Hooks

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	folder         string
	scam           *models.ScamData
	loadDraft      *bool
	draft          Draft
	options        models.DetectionOptions
	shouldRunAfter int
	runSelection   map[string]bool
	runWarnedOnly  bool
	flags          Flags

	// editMu guards read-modify-write cycles on records and the selection.
	// It is taken after mu and after the queue lock, never before them.
	editMu   sync.Mutex
	selected map[string]int
}

func NewSession(api ScamAPI, store *state.Store, drafts *DraftService, cfg SessionConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		api:            api,
		store:          store,
		drafts:         drafts,
		hooks:          cfg.Hooks,
		ctx:            ctx,
		cancel:         cancel,
		options:        cfg.Options,
		shouldRunAfter: 1,
		selected:       make(map[string]int),
	}
	s.reconciler = NewReconciler(store, &s.editMu)
	s.queue = workers.NewSyncQueue(api, cfg.Lanes, workers.Callbacks{
		OnResult:    s.onResult,
		OnProgress:  cfg.Hooks.OnProgress,
		OnBatchDone: s.onBatchDone,
	})
	return s
}

// OpenFolder aborts any run, clears the store and loads a folder. When a
// draft exists the draft-load decision is left pending; otherwise every
// image is reconciled right away.
func (s *Session) OpenFolder(ctx context.Context, folder string) error {
	s.queue.Abort()
	if err := s.queue.Wait(ctx); err != nil {
		return err
	}

	scam, err := s.api.GetScamJSON(ctx, folder)
	if err != nil {
		return fmt.Errorf("loading scam.json for %s: %w", folder, err)
	}
	SortFiles(scam.Files)

	draft, err := s.drafts.Load(folder)
	if err != nil {
		log.Printf("session: ignoring unreadable draft for %s: %v", folder, err)
		draft = Draft{Images: map[string]models.AnnotationRecord{}}
	}

	s.mu.Lock()
	s.store.Dispatch(state.Reset())
	s.folder = folder
	s.scam = scam
	s.draft = draft
	s.runSelection = nil
	s.runWarnedOnly = false
	s.flags = Flags{}
	if draft.Empty() {
		s.loadDraft = models.Ptr(false)
	} else {
		s.loadDraft = nil
	}
	s.editMu.Lock()
	s.selected = make(map[string]int)
	s.editMu.Unlock()

	log.Printf("session: opened %s with %d image(s), draft pending: %v", folder, len(scam.Files), s.loadDraft == nil)
	s.reconcileLocked()
	flags := s.flags
	s.mu.Unlock()

	s.notifyFlags(flags)
	return nil
}

// SortFiles orders images naturally by their path
func SortFiles(files []models.ScamImageData) {
	sort.SliceStable(files, func(i, j int) bool {
		return natsort.Compare(files[i].ImgPath, files[j].ImgPath)
	})
}

// DraftPending reports whether the draft-load decision is still open
func (s *Session) DraftPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scam != nil && s.loadDraft == nil
}

// DecideDraft resolves the pending draft-load decision. Declining can also
// discard the stored draft.
func (s *Session) DecideDraft(load, discard bool) error {
	s.mu.Lock()
	if s.scam == nil {
		s.mu.Unlock()
		return ErrNoFolder
	}
	if s.loadDraft != nil {
		s.mu.Unlock()
		return ErrNoDraftDecision
	}

	if load {
		s.loadDraft = models.Ptr(true)
		if s.draft.Options != nil {
			s.options = *s.draft.Options
		}
		s.flags.Drafted = true
	} else {
		s.loadDraft = models.Ptr(false)
		if discard {
			if err := s.drafts.Discard(s.folder); err != nil {
				log.Printf("session: %v", err)
			} else {
				s.draft = Draft{Images: map[string]models.AnnotationRecord{}}
			}
		}
	}
	log.Printf("session: draft decision for %s: load=%v discard=%v", s.folder, load, discard)
	s.reconcileLocked()
	flags := s.flags
	s.mu.Unlock()

	s.notifyFlags(flags)
	return nil
}

// Run bumps the run generation, which makes every record stale, and submits
// the eligible images to the sync queue. It returns how many were submitted.
func (s *Session) Run(req RunRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scam == nil {
		return 0, ErrNoFolder
	}
	if s.loadDraft == nil {
		return 0, ErrDraftDecisionNeeded
	}
	if st := s.queue.Status(); st != workers.StatusIdle {
		return 0, workers.ErrAlreadyRunning
	}

	if req.Options != nil {
		s.options = *req.Options
	}
	s.runSelection = nil
	if req.Selection != nil {
		s.runSelection = make(map[string]bool, len(req.Selection))
		for _, id := range req.Selection {
			s.runSelection[id] = true
		}
	}
	s.runWarnedOnly = req.WarnedOnly
	s.shouldRunAfter++

	log.Printf("session: run generation %d for %s (selection: %d, warned only: %v)", s.shouldRunAfter, s.folder, len(req.Selection), req.WarnedOnly)
	return s.reconcileLocked(), nil
}

// Reconcile re-evaluates every image of the folder
func (s *Session) Reconcile() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scam == nil {
		return 0
	}
	return s.reconcileLocked()
}

func (s *Session) reconcileLocked() int {
	rc := ReconcileContext{
		LoadDraft:      s.loadDraft,
		Options:        s.options,
		ShouldRunAfter: s.shouldRunAfter,
	}

	var toRun []models.ScamImageData
	for _, file := range s.scam.Files {
		fileRC := rc
		if d, ok := s.draft.Images[file.ThumbnailPath]; ok {
			fileRC.Draft = &d
		}
		d := s.reconciler.Reconcile(file, fileRC)
		if d.Kind == DecisionRequestRun {
			toRun = append(toRun, s.outgoingImage(file))
		}
	}
	if len(toRun) == 0 {
		return 0
	}

	filter := s.filterLocked()
	submitted := 0
	for _, img := range toRun {
		if workers.Eligible(img, filter) {
			submitted++
		}
	}
	err := s.queue.Submit(s.ctx, workers.Submission{
		Folder:     s.folder,
		Images:     toRun,
		Filter:     filter,
		Options:    s.options,
		Generation: s.shouldRunAfter,
	})
	if err != nil {
		log.Printf("session: could not submit %d image(s): %v", len(toRun), err)
		return 0
	}
	return submitted
}

// outgoingImage is what gets sent to the detector for an image: its current
// record data when there is one, carrying the edited image flags
func (s *Session) outgoingImage(file models.ScamImageData) models.ScamImageData {
	rec, ok := s.store.Get(file.ThumbnailPath)
	if !ok {
		return file.Clone()
	}
	img := rec.Data.Clone()
	img.ThumbnailPath = file.ThumbnailPath
	img.ImgPath = file.ImgPath
	img.PicklePath = file.PicklePath
	img.Rotation = rec.Image.Rotation
	img.Hidden = !rec.Visible
	img.Checked = rec.Checked
	return img
}

func (s *Session) filterLocked() workers.Filter {
	f := workers.Filter{Selection: s.runSelection, WarnedOnly: s.runWarnedOnly}
	if f.WarnedOnly {
		f.Warned = WarnedImages(s.store.Snapshot(), s.options)
	}
	return f
}

func (s *Session) onResult(res workers.Result) {
	s.reconciler.ApplyResult(res)
}

func (s *Session) onBatchDone(applied int) {
	s.mu.Lock()
	s.flags = Flags{Modified: true}
	flags := s.flags
	s.mu.Unlock()
	s.notifyFlags(flags)
}

// Abort stops the current run
func (s *Session) Abort() {
	s.queue.Abort()
}

// CancelImage cancels the in-flight detector request of one image
func (s *Session) CancelImage(id string) bool {
	return s.queue.CancelImage(id)
}

// Wait blocks until the queue is idle
func (s *Session) Wait(ctx context.Context) error {
	return s.queue.Wait(ctx)
}

// Close tears the session down: the run is aborted and lanes are awaited
func (s *Session) Close() {
	s.cancel()
	s.queue.Close()
}

// SaveDraft persists the draftable records of the folder. On failure the
// in-memory records are left untouched.
func (s *Session) SaveDraft() (int, error) {
	s.mu.Lock()
	if s.scam == nil {
		s.mu.Unlock()
		return 0, ErrNoFolder
	}
	folder, options := s.folder, s.options
	s.mu.Unlock()

	n, err := s.drafts.Save(folder, s.store.Snapshot(), options)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.flags.Drafted = true
	flags := s.flags
	s.mu.Unlock()
	s.notifyFlags(flags)
	return n, nil
}

// DiscardDraft removes the folder's stored draft
func (s *Session) DiscardDraft() error {
	s.mu.Lock()
	if s.scam == nil {
		s.mu.Unlock()
		return ErrNoFolder
	}
	folder := s.folder
	s.mu.Unlock()

	if err := s.drafts.Discard(folder); err != nil {
		return err
	}

	s.mu.Lock()
	s.draft = Draft{Images: map[string]models.AnnotationRecord{}}
	s.flags.Drafted = false
	flags := s.flags
	s.mu.Unlock()
	s.notifyFlags(flags)
	return nil
}

func (s *Session) markModified() {
	s.mu.Lock()
	s.flags = Flags{Modified: true}
	flags := s.flags
	s.mu.Unlock()
	s.notifyFlags(flags)
}

func (s *Session) notifyFlags(f Flags) {
	if s.hooks.OnFlags != nil {
		s.hooks.OnFlags(f)
	}
}

func (s *Session) Folder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.folder
}

func (s *Session) Options() models.DetectionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options
}

// SetOptions replaces the detection options used by the next run
func (s *Session) SetOptions(o models.DetectionOptions) {
	s.mu.Lock()
	s.options = o
	s.mu.Unlock()
}

func (s *Session) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

func (s *Session) Progress() workers.Progress {
	return s.queue.Progress()
}

// Generation is the current should-run-after counter
func (s *Session) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldRunAfter
}

// ImageView pairs an image of the folder with its record, if any
type ImageView struct {
	ID       string                   `json:"id"`
	Source   models.SourceImage       `json:"source"`
	Record   *models.AnnotationRecord `json:"record,omitempty"`
	Selected int                      `json:"selected"`
}

// Images lists the folder's images in display order
func (s *Session) Images() []ImageView {
	s.mu.Lock()
	var files []models.ScamImageData
	if s.scam != nil {
		files = s.scam.Files
	}
	s.mu.Unlock()

	out := make([]ImageView, 0, len(files))
	for _, f := range files {
		v := ImageView{ID: f.ThumbnailPath, Source: f.SourceImage, Selected: s.Selected(f.ThumbnailPath)}
		if rec, ok := s.store.Get(f.ThumbnailPath); ok {
			v.Record = &rec
		}
		out = append(out, v)
	}
	return out
}

// imageIDs returns the folder's image ids in display order
func (s *Session) imageIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scam == nil {
		return nil
	}
	ids := make([]string, len(s.scam.Files))
	for i, f := range s.scam.Files {
		ids[i] = f.ThumbnailPath
	}
	return ids
}

// Record returns the current record of an image
func (s *Session) Record(id string) (models.AnnotationRecord, bool) {
	return s.store.Get(id)
}

// Source returns the image as currently shown: the record's view of it when
// one exists, else the folder's scam.json entry
func (s *Session) Source(id string) (models.SourceImage, bool) {
	if rec, ok := s.store.Get(id); ok {
		return rec.Image, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scam == nil {
		return models.SourceImage{}, false
	}
	for _, f := range s.scam.Files {
		if f.ThumbnailPath == id {
			return f.SourceImage, true
		}
	}
	return models.SourceImage{}, false
}
