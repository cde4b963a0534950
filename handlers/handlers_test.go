package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/camden-git/scamqc/config"
	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/repository"
	"github.com/camden-git/scamqc/services"
	"github.com/camden-git/scamqc/state"
)

type fakeAPI struct {
	mu    sync.Mutex
	scam  models.ScamData
	saved int
}

func newFakeAPI(n int) *fakeAPI {
	files := make([]models.ScamImageData, n)
	for i := range files {
		files[i] = models.ScamImageData{SourceImage: models.SourceImage{
			ImgPath:       fmt.Sprintf("I%d.tif", i+1),
			ThumbnailPath: fmt.Sprintf("thumbs/I%d.jpg", i+1),
			Width:         4000,
			Height:        3000,
			ThumbnailInfo: models.ThumbnailInfo{Width: 800, Height: 600},
		}}
	}
	return &fakeAPI{scam: models.ScamData{FolderPath: "W1/", Files: files}}
}

func (f *fakeAPI) RunScamFile(ctx context.Context, folder string, opts models.DetectionOptions, file models.ScamImageData) (*models.ScamImageData, error) {
	out := file.Clone()
	out.Pages = []models.Region{
		{Rect: models.Rect{1000, 1500, 1200, 2400, 0}},
		{Rect: models.Rect{3000, 1500, 1200, 2400, 0}},
	}
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
	f.saved++
	return nil
}

type fakeRenderer struct {
	mu        sync.Mutex
	rotations map[string]int
}

func (f *fakeRenderer) Rendered(ctx context.Context, folder, thumbnailPath string, rotation int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotations[thumbnailPath] = rotation
	return []byte("jpeg:" + thumbnailPath), nil
}

type testServer struct {
	srv      *httptest.Server
	session  *services.Session
	renderer *fakeRenderer
}

func newTestServer(t *testing.T, n int, kv repository.KeyValueStore) *testServer {
	t.Helper()
	if kv == nil {
		kv = repository.NewMemoryKeyValueStore(0)
	}
	drafts := services.NewDraftService(kv)
	session := services.NewSession(newFakeAPI(n), state.NewStore(), drafts, services.SessionConfig{
		Options: models.DefaultDetectionOptions(),
	})
	t.Cleanup(session.Close)

	presets, _ := config.LoadPresets("")
	renderer := &fakeRenderer{rotations: make(map[string]int)}
	router := NewRouter(Routes{
		Session:   &SessionHandler{Session: session, Drafts: drafts, Presets: presets},
		Edit:      &EditHandler{Session: session},
		Thumbnail: &ThumbnailHandler{Cache: renderer, Session: session},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, session: session, renderer: renderer}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func (ts *testServer) open(t *testing.T) {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/session/open", map[string]string{"folder": "W1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open folder: %d %s", resp.StatusCode, body)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.session.Wait(ctx); err != nil {
		t.Fatalf("queue did not drain: %v", err)
	}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env APIErrorResponse
	if err := json.Unmarshal(body, &env); err != nil || len(env.Errors) == 0 {
		t.Fatalf("expected an error envelope, got %s", body)
	}
	return env.Errors[0].Code
}

func TestRunWithoutFolder(t *testing.T) {
	ts := newTestServer(t, 1, nil)
	resp, body := ts.do(t, http.MethodPost, "/api/session/run", map[string]any{})
	if resp.StatusCode != http.StatusConflict || errorCode(t, body) != "no_folder" {
		t.Errorf("expected 409 no_folder, got %d %s", resp.StatusCode, body)
	}
}

func TestOpenFolderAndListImages(t *testing.T) {
	ts := newTestServer(t, 2, nil)
	ts.open(t)

	if got := ts.session.Folder(); got != "W1/" {
		t.Errorf("folder should get a trailing slash, got %q", got)
	}

	resp, body := ts.do(t, http.MethodGet, "/api/session", nil)
	var sum services.Summary
	if err := json.Unmarshal(body, &sum); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("summary: %d %s", resp.StatusCode, body)
	}
	if sum.Images != 2 || sum.Records != 2 || sum.ByState[models.StateNew] != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}

	_, body = ts.do(t, http.MethodGet, "/api/session/images", nil)
	var images []services.ImageView
	if err := json.Unmarshal(body, &images); err != nil {
		t.Fatalf("images: %v", err)
	}
	if len(images) != 2 || images[0].Record == nil || len(images[0].Record.Data.Rects) != 2 {
		t.Errorf("unexpected images %s", body)
	}
}

func TestEditEndpoints(t *testing.T) {
	ts := newTestServer(t, 1, nil)
	ts.open(t)
	id := "thumbs/I1.jpg"

	resp, body := ts.do(t, http.MethodPost, "/api/records/regions", addRegionRequest{
		ID: id, Press: services.Point{X: 10, Y: 10}, Release: services.Point{X: 60, Y: 90},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add region: %d %s", resp.StatusCode, body)
	}
	var rec recordResponse
	json.Unmarshal(body, &rec)
	if len(rec.Record.Data.Pages) != 3 || rec.Selected != 2 || rec.Render[len(rec.Render)-1].N != 2 {
		t.Errorf("unexpected record after add: %s", body)
	}
	if !rec.Warned {
		t.Errorf("three untagged regions should warn when two are expected")
	}

	resp, body = ts.do(t, http.MethodPost, "/api/records/regions", addRegionRequest{
		ID: id, Press: services.Point{X: 10, Y: 10}, Release: services.Point{X: 10, Y: 90},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || errorCode(t, body) != "invalid_edit" {
		t.Errorf("expected 422 for a degenerate gesture, got %d %s", resp.StatusCode, body)
	}

	q := "?id=" + url.QueryEscape(id)
	resp, body = ts.do(t, http.MethodDelete, "/api/records/regions"+q+"&n=x", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad index, got %d %s", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodDelete, "/api/records/regions"+q+"&n=7", nil)
	if resp.StatusCode != http.StatusNotFound || errorCode(t, body) != "region_not_found" {
		t.Errorf("expected 404 for a missing region, got %d %s", resp.StatusCode, body)
	}
	resp, _ = ts.do(t, http.MethodDelete, "/api/records/regions"+q+"&n=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete region: %d", resp.StatusCode)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/records/rotate", rotateRequest{ID: id, Angle: 45})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for a 45 degree turn, got %d %s", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodPost, "/api/records/rotate", rotateRequest{ID: id, Angle: 90})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: %d %s", resp.StatusCode, body)
	}
	json.Unmarshal(body, &rec)
	if rec.Record.Data.Width != 3000 || rec.Record.Data.Height != 4000 || rec.Record.Image.Rotation != 90 {
		t.Errorf("unexpected rotated record %s", body)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.session.Wait(ctx); err != nil {
		t.Fatalf("rerun after rotation did not finish: %v", err)
	}
	if got, _ := ts.session.Record(id); got.State != models.StateNew || got.Data.Rotation != 90 || got.Data.Width != 3000 {
		t.Errorf("rotated image should be detected again at 90, got %s at %d (%dx%d)", got.State, got.Data.Rotation, got.Data.Width, got.Data.Height)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/thumbnail"+q, nil)
	if resp.StatusCode != http.StatusOK || string(body) != "jpeg:"+id {
		t.Fatalf("thumbnail: %d %s", resp.StatusCode, body)
	}
	if got := ts.renderer.rotations[id]; got != 90 {
		t.Errorf("thumbnail should be turned with the image, got %d", got)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/records?id=nope", nil)
	if resp.StatusCode != http.StatusNotFound || errorCode(t, body) != "no_record" {
		t.Errorf("expected 404 no_record, got %d %s", resp.StatusCode, body)
	}
}

func TestDraftEndpoints(t *testing.T) {
	ts := newTestServer(t, 2, nil)
	ts.open(t)

	resp, body := ts.do(t, http.MethodPost, "/api/session/draft", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save draft: %d %s", resp.StatusCode, body)
	}
	_, body = ts.do(t, http.MethodGet, "/api/drafts", nil)
	var drafts []services.DraftInfo
	if err := json.Unmarshal(body, &drafts); err != nil || len(drafts) != 1 {
		t.Fatalf("expected one draft, got %s", body)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/api/drafts?folder=W1/", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("discard: %d", resp.StatusCode)
	}
	if ts.session.Flags().Drafted {
		t.Errorf("discarding the open folder's draft should clear the drafted flag")
	}
}

func TestDraftQuotaError(t *testing.T) {
	ts := newTestServer(t, 2, repository.NewMemoryKeyValueStore(16))
	ts.open(t)

	resp, body := ts.do(t, http.MethodPost, "/api/session/draft", nil)
	if resp.StatusCode != http.StatusInsufficientStorage || errorCode(t, body) != "quota_exceeded" {
		t.Errorf("expected 507 quota_exceeded, got %d %s", resp.StatusCode, body)
	}
}

func TestRunAndPublish(t *testing.T) {
	ts := newTestServer(t, 2, nil)
	ts.open(t)

	resp, body := ts.do(t, http.MethodPost, "/api/session/run", runRequest{Preset: "nope"})
	if resp.StatusCode != http.StatusBadRequest || errorCode(t, body) != "unknown_preset" {
		t.Errorf("expected 400 unknown_preset, got %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/session/run", runRequest{Preset: config.DefaultPreset})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("run: %d %s", resp.StatusCode, body)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.session.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/session/publish", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Files int            `json:"files"`
		Flags services.Flags `json:"flags"`
	}
	json.Unmarshal(body, &out)
	if out.Files != 2 || !out.Flags.Published {
		t.Errorf("unexpected publish response %s", body)
	}
}
