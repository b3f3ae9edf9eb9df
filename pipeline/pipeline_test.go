package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/squint-dev/squint/capture"
	"github.com/squint-dev/squint/figma"
	"github.com/squint-dev/squint/idgen"
	"github.com/squint-dev/squint/tracker"
	"github.com/squint-dev/squint/validate"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

type fakeAssets struct {
	frames     []figma.NodeRef
	renderOK   []string
	renderFail map[string]error
	fileErr    error
}

func (f *fakeAssets) File(ctx context.Context, fileID string) (*figma.FileMeta, error) {
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	meta := &figma.FileMeta{Name: "Test Doc"}
	if len(f.frames) > 0 {
		meta.Document.Children = []figma.Node{{ID: "0:0", Type: "CANVAS"}}
		for _, fr := range f.frames {
			meta.Document.Children[0].Children = append(meta.Document.Children[0].Children,
				figma.Node{ID: fr.ID, Name: fr.Name, Type: "FRAME"})
		}
	}
	return meta, nil
}

func (f *fakeAssets) RenderImages(ctx context.Context, fileID string, nodeIDs []string, scale figma.Scale, format figma.Format) (*figma.RenderResult, error) {
	res := &figma.RenderResult{Images: map[string]string{}, Failed: map[string]error{}}
	for _, id := range f.renderOK {
		res.Images[id] = "https://cdn.example.com/" + id + ".png"
	}
	for id, err := range f.renderFail {
		res.Failed[id] = err
	}
	return res, nil
}

func (f *fakeAssets) Download(ctx context.Context, assetURL, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()
	return png.Encode(out, solidImage(64, 64, color.RGBA{200, 200, 200, 255}))
}

type fakePages struct {
	snap *validate.Snapshot
	err  error
}

func (f *fakePages) Capture(ctx context.Context, pageURL string) (*capture.Page, *validate.Snapshot, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	comp := solidImage(64, 64, color.RGBA{200, 200, 200, 255})
	page := &capture.Page{URL: pageURL, Composite: comp}
	return page, f.snap, nil
}

func defectiveSnapshot() *validate.Snapshot {
	// One defect only: missing viewport meta.
	return &validate.Snapshot{
		HeadingCount: 1, ScrollWidth: 1280, InnerWidth: 1280, HasLayout: true,
	}
}

func testOrchestrator(t *testing.T, assets *fakeAssets, pages *fakePages) *Orchestrator {
	t.Helper()
	cfg := &Config{ScratchRoot: t.TempDir()}
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:       cfg,
		assets:    assets,
		pages:     pages,
		validator: validate.New(nil),
		ids:       idgen.Default,
		logger:    slog.Default(),
	}
}

const fileRef = "abc123def456ghi789jkl"

func TestNewWithoutFigmaToken(t *testing.T) {
	// History and validator-only use must not require a design API
	// token; only a full run does.
	o, err := New(&Config{ScratchRoot: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Close()

	res, err := o.Run(context.Background(), fileRef, "https://site.example/", false)
	if err == nil {
		t.Fatal("expected run to fail without a token")
	}
	if !res.Aborted || res.AbortReason == "" {
		t.Fatalf("result not marked aborted: %+v", res)
	}
}

func TestRunCompleted(t *testing.T) {
	assets := &fakeAssets{
		frames:     []figma.NodeRef{{ID: "1:1", Name: "Home"}, {ID: "1:2", Name: "About"}, {ID: "1:3", Name: "Ghost"}},
		renderOK:   []string{"1:1", "1:2"},
		renderFail: map[string]error{"1:3": errors.New("no image")},
	}
	o := testOrchestrator(t, assets, &fakePages{snap: defectiveSnapshot()})

	res, err := o.Run(context.Background(), fileRef, "https://site.example/", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Aborted {
		t.Fatalf("run aborted: %s", res.AbortReason)
	}
	if res.FileID != fileRef {
		t.Errorf("file id = %q", res.FileID)
	}
	if len(res.Comparisons) != 2 {
		t.Fatalf("comparisons = %d, want 2", len(res.Comparisons))
	}
	// Identical solid rasters score a perfect match.
	for _, c := range res.Comparisons {
		if c.Score != 1.0 || !c.Match {
			t.Errorf("comparison %s: score=%v match=%v", c.NodeID, c.Score, c.Match)
		}
	}
	if _, ok := res.RenderFailed["1:3"]; !ok {
		t.Errorf("render failure not carried: %v", res.RenderFailed)
	}
	if len(res.Issues) != 1 {
		t.Fatalf("issues = %d, want 1 (missing viewport)", len(res.Issues))
	}
	if res.Dispatch != nil {
		t.Error("dispatch result present without dispatch request")
	}
}

func TestRunAbortsOnBadReference(t *testing.T) {
	o := testOrchestrator(t, &fakeAssets{}, &fakePages{snap: defectiveSnapshot()})
	res, err := o.Run(context.Background(), "not a valid ref!", "https://site.example/", false)
	if err == nil {
		t.Fatal("expected resolution error")
	}
	if !res.Aborted || res.AbortReason == "" {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Comparisons) != 0 {
		t.Error("aborted run carries comparisons")
	}
}

func TestRunAbortsWithoutFrames(t *testing.T) {
	o := testOrchestrator(t, &fakeAssets{}, &fakePages{snap: defectiveSnapshot()})
	res, err := o.Run(context.Background(), fileRef, "https://site.example/", false)
	if !errors.Is(err, ErrNoRenderableNodes) {
		t.Fatalf("err = %v, want ErrNoRenderableNodes", err)
	}
	if !res.Aborted {
		t.Fatal("run not marked aborted")
	}
}

func TestRunAbortsOnCaptureFailure(t *testing.T) {
	assets := &fakeAssets{
		frames:   []figma.NodeRef{{ID: "1:1", Name: "Home"}},
		renderOK: []string{"1:1"},
	}
	o := testOrchestrator(t, assets, &fakePages{err: capture.ErrTimeout})
	res, err := o.Run(context.Background(), fileRef, "https://site.example/", false)
	if !errors.Is(err, capture.ErrTimeout) {
		t.Fatalf("err = %v, want capture timeout", err)
	}
	if !res.Aborted {
		t.Fatal("run not marked aborted")
	}
}

func TestRunFrameCap(t *testing.T) {
	var frames []figma.NodeRef
	var ok []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("1:%d", i)
		frames = append(frames, figma.NodeRef{ID: id})
		ok = append(ok, id)
	}
	assets := &fakeAssets{frames: frames, renderOK: ok[:5]}
	o := testOrchestrator(t, assets, &fakePages{snap: defectiveSnapshot()})

	res, err := o.Run(context.Background(), fileRef, "https://site.example/", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Comparisons) != 5 {
		t.Fatalf("comparisons = %d, want the 5-frame cap", len(res.Comparisons))
	}
}

func TestRunDispatches(t *testing.T) {
	var created int
	r := chi.NewRouter()
	r.Post("/rest/api/2/issue", func(w http.ResponseWriter, req *http.Request) {
		created++
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"key": fmt.Sprintf("QA-%d", created)})
	})
	r.Post("/rest/api/2/issue/{key}/attachments", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "[]")
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	assets := &fakeAssets{frames: []figma.NodeRef{{ID: "1:1"}}, renderOK: []string{"1:1"}}
	o := testOrchestrator(t, assets, &fakePages{snap: defectiveSnapshot()})
	tc, err := tracker.NewClient(srv.URL, "u", "t", "QA", tracker.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	o.dispatcher = tracker.NewDispatcher(tc, 1, nil)

	res, err := o.Run(context.Background(), fileRef, "https://site.example/", true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Dispatch == nil || res.Dispatch.Succeeded != 1 {
		t.Fatalf("dispatch = %+v", res.Dispatch)
	}
	if created != 1 {
		t.Fatalf("tickets created = %d, want 1", created)
	}
}

func TestValidatePage(t *testing.T) {
	o := testOrchestrator(t, &fakeAssets{}, &fakePages{snap: defectiveSnapshot()})
	issues, err := o.ValidatePage(context.Background(), "https://site.example/")
	if err != nil {
		t.Fatalf("ValidatePage: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(issues))
	}
}

func TestScratchRemovedOnTeardown(t *testing.T) {
	root := t.TempDir()
	assets := &fakeAssets{frames: []figma.NodeRef{{ID: "1:1"}}, renderOK: []string{"1:1"}}
	o := testOrchestrator(t, assets, &fakePages{snap: defectiveSnapshot()})
	o.cfg.ScratchRoot = root

	if _, err := o.Run(context.Background(), fileRef, "https://site.example/", false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch not removed: %v", entries)
	}
}

func TestScratchKeptWhenConfigured(t *testing.T) {
	root := t.TempDir()
	assets := &fakeAssets{frames: []figma.NodeRef{{ID: "1:1"}}, renderOK: []string{"1:1"}}
	o := testOrchestrator(t, assets, &fakePages{snap: defectiveSnapshot()})
	o.cfg.ScratchRoot = root
	o.cfg.KeepArtifacts = true

	res, err := o.Run(context.Background(), fileRef, "https://site.example/", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.CompositePath == "" {
		t.Fatal("no composite path recorded")
	}
	if _, err := os.Stat(res.CompositePath); err != nil {
		t.Fatalf("composite missing: %v", err)
	}
}
