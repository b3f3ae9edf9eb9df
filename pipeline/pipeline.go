package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "image/jpeg"

	"github.com/squint-dev/squint/capture"
	"github.com/squint-dev/squint/figma"
	"github.com/squint-dev/squint/idgen"
	"github.com/squint-dev/squint/imagediff"
	"github.com/squint-dev/squint/issue"
	"github.com/squint-dev/squint/tracker"
	"github.com/squint-dev/squint/validate"
)

// AssetSource is the slice of the design-service client the orchestrator
// uses. *figma.Client satisfies it.
type AssetSource interface {
	File(ctx context.Context, fileID string) (*figma.FileMeta, error)
	RenderImages(ctx context.Context, fileID string, nodeIDs []string, scale figma.Scale, format figma.Format) (*figma.RenderResult, error)
	Download(ctx context.Context, assetURL, destPath string) error
}

// PageSource captures the live page once and harvests its DOM snapshot
// from the same tab.
type PageSource interface {
	Capture(ctx context.Context, pageURL string) (*capture.Page, *validate.Snapshot, error)
}

// Orchestrator runs the pipeline end to end. One Orchestrator may serve
// many runs; each run gets its own scratch directory and browser session.
type Orchestrator struct {
	cfg        *Config
	assets     AssetSource
	pages      PageSource
	validator  *validate.Validator
	dispatcher *tracker.Dispatcher
	history    *History
	ids        idgen.Generator
	logger     *slog.Logger
}

// New wires an Orchestrator from config. The tracker client is optional;
// without one, dispatch requests are ignored.
func New(cfg *Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	// The asset client is optional so validator-only and history use
	// work without a token; Run rejects a tokenless orchestrator.
	var assets AssetSource
	if cfg.Figma.Token != "" {
		figmaOpts := []figma.Option{figma.WithLogger(logger)}
		if cfg.Figma.BaseURL != "" {
			figmaOpts = append(figmaOpts, figma.WithBaseURL(cfg.Figma.BaseURL))
		}
		assets = figma.NewClient(cfg.Figma.Token, figmaOpts...)
	}

	o := &Orchestrator{
		cfg:    cfg,
		assets: assets,
		pages: &browserSource{cfg: capture.Config{
			RemoteURL:   cfg.Capture.RemoteURL,
			NavTimeout:  cfg.Capture.NavTimeout,
			SettleDelay: cfg.Capture.SettleDelay,
			Logger:      logger,
		}},
		validator: validate.New(logger),
		ids:       idgen.Default,
		logger:    logger,
	}

	if cfg.Tracker.BaseURL != "" {
		tc, err := tracker.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.User,
			cfg.Tracker.Token, cfg.Tracker.ProjectKey, tracker.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("pipeline: tracker: %w", err)
		}
		o.dispatcher = tracker.NewDispatcher(tc, cfg.Tracker.SubmitDelay, logger)
	}

	if cfg.History.DBPath != "" {
		h, err := OpenHistory(cfg.History.DBPath)
		if err != nil {
			return nil, fmt.Errorf("pipeline: history: %w", err)
		}
		o.history = h
	}
	return o, nil
}

// Close releases long-lived resources (the history database).
func (o *Orchestrator) Close() error {
	if o.history != nil {
		return o.history.Close()
	}
	return nil
}

// Run executes one full pipeline pass. A hard failure at resolution,
// metadata, render, or capture aborts the run; comparison, validation,
// and dispatch failures are carried in the result instead.
func (o *Orchestrator) Run(ctx context.Context, designRef, pageURL string, dispatch bool) (*RunResult, error) {
	r := &RunResult{
		RunID:     o.ids(),
		PageURL:   pageURL,
		StartedAt: time.Now().UTC(),
	}

	if o.assets == nil {
		err := fmt.Errorf("pipeline: figma token not configured")
		return abortedResult(r, err), err
	}

	fileID, err := figma.Resolve(designRef)
	if err != nil {
		return abortedResult(r, err), err
	}
	r.FileID = fileID
	log := o.logger.With("run_id", r.RunID, "file_id", fileID)

	scratch, err := os.MkdirTemp(o.cfg.ScratchRoot, "squint-"+r.RunID[:8]+"-")
	if err != nil {
		err = fmt.Errorf("pipeline: scratch dir: %w", err)
		return abortedResult(r, err), err
	}
	if !o.cfg.KeepArtifacts {
		defer os.RemoveAll(scratch)
	}

	meta, err := o.assets.File(ctx, fileID)
	if err != nil {
		return abortedResult(r, err), err
	}
	frames := meta.Frames()
	if len(frames) > o.cfg.MaxFrames {
		log.Info("pipeline: frame list truncated", "total", len(frames), "kept", o.cfg.MaxFrames)
		frames = frames[:o.cfg.MaxFrames]
	}
	if len(frames) == 0 {
		return abortedResult(r, ErrNoRenderableNodes), ErrNoRenderableNodes
	}

	ids := make([]string, len(frames))
	names := make(map[string]string, len(frames))
	for i, f := range frames {
		ids[i] = f.ID
		names[f.ID] = f.Name
	}

	renders, err := o.assets.RenderImages(ctx, fileID, ids, figma.Scale2, figma.FormatPNG)
	if err != nil {
		return abortedResult(r, err), err
	}
	if len(renders.Failed) > 0 {
		r.RenderFailed = make(map[string]string, len(renders.Failed))
		for id, ferr := range renders.Failed {
			r.RenderFailed[id] = ferr.Error()
		}
	}
	if len(renders.Images) == 0 {
		return abortedResult(r, ErrNoRenderableNodes), ErrNoRenderableNodes
	}

	page, snap, err := o.pages.Capture(ctx, pageURL)
	if err != nil {
		return abortedResult(r, err), err
	}
	compositePath := filepath.Join(scratch, "composite.png")
	if err := writePNG(compositePath, page.Composite); err != nil {
		log.Warn("pipeline: composite not persisted", "error", err)
		compositePath = ""
	}
	r.CompositePath = compositePath

	// Frame order, not map order, so results are stable run to run.
	for _, id := range ids {
		rawURL, ok := renders.Images[id]
		if !ok {
			continue
		}
		cmp, err := o.compareNode(ctx, scratch, id, names[id], rawURL, page.Composite)
		if err != nil {
			log.Warn("pipeline: reference comparison failed", "node", id, "error", err)
			if r.RenderFailed == nil {
				r.RenderFailed = make(map[string]string)
			}
			r.RenderFailed[id] = err.Error()
			continue
		}
		r.Comparisons = append(r.Comparisons, cmp)
	}

	r.Issues = o.validator.Validate(snap)
	log.Info("pipeline: validation complete", "issues", len(r.Issues), "comparisons", len(r.Comparisons))

	if dispatch && len(r.Issues) > 0 {
		if o.dispatcher == nil {
			log.Warn("pipeline: dispatch requested but tracker not configured")
		} else {
			res := o.dispatcher.Dispatch(ctx, r.Issues, o.cfg.Tracker.Assignee, compositePath)
			r.Dispatch = &res
			log.Info("pipeline: dispatch complete",
				"succeeded", res.Succeeded, "failed", res.Failed)
		}
	}

	r.FinishedAt = time.Now().UTC()
	if o.history != nil {
		if err := o.history.Record(ctx, r); err != nil {
			log.Warn("pipeline: run not recorded", "error", err)
		}
	}
	return r, nil
}

func (o *Orchestrator) compareNode(ctx context.Context, scratch, id, name, rawURL string, composite image.Image) (Comparison, error) {
	refPath := filepath.Join(scratch, "ref-"+sanitize(id)+".png")
	if err := o.assets.Download(ctx, rawURL, refPath); err != nil {
		return Comparison{}, err
	}
	ref, err := readImage(refPath)
	if err != nil {
		return Comparison{}, err
	}

	res := imagediff.Compare(composite, ref, o.cfg.Compare.Threshold)
	cmp := Comparison{
		NodeID:        id,
		NodeName:      name,
		Score:         res.Score,
		Match:         res.Match,
		ReferencePath: refPath,
	}

	diffPath := filepath.Join(scratch, "diff-"+sanitize(id)+".png")
	if err := writePNG(diffPath, res.Diff); err == nil {
		cmp.DiffPath = diffPath
	}
	heatPath := filepath.Join(scratch, "heatmap-"+sanitize(id)+".png")
	if err := writePNG(heatPath, res.Heatmap); err == nil {
		cmp.HeatmapPath = heatPath
	}
	return cmp, nil
}

// History returns the most recent recorded runs.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]RunSummary, error) {
	if o.history == nil {
		return nil, fmt.Errorf("pipeline: run history not configured")
	}
	return o.history.Recent(ctx, limit)
}

// ValidatePage captures pageURL and runs only the validator over it. No
// reference images are fetched and nothing is dispatched or recorded.
func (o *Orchestrator) ValidatePage(ctx context.Context, pageURL string) ([]issue.Issue, error) {
	_, snap, err := o.pages.Capture(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return o.validator.Validate(snap), nil
}

// browserSource owns a browser session for exactly one capture; the
// session is released on every exit path.
type browserSource struct {
	cfg capture.Config
}

func (b *browserSource) Capture(ctx context.Context, pageURL string) (*capture.Page, *validate.Snapshot, error) {
	sess := capture.NewSession(b.cfg)
	if err := sess.Start(ctx); err != nil {
		return nil, nil, err
	}
	defer sess.Close()

	tab, err := sess.Open(ctx, pageURL)
	if err != nil {
		return nil, nil, err
	}
	defer tab.Close()

	page, err := tab.Capture(ctx)
	if err != nil {
		return nil, nil, err
	}
	snap, err := validate.FromPage(ctx, tab.Page)
	if err != nil {
		return nil, nil, err
	}
	return page, snap, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pipeline: create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("pipeline: encode %s: %w", path, err)
	}
	return f.Close()
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode %s: %w", path, err)
	}
	return img, nil
}

// sanitize makes a node id safe as a file name component (ids contain
// colons).
func sanitize(id string) string {
	out := []rune(id)
	for i, r := range out {
		switch r {
		case ':', '/', '\\':
			out[i] = '_'
		}
	}
	return string(out)
}
