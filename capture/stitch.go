package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"time"
)

// Page is the result of one full-page capture.
type Page struct {
	URL string

	// Segments are the viewport rasters in scroll order, cropped so that
	// segment heights sum exactly to the composite height.
	Segments []image.Image

	// Composite is the stitched full-page raster.
	Composite *image.RGBA

	CapturedAt time.Time
}

// Capture produces the full-page composite for the tab. Short pages yield
// a single-segment composite; longer pages are captured viewport by
// viewport at offsets 0, V, 2V, … and stitched. The tab is scrolled back
// to the top afterwards so the session stays reusable. Any mid-sequence
// driver error discards the partial work and returns ErrFailure.
func (t *Tab) Capture(ctx context.Context) (*Page, error) {
	page := t.Page.Context(ctx)

	metrics, err := page.Eval(`() => ({
		total: Math.max(document.body.scrollHeight, document.documentElement.scrollHeight),
		viewport: window.innerHeight
	})`)
	if err != nil {
		return nil, fmt.Errorf("%w: measure %s: %v", ErrFailure, t.PageURL, err)
	}
	total := metrics.Value.Get("total").Int()
	viewport := metrics.Value.Get("viewport").Int()
	if total <= 0 || viewport <= 0 {
		return nil, fmt.Errorf("%w: degenerate page metrics %dx%d", ErrFailure, total, viewport)
	}

	var segments []image.Image
	for offset := 0; offset < total; offset += viewport {
		if _, err := page.Eval(`(y) => window.scrollTo(0, y)`, offset); err != nil {
			return nil, fmt.Errorf("%w: scroll to %d: %v", ErrFailure, offset, err)
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrTimeout, t.PageURL)
		}

		shot, err := page.Screenshot(false, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: screenshot at %d: %v", ErrFailure, offset, err)
		}
		seg, err := png.Decode(bytes.NewReader(shot))
		if err != nil {
			return nil, fmt.Errorf("%w: decode segment at %d: %v", ErrFailure, offset, err)
		}
		segments = append(segments, seg)
	}

	composite, cropped, err := Stitch(segments, total)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailure, err)
	}

	// Leave the page in a reusable state for the validator.
	if _, err := page.Eval(`() => window.scrollTo(0, 0)`); err != nil {
		return nil, fmt.Errorf("%w: scroll reset: %v", ErrFailure, err)
	}

	return &Page{
		URL:        t.PageURL,
		Segments:   cropped,
		Composite:  composite,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Stitch composites viewport segments into one canvas of totalHeight,
// pasting each at its scroll offset. Browsers clamp the last scroll to
// totalHeight minus the viewport, so an overlong final segment already
// shows the page bottom; it is cropped to the rows not yet covered, and
// the returned segment heights always sum to totalHeight. Pure function;
// also returns the (possibly cropped) segments actually used.
func Stitch(segments []image.Image, totalHeight int) (*image.RGBA, []image.Image, error) {
	if len(segments) == 0 {
		return nil, nil, fmt.Errorf("stitch: no segments")
	}
	if totalHeight <= 0 {
		return nil, nil, fmt.Errorf("stitch: non-positive height %d", totalHeight)
	}

	width := segments[0].Bounds().Dx()
	canvas := image.NewRGBA(image.Rect(0, 0, width, totalHeight))

	used := make([]image.Image, 0, len(segments))
	offset := 0
	for i, seg := range segments {
		if seg.Bounds().Dx() != width {
			return nil, nil, fmt.Errorf("stitch: segment %d width %d != %d", i, seg.Bounds().Dx(), width)
		}
		h := seg.Bounds().Dy()
		if remaining := totalHeight - offset; h > remaining {
			// The scroll that produced this shot was clamped to
			// totalHeight-h (floored at 0), so the rows still needed
			// start at offset-actual within the shot.
			actual := totalHeight - h
			if actual < 0 {
				actual = 0
			}
			if actual > offset {
				actual = offset
			}
			seg = cropRows(seg, offset-actual, remaining)
			h = remaining
		}
		if h <= 0 {
			break
		}
		draw.Draw(canvas, image.Rect(0, offset, width, offset+h), seg, seg.Bounds().Min, draw.Src)
		used = append(used, seg)
		offset += h
	}

	if offset != totalHeight {
		return nil, nil, fmt.Errorf("stitch: segments cover %d of %d rows", offset, totalHeight)
	}
	return canvas, used, nil
}

// cropRows returns h rows of img starting at row top, as a standalone
// raster.
func cropRows(img image.Image, top, h int) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), h))
	draw.Draw(out, out.Bounds(), img, b.Min.Add(image.Pt(0, top)), draw.Src)
	return out
}
