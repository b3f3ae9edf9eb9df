// Package validate inspects a live page and flags usability and
// accessibility defects. The page state is harvested once into a Snapshot;
// the rules are pure functions over that snapshot, so they stay
// deterministic and testable without a browser.
package validate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
)

// maxFontSamples caps how many text-bearing elements are sampled for the
// typography rule, bounding per-page cost.
const maxFontSamples = 50

// ImageInfo describes one <img> element.
type ImageInfo struct {
	Src           string `json:"src"`
	Alt           string `json:"alt"`
	HasAlt        bool   `json:"hasAlt"`
	NaturalWidth  int    `json:"naturalWidth"`
	NaturalHeight int    `json:"naturalHeight"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
}

// InputInfo describes one <input> element and whether a label[for] points
// at it.
type InputInfo struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	HasLabel bool   `json:"hasLabel"`
}

// ButtonInfo describes one interactive control.
type ButtonInfo struct {
	Text   string `json:"text"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// FontSample is one computed font size observation.
type FontSample struct {
	Tag    string  `json:"tag"`
	SizePx float64 `json:"size"`
}

// Snapshot is everything the rules look at, harvested in one pass.
type Snapshot struct {
	URL          string       `json:"url"`
	Images       []ImageInfo  `json:"images"`
	HeadingCount int          `json:"headingCount"`
	Inputs       []InputInfo  `json:"inputs"`
	Buttons      []ButtonInfo `json:"buttons"`
	FontSamples  []FontSample `json:"fontSamples"`

	HasViewportMeta bool `json:"hasViewportMeta"`
	ScrollWidth     int  `json:"scrollWidth"`
	InnerWidth      int  `json:"innerWidth"`

	// HasLayout is true when the snapshot came from a rendered page.
	// Static HTML snapshots lack layout and computed style, and the
	// rules that need them are skipped.
	HasLayout bool `json:"hasLayout"`
}

// snapshotJS harvests the page in one evaluation. It stringifies its own
// result so the Go side decodes a plain JSON payload.
var snapshotJS = `() => JSON.stringify({
	images: Array.from(document.images).map(img => {
		const r = img.getBoundingClientRect();
		return {
			src: (img.getAttribute('src') || '').slice(0, 120),
			alt: img.getAttribute('alt') || '',
			hasAlt: img.hasAttribute('alt'),
			naturalWidth: img.naturalWidth,
			naturalHeight: img.naturalHeight,
			width: Math.round(r.width),
			height: Math.round(r.height)
		};
	}),
	headingCount: document.querySelectorAll('h1,h2,h3,h4,h5,h6').length,
	inputs: Array.from(document.querySelectorAll('input')).map(el => ({
		type: el.getAttribute('type') || 'text',
		id: el.id,
		hasLabel: !!(el.id && document.querySelector('label[for="' + CSS.escape(el.id) + '"]'))
	})),
	buttons: Array.from(document.querySelectorAll('button, input[type="submit"], input[type="button"]')).map(el => {
		const r = el.getBoundingClientRect();
		return {
			text: ((el.innerText || el.value || '')).trim().slice(0, 80),
			width: Math.round(r.width),
			height: Math.round(r.height)
		};
	}),
	fontSamples: Array.from(document.querySelectorAll('p,span,div,li,td,th')).slice(0, ` + fmt.Sprint(maxFontSamples) + `).map(el => ({
		tag: el.tagName.toLowerCase(),
		size: parseFloat(getComputedStyle(el).fontSize) || 0
	})),
	hasViewportMeta: !!document.querySelector('meta[name="viewport"]'),
	scrollWidth: Math.max(document.body.scrollWidth, document.documentElement.scrollWidth),
	innerWidth: window.innerWidth,
	hasLayout: true
})`

// FromPage harvests a Snapshot from a live page.
func FromPage(ctx context.Context, page *rod.Page) (*Snapshot, error) {
	res, err := page.Context(ctx).Eval(snapshotJS)
	if err != nil {
		return nil, fmt.Errorf("validate: harvest snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(res.Value.Str()), &snap); err != nil {
		return nil, fmt.Errorf("validate: decode snapshot: %w", err)
	}
	return &snap, nil
}
