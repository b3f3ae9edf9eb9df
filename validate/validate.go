package validate

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/squint-dev/squint/issue"
)

// Thresholds the rules flag on. These are acceptance criteria, not
// tunables.
const (
	minImageSidePx    = 10
	minButtonTextLen  = 2
	minTouchTargetPx  = 44
	minFontSizePx     = 12.0
	scrollTolerancePx = 10
)

// Validator runs the heuristic rule set over a page snapshot.
type Validator struct {
	logger *slog.Logger
}

// New creates a Validator.
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

type rule struct {
	name string
	fn   func(*Snapshot) []issue.Issue
}

// Validate runs every rule independently and returns the accumulated
// issues. Rule order is irrelevant; a rule that panics is logged and
// skipped without aborting the remaining rules.
func (v *Validator) Validate(snap *Snapshot) []issue.Issue {
	rules := []rule{
		{"accessibility", checkAccessibility},
		{"imagery", checkImagery},
		{"forms", checkForms},
		{"buttons", checkButtons},
		{"typography", checkTypography},
		{"responsive", checkResponsive},
	}

	var issues []issue.Issue
	for _, r := range rules {
		found := v.runRule(r, snap)
		issues = append(issues, found...)
	}
	return issues
}

func (v *Validator) runRule(r rule, snap *Snapshot) (found []issue.Issue) {
	defer func() {
		if rec := recover(); rec != nil {
			v.logger.Error("validate: rule failed", "rule", r.name, "panic", rec)
			found = nil
		}
	}()
	found = r.fn(snap)
	for i := range found {
		if found[i].Rule == "" {
			found[i].Rule = r.name
		}
	}
	return found
}

// checkAccessibility flags images without alt text (High) and pages with
// no heading structure at all (Medium).
func checkAccessibility(snap *Snapshot) []issue.Issue {
	var out []issue.Issue
	for _, img := range snap.Images {
		if !img.HasAlt || strings.TrimSpace(img.Alt) == "" {
			out = append(out, issue.Issue{
				Category:    issue.Accessibility,
				Subcategory: "Images",
				Description: fmt.Sprintf("Image missing alt text: %s", img.Src),
				Severity:    issue.High,
				Locator:     imgLocator(img),
				Expected:    "All images should have descriptive alt text",
				Actual:      "Image has no alt text attribute",
			})
		}
	}
	if snap.HeadingCount == 0 {
		out = append(out, issue.Issue{
			Category:    issue.Accessibility,
			Subcategory: "Structure",
			Description: "No heading elements found on page",
			Severity:    issue.Medium,
			Expected:    "Page should have proper heading structure",
			Actual:      "No headings detected",
		})
	}
	return out
}

// checkImagery flags broken images (zero natural size, High) and
// degenerate renderings under 10x10px (Low). Needs layout data.
func checkImagery(snap *Snapshot) []issue.Issue {
	if !snap.HasLayout {
		return nil
	}
	var out []issue.Issue
	for _, img := range snap.Images {
		if img.NaturalWidth == 0 || img.NaturalHeight == 0 {
			out = append(out, issue.Issue{
				Category:    issue.Imagery,
				Subcategory: "Loading",
				Description: fmt.Sprintf("Broken or missing image: %s", img.Src),
				Severity:    issue.High,
				Locator:     imgLocator(img),
				Expected:    "Images should load correctly",
				Actual:      "Image failed to load",
			})
		}
		if img.Width < minImageSidePx || img.Height < minImageSidePx {
			out = append(out, issue.Issue{
				Category:    issue.Imagery,
				Subcategory: "Sizing",
				Description: fmt.Sprintf("Image too small: %dx%dpx", img.Width, img.Height),
				Severity:    issue.Low,
				Locator:     imgLocator(img),
				Expected:    "Images should be appropriately sized",
				Actual:      fmt.Sprintf("Image is only %dx%dpx", img.Width, img.Height),
			})
		}
	}
	return out
}

// checkForms flags visible inputs that no label[for] points at (Medium).
func checkForms(snap *Snapshot) []issue.Issue {
	var out []issue.Issue
	for _, in := range snap.Inputs {
		switch in.Type {
		case "hidden", "submit", "button":
			continue
		}
		if !in.HasLabel {
			out = append(out, issue.Issue{
				Category:    issue.Forms,
				Subcategory: "Labels",
				Description: fmt.Sprintf("Input field without label: %s input", in.Type),
				Severity:    issue.Medium,
				Locator:     fmt.Sprintf("input[type='%s']", in.Type),
				Expected:    "All input fields should have associated labels",
				Actual:      "Input field has no label",
			})
		}
	}
	return out
}

// checkButtons flags unclear button text (Medium) and touch targets under
// the 44x44px floor (Medium, layout only).
func checkButtons(snap *Snapshot) []issue.Issue {
	var out []issue.Issue
	for _, b := range snap.Buttons {
		text := strings.TrimSpace(b.Text)
		if utf8.RuneCountInString(text) < minButtonTextLen {
			out = append(out, issue.Issue{
				Category:    issue.Buttons,
				Subcategory: "Labels",
				Description: "Button with unclear or missing text",
				Severity:    issue.Medium,
				Expected:    "Buttons should have clear, action-oriented labels",
				Actual:      fmt.Sprintf("Button text: %q", text),
			})
		}
		if snap.HasLayout && (b.Width < minTouchTargetPx || b.Height < minTouchTargetPx) {
			out = append(out, issue.Issue{
				Category:    issue.Buttons,
				Subcategory: "Touch targets",
				Description: fmt.Sprintf("Button too small for touch: %dx%dpx", b.Width, b.Height),
				Severity:    issue.Medium,
				Expected:    fmt.Sprintf("Touch targets should be at least %dx%d pixels", minTouchTargetPx, minTouchTargetPx),
				Actual:      fmt.Sprintf("Button is %dx%dpx", b.Width, b.Height),
			})
		}
	}
	return out
}

// checkTypography flags computed font sizes under 12px over the bounded
// sample the snapshot carries (Low, layout only).
func checkTypography(snap *Snapshot) []issue.Issue {
	if !snap.HasLayout {
		return nil
	}
	var out []issue.Issue
	for _, s := range snap.FontSamples {
		if s.SizePx > 0 && s.SizePx < minFontSizePx {
			out = append(out, issue.Issue{
				Category:    issue.Typography,
				Subcategory: "Readability",
				Description: fmt.Sprintf("Text too small: %.1fpx", s.SizePx),
				Severity:    issue.Low,
				Locator:     s.Tag,
				Expected:    fmt.Sprintf("Text should be at least %.0fpx for readability", minFontSizePx),
				Actual:      fmt.Sprintf("Font size is %.1fpx", s.SizePx),
			})
		}
	}
	return out
}

// checkResponsive flags a missing viewport meta tag (High) and horizontal
// overflow beyond the 10px tolerance (Medium, layout only).
func checkResponsive(snap *Snapshot) []issue.Issue {
	var out []issue.Issue
	if !snap.HasViewportMeta {
		out = append(out, issue.Issue{
			Category:    issue.Responsive,
			Subcategory: "Meta tags",
			Description: "Missing viewport meta tag",
			Severity:    issue.High,
			Expected:    "Page should have viewport meta tag for mobile responsiveness",
			Actual:      "No viewport meta tag found",
		})
	}
	if snap.HasLayout && snap.ScrollWidth > snap.InnerWidth+scrollTolerancePx {
		out = append(out, issue.Issue{
			Category:    issue.Responsive,
			Subcategory: "Layout",
			Description: fmt.Sprintf("Horizontal scrolling detected: page %dpx, window %dpx", snap.ScrollWidth, snap.InnerWidth),
			Severity:    issue.Medium,
			Expected:    "Page should not have horizontal scrolling",
			Actual:      fmt.Sprintf("Page width exceeds window width by %dpx", snap.ScrollWidth-snap.InnerWidth),
		})
	}
	return out
}

func imgLocator(img ImageInfo) string {
	src := img.Src
	if len(src) > 40 {
		src = src[:40]
	}
	if src == "" {
		return "img"
	}
	return fmt.Sprintf("img[src*='%s']", src)
}
