// Package imagediff aligns two rasters and scores their structural
// similarity. Compare is pure: the same inputs and threshold always yield
// the same result, and the score is symmetric in its two image arguments.
package imagediff

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// DefaultThreshold is the similarity score at or above which two rasters
// are considered a match.
const DefaultThreshold = 0.95

// Result holds the outcome of one comparison.
type Result struct {
	// A and B are the normalized (co-sized) rasters the score was
	// computed from.
	A, B image.Image

	// Score is the mean structural similarity in [0,1].
	Score     float64
	Threshold float64
	Match     bool

	// Diff is a grayscale raster derived from the per-pixel similarity
	// map: black where the images agree, brighter where they diverge.
	Diff *image.Gray

	// Heatmap is a false-colored rendering of the absolute per-pixel
	// difference, for human inspection.
	Heatmap *image.RGBA
}

// Compare normalizes a and b to a common size, computes the structural
// similarity score and map, and renders the difference raster and heatmap.
// The threshold is clamped to [0,1]; out-of-range values never widen the
// match band beyond the defined scale.
func Compare(a, b image.Image, threshold float64) Result {
	threshold = clamp01(threshold)

	na, nb := Normalize(a, b)
	ga := grayFloat(na)
	gb := grayFloat(nb)

	score, simMap := ssimMap(ga, gb)
	score = clamp01(score)

	w, h := ga.w, ga.h
	diff := image.NewGray(image.Rect(0, 0, w, h))
	for i, s := range simMap {
		diff.Pix[i] = uint8(math.Round((1 - clamp01(s)) * 255))
	}

	return Result{
		A:         na,
		B:         nb,
		Score:     score,
		Threshold: threshold,
		Match:     score >= threshold,
		Diff:      diff,
		Heatmap:   heatmap(ga, gb),
	}
}

// Normalize resizes both images to their shared minimum width and height
// using Catmull-Rom resampling. Aspect ratio is not preserved: the goal is
// pixel alignment, not display fidelity. Images already at the target size
// are returned as-is.
func Normalize(a, b image.Image) (image.Image, image.Image) {
	ab, bb := a.Bounds(), b.Bounds()
	w := minInt(ab.Dx(), bb.Dx())
	h := minInt(ab.Dy(), bb.Dy())
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return resizeTo(a, w, h), resizeTo(b, w, h)
}

func resizeTo(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h && b.Min == (image.Point{}) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// grayImage is a float64 luminance plane in [0,255].
type grayImage struct {
	w, h int
	pix  []float64
}

func grayFloat(img image.Image) grayImage {
	b := img.Bounds()
	g := grayImage{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, gr, bl, _ := img.At(x, y).RGBA()
			// 16-bit channels; ITU-R 601 luma.
			g.pix[i] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(bl)) / 257.0
			i++
		}
	}
	return g
}

// heatmap renders the absolute per-pixel difference between two luminance
// planes through a jet color ramp, normalized to the observed range so the
// hottest region is always full red. Identical planes render all-blue/cold.
func heatmap(a, b grayImage) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, a.w, a.h))

	lo, hi := math.Inf(1), math.Inf(-1)
	abs := make([]float64, len(a.pix))
	for i := range a.pix {
		d := math.Abs(a.pix[i] - b.pix[i])
		abs[i] = d
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}

	span := hi - lo
	for i, d := range abs {
		var v float64
		if span > 0 {
			v = (d - lo) / span
		}
		r, g, bl := jet(v)
		o := i * 4
		out.Pix[o] = r
		out.Pix[o+1] = g
		out.Pix[o+2] = bl
		out.Pix[o+3] = 0xff
	}
	return out
}

// jet maps v in [0,1] onto the classic blue→cyan→yellow→red ramp.
func jet(v float64) (r, g, b uint8) {
	v = clamp01(v)
	seg := func(x float64) uint8 {
		x = math.Min(math.Max(x, 0), 1)
		return uint8(math.Round(x * 255))
	}
	r = seg(1.5 - math.Abs(4*v-3))
	g = seg(1.5 - math.Abs(4*v-2))
	b = seg(1.5 - math.Abs(4*v-1))
	return
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
