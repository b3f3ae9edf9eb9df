package imagediff

// Windowed structural similarity over float64 luminance planes. Local
// statistics use a uniform window and summed-area tables, so the cost is
// linear in pixel count regardless of window size.

const (
	ssimWindow = 7 // window side length; clipped at raster borders

	// Stabilizers for an 8-bit dynamic range: (0.01*255)^2, (0.03*255)^2.
	ssimC1 = 6.5025
	ssimC2 = 58.5225
)

// ssimMap returns the mean similarity score and a per-pixel similarity map
// the same size as the inputs. Both planes must share dimensions.
// Computing cov(x,x) with the same arithmetic as var(x) makes
// ssimMap(a, a) exactly 1.0 at every pixel, and the formula is symmetric
// in a and b by construction.
func ssimMap(a, b grayImage) (float64, []float64) {
	w, h := a.w, a.h
	n := w * h

	sumA := integral(a.pix, w, h)
	sumB := integral(b.pix, w, h)
	sumAA := integralProduct(a.pix, a.pix, w, h)
	sumBB := integralProduct(b.pix, b.pix, w, h)
	sumAB := integralProduct(a.pix, b.pix, w, h)

	half := ssimWindow / 2
	out := make([]float64, n)
	var total float64

	for y := 0; y < h; y++ {
		y0, y1 := maxInt(0, y-half), minInt(h-1, y+half)
		for x := 0; x < w; x++ {
			x0, x1 := maxInt(0, x-half), minInt(w-1, x+half)
			area := float64((x1 - x0 + 1) * (y1 - y0 + 1))

			sa := boxSum(sumA, w, x0, y0, x1, y1)
			sb := boxSum(sumB, w, x0, y0, x1, y1)
			saa := boxSum(sumAA, w, x0, y0, x1, y1)
			sbb := boxSum(sumBB, w, x0, y0, x1, y1)
			sab := boxSum(sumAB, w, x0, y0, x1, y1)

			muA := sa / area
			muB := sb / area
			varA := saa/area - muA*muA
			varB := sbb/area - muB*muB
			cov := sab/area - muA*muB

			s := ((2*muA*muB + ssimC1) * (2*cov + ssimC2)) /
				((muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2))

			out[y*w+x] = s
			total += s
		}
	}

	return total / float64(n), out
}

// integral builds a (w+1)x(h+1) summed-area table for one plane.
func integral(pix []float64, w, h int) []float64 {
	sw := w + 1
	s := make([]float64, sw*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += pix[y*w+x]
			s[(y+1)*sw+x+1] = s[y*sw+x+1] + row
		}
	}
	return s
}

// integralProduct builds a summed-area table of the element-wise product
// of two planes.
func integralProduct(a, b []float64, w, h int) []float64 {
	sw := w + 1
	s := make([]float64, sw*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += a[y*w+x] * b[y*w+x]
			s[(y+1)*sw+x+1] = s[y*sw+x+1] + row
		}
	}
	return s
}

// boxSum reads the inclusive rectangle [x0,x1]x[y0,y1] from a summed-area
// table built for plane width w.
func boxSum(s []float64, w, x0, y0, x1, y1 int) float64 {
	sw := w + 1
	return s[(y1+1)*sw+x1+1] - s[y0*sw+x1+1] - s[(y1+1)*sw+x0] + s[y0*sw+x0]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
