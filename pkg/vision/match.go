package vision

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

// MatchScore slides the template over the region and returns the best
// grayscale normalized cross-correlation score in [0, 1]. A template
// larger than the region is shrunk to fit while keeping its aspect ratio;
// templates are never grown.
func MatchScore(region, template image.Image) float64 {
	rb := region.Bounds()
	tb := template.Bounds()
	if rb.Dx() <= 0 || rb.Dy() <= 0 || tb.Dx() <= 0 || tb.Dy() <= 0 {
		return 0
	}

	template = shrinkToFit(template, rb.Dx(), rb.Dy())

	img := grayscale(region)
	tpl := grayscale(template)

	th, tw := len(tpl), len(tpl[0])
	ih, iw := len(img), len(img[0])
	if th > ih || tw > iw {
		return 0
	}

	var tplSq float64
	for _, row := range tpl {
		for _, v := range row {
			tplSq += v * v
		}
	}

	best := 0.0
	for oy := 0; oy <= ih-th; oy++ {
		for ox := 0; ox <= iw-tw; ox++ {
			var dot, winSq float64
			for y := 0; y < th; y++ {
				irow := img[oy+y]
				trow := tpl[y]
				for x := 0; x < tw; x++ {
					v := irow[ox+x]
					dot += v * trow[x]
					winSq += v * v
				}
			}
			den := math.Sqrt(winSq * tplSq)
			if den == 0 {
				continue
			}
			if score := dot / den; score > best {
				best = score
			}
		}
	}

	return best
}

// Match reports whether the best correlation score passes the threshold
func Match(region, template image.Image, threshold float64) (float64, bool) {
	score := MatchScore(region, template)
	return score, score >= threshold
}

// shrinkToFit scales the template down so it fits inside width x height
func shrinkToFit(template image.Image, width, height int) image.Image {
	tb := template.Bounds()
	tw, th := tb.Dx(), tb.Dy()
	if tw <= width && th <= height {
		return template
	}

	scale := math.Min(float64(width)/float64(tw), float64(height)/float64(th))
	newW := uint(math.Max(1, math.Floor(float64(tw)*scale)))
	newH := uint(math.Max(1, math.Floor(float64(th)*scale)))

	return resize.Resize(newW, newH, template, resize.Bicubic)
}
