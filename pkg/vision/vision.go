// Package vision holds the pixel math behind region classification: mean
// HSV saturation for the active/inactive decision and a grayscale
// normalized cross-correlation for diagnostic template matching.
package vision

import (
	"fmt"
	"image"

	"github.com/vcaesar/imgo"
)

// MeanSaturation returns the mean HSV saturation of img on a 0-255 scale.
// Grayed-out UI elements sit near zero; saturated icons score high.
func MeanSaturation(img image.Image) float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return 0
	}

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			r8 := float64(r >> 8)
			g8 := float64(g >> 8)
			b8 := float64(b >> 8)

			max := r8
			if g8 > max {
				max = g8
			}
			if b8 > max {
				max = b8
			}
			min := r8
			if g8 < min {
				min = g8
			}
			if b8 < min {
				min = b8
			}

			if max > 0 {
				sum += 255 * (max - min) / max
			}
		}
	}

	return sum / float64(width*height)
}

// LoadTemplate reads a template image from disk
func LoadTemplate(path string) (image.Image, error) {
	img, err := imgo.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return img, nil
}

// grayscale converts img to a luminance matrix
func grayscale(img image.Image) [][]float64 {
	bounds := img.Bounds()
	out := make([][]float64, bounds.Dy())
	for y := range out {
		row := make([]float64, bounds.Dx())
		for x := range row {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			row[x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
		out[y] = row
	}
	return out
}
