package monitor

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/kbinani/screenshot"
	"github.com/vcaesar/imgo"

	"github.com/keycast/keycast/pkg/config"
	"github.com/keycast/keycast/pkg/logging"
)

// Grabber captures the primary display
type Grabber interface {
	Capture() (*image.RGBA, error)
}

// ScreenGrabber is the production Grabber
type ScreenGrabber struct{}

// Capture grabs the primary display
func (ScreenGrabber) Capture() (*image.RGBA, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, errors.New("no active displays")
	}
	img, err := screenshot.CaptureRect(screenshot.GetDisplayBounds(0))
	if err != nil {
		return nil, fmt.Errorf("capture display: %w", err)
	}
	return img, nil
}

// RegionFrame is one region cut out of a capture, paired with the region
// settings snapshotted at capture time. Frames are consumed once.
type RegionFrame struct {
	Index   int
	Name    string
	Image   *image.RGBA
	Enabled bool
	SendKey string
}

// framePackage carries one capture tick's worth of frames
type framePackage struct {
	frames []RegionFrame
	at     int64 // unix nanos of the capture
}

// ExtractRegions cuts every region out of the capture, in region-index
// order. Coordinates are configured against the reference resolution and
// scaled to the captured one; rects are clamped to the image and regions
// that clamp away to nothing are skipped with a warning, never read out of
// bounds. The calibrate path shares this with the steady capture loop.
func ExtractRegions(img *image.RGBA, regions []config.RegionConfig, refW, refH int, logger *logging.Logger) []RegionFrame {
	bounds := img.Bounds()
	imgW, imgH := bounds.Dx(), bounds.Dy()

	scaleX, scaleY := 1.0, 1.0
	if refW > 0 && refH > 0 {
		scaleX = float64(imgW) / float64(refW)
		scaleY = float64(imgH) / float64(refH)
	}

	ordered := make([]config.RegionConfig, len(regions))
	copy(ordered, regions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	frames := make([]RegionFrame, 0, len(ordered))
	for _, r := range ordered {
		x := int(math.Round(float64(r.X) * scaleX))
		y := int(math.Round(float64(r.Y) * scaleY))
		w := int(math.Round(float64(r.Width) * scaleX))
		h := int(math.Round(float64(r.Height) * scaleY))

		x0, y0 := max(0, x), max(0, y)
		x1, y1 := min(imgW, x+w), min(imgH, y+h)

		if x1-x0 <= 0 || y1-y0 <= 0 {
			if logger != nil {
				logger.Warn("region clamps to nothing, skipped",
					"region", r.Name, "index", r.Index,
					"rect", fmt.Sprintf("%d,%d %dx%d", x, y, w, h),
					"capture", fmt.Sprintf("%dx%d", imgW, imgH))
			}
			continue
		}

		rect := image.Rect(bounds.Min.X+x0, bounds.Min.Y+y0, bounds.Min.X+x1, bounds.Min.Y+y1)
		frames = append(frames, RegionFrame{
			Index:   r.Index,
			Name:    r.Name,
			Image:   img.SubImage(rect).(*image.RGBA),
			Enabled: r.Enabled,
			SendKey: r.SendKey,
		})
	}

	return frames
}

// debugDumper writes each region's first extracted frame of a run to disk
type debugDumper struct {
	dir    string
	logger *logging.Logger
	done   map[int]bool
}

func newDebugDumper(dir string, logger *logging.Logger) *debugDumper {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if logger != nil {
			logger.Warn("debug dir not writable, dumps disabled", "dir", dir, "error", err.Error())
		}
		return nil
	}
	return &debugDumper{dir: dir, logger: logger, done: make(map[int]bool)}
}

// dump saves the frame if this region has not been dumped this run
func (d *debugDumper) dump(frame RegionFrame) {
	if d == nil || d.done[frame.Index] {
		return
	}
	d.done[frame.Index] = true

	path := filepath.Join(d.dir, fmt.Sprintf("region_%d_%s.png", frame.Index, frame.Name))
	if err := imgo.Save(path, frame.Image); err != nil && d.logger != nil {
		d.logger.Warn("debug dump failed", "path", path, "error", err.Error())
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
