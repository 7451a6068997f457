package palette

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
)

// Extractor runs the color extraction pipeline. It is stateless and safe
// for concurrent use.
type Extractor struct {
	opts Options
}

// NewExtractor creates an extractor with the given options.
func NewExtractor(opts Options) *Extractor {
	return &Extractor{opts: opts.withDefaults()}
}

// sample is one accepted pixel with its center-proximity weight.
type sample struct {
	r, g, b uint8
	weight  float64
}

// bin accumulates quantized samples.
type bin struct {
	key     int
	weight  float64
	rSum    float64
	gSum    float64
	bSum    float64
}

// candidate is a palette candidate before diversity enforcement.
type candidate struct {
	color  colorful.Color
	weight float64
}

// Extract produces a palette from an RGBA pixel buffer (4 bytes per
// pixel, row-major). The result is deterministic: the same buffer always
// yields the same palette.
func (e *Extractor) Extract(pix []uint8, width, height int) (Palette, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if len(pix) < width*height*4 {
		return nil, fmt.Errorf("pixel buffer too short: have %d, need %d", len(pix), width*height*4)
	}

	cx, cy := e.locateSubject(pix, width, height)

	samples := e.collectSamples(pix, width, height, cx, cy)
	if len(samples) < 2 {
		return nil, ErrInsufficientSignal
	}

	candidates, totalWeight := e.quantize(samples)

	merged := e.enforceDiversity(candidates)

	// Normalize weights against all accepted samples so they sum to ≤ 1
	palette := make(Palette, 0, len(merged))
	for _, c := range merged {
		palette = append(palette, Color{
			Hex:    c.color.Hex(),
			Weight: c.weight / totalWeight,
		})
	}

	return palette, nil
}

// ExtractImage runs the pipeline over a decoded image.
func (e *Extractor) ExtractImage(img image.Image) (Palette, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("empty image")
	}

	pix := make([]uint8, 0, width*height*4)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			pix = append(pix, uint8(r>>8), uint8(g>>8), uint8(b>>8), uint8(a>>8))
		}
	}

	return e.Extract(pix, width, height)
}

// ExtractFromBytes decodes PNG or JPEG bytes and runs the pipeline.
func (e *Extractor) ExtractFromBytes(data []byte) (Palette, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return e.ExtractImage(img)
}

// locateSubject estimates the wearer's position from skin-tone density.
// When no meaningful skin region exists the image center is used.
func (e *Extractor) locateSubject(pix []uint8, width, height int) (int, int) {
	stride := e.opts.SampleStride

	var sumX, sumY, count int
	scanned := 0

	for y := 0; y < height; y += stride {
		for x := 0; x < width; x += stride {
			scanned++
			i := (y*width + x) * 4
			if isSkin(pix[i], pix[i+1], pix[i+2]) {
				sumX += x
				sumY += y
				count++
			}
		}
	}

	// Require at least 1% of scanned pixels to be skin before trusting
	// the centroid; noise should not drag the ROI off-subject
	if scanned == 0 || count*100 < scanned {
		return width / 2, height / 2
	}

	return sumX / count, sumY / count
}

// collectSamples gathers ROI pixels that survive background and skin
// rejection, each weighted by proximity to the subject center.
func (e *Extractor) collectSamples(pix []uint8, width, height, cx, cy int) []sample {
	shorter := width
	if height < shorter {
		shorter = height
	}
	radius := e.opts.ROIFraction * float64(shorter) / 2
	if radius < 1 {
		radius = 1
	}

	stride := e.opts.SampleStride
	samples := make([]sample, 0, 256)

	for y := 0; y < height; y += stride {
		for x := 0; x < width; x += stride {
			dx := float64(x - cx)
			dy := float64(y - cy)
			dist := math.Sqrt(dx*dx + dy*dy)
			if dist > radius {
				continue
			}

			i := (y*width + x) * 4
			r, g, b := pix[i], pix[i+1], pix[i+2]

			if e.isBackground(r, g, b) {
				continue
			}
			if isSkin(r, g, b) {
				continue
			}

			// Center-weighted: samples near the subject count more
			weight := 1.0 - 0.75*(dist/radius)

			samples = append(samples, sample{r: r, g: g, b: b, weight: weight})
		}
	}

	return samples
}

// isBackground rejects near-white, near-black, and washed-out pixels.
// Clothing is assumed to sit inside the configured saturation and value
// bands; what falls outside is walls, floors, and shadow.
func (e *Extractor) isBackground(r, g, b uint8) bool {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	_, s, v := c.Hsv()

	if v < e.opts.ValMin || v > e.opts.ValMax {
		return true
	}
	if s < e.opts.SatMin || s > e.opts.SatMax {
		return true
	}
	return false
}

// Quantization bin counts. Hue gets the finest resolution since it
// carries most of the perceptual identity of a garment color.
const (
	hueBins = 24 // 15 degrees each
	satBins = 4
	valBins = 4
)

// quantize buckets samples into coarse HSV bins and returns the top bins
// as palette candidates, each represented by its weighted mean color.
// The second return value is the total accepted sample weight.
func (e *Extractor) quantize(samples []sample) ([]candidate, float64) {
	bins := make(map[int]*bin)
	var totalWeight float64

	for _, s := range samples {
		c := colorful.Color{R: float64(s.r) / 255, G: float64(s.g) / 255, B: float64(s.b) / 255}
		h, sat, val := c.Hsv()

		hBin := int(h / (360.0 / hueBins))
		if hBin >= hueBins {
			hBin = hueBins - 1
		}
		sBin := int(sat * satBins)
		if sBin >= satBins {
			sBin = satBins - 1
		}
		vBin := int(val * valBins)
		if vBin >= valBins {
			vBin = valBins - 1
		}

		key := hBin*100 + sBin*10 + vBin

		entry, ok := bins[key]
		if !ok {
			entry = &bin{key: key}
			bins[key] = entry
		}
		entry.weight += s.weight
		entry.rSum += c.R * s.weight
		entry.gSum += c.G * s.weight
		entry.bSum += c.B * s.weight

		totalWeight += s.weight
	}

	ordered := make([]*bin, 0, len(bins))
	for _, b := range bins {
		ordered = append(ordered, b)
	}
	// Weight descending, bin key as a deterministic tie-break
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].weight != ordered[j].weight {
			return ordered[i].weight > ordered[j].weight
		}
		return ordered[i].key < ordered[j].key
	})

	if len(ordered) > e.opts.MaxColors {
		ordered = ordered[:e.opts.MaxColors]
	}

	candidates := make([]candidate, 0, len(ordered))
	for _, b := range ordered {
		candidates = append(candidates, candidate{
			color: colorful.Color{
				R: b.rSum / b.weight,
				G: b.gSum / b.weight,
				B: b.bSum / b.weight,
			},
			weight: b.weight,
		})
	}

	return candidates, totalWeight
}

// enforceDiversity merges perceptually close candidates. The weaker of a
// close pair folds its weight into the stronger rather than being
// dropped, so merging conserves total weight.
func (e *Extractor) enforceDiversity(candidates []candidate) []candidate {
	merged := make([]candidate, len(candidates))
	copy(merged, candidates)

	for i := 0; i < len(merged); i++ {
		for j := i + 1; j < len(merged); {
			if deltaE(merged[i].color, merged[j].color) < e.opts.DeltaEThreshold {
				merged[i].weight += merged[j].weight
				merged = append(merged[:j], merged[j+1:]...)
			} else {
				j++
			}
		}
	}

	// Merging can reorder effective strengths
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].weight != merged[j].weight {
			return merged[i].weight > merged[j].weight
		}
		return merged[i].color.Hex() < merged[j].color.Hex()
	})

	return merged
}

// deltaE computes CIE76 perceptual distance on the conventional 0-100
// lightness scale. go-colorful keeps L in [0,1], so its Lab distance is
// rescaled by 100 to match the usual ΔE thresholds.
func deltaE(a, b colorful.Color) float64 {
	return a.DistanceLab(b) * 100
}
