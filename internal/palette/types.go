// Package palette implements deterministic color extraction from
// rendered look images. The pipeline is pure computation over pixel
// data: the same bytes always produce the same palette, with no network
// access and no shared state.
package palette

import "errors"

// ErrInsufficientSignal is returned when too few usable samples survive
// background and skin rejection (e.g. a blank or fully skin-toned
// image). Callers fall back to provider-supplied colors.
var ErrInsufficientSignal = errors.New("insufficient color signal")

// Color is one palette entry: a hex color and its relative weight.
type Color struct {
	// Hex is the color in #rrggbb form
	Hex string `json:"hex"`

	// Weight is the color's share of accepted samples, in (0, 1]
	Weight float64 `json:"weight"`
}

// Palette is an ordered set of colors, strongest first. Any two entries
// are at least the configured perceptual distance apart.
type Palette []Color

// Hexes returns just the hex strings, in palette order.
func (p Palette) Hexes() []string {
	out := make([]string, len(p))
	for i, c := range p {
		out[i] = c.Hex
	}
	return out
}

// TotalWeight returns the sum of entry weights (≤ 1).
func (p Palette) TotalWeight() float64 {
	var sum float64
	for _, c := range p {
		sum += c.Weight
	}
	return sum
}

// Options tunes the extraction pipeline. Zero values take defaults.
type Options struct {
	// ROIFraction sizes the sampling disk relative to the shorter image
	// dimension (default 0.35)
	ROIFraction float64

	// SatMin/SatMax bound acceptable HSV saturation (defaults 0.05, 0.95).
	// Samples outside are treated as background (walls, shadow, glare).
	SatMin float64
	SatMax float64

	// ValMin/ValMax bound acceptable HSV value (defaults 0.12, 0.88)
	ValMin float64
	ValMax float64

	// MaxColors caps the number of palette candidates taken from the
	// quantization stage (default 10, minimum meaningful value 8)
	MaxColors int

	// DeltaEThreshold is the minimum perceptual distance between any two
	// returned colors; closer pairs are merged (default 15)
	DeltaEThreshold float64

	// SampleStride subsamples large images by visiting every Nth pixel
	// in both axes (default 2)
	SampleStride int
}

// DefaultOptions returns the tuning used in production.
func DefaultOptions() Options {
	return Options{
		ROIFraction:     0.35,
		SatMin:          0.05,
		SatMax:          0.95,
		ValMin:          0.12,
		ValMax:          0.88,
		MaxColors:       10,
		DeltaEThreshold: 15,
		SampleStride:    2,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ROIFraction <= 0 || o.ROIFraction > 1 {
		o.ROIFraction = d.ROIFraction
	}
	if o.SatMin <= 0 {
		o.SatMin = d.SatMin
	}
	if o.SatMax <= 0 || o.SatMax > 1 {
		o.SatMax = d.SatMax
	}
	if o.ValMin <= 0 {
		o.ValMin = d.ValMin
	}
	if o.ValMax <= 0 || o.ValMax > 1 {
		o.ValMax = d.ValMax
	}
	if o.MaxColors <= 0 {
		o.MaxColors = d.MaxColors
	}
	if o.DeltaEThreshold <= 0 {
		o.DeltaEThreshold = d.DeltaEThreshold
	}
	if o.SampleStride <= 0 {
		o.SampleStride = d.SampleStride
	}
	return o
}
