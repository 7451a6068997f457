package palette

import (
	"errors"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
)

// makePixels builds an RGBA buffer from a per-pixel color function.
func makePixels(width, height int, colorAt func(x, y int) (uint8, uint8, uint8)) []uint8 {
	pix := make([]uint8, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := colorAt(x, y)
			i := (y*width + x) * 4
			pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, 255
		}
	}
	return pix
}

// TestExtract_Deterministic verifies repeated runs on the same pixels
// produce identical palettes.
func TestExtract_Deterministic(t *testing.T) {
	pix := makePixels(100, 100, func(x, y int) (uint8, uint8, uint8) {
		if x < 60 {
			return 200, 30, 30 // red
		}
		return 30, 30, 200 // blue
	})

	e := NewExtractor(DefaultOptions())

	first, err := e.Extract(pix, 100, 100)
	if err != nil {
		t.Fatalf("First extract failed: %v", err)
	}

	second, err := e.Extract(pix, 100, 100)
	if err != nil {
		t.Fatalf("Second extract failed: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("Palette sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Entry %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}

	t.Log("✓ Extraction is deterministic for identical input")
}

// TestExtract_OrderedByWeight verifies the dominant color comes first
// and weights never exceed 1 in total.
func TestExtract_OrderedByWeight(t *testing.T) {
	// Red covers more of the ROI than blue
	pix := makePixels(100, 100, func(x, y int) (uint8, uint8, uint8) {
		if x < 60 {
			return 200, 30, 30
		}
		return 30, 30, 200
	})

	e := NewExtractor(DefaultOptions())

	p, err := e.Extract(pix, 100, 100)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(p) < 2 {
		t.Fatalf("Expected at least 2 colors, got %d", len(p))
	}

	for i := 1; i < len(p); i++ {
		if p[i].Weight > p[i-1].Weight {
			t.Errorf("Palette not ordered by descending weight at index %d", i)
		}
	}

	// First color should be the red side
	c, err := colorful.Hex(p[0].Hex)
	if err != nil {
		t.Fatalf("Invalid hex %q: %v", p[0].Hex, err)
	}
	if c.R <= c.B {
		t.Errorf("Expected dominant color to be red-leaning, got %s", p[0].Hex)
	}

	if total := p.TotalWeight(); total > 1.0001 {
		t.Errorf("Expected total weight <= 1, got %f", total)
	}

	t.Log("✓ Palette is ordered by descending weight")
}

// TestExtract_MergeConservesWeight verifies near-identical colors are
// merged with summed weights instead of being dropped.
func TestExtract_MergeConservesWeight(t *testing.T) {
	// Two barely distinguishable reds that quantize into different
	// value bins; the merged palette must carry their combined weight
	pix := makePixels(100, 100, func(x, y int) (uint8, uint8, uint8) {
		if x%4 < 2 {
			return 200, 30, 30
		}
		return 190, 28, 28
	})

	e := NewExtractor(DefaultOptions())

	p, err := e.Extract(pix, 100, 100)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(p) != 1 {
		t.Fatalf("Expected near-duplicates merged into 1 color, got %d", len(p))
	}

	if p[0].Weight < 0.999 || p[0].Weight > 1.0001 {
		t.Errorf("Expected merged weight ~1.0 (conserved), got %f", p[0].Weight)
	}

	t.Log("✓ Merging near-duplicates conserves total weight")
}

// TestExtract_PairwiseDistanceEnforced verifies every returned pair is
// at least the diversity threshold apart.
func TestExtract_PairwiseDistanceEnforced(t *testing.T) {
	// Several bands of related colors
	colors := [][3]uint8{
		{200, 30, 30},
		{210, 60, 40},
		{30, 30, 200},
		{40, 60, 210},
		{30, 180, 60},
		{230, 200, 40},
	}
	pix := makePixels(120, 120, func(x, y int) (uint8, uint8, uint8) {
		c := colors[(x/20)%len(colors)]
		return c[0], c[1], c[2]
	})

	opts := DefaultOptions()
	e := NewExtractor(opts)

	p, err := e.Extract(pix, 120, 120)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	for i := 0; i < len(p); i++ {
		for j := i + 1; j < len(p); j++ {
			ci, _ := colorful.Hex(p[i].Hex)
			cj, _ := colorful.Hex(p[j].Hex)
			if d := ci.DistanceLab(cj) * 100; d < opts.DeltaEThreshold {
				t.Errorf("Colors %s and %s are only %.1f apart (threshold %.1f)",
					p[i].Hex, p[j].Hex, d, opts.DeltaEThreshold)
			}
		}
	}

	t.Log("✓ All palette pairs respect the perceptual distance threshold")
}

// TestExtract_BlankImageIsInsufficientSignal verifies a washed-out image
// yields the explicit insufficient-signal error instead of fake colors.
func TestExtract_BlankImageIsInsufficientSignal(t *testing.T) {
	pix := makePixels(80, 80, func(x, y int) (uint8, uint8, uint8) {
		return 250, 250, 250 // near-white
	})

	e := NewExtractor(DefaultOptions())

	_, err := e.Extract(pix, 80, 80)
	if !errors.Is(err, ErrInsufficientSignal) {
		t.Errorf("Expected ErrInsufficientSignal, got: %v", err)
	}

	t.Log("✓ Blank images report insufficient signal")
}

// TestExtract_FullySkinTonedIsInsufficientSignal verifies skin rejection
// leaves nothing behind on a skin-only image.
func TestExtract_FullySkinTonedIsInsufficientSignal(t *testing.T) {
	pix := makePixels(80, 80, func(x, y int) (uint8, uint8, uint8) {
		return 224, 172, 105
	})

	e := NewExtractor(DefaultOptions())

	_, err := e.Extract(pix, 80, 80)
	if !errors.Is(err, ErrInsufficientSignal) {
		t.Errorf("Expected ErrInsufficientSignal, got: %v", err)
	}

	t.Log("✓ Fully skin-toned images report insufficient signal")
}

// TestExtract_BackgroundRejected verifies near-black surroundings do not
// reach the palette.
func TestExtract_BackgroundRejected(t *testing.T) {
	// Dark background with a saturated green center disk
	pix := makePixels(100, 100, func(x, y int) (uint8, uint8, uint8) {
		dx, dy := x-50, y-50
		if dx*dx+dy*dy <= 15*15 {
			return 40, 180, 60
		}
		return 10, 10, 10
	})

	e := NewExtractor(DefaultOptions())

	p, err := e.Extract(pix, 100, 100)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(p) != 1 {
		t.Fatalf("Expected 1 color (background rejected), got %d", len(p))
	}

	c, err := colorful.Hex(p[0].Hex)
	if err != nil {
		t.Fatalf("Invalid hex %q: %v", p[0].Hex, err)
	}
	if c.G <= c.R || c.G <= c.B {
		t.Errorf("Expected green dominant color, got %s", p[0].Hex)
	}

	t.Log("✓ Near-black background never reaches the palette")
}

// TestSkinHeuristic_RequiresQuorum verifies the two-of-three voting.
func TestSkinHeuristic_RequiresQuorum(t *testing.T) {
	// A canonical skin tone passes at least two tests
	if !isSkin(224, 172, 105) {
		t.Error("Expected canonical skin tone to classify as skin")
	}

	// Saturated garment colors must not be classified as skin
	garments := [][3]uint8{
		{200, 30, 30},  // red dress
		{30, 30, 200},  // blue denim
		{30, 180, 60},  // green jacket
		{240, 240, 20}, // yellow raincoat
	}
	for _, c := range garments {
		if isSkin(c[0], c[1], c[2]) {
			t.Errorf("Garment color %v misclassified as skin", c)
		}
	}

	t.Log("✓ Skin voting keeps garment colors while catching skin tones")
}
