package stylist

import (
	"fmt"
	"strings"
)

// DiversityReport is the advisory quality signal for one generated
// batch. It is logged and exported as a metric but never blocks a
// response.
type DiversityReport struct {
	// Score is 0-100; 100 means no diversity violations
	Score float64 `json:"score"`

	// Violations lists human-readable reasons, in detection order
	Violations []string `json:"violations,omitempty"`
}

// Penalties configures how much each violation class costs.
// Zero values take defaults.
type Penalties struct {
	// DuplicateStyleTag is charged once per pair sharing a style tag
	// (default 25); style archetypes must be pairwise distinct
	DuplicateStyleTag float64

	// PaletteOverlap is charged per pair whose palettes overlap by more
	// than the threshold (default 20)
	PaletteOverlap float64

	// DuplicateTitle is charged per pair with the same title,
	// case-insensitive (default 15)
	DuplicateTitle float64

	// ItemOverlap is charged per pair whose item lists overlap by more
	// than the threshold; the cheapest violation since item wording
	// varies a lot between providers (default 10)
	ItemOverlap float64
}

// DefaultPenalties returns the production penalty weights.
func DefaultPenalties() Penalties {
	return Penalties{
		DuplicateStyleTag: 25,
		PaletteOverlap:    20,
		DuplicateTitle:    15,
		ItemOverlap:       10,
	}
}

func (p Penalties) withDefaults() Penalties {
	d := DefaultPenalties()
	if p.DuplicateStyleTag <= 0 {
		p.DuplicateStyleTag = d.DuplicateStyleTag
	}
	if p.PaletteOverlap <= 0 {
		p.PaletteOverlap = d.PaletteOverlap
	}
	if p.DuplicateTitle <= 0 {
		p.DuplicateTitle = d.DuplicateTitle
	}
	if p.ItemOverlap <= 0 {
		p.ItemOverlap = d.ItemOverlap
	}
	return p
}

// LookSummary is what the scorer compares: the structured identity of
// one generated look.
type LookSummary struct {
	Title    string
	StyleTag string
	Items    []string
	Colors   []string // hex colors, palette order
}

const (
	paletteOverlapThreshold = 0.6
	itemOverlapThreshold    = 0.7
)

// Scorer compares the looks of one batch against each other.
// Pure and stateless; safe for concurrent use.
type Scorer struct {
	penalties Penalties
}

// NewScorer creates a scorer with the given penalty weights.
func NewScorer(penalties Penalties) *Scorer {
	return &Scorer{penalties: penalties.withDefaults()}
}

// Score rates a batch's internal diversity, starting from 100 and
// subtracting per detected violation, clamped to [0, 100].
func (s *Scorer) Score(batch []LookSummary) DiversityReport {
	score := 100.0
	var violations []string

	for i := 0; i < len(batch); i++ {
		for j := i + 1; j < len(batch); j++ {
			a, b := batch[i], batch[j]

			if a.StyleTag != "" && strings.EqualFold(a.StyleTag, b.StyleTag) {
				score -= s.penalties.DuplicateStyleTag
				violations = append(violations, fmt.Sprintf(
					"looks %d and %d share style tag %q", i+1, j+1, a.StyleTag))
			}

			if overlap := paletteOverlap(a.Colors, b.Colors); overlap > paletteOverlapThreshold {
				score -= s.penalties.PaletteOverlap
				violations = append(violations, fmt.Sprintf(
					"looks %d and %d palettes overlap by %.0f%%", i+1, j+1, overlap*100))
			}

			if a.Title != "" && strings.EqualFold(a.Title, b.Title) {
				score -= s.penalties.DuplicateTitle
				violations = append(violations, fmt.Sprintf(
					"looks %d and %d have identical title %q", i+1, j+1, a.Title))
			}

			if overlap := itemOverlap(a.Items, b.Items); overlap > itemOverlapThreshold {
				score -= s.penalties.ItemOverlap
				violations = append(violations, fmt.Sprintf(
					"looks %d and %d item lists overlap by %.0f%%", i+1, j+1, overlap*100))
			}
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return DiversityReport{
		Score:      score,
		Violations: violations,
	}
}

// paletteOverlap returns the color-set intersection divided by the
// smaller palette's size. Hexes are compared near-exactly: each channel
// quantized to 16 levels so trivially different renders of the same
// color still count as shared.
func paletteOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, hex := range a {
		setA[quantizeHex(hex)] = struct{}{}
	}

	seen := make(map[string]struct{}, len(b))
	shared := 0
	for _, hex := range b {
		q := quantizeHex(hex)
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		if _, ok := setA[q]; ok {
			shared++
		}
	}

	smaller := len(setA)
	if len(seen) < smaller {
		smaller = len(seen)
	}
	if smaller == 0 {
		return 0
	}

	return float64(shared) / float64(smaller)
}

// quantizeHex normalizes a #rrggbb string to its high nibbles, giving a
// near-exact match with a small per-channel tolerance.
func quantizeHex(hex string) string {
	h := strings.ToLower(strings.TrimPrefix(hex, "#"))
	if len(h) != 6 {
		return h
	}
	return string([]byte{h[0], h[2], h[4]})
}

// itemOverlap compares item lists by their normalized descriptors and
// returns the intersection divided by the smaller list's size.
func itemOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, item := range a {
		if d := normalizeItem(item); d != "" {
			setA[d] = struct{}{}
		}
	}

	setB := make(map[string]struct{}, len(b))
	for _, item := range b {
		if d := normalizeItem(item); d != "" {
			setB[d] = struct{}{}
		}
	}

	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for d := range setB {
		if _, ok := setA[d]; ok {
			shared++
		}
	}

	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}

	return float64(shared) / float64(smaller)
}

// normalizeItem reduces an item description to its last significant
// word: "slim dark-wash jeans" and "relaxed jeans" both become "jeans".
func normalizeItem(item string) string {
	fields := strings.Fields(strings.ToLower(item))
	for i := len(fields) - 1; i >= 0; i-- {
		word := strings.Trim(fields[i], ".,;:!()")
		if len(word) > 2 {
			return word
		}
	}
	if len(fields) > 0 {
		return strings.Trim(fields[len(fields)-1], ".,;:!()")
	}
	return ""
}
