package palette

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// isSkin classifies a pixel as skin when at least two of three
// independent color-space tests agree. Any single test fires on too many
// garment colors (beiges, warm browns); requiring a quorum keeps those
// in the palette while still rejecting exposed skin.
func isSkin(r, g, b uint8) bool {
	votes := 0
	if skinRGB(r, g, b) {
		votes++
	}
	if skinYCbCr(r, g, b) {
		votes++
	}
	if skinHSV(r, g, b) {
		votes++
	}
	return votes >= 2
}

// skinRGB is the classic Peer et al. ratio test.
func skinRGB(r, g, b uint8) bool {
	rf, gf, bf := int(r), int(g), int(b)

	maxC := rf
	if gf > maxC {
		maxC = gf
	}
	if bf > maxC {
		maxC = bf
	}
	minC := rf
	if gf < minC {
		minC = gf
	}
	if bf < minC {
		minC = bf
	}

	return rf > 95 && gf > 40 && bf > 20 &&
		maxC-minC > 15 &&
		abs(rf-gf) > 15 &&
		rf > gf && rf > bf
}

// skinYCbCr checks the chroma plane ranges where skin clusters.
func skinYCbCr(r, g, b uint8) bool {
	_, cb, cr := color.RGBToYCbCr(r, g, b)
	return cb >= 77 && cb <= 127 && cr >= 133 && cr <= 173
}

// skinHSV checks the warm low-to-mid saturation band.
func skinHSV(r, g, b uint8) bool {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	h, s, _ := c.Hsv()
	return h >= 0 && h <= 50 && s >= 0.23 && s <= 0.68
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
