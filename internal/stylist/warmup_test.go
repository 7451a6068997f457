package stylist

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/styletide/stylist-engine/internal/palette"
	"github.com/styletide/stylist-engine/internal/platform/cache"
)

// writePresetPNG writes a half-red, half-blue preset image and returns
// its encoded bytes.
func writePresetPNG(t *testing.T, dir, name string) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if x < 60 {
				img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
			} else {
				img.Set(x, y, color.RGBA{R: 30, G: 30, B: 200, A: 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode preset image: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write preset image: %v", err)
	}
	return buf.Bytes()
}

func TestPresetPaletteWarmup(t *testing.T) {
	dir := t.TempDir()
	data := writePresetPNG(t, dir, "lookbook-01.png")

	// Non-image files must be ignored
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("presets"), 0o644); err != nil {
		t.Fatalf("Failed to write readme: %v", err)
	}

	mem := cache.NewMemoryCacheWithSweep(100, 0)
	defer mem.Close()

	w := NewPresetPaletteWarmup(dir, palette.NewExtractor(palette.DefaultOptions()), mem)

	if w.Name() != "preset-palettes" {
		t.Errorf("Unexpected provider name %q", w.Name())
	}
	if err := w.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup failed: %v", err)
	}

	val, err := mem.Get(context.Background(), PaletteKey(data))
	if err != nil {
		t.Fatalf("Expected warmed palette entry, got: %v", err)
	}
	p, ok := val.(palette.Palette)
	if !ok || len(p) == 0 {
		t.Fatalf("Expected a non-empty palette, got %T", val)
	}

	t.Log("✓ Preset images are extracted and cached at startup")
}

func TestPresetPaletteWarmup_MissingDirectory(t *testing.T) {
	mem := cache.NewMemoryCacheWithSweep(100, 0)
	defer mem.Close()

	w := NewPresetPaletteWarmup(filepath.Join(t.TempDir(), "absent"),
		palette.NewExtractor(palette.DefaultOptions()), mem)

	if err := w.Warmup(context.Background()); err == nil {
		t.Error("Expected error for missing preset directory")
	}

	t.Log("✓ A missing preset directory fails the warmup")
}

func TestPresetPaletteWarmup_EmptyDirectory(t *testing.T) {
	mem := cache.NewMemoryCacheWithSweep(100, 0)
	defer mem.Close()

	w := NewPresetPaletteWarmup(t.TempDir(), palette.NewExtractor(palette.DefaultOptions()), mem)

	if err := w.Warmup(context.Background()); err == nil {
		t.Error("Expected error when no preset images are usable")
	}

	t.Log("✓ A directory without usable images fails the warmup")
}
