package stylist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/styletide/stylist-engine/internal/palette"
	"github.com/styletide/stylist-engine/internal/platform/cache"
)

// PresetPaletteWarmup pre-computes palettes for a directory of bundled
// lookbook images. Providers frequently return these house presets, so
// warming their palette entries lets first requests skip extraction.
type PresetPaletteWarmup struct {
	dir       string
	extractor *palette.Extractor
	cache     cache.Cache
}

// NewPresetPaletteWarmup creates a warmup provider over the given
// preset image directory.
func NewPresetPaletteWarmup(dir string, extractor *palette.Extractor, c cache.Cache) *PresetPaletteWarmup {
	return &PresetPaletteWarmup{
		dir:       dir,
		extractor: extractor,
		cache:     c,
	}
}

// Name identifies this provider in warmup logs.
func (w *PresetPaletteWarmup) Name() string {
	return "preset-palettes"
}

// Warmup extracts and caches a palette for every PNG or JPEG in the
// preset directory. Images without enough color signal are skipped;
// anything else failing aborts the warmup with an error.
func (w *PresetPaletteWarmup) Warmup(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read preset directory: %w", err)
	}

	warmed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(w.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read preset %s: %w", entry.Name(), err)
		}

		p, err := w.extractor.ExtractFromBytes(data)
		if err != nil {
			if errors.Is(err, palette.ErrInsufficientSignal) {
				continue
			}
			return fmt.Errorf("failed to extract palette for %s: %w", entry.Name(), err)
		}

		if err := w.cache.Set(ctx, PaletteKey(data), p, cache.TTLLong); err != nil {
			return fmt.Errorf("failed to cache palette for %s: %w", entry.Name(), err)
		}
		warmed++
	}

	if warmed == 0 {
		return fmt.Errorf("no usable preset images in %s", w.dir)
	}
	return nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}
