package stylist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Cache key layout: namespace, then a stable fingerprint of the request
// inputs. Keys for one user share the "rec:<userID>:" prefix so a
// profile update can invalidate them all in one prefix sweep.

// PhotoFingerprint returns a short stable hash of the uploaded photo
// bytes, suitable for embedding in cache keys.
func PhotoFingerprint(photo []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(photo))
}

// RecommendationKey derives the cache key for one recommendation
// request. Style tags are sorted first so tag order never splits the
// cache.
func RecommendationKey(userID, photoFingerprint string, styleTags []string, count int) string {
	tags := make([]string, len(styleTags))
	copy(tags, styleTags)
	sort.Strings(tags)

	h := xxhash.New()
	h.WriteString(photoFingerprint)
	h.WriteString("|")
	h.WriteString(strings.Join(tags, ","))
	h.WriteString(fmt.Sprintf("|%d", count))

	return fmt.Sprintf("rec:%s:%016x", userID, h.Sum64())
}

// UserKeyPrefix returns the prefix covering every cached recommendation
// for one user.
func UserKeyPrefix(userID string) string {
	return fmt.Sprintf("rec:%s:", userID)
}

// PaletteKey derives the cache key for an extracted palette, keyed by
// the image content. Identical renders share one entry regardless of
// which request produced them.
func PaletteKey(image []byte) string {
	return "palette:" + PhotoFingerprint(image)
}
