// Package keys builds deterministic cache and storage keys.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

// RasterKey identifies one decoded overlay raster: layer, style, objects
// version, pixel size and extent.
func RasterKey(layer, style string, version int, b model.BBox, width, height int) string {
	layerNorm := sanitize(strings.TrimSpace(layer))
	styleNorm := sanitize(strings.TrimSpace(style))
	extent := fmt.Sprintf("%.9f,%.9f,%.9f,%.9f", b.West, b.South, b.East, b.North)
	sum := xxhash.Sum64String(extent)
	return fmt.Sprintf("raster:%s:%s:v%d:%dx%d:b=%016x", layerNorm, styleNorm, version, width, height, sum)
}

// ObjectsKey namespaces the committed object set in shared stores.
func ObjectsKey(storageKey string) string {
	k := sanitize(strings.TrimSpace(storageKey))
	if k == "" {
		k = "userPlacedObjects"
	}
	return "heatstress:objects:" + k
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// Any other rune (including non-ASCII and ':') becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
