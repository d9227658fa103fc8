package config

import (
	"sort"
	"strings"
)

// Preset glyph ramps, densest first.
const (
	GlyphSetBlock    = "█▓▒░ "
	GlyphSetSimple   = "@%#*+=-:. "
	GlyphSetDetailed = "$@B%8&WM#*oahkbdpqwmZO0QLCJUYXzcvunxrjft/\\|()1{}[]?-_+~<>i!lI;:,\"^`'. "
	GlyphSetBinary   = "10 "
	GlyphSetMatrix   = "アカサタナハマヤラワガザダバパイキシチニヒミリヰギジヂビピウクスツヌフムユルグズヅブプエケセテネヘメレヱゲゼデベペオコソトノホモヨロヲゴゾドボポ"
)

var glyphSets = map[string]string{
	"block":    GlyphSetBlock,
	"simple":   GlyphSetSimple,
	"detailed": GlyphSetDetailed,
	"binary":   GlyphSetBinary,
	"matrix":   GlyphSetMatrix,
}

// GlyphSetNames returns the preset identifiers, sorted.
func GlyphSetNames() []string {
	names := make([]string, 0, len(glyphSets))
	for name := range glyphSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GlyphSets returns a copy of the preset table.
func GlyphSets() map[string]string {
	out := make(map[string]string, len(glyphSets))
	for k, v := range glyphSets {
		out[k] = v
	}
	return out
}

// ResolveGlyphSet maps a preset name to its characters. Anything that is
// not a preset name is taken as a literal glyph ramp.
func ResolveGlyphSet(value string) string {
	if set, ok := glyphSets[strings.ToLower(strings.TrimSpace(value))]; ok {
		return set
	}
	return value
}

// GlyphSetName returns the preset name for a ramp, or "custom".
func GlyphSetName(set string) string {
	for name, chars := range glyphSets {
		if chars == set {
			return name
		}
	}
	return "custom"
}

// NextGlyphSet cycles through the presets in name order. A custom ramp
// moves to the first preset.
func NextGlyphSet(current string) string {
	names := GlyphSetNames()
	name := GlyphSetName(current)
	for i, n := range names {
		if n == name {
			return glyphSets[names[(i+1)%len(names)]]
		}
	}
	return glyphSets[names[0]]
}
