package app

import (
	"math"

	"github.com/eiannone/keyboard"
	"github.com/guidoenr/glyphcast/internal/config"
)

type inputEvent int

const (
	inputEventNone inputEvent = iota
	inputEventConfig
	inputEventSnapshot
	inputEventAudioSource
	inputEventQuit
)

// keyBinding maps a key press to an event and, for config events, the
// change to apply.
type keyBinding struct {
	event inputEvent
	apply func(*config.Config)
	label string
}

const brightnessStep = 0.1

var keyBindings = map[rune]keyBinding{
	'g': {inputEventConfig, func(c *config.Config) { c.GlyphSet = config.NextGlyphSet(c.GlyphSet) }, "glyph set"},
	'c': {inputEventConfig, func(c *config.Config) { c.ColorMode = c.ColorMode.Next() }, "colour mode"},
	's': {inputEventConfig, func(c *config.Config) { c.Scanlines = !c.Scanlines }, "scanlines"},
	'a': {inputEventConfig, func(c *config.Config) { c.AudioReactivity = !c.AudioReactivity }, "audio reactivity"},
	'i': {inputEventConfig, func(c *config.Config) { c.Invert = !c.Invert }, "invert"},
	'p': {inputEventConfig, func(c *config.Config) { c.PersonOnly = !c.PersonOnly }, "person only"},
	']': {inputEventConfig, func(c *config.Config) { c.Brightness = stepValue(c.Brightness, brightnessStep) }, "brightness"},
	'[': {inputEventConfig, func(c *config.Config) { c.Brightness = stepValue(c.Brightness, -brightnessStep) }, "brightness"},
	'=': {inputEventConfig, func(c *config.Config) { c.Contrast = stepValue(c.Contrast, brightnessStep) }, "contrast"},
	'-': {inputEventConfig, func(c *config.Config) { c.Contrast = stepValue(c.Contrast, -brightnessStep) }, "contrast"},
	'm': {event: inputEventAudioSource, label: "audio source"},
	'x': {event: inputEventSnapshot, label: "snapshot"},
	'q': {event: inputEventQuit, label: "quit"},
}

// lookupKey resolves a keyboard event. Letters are case-insensitive.
func lookupKey(char rune, key keyboard.Key) keyBinding {
	if key == keyboard.KeyEsc || key == keyboard.KeyCtrlC {
		return keyBinding{event: inputEventQuit, label: "quit"}
	}
	if char >= 'A' && char <= 'Z' {
		char += 'a' - 'A'
	}
	if b, ok := keyBindings[char]; ok {
		return b
	}
	return keyBinding{event: inputEventNone}
}

// stepValue nudges v and rounds to one decimal so repeated steps stay exact.
func stepValue(v, step float64) float64 {
	return math.Round((v+step)*10) / 10
}
