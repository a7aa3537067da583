// Package config loads and saves the TOML settings document shared by
// the SDL front-end and the headless driver. It mirrors the shape of
// the original settings store: a [video] table and a [piano_roll]
// table, with documented defaults applied to whatever the file omits.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// VideoSettings controls the display front-end.
type VideoSettings struct {
	NTSCFilter       bool `toml:"ntsc_filter"`
	SimulateOverscan bool `toml:"simulate_overscan"`
	DisplayFPS       bool `toml:"display_fps"`
	ScaleFactor      int  `toml:"scale_factor"`
}

// PianoRollSettings sizes the optional piano-roll debug panel.
type PianoRollSettings struct {
	CanvasWidth      int `toml:"canvas_width"`
	CanvasHeight     int `toml:"canvas_height"`
	KeyLength        int `toml:"key_length"`
	KeyThickness     int `toml:"key_thickness"`
	OctaveCount      int `toml:"octave_count"`
	ScaleFactor      int `toml:"scale_factor"`
	SpeedMultiplier  int `toml:"speed_multiplier"`
	StartingOctave   int `toml:"starting_octave"`
	WaveformHeight   int `toml:"waveform_height"`
}

// Settings is the root TOML document.
type Settings struct {
	Video     VideoSettings     `toml:"video"`
	PianoRoll PianoRollSettings `toml:"piano_roll"`
}

// Default returns the documented default settings, applied whenever a
// key (or the whole file) is missing.
func Default() Settings {
	return Settings{
		Video: VideoSettings{
			NTSCFilter:       false,
			SimulateOverscan: false,
			DisplayFPS:       false,
			ScaleFactor:      2,
		},
		PianoRoll: PianoRollSettings{
			CanvasWidth:     1920,
			CanvasHeight:    1080,
			KeyLength:       64,
			KeyThickness:    16,
			OctaveCount:     9,
			ScaleFactor:     1,
			SpeedMultiplier: 6,
			StartingOctave:  0,
			WaveformHeight:  128,
		},
	}
}

// Load reads settings from path. A missing or unparsable file yields
// the documented defaults rather than an error, matching the original
// store's fall-back-on-any-failure behavior; a present file's missing
// keys are filled from the same defaults field by field.
func Load(path string) Settings {
	settings := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return settings
	}

	if _, err := toml.Decode(string(data), &settings); err != nil {
		return Default()
	}

	return settings
}

// Save writes settings to path as TOML, overwriting any existing file.
func Save(path string, settings Settings) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	return encoder.Encode(settings)
}
