package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/femildignizant/tambola/internal/game"
	"github.com/femildignizant/tambola/internal/tambola"
)

//go:embed presets.yaml
var defaultPresets []byte

type presetPattern struct {
	Pattern string `yaml:"pattern"`
	Enabled *bool  `yaml:"enabled"`
	Points  []int  `yaml:"points"`
}

// LoadPresets returns the built-in pattern presets, overlaid with the presets
// in path when path is not empty. A preset in the file replaces the built-in
// preset of the same name.
func LoadPresets(path string) (map[string][]tambola.GamePattern, error) {
	presets, err := parsePresets(defaultPresets)
	if err != nil {
		return nil, fmt.Errorf("built-in presets: %w", err)
	}
	if path == "" {
		return presets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading presets: %w", err)
	}
	extra, err := parsePresets(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, patterns := range extra {
		presets[name] = patterns
	}
	return presets, nil
}

func parsePresets(data []byte) (map[string][]tambola.GamePattern, error) {
	var raw map[string][]presetPattern
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding presets: %w", err)
	}

	presets := make(map[string][]tambola.GamePattern, len(raw))
	for name, entries := range raw {
		patterns := make([]tambola.GamePattern, 0, len(entries))
		for _, e := range entries {
			if len(e.Points) < 1 || len(e.Points) > 3 {
				return nil, fmt.Errorf("preset %q: %s needs 1-3 point values", name, e.Pattern)
			}
			gp := tambola.GamePattern{
				Pattern:   tambola.Pattern(e.Pattern),
				Enabled:   e.Enabled == nil || *e.Enabled,
				Points1st: e.Points[0],
			}
			if len(e.Points) > 1 {
				gp.Points2nd = &e.Points[1]
			}
			if len(e.Points) > 2 {
				gp.Points3rd = &e.Points[2]
			}
			patterns = append(patterns, gp)
		}
		if err := game.ValidatePatterns(patterns); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		presets[name] = patterns
	}
	return presets, nil
}
