package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/camden-git/scamqc/models"
	"gopkg.in/yaml.v3"
)

// DefaultPreset is always available, even without a presets file
const DefaultPreset = "default"

type presetsFile struct {
	Presets map[string]yaml.Node `yaml:"presets"`
}

// Presets maps a preset name to a complete detection option set
type Presets map[string]models.DetectionOptions

// Names returns the preset names in sorted order
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a preset by name
func (p Presets) Get(name string) (models.DetectionOptions, error) {
	if name == "" {
		name = DefaultPreset
	}
	o, ok := p[name]
	if !ok {
		return models.DetectionOptions{}, fmt.Errorf("unknown detection preset %q", name)
	}
	return o, nil
}

// LoadPresets reads a YAML file of named option sets. Every preset starts from
// the detector defaults, so a file only lists what it overrides. An empty
// path or a missing file yields the default preset alone.
func LoadPresets(path string) (Presets, error) {
	presets := Presets{DefaultPreset: models.DefaultDetectionOptions()}
	if path == "" {
		return presets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return presets, nil
		}
		return nil, fmt.Errorf("reading presets %s: %w", path, err)
	}

	var file presetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing presets %s: %w", path, err)
	}
	for name, node := range file.Presets {
		opts := models.DefaultDetectionOptions()
		if err := node.Decode(&opts); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		if opts.Direction != models.DirectionVertical && opts.Direction != models.DirectionHorizontal {
			return nil, fmt.Errorf("preset %q: direction must be %s or %s", name, models.DirectionVertical, models.DirectionHorizontal)
		}
		if opts.NbPagesExpected < 0 {
			return nil, fmt.Errorf("preset %q: nb_pages_expected must not be negative", name)
		}
		presets[name] = opts
	}
	return presets, nil
}
