package analysis

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var defaultProfiles embed.FS

const DefaultProfile = "standard"

type Severity int

const (
	SeverityNone Severity = iota
	SeverityInaccuracy
	SeverityMistake
	SeverityBlunder
)

func (s Severity) String() string {
	switch s {
	case SeverityInaccuracy:
		return "inaccuracy"
	case SeverityMistake:
		return "mistake"
	case SeverityBlunder:
		return "blunder"
	default:
		return "none"
	}
}

// Profile names a probability-model constant together with its severity thresholds.
type Profile struct {
	Name       string  `yaml:"-"`
	K          float64 `yaml:"k"`
	Inaccuracy float64 `yaml:"inaccuracy"`
	Mistake    float64 `yaml:"mistake"`
	Blunder    float64 `yaml:"blunder"`
}

func (p Profile) Model() Model { return Model{K: p.K} }

// Classify buckets a win-probability swing. Boundaries belong to the more severe bucket.
func (p Profile) Classify(delta float64) Severity {
	switch {
	case delta >= p.Blunder:
		return SeverityBlunder
	case delta >= p.Mistake:
		return SeverityMistake
	case delta >= p.Inaccuracy:
		return SeverityInaccuracy
	default:
		return SeverityNone
	}
}

func (p Profile) Validate() error {
	if p.K >= 0 {
		return fmt.Errorf("profile %s: k must be negative, got %v", p.Name, p.K)
	}
	if !(0 < p.Inaccuracy && p.Inaccuracy < p.Mistake && p.Mistake < p.Blunder && p.Blunder <= 1) {
		return fmt.Errorf("profile %s: thresholds must satisfy 0 < inaccuracy < mistake < blunder <= 1", p.Name)
	}
	return nil
}

// Profiles is the set of named profiles known at startup.
type Profiles map[string]Profile

// LoadProfiles reads the embedded profiles and then applies *.yaml overrides from dir, if given.
func LoadProfiles(overrideDir string) (Profiles, error) {
	raw, err := fs.ReadFile(defaultProfiles, "profiles.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded profiles: %w", err)
	}
	out := make(Profiles)
	if err := out.apply(raw); err != nil {
		return nil, fmt.Errorf("parse embedded profiles: %w", err)
	}
	if strings.TrimSpace(overrideDir) == "" {
		return out, nil
	}

	entries, err := os.ReadDir(overrideDir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(overrideDir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if err := out.apply(b); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return out, nil
}

func (ps Profiles) apply(b []byte) error {
	var m map[string]Profile
	if err := yaml.Unmarshal(b, &m); err != nil {
		return err
	}
	for name, p := range m {
		p.Name = strings.TrimSpace(name)
		if err := p.Validate(); err != nil {
			return err
		}
		ps[p.Name] = p
	}
	return nil
}

// Select returns the named profile; an empty name selects DefaultProfile.
func (ps Profiles) Select(name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultProfile
	}
	p, ok := ps[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown analysis profile %q", name)
	}
	return p, nil
}
