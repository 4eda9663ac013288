package export

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var builtinPresets []byte

// Recommendations are the soft and hard limits of a platform.
type Recommendations struct {
	MaxFileSize int64   `yaml:"maxFileSize,omitempty" json:"maxFileSize,omitempty"` // bytes
	MaxDuration float64 `yaml:"maxDuration,omitempty" json:"maxDuration,omitempty"` // seconds
	IdealFormat string  `yaml:"idealFormat,omitempty" json:"idealFormat,omitempty"`
}

// Preset is a named bundle of settings and constraints for a platform.
type Preset struct {
	ID               string          `yaml:"id" json:"id"`
	Name             string          `yaml:"name" json:"name"`
	Description      string          `yaml:"description,omitempty" json:"description,omitempty"`
	Platform         string          `yaml:"platform,omitempty" json:"platform,omitempty"`
	Settings         SettingsPatch   `yaml:"settings" json:"settings"`
	SupportedFormats []string        `yaml:"supportedFormats" json:"supportedFormats"`
	Recommendations  Recommendations `yaml:"recommendations" json:"recommendations"`
}

// Catalog is a read-only set of presets.
type Catalog struct {
	presets map[string]Preset
	order   []string
}

type catalogFile struct {
	Presets []Preset `yaml:"presets"`
}

// ParseCatalog decodes a YAML preset catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	c := &Catalog{presets: make(map[string]Preset, len(f.Presets))}
	for i, p := range f.Presets {
		if p.ID == "" {
			return nil, fmt.Errorf("preset %d has no id", i)
		}
		if _, dup := c.presets[p.ID]; dup {
			return nil, fmt.Errorf("duplicate preset %q", p.ID)
		}
		c.presets[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

// LoadCatalog reads a preset catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the built-in presets.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(builtinPresets)
	if err != nil {
		panic(fmt.Sprintf("built-in presets: %v", err))
	}
	return c
}

func (c *Catalog) Get(id string) (Preset, bool) {
	p, ok := c.presets[id]
	return p, ok
}

// List returns the presets in catalog order.
func (c *Catalog) List() []Preset {
	out := make([]Preset, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.presets[id])
	}
	return out
}

// ValidationResult is the outcome of a preset check.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ValidatePlatformSettings checks s against a preset's duration cap and
// format list. It never modifies s.
func ValidatePlatformSettings(c *Catalog, presetID string, s Settings) ValidationResult {
	p, ok := c.Get(presetID)
	if !ok {
		return ValidationResult{Errors: []string{fmt.Sprintf("unknown platform preset %q", presetID)}}
	}

	var errs []string
	if limit := p.Recommendations.MaxDuration; limit > 0 && s.Duration > limit*1000 {
		errs = append(errs, fmt.Sprintf("%s allows at most %gs, requested %gs", p.Name, limit, s.Duration/1000))
	}
	if len(p.SupportedFormats) > 0 && !slices.Contains(p.SupportedFormats, s.Format) {
		errs = append(errs, fmt.Sprintf("%s does not accept %s (supported: %v)", p.Name, s.Format, p.SupportedFormats))
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
