package project

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WriteProject writes a project to a YAML file
func WriteProject(p *Project, path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadProject reads a project from a YAML or JSON file
func ReadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProject(data)
}

// ParseProject decodes a YAML or JSON document. JSON is accepted because it
// is a subset of YAML.
func ParseProject(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// UnmarshalYAML defaults omitted visibility and opacity to a visible,
// opaque layer.
func (l *Layer) UnmarshalYAML(value *yaml.Node) error {
	type rawLayer Layer
	raw := rawLayer{Visible: true, Opacity: 1}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*l = Layer(raw)
	return nil
}

// UnmarshalJSON applies the same defaults as UnmarshalYAML.
func (l *Layer) UnmarshalJSON(data []byte) error {
	type rawLayer Layer
	raw := rawLayer{Visible: true, Opacity: 1}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Layer(raw)
	return nil
}
