package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a PipelineConfig from a YAML file at path, applying Default
// first so unset fields keep their documented defaults.
func Load(path string) (PipelineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML PipelineConfig from r, rejecting unknown
// fields, and validates the result.
func LoadFromReader(r io.Reader) (PipelineConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return PipelineConfig{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}
