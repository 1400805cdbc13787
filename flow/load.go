package flow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LoadYAML parses a YAML-encoded FlowConfig. Flow authors write flows in
// YAML, the same way the teacher's agent templates and configuration files
// are authored; callers should run the result through the validate package
// before binding it to a session.
func LoadYAML(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse flow yaml: %w", err)
	}
	return cfg, nil
}
