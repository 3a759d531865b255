package registry

import (
	"fmt"
	"os"

	"github.com/dukex/sellflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// StagesFile is the YAML document describing a pipeline.
type StagesFile struct {
	Stages []models.Stage `yaml:"stages"`
}

// LoadFile reads stage definitions from a YAML file.
func LoadFile(path string) ([]models.Stage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stages file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes stage definitions from YAML.
func Parse(data []byte) ([]models.Stage, error) {
	var file StagesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse stages YAML: %w", err)
	}

	if len(file.Stages) == 0 {
		return nil, fmt.Errorf("stages file declares no stages")
	}

	return file.Stages, nil
}

// RegisterAll registers stages in order and stops at the first invalid definition.
func (r *Registry) RegisterAll(stages []models.Stage) error {
	for _, stage := range stages {
		if err := r.Register(stage); err != nil {
			return err
		}
	}

	return nil
}
