// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/sellflow/pkg/config"
	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/registry"
	"github.com/dukex/sellflow/pkg/stages"
)

// LoadStages returns the stage definitions cfg selects: the YAML file when one is set,
// the built-in marketplace pipeline otherwise.
func LoadStages(cfg config.Config) ([]models.Stage, error) {
	if cfg.UsesBuiltinStages() {
		return stages.Marketplace(cfg.Endpoints), nil
	}

	defs, err := registry.LoadFile(cfg.StagesFile)
	if err != nil {
		return nil, err
	}

	return defs, nil
}

// NewRegistry builds a registry holding the configured stages.
func NewRegistry(logger *slog.Logger, cfg config.Config) (*registry.Registry, error) {
	defs, err := LoadStages(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry(logger)
	if err := reg.RegisterAll(defs); err != nil {
		return nil, fmt.Errorf("failed to register stages: %w", err)
	}

	return reg, nil
}
