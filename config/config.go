// Package config loads fit runs from YAML, JSON or TOML files and reads
// their CSV inputs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/n0madic/go-poisson-lognormal/optim"
	"github.com/n0madic/go-poisson-lognormal/pln"
)

// ErrInvalid marks a configuration that loaded but cannot be run.
var ErrInvalid = errors.New("config: invalid run")

// DataPaths names the CSV files of a run. Only Y is required: X defaults
// to an intercept column, O to zeros and W to unit weights.
type DataPaths struct {
	Y string `json:"y" yaml:"y" toml:"y"`
	X string `json:"x" yaml:"x" toml:"x"`
	O string `json:"o" yaml:"o" toml:"o"`
	W string `json:"w" yaml:"w" toml:"w"`
}

// Run describes one fit.
type Run struct {
	Variant   string         `json:"variant" yaml:"variant" toml:"variant"`
	Rank      int            `json:"rank" yaml:"rank" toml:"rank"`
	Optimizer optim.Settings `json:"optimizer" yaml:"optimizer" toml:"optimizer"`
	Data      DataPaths      `json:"data" yaml:"data" toml:"data"`
	// Omega is the CSV file of the fixed precision matrix of the sparse
	// model.
	Omega string `json:"omega" yaml:"omega" toml:"omega"`
	// Output is where the JSON report goes; empty means stdout.
	Output string `json:"output" yaml:"output" toml:"output"`
}

// Default returns a full-covariance run with default optimizer settings.
func Default() Run {
	return Run{
		Variant:   string(pln.VariantFull),
		Optimizer: optim.DefaultSettings(),
	}
}

// Load reads a run based on the file extension. Supports .yaml/.yml,
// .json and .toml. Keys missing from the file keep their Default values;
// relative data paths are resolved against the file's directory.
func Load(path string) (Run, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, cfg.Validate()
}

func (r *Run) resolvePaths(dir string) {
	for _, p := range []*string{&r.Data.Y, &r.Data.X, &r.Data.O, &r.Data.W, &r.Omega} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks the run without touching the data files.
func (r Run) Validate() error {
	v, err := pln.ParseVariant(r.Variant)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if v == pln.VariantRank && r.Rank < 1 {
		return fmt.Errorf("%w: rank must be positive for the rank model, got %d", ErrInvalid, r.Rank)
	}
	if v == pln.VariantSparse && r.Omega == "" {
		return fmt.Errorf("%w: the sparse model needs an omega file", ErrInvalid)
	}
	if r.Data.Y == "" {
		return fmt.Errorf("%w: data.y is required", ErrInvalid)
	}
	if _, err := optim.ParseAlgorithm(r.Optimizer.Algorithm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
