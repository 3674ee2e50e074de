package optim

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/n0madic/go-poisson-lognormal/packer"
)

var (
	// ErrConfig marks invalid optimizer configuration. Runs fail with it
	// before any objective evaluation.
	ErrConfig = errors.New("optim: invalid configuration")

	// ErrObjective wraps a fatal error raised by the objective during a run.
	ErrObjective = errors.New("optim: objective failed")
)

// Settings is the user-facing configuration record, as read from files or
// requests.
//
// XTolAbs is either a scalar applied to every parameter or a map from block
// name to a scalar or a block-shaped array. Blocks missing from the map get
// a zero (disabled) tolerance.
type Settings struct {
	Algorithm string  `json:"algorithm" yaml:"algorithm" toml:"algorithm"`
	XTolAbs   any     `json:"xtol_abs" yaml:"xtol_abs" toml:"xtol_abs"`
	XTolRel   float64 `json:"xtol_rel" yaml:"xtol_rel" toml:"xtol_rel"`
	FTolAbs   float64 `json:"ftol_abs" yaml:"ftol_abs" toml:"ftol_abs"`
	FTolRel   float64 `json:"ftol_rel" yaml:"ftol_rel" toml:"ftol_rel"`
	MaxEval   int     `json:"maxeval" yaml:"maxeval" toml:"maxeval"`
	// MaxTime is the wall-clock cap in seconds.
	MaxTime float64 `json:"maxtime" yaml:"maxtime" toml:"maxtime"`
}

// DefaultSettings mirrors the defaults of the PLN fitting front end.
func DefaultSettings() Settings {
	return Settings{
		Algorithm: "LBFGS",
		XTolAbs:   0.0,
		XTolRel:   1e-6,
		FTolAbs:   0,
		FTolRel:   1e-8,
		MaxEval:   10000,
		MaxTime:   -1,
	}
}

// Config is a resolved configuration for one packed parameter vector.
type Config struct {
	Algorithm Algorithm
	// XTolAbs holds one absolute step tolerance per packed element.
	XTolAbs []float64
	XTolRel float64
	FTolAbs float64
	FTolRel float64
	// MaxEval caps objective evaluations; zero or negative means no cap.
	MaxEval int
	// MaxTime caps wall-clock time; zero or negative means no cap.
	MaxTime time.Duration
}

// Resolve checks s and expands XTolAbs over pk's layout.
func (s Settings) Resolve(pk *packer.Packer) (Config, error) {
	alg, err := ParseAlgorithm(s.Algorithm)
	if err != nil {
		return Config{}, err
	}
	xtol := pk.NewArena()
	switch v := s.XTolAbs.(type) {
	case nil:
	case float64, int, int64:
		for _, b := range pk.Blocks() {
			if err := pk.PackScalarOrShaped(b, xtol, v); err != nil {
				return Config{}, fmt.Errorf("%w: xtol_abs: %v", ErrConfig, err)
			}
		}
	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b, ok := pk.Block(name)
			if !ok {
				return Config{}, fmt.Errorf("%w: xtol_abs: unknown parameter %q", ErrConfig, name)
			}
			if err := pk.PackScalarOrShaped(b, xtol, v[name]); err != nil {
				return Config{}, fmt.Errorf("%w: xtol_abs[%s]: %v", ErrConfig, name, err)
			}
		}
	default:
		return Config{}, fmt.Errorf("%w: xtol_abs must be a number or a map of per-parameter values, got %T", ErrConfig, s.XTolAbs)
	}
	cfg := Config{
		Algorithm: alg,
		XTolAbs:   xtol,
		XTolRel:   s.XTolRel,
		FTolAbs:   s.FTolAbs,
		FTolRel:   s.FTolRel,
		MaxEval:   s.MaxEval,
	}
	if s.MaxTime > 0 {
		cfg.MaxTime = time.Duration(s.MaxTime * float64(time.Second))
	}
	return cfg, nil
}

// validate reports the first rejected knob, naming it.
func (c Config) validate(dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: empty parameter vector", ErrConfig)
	}
	if len(c.XTolAbs) != dim {
		return fmt.Errorf("%w: xtol_abs has %d elements, want %d", ErrConfig, len(c.XTolAbs), dim)
	}
	for i, v := range c.XTolAbs {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: xtol_abs[%d] is NaN", ErrConfig, i)
		}
	}
	if c.MaxTime < 0 {
		return fmt.Errorf("%w: maxtime is negative", ErrConfig)
	}
	for _, knob := range []struct {
		name string
		v    float64
	}{
		{"xtol_rel", c.XTolRel},
		{"ftol_abs", c.FTolAbs},
		{"ftol_rel", c.FTolRel},
	} {
		if math.IsNaN(knob.v) {
			return fmt.Errorf("%w: %s is NaN", ErrConfig, knob.name)
		}
	}
	return nil
}
