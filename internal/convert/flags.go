// Package convert wires the conversion pipeline together: configuration
// flags select the optimizer passes and the quantizer variant, and the
// Transform state machine runs them over a bound graph.
package convert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/graft-ml/graft/internal/optimize"
	"github.com/graft-ml/graft/internal/quant"
)

// Flags is the read-only configuration for one conversion run. An empty
// pass list means the canonical default pipeline; an empty quantization
// mode means none.
type Flags struct {
	Passes       []string               `yaml:"passes"`
	Quantization quant.Config           `yaml:"quantization"`
	Calibration  quant.CalibrationStats `yaml:"calibration"`
}

// LoadFlags reads flags from a YAML file.
func LoadFlags(path string) (Flags, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Flags{}, fmt.Errorf("load flags: %w", err)
	}
	var f Flags
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Flags{}, fmt.Errorf("load flags: %w", err)
	}
	f = f.withDefaults()
	if err := f.Validate(); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// withDefaults fills in the zero-value conveniences.
func (f Flags) withDefaults() Flags {
	if f.Quantization.Mode == "" {
		f.Quantization.Mode = quant.ModeNone
	}
	if f.Quantization.BitWidth == 0 {
		f.Quantization.BitWidth = 8
	}
	return f
}

// Validate checks every configured pass name resolves and the
// quantization mode is known.
func (f Flags) Validate() error {
	if _, err := optimize.ForNames(f.Passes); err != nil {
		return err
	}
	switch f.Quantization.Mode {
	case quant.ModeNone, quant.ModeWeightOnly, quant.ModeFullInteger, quant.ModeAware:
		return nil
	default:
		return fmt.Errorf("%w: mode %q", quant.ErrInvalidConfig, f.Quantization.Mode)
	}
}
