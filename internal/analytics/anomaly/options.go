package anomaly

import (
	"fmt"
	"math"
)

// Detector defaults.
const (
	DefaultZScoreThreshold       = 2.5
	DefaultIQRMultiplier         = 1.5
	DefaultSuddenChangeWindow    = 5
	DefaultSuddenChangeThreshold = 2.0
	DefaultTrendBreakWindow      = 10
	DefaultTrendSensitivity      = 0.5
	DefaultContamination         = 0.1
	DefaultMultiThreshold        = 2.0
)

// ConfigurationError reports an invalid detector parameter. It is returned
// before any computation starts.
type ConfigurationError struct {
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

// Options are the recognized ensemble parameters. A zero field means "use the
// default of each detector", so Threshold 0 keeps 2.5 for the z-score and 2 for
// sudden change.
type Options struct {
	Threshold     float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Multiplier    float64  `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	WindowSize    int      `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	Sensitivity   float64  `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	Contamination float64  `json:"contamination,omitempty" yaml:"contamination,omitempty"`
	Methods       []Method `json:"methods,omitempty" yaml:"methods,omitempty"`
}

// Validate checks every field without applying defaults.
func (o Options) Validate() error {
	if err := checkNonNegative("threshold", o.Threshold); err != nil {
		return err
	}
	if err := checkNonNegative("multiplier", o.Multiplier); err != nil {
		return err
	}
	if err := checkNonNegative("sensitivity", o.Sensitivity); err != nil {
		return err
	}
	if o.WindowSize < 0 {
		return &ConfigurationError{Param: "window_size", Reason: fmt.Sprintf("must be positive, got %d", o.WindowSize)}
	}
	if o.Contamination != 0 {
		if err := checkContamination(o.Contamination); err != nil {
			return err
		}
	}
	for _, m := range o.Methods {
		if _, err := ParseMethod(string(m)); err != nil {
			return err
		}
	}
	return nil
}

// Merge returns o with its zero fields taken from base.
func (o Options) Merge(base Options) Options {
	if o.Threshold == 0 {
		o.Threshold = base.Threshold
	}
	if o.Multiplier == 0 {
		o.Multiplier = base.Multiplier
	}
	if o.WindowSize == 0 {
		o.WindowSize = base.WindowSize
	}
	if o.Sensitivity == 0 {
		o.Sensitivity = base.Sensitivity
	}
	if o.Contamination == 0 {
		o.Contamination = base.Contamination
	}
	if len(o.Methods) == 0 {
		o.Methods = append([]Method(nil), base.Methods...)
	}
	return o
}

// methods returns the de-duplicated selection, or DefaultMethods when empty.
func (o Options) methods() []Method {
	if len(o.Methods) == 0 {
		return append([]Method(nil), DefaultMethods...)
	}
	seen := make(map[Method]bool, len(o.Methods))
	out := make([]Method, 0, len(o.Methods))
	for _, m := range o.Methods {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// checkSeries rejects NaN and infinite samples. Every comparison against a NaN
// is false, so one of them would flag the whole series.
func checkSeries(param string, series []float64) error {
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ConfigurationError{Param: param, Reason: fmt.Sprintf("value at index %d is not a finite number", i)}
		}
	}
	return nil
}

func checkNonNegative(param string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ConfigurationError{Param: param, Reason: "must be a finite number"}
	}
	if v < 0 {
		return &ConfigurationError{Param: param, Reason: fmt.Sprintf("must not be negative, got %g", v)}
	}
	return nil
}

func checkPositive(param string, v float64) error {
	if err := checkNonNegative(param, v); err != nil {
		return err
	}
	if v == 0 {
		return &ConfigurationError{Param: param, Reason: "must be positive"}
	}
	return nil
}

func checkWindow(w int) error {
	if w <= 0 {
		return &ConfigurationError{Param: "window_size", Reason: fmt.Sprintf("must be positive, got %d", w)}
	}
	return nil
}

func checkContamination(c float64) error {
	if math.IsNaN(c) || c <= 0 || c >= 1 {
		return &ConfigurationError{Param: "contamination", Reason: fmt.Sprintf("must be in (0, 1), got %g", c)}
	}
	return nil
}
