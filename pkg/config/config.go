package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kacperjurak/goimpfit"
)

// ArrayFlags collects repeated float flags, each value may also be a
// comma-separated list.
type ArrayFlags []float64

func (a *ArrayFlags) String() string {
	parts := make([]string, len(*a))
	for i, v := range *a {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (a *ArrayFlags) Set(value string) error {
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		val, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*a = append(*a, val)
	}
	return nil
}

// Config holds all configuration settings for the fitter.
type Config struct {
	Code         string     `yaml:"code"`
	File         string     `yaml:"file"`
	InitValues   ArrayFlags `yaml:"init_values"`
	CutLow       uint       `yaml:"cut_low"`
	CutHigh      uint       `yaml:"cut_high"`
	Unity        bool       `yaml:"unity"`
	OptimMethod  string     `yaml:"method"`
	SkipGuess    bool       `yaml:"skip_guess"`
	MaxIter      int        `yaml:"max_iterations"`
	MaxFuncEvals int        `yaml:"max_func_evals"`
	Tolerance    float64    `yaml:"tolerance"`
	Output       string     `yaml:"output"`
	JSON         bool       `yaml:"json"`
	ImgSave      bool       `yaml:"img_save"`
	ImgPath      string     `yaml:"img_path"`
	ImgDPI       uint       `yaml:"img_dpi"`
	ImgSize      uint       `yaml:"img_size"`
	Flip         bool       `yaml:"flip"`
	Threads      uint       `yaml:"threads"`
	TimingsPath  string     `yaml:"timings_path"`
	Quiet        bool       `yaml:"quiet"`
	CPUProfile   string     `yaml:"cpu_profile"`
	MemProfile   string     `yaml:"mem_profile"`
}

// DefaultConfig returns a configuration with sensible defaults: the
// reference topology with a guess for its non-derived parameters.
func DefaultConfig() *Config {
	return &Config{
		Code:         goimpfit.ReferenceTopology,
		InitValues:   ArrayFlags{0.01, 0.01, 100, 1, 1e-4, 0.8},
		OptimMethod:  string(goimpfit.LevenbergMarquardt),
		MaxIter:      100000,
		MaxFuncEvals: 100000,
		Tolerance:    1e-13,
		ImgPath:      "eis.svg",
		ImgDPI:       96,
		ImgSize:      4,
		Flip:         true,
		Threads:      5,
		TimingsPath:  "batch_timing_results.csv",
	}
}

// Load overlays the YAML file at path onto cfg.
func (c *Config) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks values that flags and YAML cannot constrain.
func (c *Config) Validate() error {
	if _, err := goimpfit.Parse(c.Code); err != nil {
		return err
	}
	if c.OptimMethod != "all" {
		if _, err := goimpfit.NewSolver(goimpfit.Method(c.OptimMethod)); err != nil {
			return err
		}
	}
	if c.MaxIter <= 0 || c.MaxFuncEvals <= 0 {
		return fmt.Errorf("iteration and evaluation limits must be positive")
	}
	if !(c.Tolerance > 0) {
		return fmt.Errorf("tolerance must be positive, got %v", c.Tolerance)
	}
	if c.Threads == 0 {
		return fmt.Errorf("threads must be at least 1")
	}
	return nil
}

// Tolerances converts the limits into solver tolerances.
func (c *Config) Tolerances() goimpfit.Tolerances {
	tol := goimpfit.DefaultTolerances()
	tol.MaxIterations = c.MaxIter
	tol.MaxFuncEvals = c.MaxFuncEvals
	tol.GradTol = c.Tolerance
	tol.StepTol = c.Tolerance
	return tol
}

// Weighting returns the chi-square weighting selected by Unity.
func (c *Config) Weighting() goimpfit.Weighting {
	if c.Unity {
		return goimpfit.UNITY
	}
	return goimpfit.MODULUS
}
