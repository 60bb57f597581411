// Package config provides configuration loading and management for emseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"emseg/pkg/em"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// SliceGap represents the physical distance between consecutive slices in mm
		SliceGap float64 `yaml:"sliceGap"`
	} `yaml:"processing"`

	// Segmentation parameters of the mixture model
	Segmentation struct {
		// Classes is the number of tissue classes K
		Classes int `yaml:"classes"`

		// RegFactor is added to the diagonal of every class covariance
		RegFactor float64 `yaml:"regFactor"`

		// MinIterations and MaxIterations bound the EM iterations
		MinIterations int `yaml:"minIterations"`
		MaxIterations int `yaml:"maxIterations"`

		// Aprox selects the fast exponential
		Aprox bool `yaml:"aprox"`
	} `yaml:"segmentation"`

	// MRF spatial regularisation
	MRF struct {
		Enabled  bool    `yaml:"enabled"`
		Strength float64 `yaml:"strength"`

		// Beta optionally weights the energy of each class
		Beta []float64 `yaml:"beta,omitempty"`

		// TransitionMatrix optionally replaces the uniform-strength energies
		TransitionMatrix [][]float64 `yaml:"transitionMatrix,omitempty"`
	} `yaml:"mrf"`

	// Bias field correction
	BiasField struct {
		Enabled bool    `yaml:"enabled"`
		Order   int     `yaml:"order"`
		Ratio   float64 `yaml:"ratio"`
	} `yaml:"biasField"`

	// Outlier model
	Outlier struct {
		Enabled   bool    `yaml:"enabled"`
		Threshold float64 `yaml:"threshold"`
		Ratio     float64 `yaml:"ratio"`
	} `yaml:"outlier"`

	// Prior relaxation (requires priors)
	Relaxation struct {
		Enabled    bool    `yaml:"enabled"`
		Factor     float64 `yaml:"factor"`
		KernelSize float64 `yaml:"kernelSize"`
	} `yaml:"relaxation"`

	// MAP regularisation of single-channel class parameters
	MAP struct {
		Enabled   bool      `yaml:"enabled"`
		Means     []float64 `yaml:"means,omitempty"`
		Variances []float64 `yaml:"variances,omitempty"`
	} `yaml:"map"`

	// LoAd partial-volume options
	LoAd struct {
		PVModel       bool `yaml:"pvModel"`
		SGDelineation bool `yaml:"sgDelineation"`
	} `yaml:"load"`

	// Output parameters
	Output struct {
		// Dir is where result slices and the report are written
		Dir string `yaml:"dir"`

		// Format is the slice image format, png or jpg
		Format string `yaml:"format"`

		// Verbose controls the level of logging output (0, 1 or 2)
		Verbose int `yaml:"verbose"`

		// Report is the file name of the YAML run report inside Dir
		Report string `yaml:"report"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.SliceGap = 1.0

	// Set default segmentation parameters
	cfg.Segmentation.Classes = 3
	cfg.Segmentation.RegFactor = em.DefaultRegFactor
	cfg.Segmentation.MinIterations = em.DefaultMinIterations
	cfg.Segmentation.MaxIterations = em.DefaultMaxIterations

	// Optional models are off by default, with the engine's parameters
	cfg.MRF.Strength = em.DefaultMRFStrength
	cfg.BiasField.Order = em.DefaultBiasFieldOrder
	cfg.BiasField.Ratio = em.DefaultBiasFieldRatio
	cfg.Outlier.Threshold = em.DefaultOutlierThreshold
	cfg.Outlier.Ratio = em.DefaultOutlierRatio
	cfg.Relaxation.Factor = 0.5
	cfg.Relaxation.KernelSize = em.DefaultRelaxKernelSize

	// Set default output parameters
	cfg.Output.Dir = "output"
	cfg.Output.Format = "png"
	cfg.Output.Verbose = 1
	cfg.Output.Report = "report.yaml"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// NewSegmenter creates an engine for the configured number of classes on
// data with nu modalities and applies the configuration to it.
func (cfg *Config) NewSegmenter(nu int) *em.Segmenter {
	s := em.New(cfg.Segmentation.Classes, nu, 1)
	cfg.Apply(s)
	return s
}

// Apply transfers every configured option to s. Input, mask and priors are
// left to the caller. Validation is the engine's job (CheckParameters).
func (cfg *Config) Apply(s *em.Segmenter) {
	if cfg.Processing.NumCores > 0 {
		s.SetWorkers(cfg.Processing.NumCores)
	}

	s.SetRegValue(cfg.Segmentation.RegFactor)
	s.SetMinIterationNumber(cfg.Segmentation.MinIterations)
	s.SetMaximalIterationNumber(cfg.Segmentation.MaxIterations)
	s.SetAprox(cfg.Segmentation.Aprox)

	if cfg.MRF.Enabled {
		s.SetMRF(cfg.MRF.Strength)
		if len(cfg.MRF.TransitionMatrix) > 0 {
			s.SetMRFTransitionMatrix(cfg.MRF.TransitionMatrix)
		}
		if len(cfg.MRF.Beta) > 0 {
			s.SetMRFBeta(cfg.MRF.Beta)
		}
	}
	if cfg.BiasField.Enabled {
		s.SetBiasField(cfg.BiasField.Order, cfg.BiasField.Ratio)
	}
	if cfg.Outlier.Enabled {
		s.SetOutlierness(cfg.Outlier.Threshold, cfg.Outlier.Ratio)
	}
	if cfg.MAP.Enabled {
		s.SetMAP(cfg.MAP.Means, cfg.MAP.Variances)
	}

	s.SetLoAd(cfg.Relaxation.Factor, false, cfg.LoAd.PVModel, cfg.LoAd.SGDelineation)
	if cfg.Relaxation.Enabled {
		s.SetRelaxation(cfg.Relaxation.Factor, cfg.Relaxation.KernelSize)
	}

	s.SetVerbose(cfg.Output.Verbose)
}
