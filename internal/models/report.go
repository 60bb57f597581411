package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"emseg/pkg/evaluation"
)

// ClassSummary describes one estimated tissue class
type ClassSummary struct {
	// Label is the value written for this class in the label slices
	Label int `yaml:"label"`

	// Mean and STD are per channel, in input intensity units
	Mean []float64 `yaml:"mean"`
	STD  []float64 `yaml:"std"`

	// Proportion is the mixing proportion of the class
	Proportion float64 `yaml:"proportion"`
}

// Features lists the optional models enabled for a run
type Features struct {
	MRF         bool `yaml:"mrf"`
	BiasField   bool `yaml:"biasField"`
	Outlierness bool `yaml:"outlierness"`
	Relaxation  bool `yaml:"relaxation"`
	MAP         bool `yaml:"map"`
	PVModel     bool `yaml:"pvModel"`
	Priors      bool `yaml:"priors"`
}

// Report is the summary written next to the segmentation outputs
type Report struct {
	// Input describes where the data came from
	Input []string `yaml:"input"`

	// Geometry is the volume geometry, e.g. 64x64x32x1x1 (1.00x1.00x1.50 mm)
	Geometry string `yaml:"geometry"`

	// Voxels is the number of masked voxels that were classified
	Voxels int `yaml:"voxels"`

	Features Features `yaml:"features"`

	// State is the terminal state of the engine
	State string `yaml:"state"`

	Iterations    int       `yaml:"iterations"`
	LogLikelihood float64   `yaml:"logLikelihood"`
	Ratio         float64   `yaml:"ratio"`
	History       []float64 `yaml:"history,omitempty"`

	// Underflows counts the voxels that fell back to uniform responsibilities
	// in the last Expectation step
	Underflows int `yaml:"underflows"`

	Classes []ClassSummary `yaml:"classes"`

	// Metrics against a reference labelling, when one was given
	Metrics *evaluation.Metrics `yaml:"metrics,omitempty"`

	Started  time.Time     `yaml:"started"`
	Duration time.Duration `yaml:"duration"`
}

// Save writes the report as YAML
func (r *Report) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("error marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by Save
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading report: %w", err)
	}
	r := &Report{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("error parsing report: %w", err)
	}
	return r, nil
}
