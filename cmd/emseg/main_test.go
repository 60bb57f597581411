package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"emseg/internal/models"
	"emseg/pkg/config"
)

// TestSplitList checks the comma-separated flag parsing
func TestSplitList(t *testing.T) {
	got := splitList(" t1, ,t2,")
	if len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Errorf("Unexpected split %q", got)
	}
	if splitList("") != nil {
		t.Error("An empty flag should give no entries")
	}
}

// TestPhantomJob runs the whole command pipeline on the built-in phantom
func TestPhantomJob(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := config.DefaultConfig()
	cfg.Segmentation.Classes = 3
	cfg.MRF.Enabled = true
	cfg.BiasField.Enabled = true
	cfg.Outlier.Enabled = true
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Verbose = 0

	j := &job{cfg: cfg, log: zerolog.Nop()}
	if err := j.run(true, "", nil, ""); err != nil {
		t.Fatalf("Phantom run failed: %v", err)
	}

	for _, sub := range []string{"class_0", "class_2", "labels", "corrected", "biasfield", "outlierness"} {
		files, err := os.ReadDir(filepath.Join(cfg.Output.Dir, sub))
		if err != nil {
			t.Errorf("Missing output %s: %v", sub, err)
			continue
		}
		if len(files) != 24 {
			t.Errorf("%s: expected 24 slices, got %d", sub, len(files))
		}
	}

	report, err := models.LoadReport(filepath.Join(cfg.Output.Dir, cfg.Output.Report))
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}
	if len(report.Classes) != 3 || report.Metrics == nil {
		t.Fatalf("Incomplete report: %+v", report)
	}
	if report.Underflows != 0 {
		t.Errorf("Expected no underflowing voxels on the phantom, got %d", report.Underflows)
	}
	if report.Metrics.MeanDice < 0.8 {
		t.Errorf("Expected a mean Dice above 0.8 on the phantom, got %.3f", report.Metrics.MeanDice)
	}
}
