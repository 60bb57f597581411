package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"emseg/internal/models"
	"emseg/pkg/config"
	"emseg/pkg/em"
	"emseg/pkg/evaluation"
	"emseg/pkg/phantom"
	"emseg/pkg/volume"
	"emseg/pkg/volumeio"
)

func main() {
	// Parse command line arguments
	inputDirs := flag.String("input", "", "Comma-separated directories of 2D slices, one per modality")
	maskDir := flag.String("mask", "", "Directory of mask slices (non-zero voxels are segmented)")
	priorDirs := flag.String("priors", "", "Comma-separated directories of prior slices, one per class")
	truthDir := flag.String("truth", "", "Directory of reference label slices (grey level = label/K)")
	configPath := flag.String("config", "", "YAML configuration file")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this file and exit")
	outputDir := flag.String("output", "", "Output directory (overrides the configuration)")
	classes := flag.Int("classes", 0, "Number of classes (overrides the configuration)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (overrides the configuration)")
	verbose := flag.Int("verbose", -1, "Verbosity 0, 1 or 2 (overrides the configuration)")
	usePhantom := flag.Bool("phantom", false, "Segment a synthetic phantom instead of -input")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *writeConfig)
		return
	}

	if *inputDirs == "" && !*usePhantom {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *classes > 0 {
		cfg.Segmentation.Classes = *classes
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *verbose >= 0 {
		cfg.Output.Verbose = *verbose
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	fmt.Println("================================")
	fmt.Println("EM TISSUE CLASSIFICATION OF MULTI-CHANNEL VOLUMES")
	fmt.Println("================================")

	j := &job{
		cfg:   cfg,
		log:   logger,
		input: splitList(*inputDirs),
	}
	if err := j.run(*usePhantom, *maskDir, splitList(*priorDirs), *truthDir); err != nil {
		logger.Error().Err(err).Msg("segmentation failed")
		if errors.Is(err, em.ErrConfiguration) || errors.Is(err, em.ErrData) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// job carries one segmentation run of the command
type job struct {
	cfg   *config.Config
	log   zerolog.Logger
	input []string

	img, mask, priors *volume.Volume
	truth             []float64
}

func (j *job) run(usePhantom bool, maskDir string, priorDirs []string, truthDir string) error {
	cfg := j.cfg
	started := time.Now()

	fmt.Println("Step 1: Loading input volumes...")
	if err := j.load(usePhantom, maskDir, priorDirs, truthDir); err != nil {
		return err
	}
	fmt.Printf("Loaded volume %s\n", j.img)

	fmt.Println("Step 2: Configuring the segmentation engine...")
	seg := em.New(cfg.Segmentation.Classes, j.img.Nu, j.img.Nt)
	seg.SetLogger(j.log)
	cfg.Apply(seg)
	seg.SetInputImage(j.img)
	if j.mask != nil {
		seg.SetMaskImage(j.mask)
	}
	if j.priors != nil {
		seg.SetPriorImage(j.priors)
	}
	seg.SetFilenameOut(cfg.Output.Dir)
	if err := seg.Initialise(); err != nil {
		return err
	}

	fmt.Println("Step 3: Running Expectation-Maximisation...")
	if err := seg.Run(); err != nil {
		return err
	}
	fmt.Printf("Finished in state %s after %d iterations (log-likelihood %.4f)\n",
		seg.State(), seg.Iterations(), seg.LogLikelihood())

	fmt.Println("Step 4: Writing results...")
	if err := j.writeOutputs(seg); err != nil {
		return err
	}

	fmt.Println("Step 5: Writing the run report...")
	report, err := j.report(seg, started)
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.Output.Dir, cfg.Output.Report)
	if err := report.Save(path); err != nil {
		return err
	}
	if report.Metrics != nil {
		fmt.Printf("Mean Dice: %.3f, accuracy: %.3f, mutual information: %.3f bits\n",
			report.Metrics.MeanDice, report.Metrics.Accuracy, report.Metrics.MutualInformation)
	}
	fmt.Printf("\nSegmentation completed in %.2f seconds, results in %s\n",
		time.Since(started).Seconds(), cfg.Output.Dir)
	return nil
}

// load reads the input, mask, priors and reference labels, or generates a
// phantom with its own reference labels
func (j *job) load(usePhantom bool, maskDir string, priorDirs []string, truthDir string) error {
	k := j.cfg.Segmentation.Classes
	gap := j.cfg.Processing.SliceGap

	if usePhantom {
		means := make([]float64, k)
		for c := range means {
			means[c] = 100 * float64(c+1)
		}
		ph := phantom.Generate(phantom.Params{
			Nx: 48, Ny: 48, Nz: 24,
			Means:           means,
			Sigma:           15,
			BlockSize:       6,
			BiasAmplitude:   0.1,
			OutlierFraction: 0.002,
			OutlierValue:    100 * float64(k+3),
			Seed:            1,
		})
		j.img = ph.Image
		j.truth = make([]float64, len(ph.Labels))
		for i, l := range ph.Labels {
			j.truth[i] = float64(l + 1)
		}
		j.input = []string{"phantom"}
		return nil
	}

	var err error
	if j.img, err = volumeio.LoadChannels(j.input, gap); err != nil {
		return fmt.Errorf("failed to load input: %w", err)
	}
	if maskDir != "" {
		if j.mask, err = volumeio.LoadSlices(maskDir, gap); err != nil {
			return fmt.Errorf("failed to load mask: %w", err)
		}
	}
	if len(priorDirs) > 0 {
		if j.priors, err = volumeio.LoadPriors(priorDirs, gap); err != nil {
			return fmt.Errorf("failed to load priors: %w", err)
		}
	}
	if truthDir != "" {
		truth, err := volumeio.LoadSlices(truthDir, gap)
		if err != nil {
			return fmt.Errorf("failed to load reference labels: %w", err)
		}
		j.truth = truth.Data
		for i, v := range j.truth {
			j.truth[i] = v * float64(k)
		}
	}
	return nil
}

// writeOutputs saves every available result as slice directories
func (j *job) writeOutputs(seg *em.Segmenter) error {
	out := j.cfg.Output
	k := seg.NumberOfClasses()
	if err := os.MkdirAll(out.Dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	probs, err := seg.Result()
	if err != nil {
		return err
	}
	unit := volumeio.Window{Min: 0, Max: 1}
	if err := volumeio.SaveVolume(probs, out.Dir, "class", out.Format, &unit); err != nil {
		return err
	}

	labels, err := seg.Labels()
	if err != nil {
		return err
	}
	// Label l is written at grey level l/K, the encoding read by -truth.
	labelWindow := volumeio.Window{Min: 0, Max: float64(k)}
	if err := volumeio.SaveVolume(labels, out.Dir, "labels", out.Format, &labelWindow); err != nil {
		return err
	}

	corrected, err := seg.BiasCorrected()
	if err != nil {
		return err
	}
	if err := volumeio.SaveVolume(corrected, out.Dir, "corrected", out.Format, nil); err != nil {
		return err
	}

	if field, err := seg.BiasField(); err == nil {
		if err := volumeio.SaveVolume(field, out.Dir, "biasfield", out.Format, nil); err != nil {
			return err
		}
	}
	if w, err := seg.Outlierness(); err == nil {
		if err := volumeio.SaveVolume(w, out.Dir, "outlierness", out.Format, &unit); err != nil {
			return err
		}
	}
	return nil
}

// report summarises the run, with metrics when reference labels are known
func (j *job) report(seg *em.Segmenter, started time.Time) (*models.Report, error) {
	cfg := j.cfg
	means, err := seg.Means()
	if err != nil {
		return nil, err
	}
	std, err := seg.STD()
	if err != nil {
		return nil, err
	}
	props, err := seg.Proportions()
	if err != nil {
		return nil, err
	}

	r := &models.Report{
		Input:    j.input,
		Geometry: j.img.String(),
		Voxels:   seg.IndexMap().NumelMasked(),
		Features: models.Features{
			MRF:         cfg.MRF.Enabled,
			BiasField:   cfg.BiasField.Enabled,
			Outlierness: cfg.Outlier.Enabled,
			Relaxation:  cfg.Relaxation.Enabled,
			MAP:         cfg.MAP.Enabled,
			PVModel:     cfg.LoAd.PVModel,
			Priors:      j.priors != nil,
		},
		State:         seg.State().String(),
		Iterations:    seg.Iterations(),
		LogLikelihood: seg.LogLikelihood(),
		Ratio:         seg.Ratio(),
		History:       seg.LogLikelihoodHistory(),
		Underflows:    seg.Underflows(),
		Started:       started,
		Duration:      time.Since(started),
	}
	for c := range means {
		r.Classes = append(r.Classes, models.ClassSummary{
			Label:      c + 1,
			Mean:       means[c],
			STD:        std[c],
			Proportion: props[c],
		})
	}

	if j.truth == nil {
		return r, nil
	}
	labels, err := seg.Labels()
	if err != nil {
		return nil, err
	}
	var mask []bool
	if j.mask != nil {
		mask = make([]bool, len(j.mask.Data))
		for i, v := range j.mask.Data {
			mask[i] = v > 0
		}
	}
	k := seg.NumberOfClasses()
	evaluation.Relabel(labels.Data, evaluation.MatchLabels(labels.Data, j.truth, k))
	if r.Metrics, err = evaluation.Compare(labels.Data, j.truth, k, mask); err != nil {
		return nil, err
	}
	return r, nil
}

// splitList splits a comma-separated flag value, dropping empty entries
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
