// Package evaluation scores a segmentation against a reference labelling.
package evaluation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metrics summarises the agreement between two labellings.
type Metrics struct {
	// Dice holds the overlap 2|A∩B|/(|A|+|B|) of every label 1..K
	Dice []float64 `yaml:"dice"`

	// MeanDice is the average of Dice over the labels present in either map
	MeanDice float64 `yaml:"meanDice"`

	// Accuracy is the fraction of voxels with identical labels
	Accuracy float64 `yaml:"accuracy"`

	// MutualInformation (bits) between the two labellings
	MutualInformation float64 `yaml:"mutualInformation"`

	// Entropy (bits) of the estimated and reference label distributions
	Entropy          float64 `yaml:"entropy"`
	ReferenceEntropy float64 `yaml:"referenceEntropy"`
}

// Compare scores labels against reference over the voxels where the mask is
// true (all voxels when mask is nil). Labels are integers in 0..K, 0 being
// background, carried as float64 as in volume buffers.
//
// Parameters:
//   - labels: estimated label per voxel
//   - reference: ground-truth label per voxel
//   - k: number of classes
//   - mask: optional voxel selection
//
// Returns:
//   - the metrics, or an error if the inputs disagree in length
func Compare(labels, reference []float64, k int, mask []bool) (*Metrics, error) {
	if len(labels) != len(reference) {
		return nil, fmt.Errorf("label maps differ in length: %d and %d", len(labels), len(reference))
	}
	if mask != nil && len(mask) != len(labels) {
		return nil, fmt.Errorf("mask has %d voxels, label maps have %d", len(mask), len(labels))
	}
	if k < 1 {
		return nil, fmt.Errorf("number of classes must be positive, got %d", k)
	}

	// joint[a][b] counts voxels with estimated label a and reference label b
	n := k + 1
	joint := make([]float64, n*n)
	var total float64
	for i := range labels {
		if mask != nil && !mask[i] {
			continue
		}
		a, b := clampLabel(labels[i], k), clampLabel(reference[i], k)
		joint[a*n+b]++
		total++
	}

	m := &Metrics{Dice: make([]float64, k)}
	if total == 0 {
		return m, nil
	}

	rows := make([]float64, n)
	cols := make([]float64, n)
	var agree float64
	for a := 0; a < n; a++ {
		for b := 0; b < n; b++ {
			rows[a] += joint[a*n+b]
			cols[b] += joint[a*n+b]
		}
		agree += joint[a*n+a]
	}
	m.Accuracy = agree / total

	present := 0
	for l := 1; l <= k; l++ {
		if den := rows[l] + cols[l]; den > 0 {
			m.Dice[l-1] = 2 * joint[l*n+l] / den
			m.MeanDice += m.Dice[l-1]
			present++
		}
	}
	if present > 0 {
		m.MeanDice /= float64(present)
	}

	floats.Scale(1/total, rows)
	floats.Scale(1/total, cols)
	m.Entropy = stat.Entropy(rows) / math.Ln2
	m.ReferenceEntropy = stat.Entropy(cols) / math.Ln2

	for a := 0; a < n; a++ {
		for b := 0; b < n; b++ {
			p := joint[a*n+b] / total
			if p > 0 {
				m.MutualInformation += p * math.Log2(p/(rows[a]*cols[b]))
			}
		}
	}
	return m, nil
}

// clampLabel rounds a float label and maps anything outside 0..k to 0
func clampLabel(v float64, k int) int {
	if math.IsNaN(v) {
		return 0
	}
	l := int(math.Round(v))
	if l < 0 || l > k {
		return 0
	}
	return l
}

// MatchLabels returns, for every estimated class 1..K, the reference label it
// overlaps most. The EM engine orders classes by initial intensity, so this
// aligns its numbering with a reference before Compare.
func MatchLabels(labels, reference []float64, k int) []int {
	n := k + 1
	joint := make([]float64, n*n)
	for i := range labels {
		joint[clampLabel(labels[i], k)*n+clampLabel(reference[i], k)]++
	}
	match := make([]int, n)
	for a := 1; a <= k; a++ {
		row := joint[a*n+1 : (a+1)*n]
		match[a] = floats.MaxIdx(row) + 1
	}
	return match
}

// Relabel applies a mapping from MatchLabels to labels, in place.
func Relabel(labels []float64, match []int) {
	for i, v := range labels {
		l := clampLabel(v, len(match)-1)
		if l > 0 {
			labels[i] = float64(match[l])
		}
	}
}
