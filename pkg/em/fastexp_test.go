package em

import (
	"math"
	"testing"
)

// TestFastExpErrorBound sweeps the supported range and checks the relative error
func TestFastExpErrorBound(t *testing.T) {
	worst := 0.0
	for i := 0; i <= 200000; i++ {
		x := minExpArg * float64(i) / 200000
		want := math.Exp(x)
		if want == 0 || want < math.SmallestNonzeroFloat64*1e20 {
			continue
		}
		rel := math.Abs(fastExp(x)-want) / want
		if rel > worst {
			worst = rel
		}
	}
	if worst > FastExpMaxRelErr {
		t.Errorf("Worst relative error %g exceeds the bound %g", worst, FastExpMaxRelErr)
	}
}

// TestFastExpSpecialValues checks zero and the underflow cut-off
func TestFastExpSpecialValues(t *testing.T) {
	if got := fastExp(0); math.Abs(got-1) > FastExpMaxRelErr {
		t.Errorf("fastExp(0) = %f, expected 1", got)
	}
	if got := fastExp(minExpArg - 1); got != 0 {
		t.Errorf("fastExp below the cut-off = %g, expected 0", got)
	}
	if got := exactExp(minExpArg - 1); got != 0 {
		t.Errorf("exactExp below the cut-off = %g, expected 0", got)
	}
	if got := exactExp(-1); got != math.Exp(-1) {
		t.Errorf("exactExp(-1) = %f, expected %f", got, math.Exp(-1))
	}
}

func BenchmarkFastExp(b *testing.B) {
	var sink float64
	for i := 0; i < b.N; i++ {
		sink += fastExp(-float64(i%700) / 7)
	}
	_ = sink
}

func BenchmarkExactExp(b *testing.B) {
	var sink float64
	for i := 0; i < b.N; i++ {
		sink += exactExp(-float64(i%700) / 7)
	}
	_ = sink
}
