// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mvn

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// cholTol is the numerical tolerance used when comparing round-tripped
// covariance/precision matrices.
const cholTol = 1e-9

func TestCovPrecRoundTrip(t *testing.T) {
	cov := mat.NewSymDense(3, []float64{
		4, 1, 0.5,
		1, 3, 0.2,
		0.5, 0.2, 2,
	})
	d := NewFromMeanCov([]float64{1, 2, 3}, cov)

	prec, err := d.Prec()
	if err != nil {
		t.Fatalf("Prec: %v", err)
	}
	d2 := New(3)
	d2.SetPrec(prec)
	got, err := d2.Cov()
	if err != nil {
		t.Fatalf("Cov: %v", err)
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := cov.At(i, j)
			diff := math.Abs(got.At(i, j) - want)
			if diff > cholTol {
				t.Errorf("round-trip[%d,%d]: got %v want %v diff %v", i, j, got.At(i, j), want, diff)
			}
		}
	}
}

func TestSetMeanPreservesCov(t *testing.T) {
	d := New(2)
	cov := mat.NewSymDense(2, []float64{2, 0, 0, 3})
	d.SetCov(cov)
	d.SetMean([]float64{5, -1})

	got, err := d.Cov()
	if err != nil {
		t.Fatalf("Cov: %v", err)
	}
	if got.At(0, 0) != 2 || got.At(1, 1) != 3 {
		t.Errorf("SetMean mutated covariance: %v", mat.Formatted(got))
	}
	if d.MeanAt(0) != 5 || d.MeanAt(1) != -1 {
		t.Errorf("mean not updated: %v", d.Mean())
	}
}

func TestConcatBlockDiagonal(t *testing.T) {
	a := NewFromMeanCov([]float64{1}, mat.NewSymDense(1, []float64{2}))
	b := NewFromMeanCov([]float64{2, 3}, mat.NewSymDense(2, []float64{1, 0, 0, 4}))

	joint, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if joint.Dim() != 3 {
		t.Fatalf("joint dim: got %d want 3", joint.Dim())
	}
	cov, _ := joint.Cov()
	if cov.At(0, 1) != 0 || cov.At(0, 2) != 0 {
		t.Errorf("expected zero cross-covariance, got %v", mat.Formatted(cov))
	}
	if cov.At(0, 0) != 2 || cov.At(1, 1) != 1 || cov.At(2, 2) != 4 {
		t.Errorf("diagonal blocks not preserved: %v", mat.Formatted(cov))
	}
}

func TestMarginal(t *testing.T) {
	cov := mat.NewSymDense(3, []float64{
		4, 1, 0.5,
		1, 3, 0.2,
		0.5, 0.2, 2,
	})
	d := NewFromMeanCov([]float64{1, 2, 3}, cov)

	sub, err := d.Marginal([]int{0, 2})
	if err != nil {
		t.Fatalf("Marginal: %v", err)
	}
	if sub.Dim() != 2 {
		t.Fatalf("marginal dim: got %d want 2", sub.Dim())
	}
	subCov, _ := sub.Cov()
	if subCov.At(0, 0) != 4 || subCov.At(1, 1) != 2 || subCov.At(0, 1) != 0.5 {
		t.Errorf("marginal covariance wrong: %v", mat.Formatted(subCov))
	}
	if sub.MeanAt(0) != 1 || sub.MeanAt(1) != 3 {
		t.Errorf("marginal mean wrong: %v", sub.Mean())
	}
}

func TestKLSelfIsZero(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{2, 0.3, 0.3, 1})
	a := NewFromMeanCov([]float64{0, 0}, cov)
	b := NewFromMeanCov([]float64{0, 0}, cov)

	kl, err := a.KL(b)
	if err != nil {
		t.Fatalf("KL: %v", err)
	}
	if math.Abs(kl) > 1e-8 {
		t.Errorf("KL(a||a) = %v, want ~0", kl)
	}
}

func TestKLDimensionMismatch(t *testing.T) {
	a := New(2)
	b := New(3)
	if _, err := a.KL(b); err == nil {
		t.Errorf("expected dimension mismatch error")
	}
}

func TestSampleDeterministicWithSeed(t *testing.T) {
	d := New(2)
	d.SetMean([]float64{10, -10})
	rng := rand.New(rand.NewSource(1))
	s1, err := d.Sample(rng)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(s1) != 2 {
		t.Fatalf("sample length: got %d want 2", len(s1))
	}
	s2, err := d.Sample(rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Errorf("sample[%d] differs under the same seed: %v vs %v", i, s1[i], s2[i])
		}
	}
}

func TestLogDetCached(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	d := NewFromMeanCov([]float64{0, 0}, cov)
	ld, err := d.LogDet()
	if err != nil {
		t.Fatalf("LogDet: %v", err)
	}
	if math.Abs(ld) > 1e-12 {
		t.Errorf("identity covariance log-det: got %v want 0", ld)
	}
	// Mutate and confirm the cache invalidates.
	d.SetCov(mat.NewSymDense(2, []float64{4, 0, 0, 1}))
	ld2, err := d.LogDet()
	if err != nil {
		t.Fatalf("LogDet after mutation: %v", err)
	}
	want := math.Log(4)
	if math.Abs(ld2-want) > 1e-9 {
		t.Errorf("LogDet after mutation: got %v want %v", ld2, want)
	}
}
