// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package noise

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestWhiteUpdateShapeFromTimepoints(t *testing.T) {
	w := NewWhite(1e-6, 1e6)
	resid := make([]float64, 10)
	j := mat.NewDense(10, 1, nil)
	sigma := mat.NewSymDense(1, []float64{0.01})
	if err := w.Update(resid, j, sigma); err != nil {
		t.Fatalf("Update: %v", err)
	}
	wantC := 1e-6 + 10.0/2
	if math.Abs(w.C-wantC) > 1e-9 {
		t.Errorf("C: got %v want %v", w.C, wantC)
	}
}

func TestWhiteVarPositive(t *testing.T) {
	w := NewWhite(2, 3)
	if v := w.Var(); v <= 0 {
		t.Errorf("Var() = %v, want > 0", v)
	}
}

func TestWhiteUpdateZeroResidualHighPrecision(t *testing.T) {
	w := NewWhite(1e-6, 1e6)
	resid := make([]float64, 10) // all zero
	j := mat.NewDense(10, 1, nil)
	sigma := mat.NewSymDense(1, []float64{0})
	if err := w.Update(resid, j, sigma); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// s should be close to s0 (1e6) since residual and J*Sigma*J^T are both 0.
	if math.Abs(w.S-1e6) > 1 {
		t.Errorf("S: got %v want ~1e6", w.S)
	}
}

func TestWhiteUpdateEmptyResidualErrors(t *testing.T) {
	w := NewWhite(1, 1)
	if err := w.Update(nil, mat.NewDense(0, 1, nil), mat.NewSymDense(1, nil)); err == nil {
		t.Errorf("expected error for empty residual")
	}
}

func TestAR1UpdateClampsDivergence(t *testing.T) {
	a := NewAR1(1e-6, 1e6, 0, 1e6)
	// Strongly autocorrelated residual that would push alpha past 1.
	resid := make([]float64, 20)
	for i := range resid {
		resid[i] = math.Pow(1.5, float64(i))
	}
	j := mat.NewDense(20, 1, nil)
	sigma := mat.NewSymDense(1, []float64{0.01})
	if err := a.Update(resid, j, sigma); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if math.Abs(a.AlphaMean) > alphaClamp+1e-12 {
		t.Errorf("alpha not clamped: %v", a.AlphaMean)
	}
	if !a.Diverged {
		t.Errorf("expected Diverged=true for strongly autocorrelated residual")
	}
}

func TestAR1UpdateNonPositiveAlphaForAlternatingResidual(t *testing.T) {
	a := NewAR1(1e-6, 1e6, 0, 1)
	resid := []float64{1, -1, 1, -1, 1, -1, 1, -1}
	j := mat.NewDense(8, 1, nil)
	sigma := mat.NewSymDense(1, []float64{0.01})
	if err := a.Update(resid, j, sigma); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if a.AlphaMean > 0 {
		t.Errorf("expected non-positive alpha for alternating residual, got %v", a.AlphaMean)
	}
}

func TestAR1UpdateTooFewTimepoints(t *testing.T) {
	a := NewAR1(1, 1, 0, 1)
	if err := a.Update([]float64{1}, mat.NewDense(1, 1, nil), mat.NewSymDense(1, nil)); err == nil {
		t.Errorf("expected error for <2 timepoints")
	}
}
