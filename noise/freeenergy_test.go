// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package noise

import (
	"math"
	"testing"
)

func TestKLToPriorZeroAtPrior(t *testing.T) {
	w := NewWhite(2, 3)
	if kl := w.KLToPrior(); math.Abs(kl) > 1e-9 {
		t.Errorf("KL to self should be ~0, got %v", kl)
	}
}

func TestKLToPriorPositiveAwayFromPrior(t *testing.T) {
	w := NewWhite(2, 3)
	w.C, w.S = 5, 1
	if kl := w.KLToPrior(); kl <= 0 {
		t.Errorf("expected positive KL away from prior, got %v", kl)
	}
}

func TestWhiteWhitenIsIdentity(t *testing.T) {
	w := NewWhite(1, 1)
	resid := []float64{1, 2, 3}
	got := w.Whiten(resid)
	for i := range resid {
		if got[i] != resid[i] {
			t.Errorf("Whiten changed resid[%d]: got %v want %v", i, got[i], resid[i])
		}
	}
}

func TestAR1WhitenMatchesUpdateInternals(t *testing.T) {
	a := NewAR1(1, 1, 0.3, 1)
	resid := []float64{1, 2, 3, 4}
	got := a.Whiten(resid)
	want := []float64{1, 2 - 0.3*1, 3 - 0.3*2, 4 - 0.3*3}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("Whiten[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAR1KLToPriorZeroAtPrior(t *testing.T) {
	a := NewAR1(2, 3, 0.1, 0.5)
	if kl := a.KLToPrior(); math.Abs(kl) > 1e-9 {
		t.Errorf("KL to self should be ~0, got %v", kl)
	}
}

func TestMeanLogPrecisionIncreasesWithShape(t *testing.T) {
	w1 := NewWhite(1, 1)
	w2 := NewWhite(10, 1)
	if w2.MeanLogPrecision() <= w1.MeanLogPrecision() {
		t.Errorf("expected MeanLogPrecision to increase with shape")
	}
}
