// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package noise

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

// MeanLogPrecision returns E[log phi] = digamma(c) + log(s) for
// phi ~ Gamma(c, s) in shape-scale form, the term the VB free energy
// needs for E[log p(y|theta,phi)].
func (w *White) MeanLogPrecision() float64 {
	return mathext.Digamma(w.C) + math.Log(w.S)
}

// KLToPrior returns KL(q(phi) || p(phi)) between the current and
// prior Gamma posteriors, in shape-scale form.
func (w *White) KLToPrior() float64 {
	return gammaKL(w.C, w.S, w.C0, w.S0)
}

// Whiten is the identity for White noise: there is no autoregressive
// structure to remove.
func (w *White) Whiten(resid []float64) []float64 { return resid }

// gammaKL returns KL(Gamma(k1,s1) || Gamma(k2,s2)) for two
// distributions in shape-scale parametrisation.
func gammaKL(k1, s1, k2, s2 float64) float64 {
	return (k1-k2)*mathext.Digamma(k1) - lgamma(k1) + lgamma(k2) +
		k2*(math.Log(s2)-math.Log(s1)) + k1*(s1-s2)/s2
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// Whiten applies the same (1 - alpha*L) whitening Update uses,
// without mutating alpha's posterior, so the free energy calculation
// can be evaluated against the same effective residual the Gamma
// update saw.
func (a *AR1) Whiten(resid []float64) []float64 {
	t := len(resid)
	whitened := make([]float64, t)
	if t == 0 {
		return whitened
	}
	whitened[0] = resid[0]
	for i := 1; i < t; i++ {
		whitened[i] = resid[i] - a.AlphaMean*resid[i-1]
	}
	return whitened
}

// KLToPrior returns the AR(1) noise model's total KL to its prior:
// the Gamma KL on phi plus the Gaussian KL on alpha.
func (a *AR1) KLToPrior() float64 {
	gammaPart := a.White.KLToPrior()
	if a.AlphaVar0 <= 0 {
		return gammaPart
	}
	diff := a.AlphaMean - a.AlphaMean0
	gaussPart := 0.5 * (a.AlphaVar/a.AlphaVar0 + diff*diff/a.AlphaVar0 - 1 + math.Log(a.AlphaVar0/a.AlphaVar))
	return gammaPart + gaussPart
}
