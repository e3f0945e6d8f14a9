// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package noise implements Fabber's observation-noise posteriors: White,
a Gamma posterior on a single precision, and AR(1), which adds a
whitening autoregressive coefficient with its own Gaussian posterior.

Both variants follow the conjugate Normal-Gamma idiom used by
tomopfuku-cophycollapse's NormalGammaPrior in the retrieval pack: a
hyperparameter struct holding (shape, scale) plus an Update method
that recomputes the posterior from a residual.
*/
package noise

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// White is a Gamma(c, s) posterior over the observation precision phi.
type White struct {
	// C0, S0 are the prior shape and scale.
	C0, S0 float64
	// C, S are the current posterior shape and scale.
	C, S float64
}

// NewWhite constructs a White noise posterior initialised at its
// prior.
func NewWhite(c0, s0 float64) *White {
	return &White{C0: c0, S0: s0, C: c0, S: s0}
}

// Mean returns E[phi] = c*s, the Gamma distribution's mean.
func (w *White) Mean() float64 {
	return distuv.Gamma{Alpha: w.C, Beta: 1 / w.S}.Mean()
}

// Var returns Var[phi] = c*s^2, the variance of the noise precision
// posterior itself, not of the data.
func (w *White) Var() float64 {
	return distuv.Gamma{Alpha: w.C, Beta: 1 / w.S}.Variance()
}

// Update recomputes the Gamma posterior from a residual:
//
//	s <- 1 / (0.5*||r||^2 + 0.5*tr(J*Sigma*J^T) + 1/s0)
//	c <- c0 + T/2
//
// resid is y - yhat (length T), j is the Jacobian at the current
// linearisation point, and sigma is the current posterior covariance.
func (w *White) Update(resid []float64, j *mat.Dense, sigma *mat.SymDense) error {
	t := len(resid)
	if t == 0 {
		return fmt.Errorf("noise: White.Update: empty residual")
	}
	ss := floats.Dot(resid, resid)

	var jSigma mat.Dense
	jSigma.Mul(j, sigma)
	var jSigmaJt mat.Dense
	jSigmaJt.Mul(&jSigma, j.T())
	trace := mat.Trace(&jSigmaJt)

	w.S = 1 / (0.5*ss + 0.5*trace + 1/w.S0)
	w.C = w.C0 + float64(t)/2
	return nil
}

// AR1 adds an autoregressive coefficient alpha to a White noise model,
// whitening the residual by (1 - alpha*L) before the Gamma update.
type AR1 struct {
	White
	// AlphaMean, AlphaVar are the current Gaussian posterior over alpha.
	AlphaMean, AlphaVar float64
	// AlphaMean0, AlphaVar0 are the prior.
	AlphaMean0, AlphaVar0 float64
	// Diverged is set once |alpha| has been clamped to keep the
	// autoregressive filter stable.
	Diverged bool
}

// NewAR1 constructs an AR(1) noise posterior initialised at its prior.
func NewAR1(c0, s0, alphaMean0, alphaVar0 float64) *AR1 {
	return &AR1{
		White:      *NewWhite(c0, s0),
		AlphaMean:  alphaMean0,
		AlphaVar:   alphaVar0,
		AlphaMean0: alphaMean0,
		AlphaVar0:  alphaVar0,
	}
}

const alphaClamp = 0.999

// Update takes the raw (un-whitened) residual, fits alpha from its
// lag-1 autocorrelation via a closed-form conditional Gaussian, then
// whitens by (1 - alpha*L) (L being the one-step lag operator) with
// the newly fit alpha and runs the White Gamma update on that.
func (a *AR1) Update(resid []float64, j *mat.Dense, sigma *mat.SymDense) error {
	t := len(resid)
	if t < 2 {
		return fmt.Errorf("noise: AR1.Update: need at least 2 timepoints, got %d", t)
	}

	// Closed-form conditional Gaussian for alpha given the current
	// residual: posterior precision is prior precision plus phi *
	// sum(r[t-1]^2); posterior mean is the precision-weighted
	// combination of the prior mean and the OLS lag-1 coefficient.
	lagged, current := resid[:t-1], resid[1:]
	sumLagSq := floats.Dot(lagged, lagged)
	sumCross := floats.Dot(lagged, current)
	phi := a.Mean()
	priorPrec := 1 / a.AlphaVar0
	obsPrec := phi * sumLagSq
	postPrec := priorPrec + obsPrec
	ols := 0.0
	if sumLagSq > 0 {
		ols = sumCross / sumLagSq
	}
	a.AlphaVar = 1 / postPrec
	a.AlphaMean = (priorPrec*a.AlphaMean0 + obsPrec*ols) / postPrec

	if a.AlphaMean > alphaClamp {
		a.AlphaMean = alphaClamp
		a.Diverged = true
	} else if a.AlphaMean < -alphaClamp {
		a.AlphaMean = -alphaClamp
		a.Diverged = true
	}

	whitened := make([]float64, t)
	whitened[0] = resid[0]
	for i := 1; i < t; i++ {
		whitened[i] = resid[i] - a.AlphaMean*resid[i-1]
	}
	return a.White.Update(whitened, j, sigma)
}
