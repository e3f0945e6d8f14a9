// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package covcache

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SmoothingScaleResult is the outcome of OptimizeSmoothingScale.
type SmoothingScaleResult struct {
	Delta float64
	Rho   float64 // only meaningful if AllowRhoToVary was true
}

// OptimizeSmoothingScale implements the Sahani-style update used by
// the Spatial M/m priors: given the current covariance-ratio
// diagonal and mean-difference ratio across voxels for one
// parameter, it returns the delta that maximises a 1-D Gaussian
// evidence surrogate, found by golden-section search in log-delta
// (a derivative-free stand-in for the original's bisection search,
// since the surrogate's sign of slope is not cheaply available
// here). If allowRhoToVary, it also returns rho = 1 / mean_i(
// (K(delta) d)_i * d_i ), the precision implied by the
// mean-difference ratio's quadratic form against K(delta).
func OptimizeSmoothingScale(cache *Cache, covRatioDiag, meanDiffRatio []float64, deltaMin, deltaMax float64, allowRhoToVary bool) (SmoothingScaleResult, error) {
	if deltaMin <= 0 || deltaMax <= deltaMin {
		return SmoothingScaleResult{}, fmt.Errorf("covcache: invalid delta range [%g, %g]", deltaMin, deltaMax)
	}
	if len(covRatioDiag) != cache.n || len(meanDiffRatio) != cache.n {
		return SmoothingScaleResult{}, fmt.Errorf("covcache: covRatioDiag/meanDiffRatio must have length %d", cache.n)
	}

	covRatio := mat.NewSymDense(cache.n, nil)
	for i := 0; i < cache.n; i++ {
		covRatio.SetSym(i, i, covRatioDiag[i])
	}

	objective := func(delta float64) (float64, error) {
		cinv, err := cache.GetCinv(delta)
		if err != nil {
			return 0, err
		}
		_, trace, err := cache.GetCiCodistCi(delta, covRatio)
		if err != nil {
			return 0, err
		}
		var cinvD mat.VecDense
		cinvD.MulVec(cinv, mat.NewVecDense(cache.n, meanDiffRatio))
		quad := mat.Dot(mat.NewVecDense(cache.n, meanDiffRatio), &cinvD)
		chol := new(mat.Cholesky)
		if ok := chol.Factorize(cache.C(delta)); !ok {
			return 0, fmt.Errorf("covcache: K(delta=%g) is not SPD", delta)
		}
		return -0.5*chol.LogDet() - 0.5*trace - 0.5*quad, nil
	}

	// A smoothing-scale search run the previous outer iteration may
	// already have cached an inverse within this range; starting the
	// bracket there instead of the full [deltaMin, deltaMax] shrinks
	// it around a delta already known to be plausible.
	lo, hi := deltaMin, deltaMax
	if seed, ok := cache.GetCachedInRange(deltaMin, deltaMax); ok {
		lo, hi = narrowAround(seed, deltaMin, deltaMax)
	}

	delta, err := goldenSectionMaximize(math.Log(lo), math.Log(hi), func(logDelta float64) (float64, error) {
		return objective(math.Exp(logDelta))
	})
	if err != nil {
		return SmoothingScaleResult{}, err
	}
	delta = math.Exp(delta)

	result := SmoothingScaleResult{Delta: delta}
	if allowRhoToVary {
		k := cache.C(delta)
		var kd mat.VecDense
		kd.MulVec(k, mat.NewVecDense(cache.n, meanDiffRatio))
		mean := mat.Dot(mat.NewVecDense(cache.n, meanDiffRatio), &kd) / float64(cache.n)
		if mean <= 0 {
			return SmoothingScaleResult{}, fmt.Errorf("covcache: non-positive mean quadratic form, cannot solve for rho")
		}
		result.Rho = 1 / mean
	}
	return result, nil
}

// narrowAround shrinks [deltaMin, deltaMax] to a factor-of-3 bracket
// centred on seed, clamped back within the original range.
func narrowAround(seed, deltaMin, deltaMax float64) (float64, float64) {
	lo, hi := seed/3, seed*3
	if lo < deltaMin {
		lo = deltaMin
	}
	if hi > deltaMax {
		hi = deltaMax
	}
	if lo >= hi {
		return deltaMin, deltaMax
	}
	return lo, hi
}

// goldenSectionMaximize maximises f over [lo, hi], assuming f is
// unimodal there, returning the maximising x after a fixed number
// of narrowing steps.
func goldenSectionMaximize(lo, hi float64, f func(float64) (float64, error)) (float64, error) {
	const phi = 0.6180339887498949
	const iterations = 60

	x1 := hi - phi*(hi-lo)
	x2 := lo + phi*(hi-lo)
	f1, err := f(x1)
	if err != nil {
		return 0, err
	}
	f2, err := f(x2)
	if err != nil {
		return 0, err
	}
	for i := 0; i < iterations && hi-lo > 1e-10; i++ {
		if f1 > f2 {
			hi = x2
			x2 = x1
			f2 = f1
			x1 = hi - phi*(hi-lo)
			f1, err = f(x1)
		} else {
			lo = x1
			x1 = x2
			f1 = f2
			x2 = lo + phi*(hi-lo)
			f2, err = f(x2)
		}
		if err != nil {
			return 0, err
		}
	}
	if f1 > f2 {
		return x1, nil
	}
	return x2, nil
}

// EvidenceResult is the outcome of OptimizeEvidence.
type EvidenceResult struct {
	Delta float64
	Rho   float64
}

// OptimizeEvidence implements the evidence-optimisation update used
// by the Spatial P/p priors: given, for one parameter, the per-voxel
// "posterior without its prior" mean and variance (mu, variance) and
// an initial delta guess, it searches for the delta that maximises
// the marginal log evidence of the model
//
//	y_v = theta_v + eps_v,  eps_v ~ N(0, variance_v)
//	theta ~ N(0, rho * K(delta))
//
// via secant search on d(log evidence)/d(log delta). At each delta,
// rho is the best of 41 log-spaced grid points in [1e-6, 1e6] (or 1
// when allowRhoToVary is false); it is not solved in closed form.
// newDeltaEvaluations caps the number of secant iterations, each of
// which evaluates the objective four times; if the secant search
// fails to converge within that budget, it falls back to a grid
// search over [deltaMin, deltaMax] when bruteForceDeltaSearch is set.
func OptimizeEvidence(cache *Cache, mu, variance []float64, deltaGuess, deltaMin, deltaMax float64, allowRhoToVary bool, newDeltaEvaluations int, bruteForceDeltaSearch bool) (EvidenceResult, error) {
	if len(mu) != cache.n || len(variance) != cache.n {
		return EvidenceResult{}, fmt.Errorf("covcache: mu/variance must have length %d", cache.n)
	}
	if newDeltaEvaluations < 2 {
		newDeltaEvaluations = 2
	}

	logEvidence := func(delta, rho float64) (float64, error) {
		k := cache.C(delta)
		total := mat.NewSymDense(cache.n, nil)
		for i := 0; i < cache.n; i++ {
			for j := i; j < cache.n; j++ {
				v := rho * k.At(i, j)
				if i == j {
					v += variance[i]
				}
				total.SetSym(i, j, v)
			}
		}
		chol := new(mat.Cholesky)
		if ok := chol.Factorize(total); !ok {
			return 0, fmt.Errorf("covcache: evidence covariance not SPD at delta=%g, rho=%g", delta, rho)
		}
		var x mat.VecDense
		if err := chol.SolveVecTo(&x, mat.NewVecDense(cache.n, mu)); err != nil {
			return 0, err
		}
		quad := mat.Dot(mat.NewVecDense(cache.n, mu), &x)
		return -0.5*quad - 0.5*chol.LogDet(), nil
	}

	// Pick the rho that maximises log evidence at a fixed delta from a
	// 41-point grid on log(rho) over [1e-6, 1e6].
	solveRho := func(delta float64) (float64, error) {
		if !allowRhoToVary {
			return 1, nil
		}
		lo, hi := math.Log(1e-6), math.Log(1e6)
		const steps = 40
		bestLogRho, bestVal := lo, math.Inf(-1)
		for i := 0; i <= steps; i++ {
			logRho := lo + (hi-lo)*float64(i)/steps
			v, err := logEvidence(delta, math.Exp(logRho))
			if err != nil {
				continue
			}
			if v > bestVal {
				bestVal, bestLogRho = v, logRho
			}
		}
		if math.IsInf(bestVal, -1) {
			return 0, fmt.Errorf("covcache: could not find a valid rho at delta=%g", delta)
		}
		return math.Exp(bestLogRho), nil
	}

	objective := func(logDelta float64) (float64, error) {
		delta := math.Exp(logDelta)
		rho, err := solveRho(delta)
		if err != nil {
			return 0, err
		}
		return logEvidence(delta, rho)
	}

	// Prefer a delta already cached within range over the caller's
	// deltaGuess: it was plausible enough to have been evaluated by a
	// prior outer iteration's search, on this or a neighbouring voxel.
	start := deltaGuess
	if seed, ok := cache.GetCachedInRange(deltaMin, deltaMax); ok {
		start = seed
	}
	x0 := math.Log(start)
	x1 := x0 + 0.5
	const h = 1e-3
	deriv := func(x float64) (float64, error) {
		fPlus, err := objective(x + h)
		if err != nil {
			return 0, err
		}
		fMinus, err := objective(x - h)
		if err != nil {
			return 0, err
		}
		return (fPlus - fMinus) / (2 * h), nil
	}

	converged := false
	for i := 0; i < newDeltaEvaluations; i++ {
		d0, err := deriv(x0)
		if err != nil {
			break
		}
		d1, err := deriv(x1)
		if err != nil {
			break
		}
		if d1 == d0 {
			break
		}
		xNext := x1 - d1*(x1-x0)/(d1-d0)
		if math.Abs(xNext-x1) < 1e-6 {
			x1 = xNext
			converged = true
			break
		}
		x0, x1 = x1, xNext
	}

	if !converged && bruteForceDeltaSearch {
		bestLogDelta, bestVal := math.Log(deltaMin), math.Inf(-1)
		const grid = 30
		for i := 0; i <= grid; i++ {
			logDelta := math.Log(deltaMin) + (math.Log(deltaMax)-math.Log(deltaMin))*float64(i)/grid
			v, err := objective(logDelta)
			if err != nil {
				continue
			}
			if v > bestVal {
				bestVal, bestLogDelta = v, logDelta
			}
		}
		if math.IsInf(bestVal, -1) {
			return EvidenceResult{}, fmt.Errorf("covcache: evidence optimisation failed on grid fallback")
		}
		x1 = bestLogDelta
	}

	delta := math.Exp(x1)
	if delta < deltaMin {
		delta = deltaMin
	}
	if delta > deltaMax {
		delta = deltaMax
	}
	rho, err := solveRho(delta)
	if err != nil {
		return EvidenceResult{}, err
	}
	return EvidenceResult{Delta: delta, Rho: rho}, nil
}
