// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package vb implements the per-voxel variational Bayes coordinate-ascent
update and the sweep that fans it out across all voxels under a fixed
snapshot of priors.

The per-voxel update mirrors the teacher's per-neuron cycle idiom
(leabra/act.go's sequence of small mutating steps -- ActFmG, VmFmG,
and so on -- applied to a *Neuron each cycle): Update mutates a
*State in place through the same linearise/update-precision/
update-mean/update-noise/free-energy/convergence sequence, once per
call, leaving the caller's convergence.Monitor to decide whether to
call it again.
*/
package vb

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/fabberlabs/fabber/convergence"
	"github.com/fabberlabs/fabber/fwdmodel"
	"github.com/fabberlabs/fabber/mvn"
	"github.com/fabberlabs/fabber/prior"
	"github.com/fabberlabs/fabber/transform"
)

// NoiseModel is the subset of noise.White/noise.AR1's behaviour the
// VB core depends on, kept as an interface so this package does not
// need to know which variant a run is using.
type NoiseModel interface {
	Mean() float64
	MeanLogPrecision() float64
	KLToPrior() float64
	Whiten(resid []float64) []float64
	Update(resid []float64, j *mat.Dense, sigma *mat.SymDense) error
}

// State is one voxel's mutable inference state: its posterior over
// theta (in fabber space), its noise posterior, and its convergence
// monitor.
type State struct {
	Post    *mvn.Dist
	Noise   NoiseModel
	Monitor *convergence.Monitor

	Failed     bool
	FailureErr error
}

// NewState builds an initial voxel State from a forward model's
// hard-coded per-parameter priors (mapped into fabber space) and a
// fresh noise model.
func NewState(model fwdmodel.Model, noise NoiseModel, convParams convergence.Params) *State {
	specs := model.Params()
	p := len(specs)
	mean := make([]float64, p)
	cov := mat.NewSymDense(p, nil)
	for i, s := range specs {
		fb := transform.ToFabberParams(s.Transform, transform.DistParams{Mean: s.Initial.Mean, Var: s.Initial.Var})
		mean[i] = fb.Mean
		cov.SetSym(i, i, fb.Var)
	}
	return &State{
		Post:    mvn.NewFromMeanCov(mean, cov),
		Noise:   noise,
		Monitor: convergence.NewMonitor(convParams),
	}
}

// maxTrialsDefault is the halve-toward-candidate-mean damping budget
// used when Update's caller does not specify one.
const maxTrialsDefault = 10

// StepResult reports what happened in one call to Update.
type StepResult struct {
	FreeEnergy float64
	Outcome    convergence.Outcome
}

// Update runs one inner VB iteration for a single voxel: linearise at
// the current posterior mean, form the effective prior from priors,
// update the posterior precision and mean, update the noise
// posterior, compute the free energy, and consult s.Monitor. On a
// free-energy decrease it retries up to maxTrials times, each time
// halving the proposed mean update back toward the pre-step mean;
// exhausting the budget reports convergence.Diverged without mutating
// s further.
func Update(model fwdmodel.Model, priors []prior.Prior, y []float64, ctxs []prior.VoxelContext, s *State, maxTrials int) (StepResult, error) {
	if s.Failed {
		return StepResult{}, fmt.Errorf("vb: Update called on a failed voxel: %w", s.FailureErr)
	}
	if maxTrials <= 0 {
		maxTrials = maxTrialsDefault
	}

	specs := model.Params()
	p := len(specs)
	if len(priors) != p {
		return StepResult{}, fmt.Errorf("vb: Update: %d priors for %d parameters", len(priors), p)
	}
	if len(ctxs) != p {
		return StepResult{}, fmt.Errorf("vb: Update: %d voxel contexts for %d parameters", len(ctxs), p)
	}

	prevMean := s.Post.Mean()
	damping := 1.0

	for trial := 0; trial < maxTrials; trial++ {
		step, err := attemptStep(model, priors, y, ctxs, s, prevMean, damping)
		if err != nil {
			s.Failed = true
			s.FailureErr = err
			return StepResult{}, err
		}

		outcome := s.Monitor.Check(step.freeEnergy)
		switch outcome {
		case convergence.Reverted:
			// Restore the pre-step mean, then retry with a smaller
			// implicit step next time around. The covariance and the
			// noise posterior keep this attempt's values until the
			// retry overwrites them.
			s.Post.SetMean(prevMean)
			damping /= 2
			continue
		case convergence.Diverged:
			return StepResult{FreeEnergy: step.freeEnergy, Outcome: outcome}, nil
		default:
			return StepResult{FreeEnergy: step.freeEnergy, Outcome: outcome}, nil
		}
	}
	return StepResult{Outcome: convergence.Diverged}, nil
}

type stepOutput struct {
	freeEnergy float64
}

// attemptStep performs one linearise/update-precision/update-mean/
// update-noise/free-energy pass, scaling the proposed mean update by
// damping (1.0 on the first trial, halved on each revert) toward
// prevMean.
func attemptStep(model fwdmodel.Model, priors []prior.Prior, y []float64, ctxs []prior.VoxelContext, s *State, prevMean []float64, damping float64) (stepOutput, error) {
	specs := model.Params()
	p := len(specs)
	t := len(y)

	mu := s.Post.Mean()
	theta := make([]float64, p)
	derivs := make([]float64, p)
	for i, spec := range specs {
		theta[i] = spec.Transform.ToModel(mu[i])
		derivs[i] = spec.Transform.Deriv(mu[i])
	}

	yhat, err := model.Evaluate(theta)
	if err != nil {
		return stepOutput{}, fmt.Errorf("vb: Evaluate: %w", err)
	}
	jModelFlat, err := model.Jacobian(theta)
	if err != nil {
		return stepOutput{}, fmt.Errorf("vb: Jacobian: %w", err)
	}
	jModel := mat.NewDense(t, p, jModelFlat)

	j := mat.NewDense(t, p, nil)
	j.Copy(jModel)
	for col := 0; col < p; col++ {
		for row := 0; row < t; row++ {
			j.Set(row, col, j.At(row, col)*derivs[col])
		}
	}

	priorMean := make([]float64, p)
	priorPrec := mat.NewSymDense(p, nil)
	for i, pr := range priors {
		c := pr.Contribution(ctxs[i])
		priorMean[i] = c.Mean
		priorPrec.SetSym(i, i, c.Prec)
	}

	ephi := s.Noise.Mean()
	var jt mat.Dense
	jt.CloneFrom(j.T())
	var jtj mat.Dense
	jtj.Mul(&jt, j)

	var precDense mat.Dense
	precDense.Scale(ephi, &jtj)
	var precAdded mat.Dense
	precAdded.Add(priorPrec, &precDense)
	prec := symmetriseDense(p, &precAdded)

	sigma, err := invertPrec(prec)
	if err != nil {
		return stepOutput{}, fmt.Errorf("vb: precision inversion failed: %w", err)
	}

	resid := make([]float64, t)
	for i := range resid {
		resid[i] = y[i] - yhat[i]
	}
	var jMu mat.VecDense
	jMu.MulVec(j, mat.NewVecDense(p, mu))
	rhs := mat.NewVecDense(p, nil)
	var priorTerm mat.VecDense
	priorTerm.MulVec(priorPrec, mat.NewVecDense(p, priorMean))
	residPlusJMu := mat.NewVecDense(t, nil)
	for i := 0; i < t; i++ {
		residPlusJMu.SetVec(i, resid[i]+jMu.AtVec(i))
	}
	var jtResid mat.VecDense
	jtResid.MulVec(&jt, residPlusJMu)
	jtResid.ScaleVec(ephi, &jtResid)
	rhs.AddVec(&priorTerm, &jtResid)

	var candidateMean mat.VecDense
	candidateMean.MulVec(sigma, rhs)

	newMean := make([]float64, p)
	for i := range newMean {
		newMean[i] = prevMean[i] + damping*(candidateMean.AtVec(i)-prevMean[i])
	}

	s.Post.SetMean(newMean)
	s.Post.SetCov(sigma)

	var jNewMean mat.VecDense
	jNewMean.MulVec(j, mat.NewVecDense(p, newMean))
	newResid := make([]float64, t)
	for i := range newResid {
		newResid[i] = residPlusJMu.AtVec(i) - jNewMean.AtVec(i)
	}

	if err := s.Noise.Update(newResid, j, sigma); err != nil {
		return stepOutput{}, fmt.Errorf("vb: noise Update: %w", err)
	}
	whitened := s.Noise.Whiten(newResid)

	f, err := freeEnergy(t, whitened, j, sigma, priorMean, priorPrec, s)
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{freeEnergy: f}, nil
}

func symmetriseDense(n int, m *mat.Dense) *mat.SymDense {
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

func invertPrec(prec *mat.SymDense) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(prec) {
		return nil, mvn.ErrNotSPD
	}
	var inv mat.SymDense
	if err := inv.InverseCholesky(&chol); err != nil {
		return nil, err
	}
	return &inv, nil
}
