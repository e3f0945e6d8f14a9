// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vb

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fabberlabs/fabber/mvn"
)

// freeEnergy computes the closed-form free energy as the sum of the
// expected log-likelihood and the negative KL divergences of each
// posterior factor from its prior:
//
//	F = E[log p(y|theta,phi)] - KL(q(theta)||p(theta)) - KL(q(phi)||p(phi))
func freeEnergy(t int, resid []float64, j *mat.Dense, sigma *mat.SymDense, priorMean []float64, priorPrec *mat.SymDense, s *State) (float64, error) {
	ss := floats.Dot(resid, resid)
	var jSigma mat.Dense
	jSigma.Mul(j, sigma)
	var jSigmaJt mat.Dense
	jSigmaJt.Mul(&jSigma, j.T())
	trace := mat.Trace(&jSigmaJt)

	ephi := s.Noise.Mean()
	elogphi := s.Noise.MeanLogPrecision()

	expectedLogLik := -0.5*float64(t)*math.Log(2*math.Pi) +
		0.5*float64(t)*elogphi -
		0.5*ephi*(ss+trace)

	priorCov, err := invertPrec(priorPrec)
	if err != nil {
		return 0, err
	}
	priorDist := mvn.NewFromMeanCov(priorMean, priorCov)
	postDist := mvn.NewFromMeanCov(s.Post.Mean(), sigma)

	klTheta, err := postDist.KL(priorDist)
	if err != nil {
		return 0, err
	}

	klPhi := s.Noise.KLToPrior()

	return expectedLogLik - klTheta - klPhi, nil
}
