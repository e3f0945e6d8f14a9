// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mvn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Sample draws a single vector from the distribution using the
// Cholesky factor of the covariance: x = mean + L*z, z ~ N(0, I).
// Sample is for testing only -- the VB inference core never samples.
func (d *Dist) Sample(rng *rand.Rand) ([]float64, error) {
	cov, err := d.Cov()
	if err != nil {
		return nil, err
	}
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return nil, fmt.Errorf("mvn: Sample: %w", ErrNotSPD)
	}
	var lower mat.TriDense
	chol.LTo(&lower)

	z := mat.NewVecDense(d.n, nil)
	for i := 0; i < d.n; i++ {
		z.SetVec(i, rng.NormFloat64())
	}
	var lz mat.VecDense
	lz.MulVec(&lower, z)

	out := make([]float64, d.n)
	for i := 0; i < d.n; i++ {
		out[i] = d.mean.AtVec(i) + lz.AtVec(i)
	}
	return out, nil
}
