// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package mvn implements the multivariate Gaussian distribution used
throughout Fabber for posteriors, priors, and the noise-free-parameter
block that the VB update iterates on.

A distribution stores its mean and one of {covariance, precision} as
authoritative; the other representation is reconstructed lazily and
cached until the next mutation.
*/
package mvn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrNotSPD is returned when a covariance or precision matrix fails to
// Cholesky-factorise, i.e. is not symmetric positive-definite.
var ErrNotSPD = errors.New("mvn: matrix is not symmetric positive-definite")

// repr tracks which of {covariance, precision} currently holds the
// authoritative value for a Dist. Both may be valid at once right
// after a conversion; any mutating Set* call invalidates the other.
type repr int

const (
	reprNone repr = iota
	reprCov
	reprPrec
	reprBoth
)

// Dist is a multivariate Gaussian over n real variables. The zero value
// is not usable; construct with New.
type Dist struct {
	n     int
	mean  *mat.VecDense
	cov   *mat.SymDense
	prec  *mat.SymDense
	have  repr
	chol  *mat.Cholesky // cached factorisation of cov, when available
	logDet    float64
	logDetSet bool
}

// New creates a Dist of dimension n with zero mean and identity
// covariance. Callers typically overwrite both immediately via
// SetMean/SetCov or SetPrec.
func New(n int) *Dist {
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, 1)
	}
	return &Dist{
		n:    n,
		mean: mat.NewVecDense(n, nil),
		cov:  cov,
		have: reprCov,
	}
}

// NewFromMeanCov creates a Dist from an explicit mean and covariance.
// The covariance is copied and symmetrised.
func NewFromMeanCov(mean []float64, cov *mat.SymDense) *Dist {
	d := &Dist{n: len(mean), mean: mat.NewVecDense(len(mean), append([]float64(nil), mean...))}
	d.SetCov(cov)
	return d
}

// Dim returns the dimensionality n.
func (d *Dist) Dim() int { return d.n }

// Mean returns a copy of the mean vector.
func (d *Dist) Mean() []float64 {
	out := make([]float64, d.n)
	for i := range out {
		out[i] = d.mean.AtVec(i)
	}
	return out
}

// MeanAt returns the i'th component of the mean.
func (d *Dist) MeanAt(i int) float64 { return d.mean.AtVec(i) }

// SetMean overwrites the mean in place without touching covariance or
// precision -- the spec's update equations always move the mean
// independently of the spread.
func (d *Dist) SetMean(mean []float64) {
	if len(mean) != d.n {
		panic(fmt.Sprintf("mvn: SetMean dimension mismatch: have %d want %d", len(mean), d.n))
	}
	for i, v := range mean {
		d.mean.SetVec(i, v)
	}
}

// SetMeanVec overwrites the mean from a gonum vector.
func (d *Dist) SetMeanVec(mean *mat.VecDense) {
	if mean.Len() != d.n {
		panic("mvn: SetMeanVec dimension mismatch")
	}
	d.mean = mat.VecDenseCopyOf(mean)
}

// symmetrise returns (m+m^T)/2 as a SymDense, guarding against drift
// introduced by floating point inversion -- every mutating operation
// that derives a covariance or precision from arithmetic runs its
// result through this before storing it.
func symmetrise(n int, m mat.Matrix) *mat.SymDense {
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			sym.SetSym(i, j, v)
		}
	}
	return sym
}

// SetCov installs cov as the authoritative covariance, invalidating any
// cached precision and log-determinant.
func (d *Dist) SetCov(cov *mat.SymDense) {
	if cov.Symmetric() != d.n {
		panic("mvn: SetCov dimension mismatch")
	}
	d.cov = symmetrise(d.n, cov)
	d.prec = nil
	d.chol = nil
	d.logDetSet = false
	d.have = reprCov
}

// SetPrec installs prec as the authoritative precision, invalidating any
// cached covariance and log-determinant.
func (d *Dist) SetPrec(prec *mat.SymDense) {
	if prec.Symmetric() != d.n {
		panic("mvn: SetPrec dimension mismatch")
	}
	d.prec = symmetrise(d.n, prec)
	d.cov = nil
	d.chol = nil
	d.logDetSet = false
	d.have = reprPrec
}

// Cov returns the covariance, computing it from the precision (via
// Cholesky inverse) and caching the result if only the precision is
// currently authoritative.
func (d *Dist) Cov() (*mat.SymDense, error) {
	if d.have == reprCov || d.have == reprBoth {
		return d.cov, nil
	}
	cov, err := invertSPD(d.prec)
	if err != nil {
		return nil, fmt.Errorf("mvn: Cov: %w", err)
	}
	d.cov = cov
	d.have = reprBoth
	return d.cov, nil
}

// Prec returns the precision, computing it from the covariance (via
// Cholesky inverse) and caching the result if only the covariance is
// currently authoritative.
func (d *Dist) Prec() (*mat.SymDense, error) {
	if d.have == reprPrec || d.have == reprBoth {
		return d.prec, nil
	}
	prec, err := invertSPD(d.cov)
	if err != nil {
		return nil, fmt.Errorf("mvn: Prec: %w", err)
	}
	d.prec = prec
	d.have = reprBoth
	return d.prec, nil
}

// invertSPD Cholesky-factorises m and returns its inverse, repairing a
// marginally non-SPD input (negative eigenvalues introduced by
// floating-point drift) by clipping the offending eigenvalues before
// retrying once. A second failure is reported as ErrNotSPD.
func invertSPD(m *mat.SymDense) (*mat.SymDense, error) {
	n := m.Symmetric()
	var chol mat.Cholesky
	if ok := chol.Factorize(m); ok {
		var inv mat.SymDense
		if err := inv.InverseCholesky(&chol); err != nil {
			return nil, err
		}
		return &inv, nil
	}

	repaired, err := repairSPD(m)
	if err != nil {
		return nil, err
	}
	var chol2 mat.Cholesky
	if ok := chol2.Factorize(repaired); !ok {
		return nil, ErrNotSPD
	}
	var inv mat.SymDense
	if err := inv.InverseCholesky(&chol2); err != nil {
		return nil, err
	}
	_ = n
	return &inv, nil
}

// repairSPD clips negative and near-zero eigenvalues of m to a small
// positive floor and reassembles the matrix.
func repairSPD(m *mat.SymDense) (*mat.SymDense, error) {
	n := m.Symmetric()
	var eig mat.EigSym
	if !eig.Factorize(m, true) {
		return nil, ErrNotSPD
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	const floor = 1e-10
	clipped := false
	for i, v := range vals {
		if v < floor {
			vals[i] = floor
			clipped = true
		}
	}
	if !clipped {
		return nil, ErrNotSPD
	}

	var diag mat.Dense
	diag.Apply(func(i, j int, v float64) float64 {
		if i == j {
			return vals[i]
		}
		return 0
	}, mat.NewDense(n, n, nil))

	var tmp, out mat.Dense
	tmp.Mul(&vecs, &diag)
	out.Mul(&tmp, vecs.T())
	return symmetrise(n, &out), nil
}

// LogDet returns log|Sigma|, the log-determinant of the covariance,
// caching the value until the next mutation.
func (d *Dist) LogDet() (float64, error) {
	if d.logDetSet {
		return d.logDet, nil
	}
	cov, err := d.Cov()
	if err != nil {
		return 0, err
	}
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return 0, fmt.Errorf("mvn: LogDet: %w", ErrNotSPD)
	}
	d.logDet = chol.LogDet()
	d.logDetSet = true
	return d.logDet, nil
}

// Concat builds the block-diagonal combination of independent
// distributions: the joint mean is the concatenation of each mean and
// the joint covariance has each input covariance on its diagonal block
// with zero cross-covariance.
func Concat(dists ...*Dist) (*Dist, error) {
	total := 0
	for _, d := range dists {
		total += d.n
	}
	mean := make([]float64, 0, total)
	cov := mat.NewSymDense(total, nil)
	off := 0
	for _, d := range dists {
		mean = append(mean, d.Mean()...)
		c, err := d.Cov()
		if err != nil {
			return nil, err
		}
		for i := 0; i < d.n; i++ {
			for j := i; j < d.n; j++ {
				cov.SetSym(off+i, off+j, c.At(i, j))
			}
		}
		off += d.n
	}
	return NewFromMeanCov(mean, cov), nil
}

// Marginal returns the sub-distribution over the given (0-based)
// indices, i.e. the corresponding rows/cols of mean and covariance.
// Indices need not be contiguous or sorted.
func (d *Dist) Marginal(idx []int) (*Dist, error) {
	cov, err := d.Cov()
	if err != nil {
		return nil, err
	}
	n := len(idx)
	mean := make([]float64, n)
	sub := mat.NewSymDense(n, nil)
	for a, i := range idx {
		mean[a] = d.mean.AtVec(i)
		for b := a; b < n; b++ {
			j := idx[b]
			sub.SetSym(a, b, cov.At(i, j))
		}
	}
	return NewFromMeanCov(mean, sub), nil
}

// KL returns the Kullback-Leibler divergence KL(d || other) for two
// distributions of equal dimension.
func (d *Dist) KL(other *Dist) (float64, error) {
	if d.n != other.n {
		return 0, fmt.Errorf("mvn: KL dimension mismatch: %d vs %d", d.n, other.n)
	}
	covP, err := d.Cov()
	if err != nil {
		return 0, err
	}
	precQ, err := other.Prec()
	if err != nil {
		return 0, err
	}
	logDetP, err := d.LogDet()
	if err != nil {
		return 0, err
	}
	logDetQ, err := other.LogDet()
	if err != nil {
		return 0, err
	}

	var tr mat.Dense
	tr.Mul(precQ, covP)
	trace := mat.Trace(&tr)

	diff := mat.NewVecDense(d.n, nil)
	diff.SubVec(d.mean, other.mean)
	var tmp mat.VecDense
	tmp.MulVec(precQ, diff)
	quad := mat.Dot(diff, &tmp)

	n := float64(d.n)
	return 0.5 * (trace + quad - n + logDetQ - logDetP), nil
}
