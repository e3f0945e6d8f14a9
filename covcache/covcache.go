// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package covcache implements the delta-keyed covariance caches used
by the spatial P/p priors and by the Sahani-style smoothing-scale
search: K(delta), its inverse, and K^-1*C*K^-1 for a caller-supplied
spatial-covariance ratio C.

Naming follows the original implementation's CovarianceCache
(inference_spatialvb.h): GetCinv, GetCiCodistCi, GetCachedInRange.
*/
package covcache

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Cache owns the V-by-V symmetric lattice distance matrix and
// memoises, keyed by delta, K(delta)^-1 and K(delta)^-1*C*K(delta)^-1
// for the most recently supplied C. Entries are immutable once
// inserted; Reset is the only way to clear them.
type Cache struct {
	n    int
	dist *mat.SymDense

	mu         sync.Mutex
	cinv       map[float64]*mat.SymDense
	ciCodistCi map[float64]ciCodistEntry
}

type ciCodistEntry struct {
	m     *mat.SymDense
	trace float64
	cKey  uint64 // identity key of the C matrix this entry was computed for
}

// New builds a Cache from a V-by-V row-major distance matrix, such
// as vgrid.Grid.DistanceMatrix's output.
func New(n int, distRowMajor []float64) *Cache {
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			d.SetSym(i, j, distRowMajor[i*n+j])
		}
	}
	return &Cache{
		n:          n,
		dist:       d,
		cinv:       map[float64]*mat.SymDense{},
		ciCodistCi: map[float64]ciCodistEntry{},
	}
}

// Reset discards all cached entries; the distance matrix itself is
// retained.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cinv = map[float64]*mat.SymDense{}
	c.ciCodistCi = map[float64]ciCodistEntry{}
}

// C returns K(delta) with K_ij = exp(-D_ij/delta), computed fresh
// each call (this is cheap relative to the inverse, so it is not
// memoised).
func (c *Cache) C(delta float64) *mat.SymDense {
	k := mat.NewSymDense(c.n, nil)
	for i := 0; i < c.n; i++ {
		for j := i; j < c.n; j++ {
			k.SetSym(i, j, math.Exp(-c.dist.At(i, j)/delta))
		}
	}
	return k
}

// GetCinv returns K(delta)^-1, computing and caching it on first
// request for this delta.
func (c *Cache) GetCinv(delta float64) (*mat.SymDense, error) {
	c.mu.Lock()
	if cached, ok := c.cinv[delta]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	k := c.C(delta)
	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return nil, fmt.Errorf("covcache: K(delta=%g) is not SPD", delta)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("covcache: inverting K(delta=%g): %w", delta, err)
	}

	c.mu.Lock()
	c.cinv[delta] = &inv
	c.mu.Unlock()
	return &inv, nil
}

// GetCiCodistCi returns K(delta)^-1 * C * K(delta)^-1 and
// tr(K(delta)^-1 * C) for the supplied spatial-covariance ratio C,
// recomputing (and re-caching) whenever C's key (its dimension and
// sampled diagonal entries, see identityKey) differs from that of the
// C the cached entry, if any, was built from.
func (c *Cache) GetCiCodistCi(delta float64, covRatio *mat.SymDense) (*mat.SymDense, float64, error) {
	key := identityKey(covRatio)

	c.mu.Lock()
	if cached, ok := c.ciCodistCi[delta]; ok && cached.cKey == key {
		c.mu.Unlock()
		return cached.m, cached.trace, nil
	}
	c.mu.Unlock()

	cinv, err := c.GetCinv(delta)
	if err != nil {
		return nil, 0, err
	}

	var ciCo mat.Dense
	ciCo.Mul(cinv, covRatio)
	trace := mat.Trace(&ciCo)

	var ciCoCi mat.Dense
	ciCoCi.Mul(&ciCo, cinv)
	result := symmetrise(c.n, &ciCoCi)

	c.mu.Lock()
	c.ciCodistCi[delta] = ciCodistEntry{m: result, trace: trace, cKey: key}
	c.mu.Unlock()
	return result, trace, nil
}

// GetCachedInRange returns a delta already cached by GetCinv that
// lies strictly within (lower, upper), and true, or (0, false) if
// none exists. It is used to seed local searches cheaply.
func (c *Cache) GetCachedInRange(lower, upper float64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]float64, 0, len(c.cinv))
	for k := range c.cinv {
		if k > lower && k < upper {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return 0, false
	}
	sort.Float64s(keys)
	return keys[0], true
}

func symmetrise(n int, m *mat.Dense) *mat.SymDense {
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

// identityKey derives a cheap identity-ish key from a matrix's
// dimensions and a few sampled entries, good enough to detect that
// GetCiCodistCi was called again with a materially different C
// without hashing the whole matrix on every call.
func identityKey(m *mat.SymDense) uint64 {
	n := m.SymmetricDim()
	var h uint64 = 14695981039346656037
	mix := func(f float64) {
		bits := math.Float64bits(f)
		h ^= bits
		h *= 1099511628211
	}
	mix(float64(n))
	for i := 0; i < n; i += max(1, n/8) {
		mix(m.At(i, i))
	}
	return h
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
