// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package covcache

// Diag returns K(delta)^-1[v,v], satisfying prior.RowSource so a
// Cache can back a prior.SpatialPPrior directly.
func (c *Cache) Diag(v int, delta float64) (float64, error) {
	cinv, err := c.GetCinv(delta)
	if err != nil {
		return 0, err
	}
	return cinv.At(v, v), nil
}

// OffDiag calls fn(j, kinv) for every j != v with K(delta)^-1[v,j] !=
// 0, satisfying prior.RowSource.
func (c *Cache) OffDiag(v int, delta float64, fn func(j int, kinv float64)) error {
	cinv, err := c.GetCinv(delta)
	if err != nil {
		return err
	}
	for j := 0; j < c.n; j++ {
		if j == v {
			continue
		}
		if kv := cinv.At(v, j); kv != 0 {
			fn(j, kv)
		}
	}
	return nil
}

// TridiagRowSource restricts a Cache's rows to a first-order
// neighbour list, approximating K(delta)^-1 by its first-order
// lattice band -- the cheaper row source the Spatial p prior is
// documented to use in place of the dense inverse.
type TridiagRowSource struct {
	Cache *Cache
	N1    func(v int) []int
}

// Diag delegates to the underlying dense Cache; the diagonal of a
// banded approximation to K^-1 coincides with the dense diagonal.
func (t TridiagRowSource) Diag(v int, delta float64) (float64, error) {
	return t.Cache.Diag(v, delta)
}

// OffDiag visits only v's first-order neighbours, using the dense
// K(delta)^-1 entry at each, approximating the off-band entries as
// zero.
func (t TridiagRowSource) OffDiag(v int, delta float64, fn func(j int, kinv float64)) error {
	cinv, err := t.Cache.GetCinv(delta)
	if err != nil {
		return err
	}
	for _, j := range t.N1(v) {
		if kv := cinv.At(v, j); kv != 0 {
			fn(j, kv)
		}
	}
	return nil
}
