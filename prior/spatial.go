// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prior

// Neighbours exposes the first-order adjacency a spatial prior needs.
// vgrid.Graph implements it; the interface keeps this package free of
// a dependency on vgrid.
type Neighbours interface {
	// N1 returns the 0-based indices of v's first-order neighbours.
	N1(v int) []int
}

// SpatialMPrior is the thin-plate / MRF shrinkage prior: the prior
// mean is the average of the first-order neighbours' current
// posterior means, and the prior precision scales with the neighbour
// count.
type SpatialMPrior struct {
	Neighbours Neighbours
	Rho        float64
}

func (SpatialMPrior) Kind() Kind { return SpatialM }

func (p SpatialMPrior) Contribution(ctx VoxelContext) Contribution {
	n1 := p.Neighbours.N1(ctx.Voxel)
	if len(n1) == 0 {
		return Contribution{Mean: 0, Prec: 0}
	}
	var sum float64
	for _, u := range n1 {
		sum += ctx.PosteriorMean(u)
	}
	mean := sum / float64(len(n1))
	prec := p.Rho * float64(len(n1))
	return Contribution{Mean: mean, Prec: prec}
}

// SpatialmPrior is SpatialMPrior with a Dirichlet boundary condition:
// edge voxels (fewer actual neighbours than the lattice would give an
// interior voxel) use the lattice-expected neighbour count in the
// precision term instead of the actual, truncated count, so that
// boundary voxels are not artificially under-regularised.
type SpatialmPrior struct {
	Neighbours     Neighbours
	Rho            float64
	ExpectedDegree int // 2*SpatialDims for an interior voxel
}

func (SpatialmPrior) Kind() Kind { return Spatialm }

func (p SpatialmPrior) Contribution(ctx VoxelContext) Contribution {
	n1 := p.Neighbours.N1(ctx.Voxel)
	if len(n1) == 0 {
		return Contribution{Mean: 0, Prec: p.Rho * float64(p.ExpectedDegree)}
	}
	var sum float64
	for _, u := range n1 {
		sum += ctx.PosteriorMean(u)
	}
	mean := sum / float64(len(n1))
	degree := p.ExpectedDegree
	if degree < len(n1) {
		degree = len(n1)
	}
	prec := p.Rho * float64(degree)
	return Contribution{Mean: mean, Prec: prec}
}

// RowSource supplies the row of K(delta)^-1 (or its tridiagonal
// approximation, for the 'p' variant) that a Penny-style evidence
// prior needs for one voxel: the diagonal entry and the off-diagonal
// entries against every other voxel that has a nonzero coupling.
// covcache.Cache implements this.
type RowSource interface {
	// Diag returns K(delta)^-1[v,v].
	Diag(v int, delta float64) (float64, error)
	// OffDiag calls fn(j, kinv) for every voxel j != v with a nonzero
	// K(delta)^-1[v,j].
	OffDiag(v int, delta float64, fn func(j int, kinv float64)) error
}

// SpatialPPrior is the Penny-style evidence-optimised spatial prior:
// the prior for voxel v is the Gaussian conditional on every other
// voxel's current posterior mean implied by a joint precision
// rho*K(delta)^-1 over the whole volume.
type SpatialPPrior struct {
	Rows  RowSource
	Rho   float64
	Delta float64
}

func (SpatialPPrior) Kind() Kind { return SpatialP }

func (p SpatialPPrior) Contribution(ctx VoxelContext) Contribution {
	diag, err := p.Rows.Diag(ctx.Voxel, p.Delta)
	if err != nil || diag <= 0 {
		return Contribution{Mean: 0, Prec: 0}
	}
	var weighted float64
	p.Rows.OffDiag(ctx.Voxel, p.Delta, func(j int, kinv float64) {
		weighted += -kinv / diag * ctx.PosteriorMean(j)
	})
	return Contribution{Mean: weighted, Prec: p.Rho * diag}
}

// SpatialpPrior is SpatialPPrior restricted to the first-order
// neighbourhood: Rows is expected to be backed by the tridiagonal
// approximation of K(delta)^-1 rather than the full dense inverse.
type SpatialpPrior struct {
	Rows  RowSource
	Rho   float64
	Delta float64
}

func (SpatialpPrior) Kind() Kind { return Spatialp }

func (p SpatialpPrior) Contribution(ctx VoxelContext) Contribution {
	diag, err := p.Rows.Diag(ctx.Voxel, p.Delta)
	if err != nil || diag <= 0 {
		return Contribution{Mean: 0, Prec: 0}
	}
	var weighted float64
	p.Rows.OffDiag(ctx.Voxel, p.Delta, func(j int, kinv float64) {
		weighted += -kinv / diag * ctx.PosteriorMean(j)
	})
	return Contribution{Mean: weighted, Prec: p.Rho * diag}
}
