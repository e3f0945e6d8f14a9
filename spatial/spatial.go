// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package spatial implements the Spatial VB outer loop: it repeatedly
sweeps every voxel's per-voxel VB update (vb.Sweep) under a fixed
snapshot of priors, then rewrites each spatial parameter's (rho,
delta) from the resulting cross-voxel posterior statistics before the
next sweep.

Field names (SpatialDims, SpatialSpeed, UpdateFirstIter,
UseSimEvidence) follow the original implementation's
SpatialVariationalBayes (inference_spatialvb.h: m_spatial_dims,
m_spatial_speed, m_update_first_iter, m_use_sim_evidence), carried
over as a Go Params struct in the teacher's Params/Defaults idiom.
*/
package spatial

import (
	"context"
	"fmt"

	"github.com/fabberlabs/fabber/convergence"
	"github.com/fabberlabs/fabber/covcache"
	"github.com/fabberlabs/fabber/fwdmodel"
	"github.com/fabberlabs/fabber/prior"
	"github.com/fabberlabs/fabber/vb"
	"github.com/fabberlabs/fabber/vgrid"
)

// Params configures the outer loop.
type Params struct {
	SpatialDims  int
	SpatialSpeed float64 // >= 1, or -1 for unlimited
	DistMeasure  vgrid.DistanceMetric

	FixedDelta, FixedRho float64 // > 0 overrides the default seed for every spatial parameter

	UpdateFirstIter bool
	UseSimEvidence  bool

	MaxOuterIterations int
	OuterTolerance     float64

	NewDeltaEvaluations   int
	BruteForceDeltaSearch bool

	MaxInnerTrials int
	Workers        int
}

// Defaults fills in the original implementation's baseline outer-loop
// configuration.
func (p *Params) Defaults() {
	p.SpatialSpeed = -1
	p.DistMeasure = vgrid.Euclidean
	p.FixedDelta = 0
	p.FixedRho = 0
	p.UpdateFirstIter = true
	p.UseSimEvidence = false
	p.MaxOuterIterations = 20
	p.OuterTolerance = 1e-4
	p.NewDeltaEvaluations = 10
	p.BruteForceDeltaSearch = false
	p.MaxInnerTrials = 10
	p.Workers = 0
}

const defaultDeltaSeed = 10.0
const defaultRhoSeed = 1.0

// Coordinator owns the per-run spatial-VB state: the voxel grid, the
// covariance cache, each voxel's VB State, and each parameter's
// current prior kind and (rho, delta).
type Coordinator struct {
	Params Params

	Grid  *vgrid.Grid
	Cache *covcache.Cache
	Model fwdmodel.Model

	States []*vb.State
	Y      func(voxel int) []float64

	kinds []prior.Kind
	rho   []float64
	delta []float64

	// base is the non-spatial fallback contribution for each
	// parameter (Normal/Image/ARD), used directly for non-spatial
	// kinds.
	base []prior.Prior

	outerMonitor *convergence.Monitor
}

// New builds a Coordinator over the supplied voxel grid: it constructs
// the covariance cache from the grid's distance matrix, parses
// priorTypesStr into one Kind per parameter, and seeds (rho, delta)
// from Params.FixedRho/FixedDelta or the package defaults.
func New(model fwdmodel.Model, grid *vgrid.Grid, priorTypesStr string, base []prior.Prior, states []*vb.State, y func(voxel int) []float64, params Params) (*Coordinator, error) {
	numParams := model.NumParams()
	kinds, err := prior.TypeString(priorTypesStr, numParams)
	if err != nil {
		return nil, fmt.Errorf("spatial: %w", err)
	}
	if len(base) != numParams {
		return nil, fmt.Errorf("spatial: %d base priors for %d parameters", len(base), numParams)
	}
	if len(states) != grid.NumVoxels() {
		return nil, fmt.Errorf("spatial: %d states for %d voxels", len(states), grid.NumVoxels())
	}

	dist := grid.DistanceMatrix(params.DistMeasure)
	cache := covcache.New(grid.NumVoxels(), dist)

	rho := make([]float64, numParams)
	delta := make([]float64, numParams)
	for p := 0; p < numParams; p++ {
		rho[p] = defaultRhoSeed
		delta[p] = defaultDeltaSeed
		if params.FixedRho > 0 {
			rho[p] = params.FixedRho
		}
		if params.FixedDelta > 0 {
			delta[p] = params.FixedDelta
		}
	}

	return &Coordinator{
		Params:       params,
		Grid:         grid,
		Cache:        cache,
		Model:        model,
		States:       states,
		Y:            y,
		kinds:        kinds,
		rho:          rho,
		delta:        delta,
		base:         base,
		outerMonitor: convergence.NewMonitor(convergence.Params{Policy: convergence.FChange, MaxIterations: params.MaxOuterIterations, Tolerance: params.OuterTolerance}),
	}, nil
}

// priorFor returns the current prior.Prior for parameter p, wired to
// the Coordinator's live rho/delta and the grid/cache it needs. A
// parameter's Kind is single-valued (from TypeString), so this is
// simply "use the kind the config string assigned."
func (c *Coordinator) priorFor(p int) prior.Prior {
	switch c.kinds[p] {
	case prior.SpatialM:
		return prior.SpatialMPrior{Neighbours: c.Grid, Rho: c.rho[p]}
	case prior.Spatialm:
		return prior.SpatialmPrior{Neighbours: c.Grid, Rho: c.rho[p], ExpectedDegree: c.Grid.ExpectedDegree()}
	case prior.SpatialP:
		return prior.SpatialPPrior{Rows: c.Cache, Rho: c.rho[p], Delta: c.delta[p]}
	case prior.Spatialp:
		return prior.SpatialpPrior{
			Rows:  covcache.TridiagRowSource{Cache: c.Cache, N1: c.Grid.N1},
			Rho:   c.rho[p],
			Delta: c.delta[p],
		}
	default:
		return c.base[p]
	}
}

func (c *Coordinator) priorsSnapshot() []prior.Prior {
	out := make([]prior.Prior, len(c.kinds))
	for p := range out {
		out[p] = c.priorFor(p)
	}
	return out
}

func (c *Coordinator) posteriorMean(param, voxel int) float64 {
	return c.States[voxel].Post.MeanAt(param)
}

func (c *Coordinator) posteriorVar(param, voxel int) float64 {
	cov, err := c.States[voxel].Post.Cov()
	if err != nil {
		return 0
	}
	return cov.At(param, param)
}

// Run executes the outer loop until outer convergence, the maximum
// iteration cap, or divergence, returning the final outcome and each
// outer iteration's aggregate free energy.
func (c *Coordinator) Run(ctx context.Context) (convergence.Outcome, []float64, error) {
	var trace []float64
	for iter := 0; ; iter++ {
		select {
		case <-ctx.Done():
			return convergence.Diverged, trace, ctx.Err()
		default:
		}

		priors := c.priorsSnapshot()
		means := make([][]float64, len(c.kinds))
		vars := make([][]float64, len(c.kinds))
		for p := range c.kinds {
			means[p] = make([]float64, len(c.States))
			vars[p] = make([]float64, len(c.States))
			for v := range c.States {
				means[p][v], vars[p][v] = c.posteriorMean(p, v), c.posteriorVar(p, v)
			}
		}
		meanAt := func(p, v int) float64 { return means[p][v] }
		varAt := func(p, v int) float64 { return vars[p][v] }
		results, err := vb.Sweep(ctx, c.Model,
			func(int) []prior.Prior { return priors },
			func(v int) []prior.VoxelContext {
				return vb.VoxelContexts(v, len(c.kinds), meanAt, varAt)
			},
			c.Y, c.States, c.Params.MaxInnerTrials, c.Params.Workers,
		)
		if err != nil {
			return convergence.Diverged, trace, err
		}

		var sumF float64
		for _, r := range results {
			if r.Err == nil {
				sumF += r.Outcome.FreeEnergy
			}
		}
		trace = append(trace, sumF)

		if iter > 0 || c.Params.UpdateFirstIter {
			if err := c.updateSpatialParams(); err != nil {
				return convergence.Diverged, trace, err
			}
		}

		outcome := c.outerMonitor.Check(sumF)
		switch outcome {
		case convergence.Converged, convergence.Diverged:
			return outcome, trace, nil
		case convergence.Reverted:
			continue
		default:
			if iter+1 >= c.Params.MaxOuterIterations {
				return convergence.Converged, trace, nil
			}
		}
	}
}
