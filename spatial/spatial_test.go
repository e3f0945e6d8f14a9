// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spatial

import (
	"context"
	"math"
	"testing"

	"github.com/emer/etable/v2/etensor"

	"github.com/fabberlabs/fabber/convergence"
	"github.com/fabberlabs/fabber/fwdmodel"
	"github.com/fabberlabs/fabber/noise"
	"github.com/fabberlabs/fabber/prior"
	"github.com/fabberlabs/fabber/vb"
	"github.com/fabberlabs/fabber/vgrid"
)

func fullMask(z, y, x int) *etensor.Float64 {
	m := etensor.NewFloat64([]int{z, y, x}, nil, nil)
	for i := 0; i < z*y*x; i++ {
		m.SetFloat1D(i, 1)
	}
	return m
}

func newTestCoordinator(t *testing.T, spatialDims int, priorTypes string) (*Coordinator, []float64) {
	mask := fullMask(1, 1, 4)
	grid, err := vgrid.NewFromMask(mask, spatialDims)
	if err != nil {
		t.Fatalf("NewFromMask: %v", err)
	}
	model, err := fwdmodel.NewTrivial(map[string]string{"ntpts": "6"})
	if err != nil {
		t.Fatalf("NewTrivial: %v", err)
	}
	targets := []float64{1, 2, 3, 4}
	states := make([]*vb.State, grid.NumVoxels())
	for v := range states {
		states[v] = vb.NewState(model, noise.NewWhite(1e-6, 1e6), convergence.Params{Policy: convergence.MaxIts, MaxIterations: 1})
	}
	base := []prior.Prior{prior.NormalPrior{Mean: 0, Prec: 1e-6}}
	params := Params{}
	params.Defaults()
	params.MaxOuterIterations = 3
	params.Workers = 2

	c, err := New(model, grid, priorTypes, base, states,
		func(v int) []float64 {
			y := make([]float64, 6)
			for i := range y {
				y[i] = targets[v]
			}
			return y
		}, params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, targets
}

func TestNewBuildsCoordinator(t *testing.T) {
	c, _ := newTestCoordinator(t, 3, "M")
	if c.Grid.NumVoxels() != 4 {
		t.Errorf("NumVoxels() = %d, want 4", c.Grid.NumVoxels())
	}
	if c.kinds[0] != prior.SpatialM {
		t.Errorf("kinds[0] = %v, want SpatialM", c.kinds[0])
	}
}

func TestPriorForReturnsBaseForNonSpatialKind(t *testing.T) {
	c, _ := newTestCoordinator(t, 3, "N")
	p := c.priorFor(0)
	if _, ok := p.(prior.NormalPrior); !ok {
		t.Errorf("expected NormalPrior for kind N, got %T", p)
	}
}

func TestPriorForReturnsSpatialMForKindM(t *testing.T) {
	c, _ := newTestCoordinator(t, 3, "M")
	p := c.priorFor(0)
	if _, ok := p.(prior.SpatialMPrior); !ok {
		t.Errorf("expected SpatialMPrior for kind M, got %T", p)
	}
}

func TestRunConvergesWithoutError(t *testing.T) {
	c, targets := newTestCoordinator(t, 3, "M")
	outcome, trace, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome == convergence.Diverged {
		t.Fatalf("expected Run not to diverge")
	}
	if len(trace) == 0 {
		t.Fatalf("expected a non-empty free-energy trace")
	}
	for v, target := range targets {
		got := c.States[v].Post.MeanAt(0)
		if math.IsNaN(got) {
			t.Errorf("voxel %d: posterior mean is NaN", v)
		}
		_ = target
	}
}

func TestRunWithSpatialDimsZeroHasNoCoupling(t *testing.T) {
	c, _ := newTestCoordinator(t, 0, "M")
	if len(c.Grid.N1(0)) != 0 {
		t.Fatalf("expected no neighbours at spatial_dims=0")
	}
	p := c.priorFor(0).(prior.SpatialMPrior)
	ctx := prior.VoxelContext{Voxel: 0, PosteriorMean: func(v int) float64 { return c.posteriorMean(0, v) }}
	contrib := p.Contribution(ctx)
	if contrib.Prec != 0 {
		t.Errorf("expected zero precision contribution with no neighbours, got %v", contrib.Prec)
	}
}

func TestApplyRhoDeltaClipsToSpatialSpeed(t *testing.T) {
	c, _ := newTestCoordinator(t, 3, "M")
	c.Params.SpatialSpeed = 1
	c.rho[0] = 1.0
	c.applyRhoDelta(0, 5.0, 2.0)
	if c.rho[0] > 2.0+1e-9 {
		t.Errorf("rho not clipped: got %v, want <= 2.0", c.rho[0])
	}
}

// TestRunTwoIdenticalVoxelsSpatialMAgreeWithinTolerance: a 2-voxel
// grid with identical data, a spatial-M prior on the one parameter,
// spatial_dims=1, fixedRho=1 -- the two voxels' posteriors must agree
// within 1e-10, since nothing distinguishes them but their
// (irrelevant, symmetric) lattice position.
func TestRunTwoIdenticalVoxelsSpatialMAgreeWithinTolerance(t *testing.T) {
	mask := fullMask(1, 1, 2)
	grid, err := vgrid.NewFromMask(mask, 1)
	if err != nil {
		t.Fatalf("NewFromMask: %v", err)
	}
	model, err := fwdmodel.NewLinear(map[string]string{"basis": "1,1,1"})
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	y := []float64{1, 2, 3}
	states := make([]*vb.State, grid.NumVoxels())
	for v := range states {
		states[v] = vb.NewState(model, noise.NewWhite(1e-6, 1e6), convergence.Params{Policy: convergence.FChange, MaxIterations: 20, Tolerance: 1e-8})
	}
	base := []prior.Prior{prior.NormalPrior{Mean: 0, Prec: 1e-6}}

	params := Params{}
	params.Defaults()
	params.SpatialDims = 1
	params.FixedRho = 1
	params.MaxOuterIterations = 20

	c, err := New(model, grid, "M", base, states, func(int) []float64 { return y }, params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outcome, _, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome == convergence.Diverged {
		t.Fatalf("expected Run not to diverge")
	}

	m0, m1 := c.States[0].Post.MeanAt(0), c.States[1].Post.MeanAt(0)
	if math.Abs(m0-m1) > 1e-10 {
		t.Errorf("posterior means differ: voxel0=%v voxel1=%v", m0, m1)
	}
	v0, v1 := c.posteriorVar(0, 0), c.posteriorVar(0, 1)
	if math.Abs(v0-v1) > 1e-10 {
		t.Errorf("posterior variances differ: voxel0=%v voxel1=%v", v0, v1)
	}
}

func TestApplyRhoDeltaUnlimitedWhenSpeedNegative(t *testing.T) {
	c, _ := newTestCoordinator(t, 3, "M")
	c.Params.SpatialSpeed = -1
	c.rho[0] = 1.0
	c.applyRhoDelta(0, 50.0, 2.0)
	if c.rho[0] != 50.0 {
		t.Errorf("expected unlimited rho update, got %v", c.rho[0])
	}
}
