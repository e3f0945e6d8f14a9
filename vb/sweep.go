// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vb

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/fabberlabs/fabber/fwdmodel"
	"github.com/fabberlabs/fabber/prior"
)

// VoxelContexts builds the per-parameter prior.VoxelContext slice for
// one voxel, closing over shared PosteriorMean/PosteriorVar accessors
// that read a snapshot of every voxel's current posterior for that
// parameter. Spatial priors use these to reach across voxels without
// this package depending on how the snapshot is stored.
func VoxelContexts(voxel, numParams int, posteriorMean, posteriorVar func(param, voxel int) float64) []prior.VoxelContext {
	ctxs := make([]prior.VoxelContext, numParams)
	for p := 0; p < numParams; p++ {
		param := p
		ctxs[p] = prior.VoxelContext{
			Voxel:         voxel,
			PosteriorMean: func(v int) float64 { return posteriorMean(param, v) },
			PosteriorVar:  func(v int) float64 { return posteriorVar(param, v) },
		}
	}
	return ctxs
}

// StepResultOutcome pairs a voxel index with the convergence outcome
// its update produced, for sweep-level reporting.
type StepResultOutcome struct {
	Voxel   int
	Outcome StepResult
	Err     error
}

// Sweep runs one inner VB iteration for every voxel, under the fixed
// priors and per-parameter cross-voxel contexts supplied by the
// caller; priors are snapshotted once at sweep start. Voxels are
// independent given that snapshot, so Sweep fans them out
// across a bounded worker pool via errgroup; each voxel writes only
// into its own states[v] slot. workers <= 0 means unbounded
// (errgroup.SetLimit is not applied).
func Sweep(ctx context.Context, model fwdmodel.Model, priorsByVoxel func(voxel int) []prior.Prior, ctxsByVoxel func(voxel int) []prior.VoxelContext, y func(voxel int) []float64, states []*State, maxTrials, workers int) ([]StepResultOutcome, error) {
	results := make([]StepResultOutcome, len(states))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for v := range states {
		v := v
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if states[v].Failed {
				results[v] = StepResultOutcome{Voxel: v, Err: states[v].FailureErr}
				return nil
			}
			res, err := Update(model, priorsByVoxel(v), y(v), ctxsByVoxel(v), states[v], maxTrials)
			results[v] = StepResultOutcome{Voxel: v, Outcome: res, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
