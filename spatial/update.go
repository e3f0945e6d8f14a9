// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spatial

import (
	"fmt"
	"math"

	"github.com/fabberlabs/fabber/covcache"
	"github.com/fabberlabs/fabber/prior"
)

// updateSpatialParams rewrites every spatial parameter's (rho, delta):
// for each, assemble cross-voxel statistics, ask covcache for an
// updated (rho, delta), and clip the precision change to
// Params.SpatialSpeed. P/p parameters are updated one at a time,
// interleaved with M/m by default, or after all M/m parameters when
// UseSimEvidence is set; no joint objective is evaluated.
func (c *Coordinator) updateSpatialParams() error {
	for p := range c.kinds {
		switch c.kinds[p] {
		case prior.SpatialM, prior.Spatialm:
			if err := c.updateMSmoothing(p); err != nil {
				return err
			}
		case prior.SpatialP, prior.Spatialp:
			if !c.Params.UseSimEvidence {
				if err := c.updatePEvidence(p); err != nil {
					return err
				}
			}
		}
	}
	if c.Params.UseSimEvidence {
		if err := c.updatePEvidenceJoint(); err != nil {
			return err
		}
	}
	return nil
}

// updateMSmoothing runs OptimizeSmoothingScale for one M/m parameter
// from the current posterior mean and covariance diagonal across
// voxels.
func (c *Coordinator) updateMSmoothing(p int) error {
	n := c.Grid.NumVoxels()
	covDiag := make([]float64, n)
	meanDiff := make([]float64, n)
	for v := 0; v < n; v++ {
		covDiag[v] = c.posteriorVar(p, v)
		mean := c.posteriorMean(p, v)
		n1 := c.Grid.N1(v)
		if len(n1) == 0 {
			meanDiff[v] = 0
			continue
		}
		var nbMean float64
		for _, u := range n1 {
			nbMean += c.posteriorMean(p, u)
		}
		nbMean /= float64(len(n1))
		meanDiff[v] = mean - nbMean
	}

	deltaMin, deltaMax := 0.1, 1000.0
	result, err := covcache.OptimizeSmoothingScale(c.Cache, covDiag, meanDiff, deltaMin, deltaMax, true)
	if err != nil {
		return fmt.Errorf("spatial: updating M/m smoothing for param %d: %w", p, err)
	}
	c.applyRhoDelta(p, result.Rho, result.Delta)
	return nil
}

// updatePEvidence runs OptimizeEvidence for one P/p parameter in
// isolation.
func (c *Coordinator) updatePEvidence(p int) error {
	n := c.Grid.NumVoxels()
	mu := make([]float64, n)
	variance := make([]float64, n)
	for v := 0; v < n; v++ {
		mu[v] = c.posteriorMean(p, v)
		variance[v] = c.posteriorVar(p, v)
	}

	deltaMin, deltaMax := 0.1, 1000.0
	result, err := covcache.OptimizeEvidence(c.Cache, mu, variance, c.delta[p], deltaMin, deltaMax, true,
		c.Params.NewDeltaEvaluations, c.Params.BruteForceDeltaSearch)
	if err != nil {
		return fmt.Errorf("spatial: updating P/p evidence for param %d: %w", p, err)
	}
	c.applyRhoDelta(p, result.Rho, result.Delta)
	return nil
}

// updatePEvidenceJoint is used when UseSimEvidence is set: it runs
// updatePEvidence once for every P/p parameter, in parameter order.
// Each call optimises that parameter's own marginal evidence from its
// own posterior statistics alone; no objective couples the parameters,
// and there is no shared interparameter covariance.
func (c *Coordinator) updatePEvidenceJoint() error {
	for p := range c.kinds {
		if c.kinds[p] != prior.SpatialP && c.kinds[p] != prior.Spatialp {
			continue
		}
		if err := c.updatePEvidence(p); err != nil {
			return err
		}
	}
	return nil
}

// applyRhoDelta installs newRho/newDelta for parameter p, clipping
// the precision change so that |delta-rho / rho| <= SpatialSpeed,
// unless SpatialSpeed < 0 (unlimited).
func (c *Coordinator) applyRhoDelta(p int, newRho, newDelta float64) {
	speed := c.Params.SpatialSpeed
	if speed > 0 {
		oldRho := c.rho[p]
		if oldRho > 0 {
			maxChange := speed * oldRho
			if math.Abs(newRho-oldRho) > maxChange {
				if newRho > oldRho {
					newRho = oldRho + maxChange
				} else {
					newRho = oldRho - maxChange
				}
			}
		}
	}
	c.rho[p] = newRho
	c.delta[p] = newDelta
}
