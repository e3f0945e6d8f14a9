// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package convergence implements the per-voxel convergence monitor: a
small stateful policy that watches the per-iteration free energy
trace of a single voxel's VB update and decides whether to continue,
declare convergence, revert the last step, or flag divergence.

The monitor follows the teacher's params-struct-with-Update idiom
(act.go's ActInitParams/DtParams): a Params struct carries the fixed
policy configuration, and a separate Monitor struct carries the
mutable per-voxel state, mirroring how leabra separates static
parameters from the neuron state they govern.
*/
package convergence

import "math"

// Policy selects which convergence criterion a Monitor applies.
type Policy int

const (
	// MaxIts stops unconditionally after MaxIterations iterations.
	MaxIts Policy = iota
	// FChange stops once |deltaF| < Tolerance.
	FChange
	// TrialMode is FChange with up to MaxReverts tolerated reverts
	// (iterations where F decreased) before giving up.
	TrialMode
	// LM (Levenberg-like) gets the same outcomes from the Monitor as
	// TrialMode: up to MaxReverts reverts before declaring divergence.
	// The step damping on a revert (halving the proposed update toward
	// the last-accepted point) is done by the caller, vb.Update, which
	// applies it under both TrialMode and LM.
	LM
)

// Outcome is the result of one call to Monitor.Check.
type Outcome int

const (
	Continue Outcome = iota
	Converged
	Reverted
	Diverged
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Converged:
		return "converged"
	case Reverted:
		return "reverted"
	case Diverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// Params configures a convergence Monitor. Defaults mirror the
// original implementation's conservative defaults (maxits=10,
// fchange-style tolerance 1e-5).
type Params struct {
	Policy        Policy
	MaxIterations int
	Tolerance     float64
	MaxReverts    int
}

// Defaults returns the original implementation's baseline policy.
func (p *Params) Defaults() {
	p.Policy = FChange
	p.MaxIterations = 10
	p.Tolerance = 1e-5
	p.MaxReverts = 4
}

// Update is a no-op placeholder for derived-field recomputation,
// kept for symmetry with the teacher's Params.Update() convention;
// Params currently has no derived fields.
func (p *Params) Update() {}

// Monitor tracks one voxel's iteration count, last accepted free
// energy, and revert count across calls to Check.
type Monitor struct {
	Params

	iteration int
	haveLastF bool
	lastF     float64
	reverts   int
}

// NewMonitor constructs a Monitor from params, applying Defaults
// first when MaxIterations and Tolerance are both zero; Defaults then
// also replaces Policy and MaxReverts.
func NewMonitor(params Params) *Monitor {
	if params.MaxIterations == 0 && params.Tolerance == 0 {
		params.Defaults()
	}
	return &Monitor{Params: params}
}

// Check records one iteration's free energy F and returns the
// resulting outcome. diverged callers should stop iterating this
// voxel immediately and mark its output accordingly; reverted
// callers should discard the step that produced F and retry with a
// damped update (vb.Update halves the step under both LM and
// TrialMode).
func (m *Monitor) Check(f float64) Outcome {
	m.iteration++

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Diverged
	}

	if m.Policy == MaxIts {
		if m.iteration >= m.MaxIterations {
			return Converged
		}
		m.lastF, m.haveLastF = f, true
		return Continue
	}

	if !m.haveLastF {
		m.lastF, m.haveLastF = f, true
		if m.iteration >= m.MaxIterations {
			return Converged
		}
		return Continue
	}

	delta := f - m.lastF

	if delta < 0 {
		// Free energy should be monotonically non-decreasing; a
		// decrease signals a bad step.
		switch m.Policy {
		case TrialMode, LM:
			m.reverts++
			if m.reverts > m.MaxReverts {
				return Diverged
			}
			return Reverted
		default:
			return Diverged
		}
	}

	m.lastF = f
	if math.Abs(delta) < m.Tolerance {
		return Converged
	}
	if m.iteration >= m.MaxIterations {
		return Converged
	}
	return Continue
}

// Iteration returns the number of completed Check calls.
func (m *Monitor) Iteration() int { return m.iteration }

// Reverts returns the number of reverts accepted so far.
func (m *Monitor) Reverts() int { return m.reverts }

// LastFreeEnergy returns the most recently accepted free energy and
// whether one has been recorded yet.
func (m *Monitor) LastFreeEnergy() (float64, bool) { return m.lastF, m.haveLastF }
