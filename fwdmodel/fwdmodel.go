// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package fwdmodel defines the forward-model contract and a small
registry of reference implementations: Linear, Polynomial, and
Trivial.

The registry mirrors the teacher's emer.Layer factory idiom
(networkstru.go's LayerByNameTry plus a string-keyed constructor map)
and the original implementation's per-model static NewInstance()
(fwdmodel_poly.cc). Models are added only by calling Register in
process; --loadmodels in the CLI loads no library and fails with an
option error.
*/
package fwdmodel

import (
	"fmt"
	"sync"

	"github.com/fabberlabs/fabber/transform"
)

// DistParams is a model-space mean/variance pair, used for a model's
// hard-coded initial prior and posterior.
type DistParams struct {
	Mean float64
	Var  float64
}

// ParamSpec describes one parameter a forward model exposes: its
// display name, the transform mapping it between model and fabber
// space, and its hard-coded initial distribution in model space.
type ParamSpec struct {
	Name      string
	Transform transform.Transform
	Initial   DistParams
}

// Model evaluates a parametric forward function f(theta, t) and its
// Jacobian for one voxel. theta is always in model space, of length
// NumParams(); Evaluate returns a T-length prediction.
type Model interface {
	// Name identifies this model for the --model= option and for
	// diagnostics.
	Name() string

	// NumParams returns P, the parameter count.
	NumParams() int

	// Params returns the per-parameter specification, length P.
	Params() []ParamSpec

	// Evaluate computes f(theta) for the given model-space parameter
	// vector, returning a prediction of length T.
	Evaluate(theta []float64) ([]float64, error)

	// Jacobian computes d f/d theta at the given model-space
	// parameter vector, as a T-by-P matrix stored row-major
	// (Jacobian()[t*P+p]). Implementations without an analytic
	// Jacobian may use NumericalJacobian.
	Jacobian(theta []float64) ([]float64, error)
}

// NumericalJacobian computes a central-difference approximation to
// the Jacobian of a model at theta, for models with no analytic form.
// No library in the retrieval pack provides numerical differentiation;
// this is the minimal correct stdlib-only primitive.
func NumericalJacobian(m Model, theta []float64) ([]float64, error) {
	p := len(theta)
	y0, err := m.Evaluate(theta)
	if err != nil {
		return nil, err
	}
	t := len(y0)
	jac := make([]float64, t*p)
	pert := make([]float64, p)
	copy(pert, theta)
	const h = 1e-6
	for col := 0; col < p; col++ {
		orig := pert[col]

		pert[col] = orig + h
		yPlus, err := m.Evaluate(pert)
		if err != nil {
			return nil, fmt.Errorf("fwdmodel: NumericalJacobian: %w", err)
		}
		pert[col] = orig - h
		yMinus, err := m.Evaluate(pert)
		if err != nil {
			return nil, fmt.Errorf("fwdmodel: NumericalJacobian: %w", err)
		}
		pert[col] = orig

		for row := 0; row < t; row++ {
			jac[row*p+col] = (yPlus[row] - yMinus[row]) / (2 * h)
		}
	}
	return jac, nil
}

// Factory constructs a new Model instance from a resolved set of
// string options (already trimmed of the "--model=" key itself).
type Factory func(opts map[string]string) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register installs a model factory under name, overwriting any
// previous registration. It is the only way to add a model: the
// CLI's --loadmodels option does not call it, and only in-process
// registration is supported.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New constructs the named model, or returns an error if no factory
// is registered under that name.
func New(name string, opts map[string]string) (Model, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("fwdmodel: unknown model %q (did you forget --loadmodels?)", name)
	}
	return f(opts)
}

// Names returns the currently-registered model names, for
// --listmodels.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}

func init() {
	Register("linear", NewLinear)
	Register("poly", NewPolynomial)
	Register("trivial", NewTrivial)
}
