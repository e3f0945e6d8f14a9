// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwdmodel

import (
	"fmt"

	"github.com/fabberlabs/fabber/transform"
)

// Trivial is the single-parameter constant model y(t) = theta_0 for
// all t, used by the package tests and by simple convergence
// scenarios where the forward model itself should not be a source of
// nonlinearity.
type Trivial struct {
	nTimes int
}

// NewTrivial builds a Trivial model from the "ntpts" option.
func NewTrivial(opts map[string]string) (Model, error) {
	ntpts, err := requiredInt(opts, "ntpts")
	if err != nil {
		return nil, fmt.Errorf("fwdmodel: trivial: %w", err)
	}
	if ntpts <= 0 {
		return nil, fmt.Errorf("fwdmodel: trivial: ntpts must be > 0, got %d", ntpts)
	}
	return &Trivial{nTimes: ntpts}, nil
}

func (m *Trivial) Name() string   { return "trivial" }
func (m *Trivial) NumParams() int { return 1 }

func (m *Trivial) Params() []ParamSpec {
	return []ParamSpec{{
		Name:      "mean",
		Transform: transform.Identity{},
		Initial:   DistParams{Mean: 0, Var: 1e6},
	}}
}

func (m *Trivial) Evaluate(theta []float64) ([]float64, error) {
	if len(theta) != 1 {
		return nil, fmt.Errorf("fwdmodel: trivial: want 1 param, got %d", len(theta))
	}
	y := make([]float64, m.nTimes)
	for t := range y {
		y[t] = theta[0]
	}
	return y, nil
}

func (m *Trivial) Jacobian(theta []float64) ([]float64, error) {
	if len(theta) != 1 {
		return nil, fmt.Errorf("fwdmodel: trivial: want 1 param, got %d", len(theta))
	}
	jac := make([]float64, m.nTimes)
	for i := range jac {
		jac[i] = 1
	}
	return jac, nil
}
