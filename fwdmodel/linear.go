// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwdmodel

import (
	"fmt"
	"strconv"

	"github.com/fabberlabs/fabber/transform"
)

// Linear is the reference model y(t) = sum_p theta_p * basis[p][t],
// with an analytic (basis-function-valued, theta-independent)
// Jacobian. Its linearity makes the Gauss-Newton VB update exact in a
// single step, which is useful for scenarios that need an exact
// closed-form posterior to check against (e.g. two identical voxels
// under a spatial-M prior).
type Linear struct {
	basis  [][]float64 // basis[p][t]
	nTimes int
}

// NewLinear builds a Linear model from the "basis" option, a
// semicolon-separated list of comma-separated per-parameter basis
// vectors, e.g. "1,1,1;1,2,3" for an intercept-plus-slope design.
func NewLinear(opts map[string]string) (Model, error) {
	spec, ok := opts["basis"]
	if !ok {
		return nil, fmt.Errorf("fwdmodel: linear: missing required option \"basis\"")
	}
	rows := splitTop(spec, ';')
	if len(rows) == 0 {
		return nil, fmt.Errorf("fwdmodel: linear: empty basis")
	}
	basis := make([][]float64, len(rows))
	var nTimes int
	for i, row := range rows {
		cols := splitTop(row, ',')
		vec := make([]float64, len(cols))
		for j, c := range cols {
			v, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return nil, fmt.Errorf("fwdmodel: linear: basis value %q: %w", c, err)
			}
			vec[j] = v
		}
		if i == 0 {
			nTimes = len(vec)
		} else if len(vec) != nTimes {
			return nil, fmt.Errorf("fwdmodel: linear: basis row %d has %d timepoints, want %d", i, len(vec), nTimes)
		}
		basis[i] = vec
	}
	return &Linear{basis: basis, nTimes: nTimes}, nil
}

func splitTop(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func (m *Linear) Name() string   { return "linear" }
func (m *Linear) NumParams() int { return len(m.basis) }

func (m *Linear) Params() []ParamSpec {
	specs := make([]ParamSpec, len(m.basis))
	for i := range specs {
		specs[i] = ParamSpec{
			Name:      fmt.Sprintf("c%d", i),
			Transform: transform.Identity{},
			Initial:   DistParams{Mean: 0, Var: 1e6},
		}
	}
	return specs
}

func (m *Linear) Evaluate(theta []float64) ([]float64, error) {
	if len(theta) != len(m.basis) {
		return nil, fmt.Errorf("fwdmodel: linear: want %d params, got %d", len(m.basis), len(theta))
	}
	y := make([]float64, m.nTimes)
	for p, coef := range theta {
		b := m.basis[p]
		for t := 0; t < m.nTimes; t++ {
			y[t] += coef * b[t]
		}
	}
	return y, nil
}

func (m *Linear) Jacobian(theta []float64) ([]float64, error) {
	if len(theta) != len(m.basis) {
		return nil, fmt.Errorf("fwdmodel: linear: want %d params, got %d", len(m.basis), len(theta))
	}
	p := len(m.basis)
	jac := make([]float64, m.nTimes*p)
	for col := 0; col < p; col++ {
		b := m.basis[col]
		for row := 0; row < m.nTimes; row++ {
			jac[row*p+col] = b[row]
		}
	}
	return jac, nil
}
