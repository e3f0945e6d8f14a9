// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwdmodel

import (
	"fmt"
	"strconv"

	"github.com/fabberlabs/fabber/transform"
)

// polynomialInitPrec is the hard-coded initial prior precision for
// every polynomial coefficient, matching fwdmodel_poly.cc's flat
// prior (1e-12, effectively uninformative).
const polynomialInitPrec = 1e-12

// Polynomial evaluates y(t) = sum_{p=0}^{degree} theta_p * t^p at
// t = 1, 2, ..., ntpts, following fwdmodel_poly.cc.
type Polynomial struct {
	degree int
	nTimes int
}

// NewPolynomial builds a Polynomial model from the "degree" and
// "ntpts" options.
func NewPolynomial(opts map[string]string) (Model, error) {
	degree, err := requiredInt(opts, "degree")
	if err != nil {
		return nil, fmt.Errorf("fwdmodel: poly: %w", err)
	}
	if degree < 0 {
		return nil, fmt.Errorf("fwdmodel: poly: degree must be >= 0, got %d", degree)
	}
	ntpts, err := requiredInt(opts, "ntpts")
	if err != nil {
		return nil, fmt.Errorf("fwdmodel: poly: %w", err)
	}
	if ntpts <= 0 {
		return nil, fmt.Errorf("fwdmodel: poly: ntpts must be > 0, got %d", ntpts)
	}
	return &Polynomial{degree: degree, nTimes: ntpts}, nil
}

func requiredInt(opts map[string]string, key string) (int, error) {
	s, ok := opts[key]
	if !ok {
		return 0, fmt.Errorf("missing required option %q", key)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("option %q: %w", key, err)
	}
	return v, nil
}

func (m *Polynomial) Name() string   { return "poly" }
func (m *Polynomial) NumParams() int { return m.degree + 1 }

func (m *Polynomial) Params() []ParamSpec {
	specs := make([]ParamSpec, m.degree+1)
	for i := range specs {
		specs[i] = ParamSpec{
			Name:      fmt.Sprintf("p%d", i),
			Transform: transform.Identity{},
			Initial:   DistParams{Mean: 0, Var: 1 / polynomialInitPrec},
		}
	}
	return specs
}

// Evaluate uses Horner's method: at each timepoint t, the polynomial
// is accumulated from the highest-degree coefficient down.
func (m *Polynomial) Evaluate(theta []float64) ([]float64, error) {
	if len(theta) != m.degree+1 {
		return nil, fmt.Errorf("fwdmodel: poly: want %d params, got %d", m.degree+1, len(theta))
	}
	y := make([]float64, m.nTimes)
	for t := 0; t < m.nTimes; t++ {
		x := float64(t + 1)
		var acc float64
		for p := m.degree; p >= 0; p-- {
			acc = acc*x + theta[p]
		}
		y[t] = acc
	}
	return y, nil
}

// Jacobian is analytic: d y(t) / d theta_p = t^p, independent of theta.
func (m *Polynomial) Jacobian(theta []float64) ([]float64, error) {
	if len(theta) != m.degree+1 {
		return nil, fmt.Errorf("fwdmodel: poly: want %d params, got %d", m.degree+1, len(theta))
	}
	p := m.degree + 1
	jac := make([]float64, m.nTimes*p)
	for t := 0; t < m.nTimes; t++ {
		x := float64(t + 1)
		pow := 1.0
		for col := 0; col < p; col++ {
			jac[t*p+col] = pow
			pow *= x
		}
	}
	return jac, nil
}
