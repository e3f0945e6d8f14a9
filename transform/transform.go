// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package transform provides the monotone bijections mapping a
model-space parameter value onto the internally-Gaussian fabber-space
variable that the VB update actually works with.

Three transforms are defined: identity, log, and softplus. Each
implements ToModel/ToFabber on scalars and, via the delta method, on
DistParams (mean/variance pairs in one space, approximated in the
other).
*/
package transform

import "math"

// DistParams is a mean/variance pair for a scalar Gaussian, used to
// move a parameter's distribution between fabber space and model
// space under a Transform.
type DistParams struct {
	Mean float64
	Var  float64
}

// Prec returns the precision, 1/Var.
func (p DistParams) Prec() float64 { return 1 / p.Var }

// Transform is a monotone bijection between model space and fabber
// space. ToModel/ToFabber operate on scalars; the DistParams variants
// apply the delta method to approximate the mapped distribution.
type Transform interface {
	// Code is the short string identifying this transform in config
	// (e.g. in a model's parameter declarations).
	Code() string

	// ToModel maps a fabber-space value to model space.
	ToModel(x float64) float64

	// ToFabber maps a model-space value to fabber space.
	ToFabber(y float64) float64

	// Deriv returns the derivative of ToModel at x (fabber space),
	// used both for the delta-method variance mapping and for
	// chaining the forward model's Jacobian into fabber space.
	Deriv(x float64) float64
}

// ToModelParams applies the delta method to map fabber-space
// DistParams to model space: mean maps via ToModel, variance scales by
// the squared derivative at the fabber-space mean.
func ToModelParams(t Transform, p DistParams) DistParams {
	d := t.Deriv(p.Mean)
	return DistParams{
		Mean: t.ToModel(p.Mean),
		Var:  d * d * p.Var,
	}
}

// ToFabberParams applies the inverse delta method to map model-space
// DistParams to fabber space: mean maps via ToFabber, variance is
// divided by the squared derivative evaluated at the corresponding
// fabber-space mean.
func ToFabberParams(t Transform, p DistParams) DistParams {
	fm := t.ToFabber(p.Mean)
	d := t.Deriv(fm)
	if d == 0 {
		d = 1e-300
	}
	return DistParams{
		Mean: fm,
		Var:  p.Var / (d * d),
	}
}

// Identity is the trivial transform: model space equals fabber space.
type Identity struct{}

func (Identity) Code() string             { return "I" }
func (Identity) ToModel(x float64) float64  { return x }
func (Identity) ToFabber(y float64) float64 { return y }
func (Identity) Deriv(float64) float64      { return 1 }

// Log maps a strictly-positive model parameter to an unconstrained
// fabber-space variable: ToModel(x) = exp(x), ToFabber(y) = log(y).
type Log struct{}

func (Log) Code() string               { return "L" }
func (Log) ToModel(x float64) float64  { return math.Exp(x) }
func (Log) ToFabber(y float64) float64 { return math.Log(y) }
func (Log) Deriv(x float64) float64    { return math.Exp(x) }

// Softplus is an alternative to Log for a strictly-positive parameter.
// For large positive fabber-space values it approaches the identity,
// avoiding the blow-up of the exponential; for large negative values
// it approaches zero smoothly rather than underflowing through exp.
//
// ToModel(x) = log(1+exp(x)); ToFabber(y) = log(exp(y)-1).
//
// Both branches are guarded against overflow for |x| greater than
// about 30 by switching to the asymptote the function approaches
// there, mirroring the overflow-guard idiom of nxx1's piecewise
// activation function.
type Softplus struct{}

func (Softplus) Code() string { return "S" }

// overflowGuard is the magnitude beyond which exp(x) would overflow
// float64 headroom badly enough to lose precision in log1p(exp(x)),
// so the asymptotic branch is used instead.
const overflowGuard = 30

func (Softplus) ToModel(x float64) float64 {
	switch {
	case x > overflowGuard:
		return x // log(1+exp(x)) ~ x for large x
	case x < -overflowGuard:
		return math.Exp(x) // log(1+exp(x)) ~ exp(x) for very negative x
	default:
		return math.Log1p(math.Exp(x))
	}
}

func (Softplus) ToFabber(y float64) float64 {
	switch {
	case y > overflowGuard:
		return y // log(exp(y)-1) ~ y for large y
	case y <= 0:
		// Outside the strictly-positive domain; fall back to the
		// smallest representable positive argument rather than NaN.
		y = 1e-300
		fallthrough
	default:
		return math.Log(math.Expm1(y))
	}
}

func (s Softplus) Deriv(x float64) float64 {
	switch {
	case x > overflowGuard:
		return 1
	case x < -overflowGuard:
		return math.Exp(x)
	default:
		// d/dx log(1+exp(x)) = exp(x)/(1+exp(x)) = sigmoid(x)
		ex := math.Exp(x)
		return ex / (1 + ex)
	}
}
