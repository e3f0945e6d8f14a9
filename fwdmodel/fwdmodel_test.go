// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwdmodel

import (
	"math"
	"testing"
)

const jacTol = 1e-5

func TestLinearEvaluate(t *testing.T) {
	m, err := NewLinear(map[string]string{"basis": "1,1,1;0,1,2"})
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	y, err := m.Evaluate([]float64{2, 3})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []float64{2, 5, 8}
	for i := range want {
		if math.Abs(y[i]-want[i]) > 1e-12 {
			t.Errorf("y[%d] = %v, want %v", i, y[i], want[i])
		}
	}
}

func TestLinearJacobianMatchesNumerical(t *testing.T) {
	m, err := NewLinear(map[string]string{"basis": "1,1,1,1;0,1,2,3"})
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	theta := []float64{1.5, -0.5}
	analytic, err := m.Jacobian(theta)
	if err != nil {
		t.Fatalf("Jacobian: %v", err)
	}
	numeric, err := NumericalJacobian(m, theta)
	if err != nil {
		t.Fatalf("NumericalJacobian: %v", err)
	}
	for i := range analytic {
		if math.Abs(analytic[i]-numeric[i]) > jacTol {
			t.Errorf("jac[%d]: analytic %v, numeric %v", i, analytic[i], numeric[i])
		}
	}
}

func TestLinearMismatchedParamCount(t *testing.T) {
	m, _ := NewLinear(map[string]string{"basis": "1,1,1"})
	if _, err := m.Evaluate([]float64{1, 2}); err == nil {
		t.Errorf("expected error for wrong param count")
	}
}

func TestPolynomialEvaluateHorner(t *testing.T) {
	m, err := NewPolynomial(map[string]string{"degree": "2", "ntpts": "4"})
	if err != nil {
		t.Fatalf("NewPolynomial: %v", err)
	}
	// y(t) = 1 + 2t + 3t^2
	y, err := m.Evaluate([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []float64{6, 17, 34, 57}
	for i := range want {
		if math.Abs(y[i]-want[i]) > 1e-9 {
			t.Errorf("y[%d] = %v, want %v", i, y[i], want[i])
		}
	}
}

func TestPolynomialJacobianMatchesNumerical(t *testing.T) {
	m, err := NewPolynomial(map[string]string{"degree": "3", "ntpts": "5"})
	if err != nil {
		t.Fatalf("NewPolynomial: %v", err)
	}
	theta := []float64{0.5, -1, 0.2, 0.05}
	analytic, err := m.Jacobian(theta)
	if err != nil {
		t.Fatalf("Jacobian: %v", err)
	}
	numeric, err := NumericalJacobian(m, theta)
	if err != nil {
		t.Fatalf("NumericalJacobian: %v", err)
	}
	for i := range analytic {
		if math.Abs(analytic[i]-numeric[i]) > jacTol {
			t.Errorf("jac[%d]: analytic %v, numeric %v", i, analytic[i], numeric[i])
		}
	}
}

func TestPolynomialInitialPrecisionIsFlat(t *testing.T) {
	m, _ := NewPolynomial(map[string]string{"degree": "1", "ntpts": "3"})
	for _, spec := range m.Params() {
		prec := 1 / spec.Initial.Var
		if prec > polynomialInitPrec*1.0001 || prec < polynomialInitPrec*0.9999 {
			t.Errorf("%s: initial precision = %v, want ~%v", spec.Name, prec, polynomialInitPrec)
		}
	}
}

func TestTrivialEvaluateConstant(t *testing.T) {
	m, err := NewTrivial(map[string]string{"ntpts": "5"})
	if err != nil {
		t.Fatalf("NewTrivial: %v", err)
	}
	y, err := m.Evaluate([]float64{3.2})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for i, v := range y {
		if v != 3.2 {
			t.Errorf("y[%d] = %v, want 3.2", i, v)
		}
	}
}

func TestRegistryNewUnknownModel(t *testing.T) {
	if _, err := New("no-such-model", nil); err == nil {
		t.Errorf("expected error for unknown model")
	}
}

func TestRegistryNamesIncludesBuiltins(t *testing.T) {
	names := map[string]bool{}
	for _, n := range Names() {
		names[n] = true
	}
	for _, want := range []string{"linear", "poly", "trivial"} {
		if !names[want] {
			t.Errorf("expected %q to be registered", want)
		}
	}
}
