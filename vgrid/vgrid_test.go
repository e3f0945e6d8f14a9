// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgrid

import (
	"math"
	"testing"

	"github.com/emer/etable/v2/etensor"
)

func fullMask(z, y, x int) *etensor.Float64 {
	m := etensor.NewFloat64([]int{z, y, x}, nil, nil)
	for i := 0; i < z*y*x; i++ {
		m.SetFloat1D(i, 1)
	}
	return m
}

func TestNewFromMaskAssignsRowMajorIndices(t *testing.T) {
	g, err := NewFromMask(fullMask(1, 2, 2), 3)
	if err != nil {
		t.Fatalf("NewFromMask: %v", err)
	}
	if g.NumVoxels() != 4 {
		t.Fatalf("NumVoxels() = %d, want 4", g.NumVoxels())
	}
	want := []Coord{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 0}}
	for i, w := range want {
		if g.Coord(i) != w {
			t.Errorf("Coord(%d) = %+v, want %+v", i, g.Coord(i), w)
		}
	}
}

func TestN1SymmetricOnFullGrid(t *testing.T) {
	g, err := NewFromMask(fullMask(1, 3, 3), 3)
	if err != nil {
		t.Fatalf("NewFromMask: %v", err)
	}
	for v := 0; v < g.NumVoxels(); v++ {
		for _, nb := range g.N1(v) {
			found := false
			for _, back := range g.N1(nb) {
				if back == v {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("N1 not symmetric: %d -> %d but not back", v, nb)
			}
		}
	}
}

func TestN1DisabledWhenSpatialDimsZero(t *testing.T) {
	g, err := NewFromMask(fullMask(1, 3, 3), 0)
	if err != nil {
		t.Fatalf("NewFromMask: %v", err)
	}
	if len(g.N1(4)) != 0 {
		t.Errorf("expected no neighbours with SpatialDims=0")
	}
}

func TestN1ExcludesZAxisWhenSpatialDimsTwo(t *testing.T) {
	g, err := NewFromMask(fullMask(2, 1, 1), 2)
	if err != nil {
		t.Fatalf("NewFromMask: %v", err)
	}
	if len(g.N1(0)) != 0 {
		t.Errorf("expected Z-axis neighbours excluded at spatial_dims=2, got %v", g.N1(0))
	}
}

func TestExpectedDegreeMatchesSpatialDims(t *testing.T) {
	cases := map[int]int{0: 0, 1: 2, 2: 4, 3: 6}
	for dims, want := range cases {
		g, _ := NewFromMask(fullMask(2, 2, 2), dims)
		if got := g.ExpectedDegree(); got != want {
			t.Errorf("spatial_dims=%d: ExpectedDegree() = %d, want %d", dims, got, want)
		}
	}
}

func TestDistanceMatrixSymmetricAndZeroDiagonal(t *testing.T) {
	g, _ := NewFromMask(fullMask(1, 2, 2), 3)
	n := g.NumVoxels()
	d := g.DistanceMatrix(Euclidean)
	for i := 0; i < n; i++ {
		if d[i*n+i] != 0 {
			t.Errorf("diagonal[%d] = %v, want 0", i, d[i*n+i])
		}
		for j := 0; j < n; j++ {
			if d[i*n+j] != d[j*n+i] {
				t.Errorf("not symmetric at (%d,%d)", i, j)
			}
		}
	}
}

func TestDistanceMatrixEuclideanVsManhattan(t *testing.T) {
	g, _ := NewFromMask(fullMask(1, 1, 2), 3)
	n := g.NumVoxels()
	euc := g.DistanceMatrix(Euclidean)
	man := g.DistanceMatrix(Manhattan)
	if math.Abs(euc[0*n+1]-1) > 1e-12 {
		t.Errorf("euclidean distance = %v, want 1", euc[0*n+1])
	}
	if math.Abs(man[0*n+1]-1) > 1e-12 {
		t.Errorf("manhattan distance = %v, want 1", man[0*n+1])
	}
}

func TestNewFromMaskRejectsEmptyMask(t *testing.T) {
	empty := etensor.NewFloat64([]int{1, 1, 1}, nil, nil)
	if _, err := NewFromMask(empty, 3); err == nil {
		t.Errorf("expected error for all-zero mask")
	}
}

func TestNewFromMaskRejectsBadSpatialDims(t *testing.T) {
	if _, err := NewFromMask(fullMask(1, 1, 1), 4); err == nil {
		t.Errorf("expected error for spatial_dims=4")
	}
}

func TestN1RestrictsToXAxisWhenSpatialDimsOne(t *testing.T) {
	g, err := NewFromMask(fullMask(2, 2, 2), 1)
	if err != nil {
		t.Fatalf("NewFromMask: %v", err)
	}
	// voxel 0 is (0,0,0); its X neighbour (1,0,0) is voxel 1, but its
	// Y neighbour (0,1,0) and Z neighbour (0,0,1) must not appear.
	nb := g.N1(0)
	if len(nb) != 1 || nb[0] != 1 {
		t.Errorf("N1(0) with spatial_dims=1 = %v, want [1]", nb)
	}
}

func TestN2EmptyWhenSpatialDimsOne(t *testing.T) {
	g, err := NewFromMask(fullMask(2, 2, 2), 1)
	if err != nil {
		t.Fatalf("NewFromMask: %v", err)
	}
	if len(g.N2(0)) != 0 {
		t.Errorf("expected no diagonal neighbours with spatial_dims=1, got %v", g.N2(0))
	}
}

func TestExpectedDegreeTwoAtSpatialDimsOne(t *testing.T) {
	g, err := NewFromMask(fullMask(1, 1, 3), 1)
	if err != nil {
		t.Fatalf("NewFromMask: %v", err)
	}
	if got := g.ExpectedDegree(); got != 2 {
		t.Errorf("ExpectedDegree() = %d, want 2", got)
	}
}
