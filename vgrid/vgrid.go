// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package vgrid holds the voxel lattice: per-voxel integer coordinates
and an optional mask, plus the first-order (axis-aligned) and
second-order (diagonal) neighbour graph derived from them.

The mask is stored in an etensor tensor, the teacher's own choice of
container for shaped numeric data (layerstru.go's Shp etensor.Shape
field); the included-voxel coordinates are a plain []Coord slice.
*/
package vgrid

import (
	"fmt"
	"math"

	"github.com/emer/etable/v2/etensor"
)

// Coord is a lattice coordinate in voxel (not physical mm) units.
type Coord struct {
	X, Y, Z int
}

// Grid is an immutable voxel lattice: a list of included-voxel
// coordinates and the spatial dimensionality that bounds neighbour
// search.
type Grid struct {
	coords []Coord
	mask   *etensor.Float64 // 1 where included, 0 where masked out; shape [nz,ny,nx]

	// SpatialDims is 0 (no spatial structure), 1 (X axis only), 2
	// (in-slice only, Z axis excluded from adjacency), or 3 (full
	// volume).
	SpatialDims int

	dimX, dimY, dimZ int
	index            map[Coord]int // coord -> voxel index, for adjacency lookups
}

// NewFromMask builds a Grid from a 3D mask volume: voxel (x,y,z) is
// included iff mask.Value([]int{z,y,x}) != 0. Voxel indices are
// assigned in row-major (z,y,x) scan order, matching the teacher's
// outer-to-inner axis convention for Shp (layerstru.go).
func NewFromMask(mask *etensor.Float64, spatialDims int) (*Grid, error) {
	if spatialDims != 0 && spatialDims != 1 && spatialDims != 2 && spatialDims != 3 {
		return nil, fmt.Errorf("vgrid: spatial_dims must be 0, 1, 2, or 3, got %d", spatialDims)
	}
	shape := mask.ShapeObj()
	if shape.NumDims() != 3 {
		return nil, fmt.Errorf("vgrid: mask must be 3D (z,y,x), got %d dims", shape.NumDims())
	}
	dimZ, dimY, dimX := shape.Dim(0), shape.Dim(1), shape.Dim(2)

	g := &Grid{
		mask:        mask,
		SpatialDims: spatialDims,
		dimX:        dimX,
		dimY:        dimY,
		dimZ:        dimZ,
		index:       map[Coord]int{},
	}
	for z := 0; z < dimZ; z++ {
		for y := 0; y < dimY; y++ {
			for x := 0; x < dimX; x++ {
				if mask.Value([]int{z, y, x}) == 0 {
					continue
				}
				c := Coord{X: x, Y: y, Z: z}
				g.index[c] = len(g.coords)
				g.coords = append(g.coords, c)
			}
		}
	}
	if len(g.coords) == 0 {
		return nil, fmt.Errorf("vgrid: mask selects no voxels")
	}
	return g, nil
}

// NumVoxels returns V, the number of included voxels.
func (g *Grid) NumVoxels() int { return len(g.coords) }

// Coord returns voxel v's lattice coordinate.
func (g *Grid) Coord(v int) Coord { return g.coords[v] }

var unitSteps = [6]Coord{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

var diagSteps = [12]Coord{
	{X: 1, Y: 1}, {X: 1, Y: -1}, {X: -1, Y: 1}, {X: -1, Y: -1},
	{X: 1, Z: 1}, {X: 1, Z: -1}, {X: -1, Z: 1}, {X: -1, Z: -1},
	{Y: 1, Z: 1}, {Y: 1, Z: -1}, {Y: -1, Z: 1}, {Y: -1, Z: -1},
}

// N1 returns v's first-order (axis-aligned, lattice-distance-1)
// neighbours, restricted to the axes permitted by SpatialDims: none
// if 0, X only if 1, X/Y only if 2, X/Y/Z if 3.
func (g *Grid) N1(v int) []int {
	if g.SpatialDims == 0 {
		return nil
	}
	c := g.coords[v]
	var out []int
	for _, step := range unitSteps {
		if g.SpatialDims == 1 && (step.Y != 0 || step.Z != 0) {
			continue
		}
		if g.SpatialDims == 2 && step.Z != 0 {
			continue
		}
		nb := Coord{X: c.X + step.X, Y: c.Y + step.Y, Z: c.Z + step.Z}
		if idx, ok := g.index[nb]; ok {
			out = append(out, idx)
		}
	}
	return out
}

// N2 returns v's second-order (diagonal, lattice-distance-sqrt(2))
// neighbours, subject to the same SpatialDims restriction as N1. A
// single axis (SpatialDims==1) has no diagonal neighbours at all.
func (g *Grid) N2(v int) []int {
	if g.SpatialDims == 0 || g.SpatialDims == 1 {
		return nil
	}
	c := g.coords[v]
	var out []int
	for _, step := range diagSteps {
		if g.SpatialDims == 2 && step.Z != 0 {
			continue
		}
		nb := Coord{X: c.X + step.X, Y: c.Y + step.Y, Z: c.Z + step.Z}
		if idx, ok := g.index[nb]; ok {
			out = append(out, idx)
		}
	}
	return out
}

// ExpectedDegree returns the number of first-order neighbours an
// interior voxel would have for the current SpatialDims, used by the
// Spatial m prior's Dirichlet boundary correction.
func (g *Grid) ExpectedDegree() int {
	switch g.SpatialDims {
	case 0:
		return 0
	case 1:
		return 2
	case 2:
		return 4
	default:
		return 6
	}
}

// DistanceMetric selects how the covariance cache's distance matrix
// is computed from lattice coordinates.
type DistanceMetric int

const (
	Euclidean DistanceMetric = iota
	SquaredEuclidean
	Manhattan
)

// DistanceMatrix computes the V-by-V symmetric lattice distance
// matrix under metric, row-major, for use by the covcache package.
func (g *Grid) DistanceMatrix(metric DistanceMetric) []float64 {
	n := len(g.coords)
	d := make([]float64, n*n)
	for i := 0; i < n; i++ {
		ci := g.coords[i]
		for j := i + 1; j < n; j++ {
			cj := g.coords[j]
			dx := float64(ci.X - cj.X)
			dy := float64(ci.Y - cj.Y)
			dz := float64(ci.Z - cj.Z)
			var v float64
			switch metric {
			case Euclidean:
				v = math.Sqrt(dx*dx + dy*dy + dz*dz)
			case SquaredEuclidean:
				v = dx*dx + dy*dy + dz*dz
			case Manhattan:
				v = math.Abs(dx) + math.Abs(dy) + math.Abs(dz)
			}
			d[i*n+j] = v
			d[j*n+i] = v
		}
	}
	return d
}
