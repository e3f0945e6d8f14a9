// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fabberio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/emer/etable/v2/etensor"

	"github.com/fabberlabs/fabber/runlog"
	"github.com/fabberlabs/fabber/vgrid"
)

// DataOrder says how several --dataN files combine into one
// per-voxel timeseries.
type DataOrder int

const (
	// SingleFile is the default when only --data is given: exactly
	// one volume, used as-is.
	SingleFile DataOrder = iota
	// Interleave round-robins timepoints across files: file 1's
	// timepoint 0, file 2's timepoint 0, ..., file 1's timepoint 1,
	// and so on. Every file must have the same timepoint count.
	Interleave
	// Concatenate appends each file's timepoints after the previous
	// file's, in argument order.
	Concatenate
)

// ParseDataOrder parses the --data-order option value.
func ParseDataOrder(s string) (DataOrder, error) {
	switch s {
	case "singlefile":
		return SingleFile, nil
	case "interleave":
		return Interleave, nil
	case "concatenate":
		return Concatenate, nil
	default:
		return 0, fmt.Errorf("fabberio: unknown data-order %q", s)
	}
}

// CombineTimeseries merges several [T_i, V]-shaped data volumes
// (identical V) into one [T, V] volume per order. SingleFile requires
// exactly one input.
func CombineTimeseries(order DataOrder, volumes []*etensor.Float64) (*etensor.Float64, error) {
	if len(volumes) == 0 {
		return nil, fmt.Errorf("fabberio: CombineTimeseries: no data volumes given")
	}
	v0 := volumes[0].ShapeObj().Dim(1)
	for i, v := range volumes {
		if v.ShapeObj().NumDims() != 2 {
			return nil, fmt.Errorf("fabberio: data volume %d is not 2D [time, voxel]", i)
		}
		if v.ShapeObj().Dim(1) != v0 {
			return nil, fmt.Errorf("fabberio: data volume %d has %d voxels, want %d", i, v.ShapeObj().Dim(1), v0)
		}
	}

	switch order {
	case SingleFile:
		if len(volumes) != 1 {
			return nil, fmt.Errorf("fabberio: data-order=singlefile requires exactly one data file, got %d", len(volumes))
		}
		return volumes[0], nil

	case Concatenate:
		totalT := 0
		for _, v := range volumes {
			totalT += v.ShapeObj().Dim(0)
		}
		out := etensor.NewFloat64([]int{totalT, v0}, nil, nil)
		row := 0
		for _, v := range volumes {
			t := v.ShapeObj().Dim(0)
			for i := 0; i < t; i++ {
				for c := 0; c < v0; c++ {
					out.SetFloat([]int{row, c}, v.Value([]int{i, c}))
				}
				row++
			}
		}
		return out, nil

	case Interleave:
		t0 := volumes[0].ShapeObj().Dim(0)
		for i, v := range volumes {
			if v.ShapeObj().Dim(0) != t0 {
				return nil, fmt.Errorf("fabberio: data-order=interleave requires equal timepoint counts, volume %d has %d want %d", i, v.ShapeObj().Dim(0), t0)
			}
		}
		n := len(volumes)
		out := etensor.NewFloat64([]int{t0 * n, v0}, nil, nil)
		row := 0
		for i := 0; i < t0; i++ {
			for _, v := range volumes {
				for c := 0; c < v0; c++ {
					out.SetFloat([]int{row, c}, v.Value([]int{i, c}))
				}
				row++
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("fabberio: unknown DataOrder %d", order)
	}
}

// Dataset is a loaded, mask-filtered run: the voxel grid and each
// included voxel's observed timeseries.
type Dataset struct {
	Grid *vgrid.Grid
	Y    [][]float64 // Y[voxel] has length T
}

// NewDataset builds a Dataset from an already-combined [T, V] data
// volume and a [nz,ny,nx] mask volume whose flattened voxel order
// (vgrid's row-major z,y,x scan) must align with the data volume's
// voxel columns.
func NewDataset(mask, data *etensor.Float64, spatialDims int) (*Dataset, error) {
	grid, err := vgrid.NewFromMask(mask, spatialDims)
	if err != nil {
		return nil, err
	}
	if data.ShapeObj().NumDims() != 2 {
		return nil, fmt.Errorf("fabberio: data volume must be 2D [time, voxel], got %d dims", data.ShapeObj().NumDims())
	}
	t := data.ShapeObj().Dim(0)
	v := data.ShapeObj().Dim(1)
	if v != grid.NumVoxels() {
		return nil, fmt.Errorf("fabberio: data volume has %d voxel columns, mask selects %d voxels", v, grid.NumVoxels())
	}

	y := make([][]float64, v)
	for voxel := 0; voxel < v; voxel++ {
		row := make([]float64, t)
		for time := 0; time < t; time++ {
			row[time] = data.Value([]int{time, voxel})
		}
		y[voxel] = row
	}
	return &Dataset{Grid: grid, Y: y}, nil
}

// PlainTextReader reads whitespace-separated numeric matrices as the
// stand-in for real NIfTI I/O: each line is one row, columns are
// whitespace separated. Used for data volumes (rows=time, cols=voxel)
// and for mask volumes (one line, nz*ny*nx values in row-major order,
// reshaped by ReadMask).
type PlainTextReader struct {
	Logger *runlog.Logger
}

// ReadVolume reads a data file as a [T, V] matrix.
func (r PlainTextReader) ReadVolume(path string) (*etensor.Float64, error) {
	logVolumeSize(r.Logger, "reading data volume", path)
	rows, err := readMatrix(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("fabberio: %s: empty data file", path)
	}
	v := len(rows[0])
	out := etensor.NewFloat64([]int{len(rows), v}, nil, nil)
	for i, row := range rows {
		if len(row) != v {
			return nil, fmt.Errorf("fabberio: %s: row %d has %d columns, want %d", path, i, len(row), v)
		}
		for c, val := range row {
			out.SetFloat([]int{i, c}, val)
		}
	}
	return out, nil
}

// ReadMask reads a mask file as a single line of nz*ny*nx values and
// reshapes it to [nz,ny,nx], defaulting ny=nz=1 (a flat voxel list,
// spatial_dims=0 use) unless dimZ/dimY are given explicitly.
func (r PlainTextReader) ReadMask(path string, dimZ, dimY int) (*etensor.Float64, error) {
	logVolumeSize(r.Logger, "reading mask volume", path)
	rows, err := readMatrix(path)
	if err != nil {
		return nil, err
	}
	var flat []float64
	for _, row := range rows {
		flat = append(flat, row...)
	}
	if dimZ <= 0 {
		dimZ = 1
	}
	if dimY <= 0 {
		dimY = 1
	}
	if len(flat)%(dimZ*dimY) != 0 {
		return nil, fmt.Errorf("fabberio: %s: %d values do not divide evenly into %d*%d rows", path, len(flat), dimZ, dimY)
	}
	dimX := len(flat) / (dimZ * dimY)
	mask := etensor.NewFloat64([]int{dimZ, dimY, dimX}, nil, nil)
	for i, val := range flat {
		mask.SetFloat1D(i, val)
	}
	return mask, nil
}

func readMatrix(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fabberio: opening %s: %w", path, err)
	}
	defer f.Close()

	var rows [][]float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, field := range fields {
			val, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("fabberio: %s: %q is not a number", path, field)
			}
			row[i] = val
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
