// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fabberio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/emer/etable/v2/etensor"

	"github.com/fabberlabs/fabber/mvn"
)

func writeTemp(t *testing.T, content string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestPlainTextReaderReadVolumeShape(t *testing.T) {
	path := writeTemp(t, "1 2 3\n4 5 6\n")
	r := PlainTextReader{}
	vol, err := r.ReadVolume(path)
	if err != nil {
		t.Fatalf("ReadVolume: %v", err)
	}
	if vol.ShapeObj().Dim(0) != 2 || vol.ShapeObj().Dim(1) != 3 {
		t.Fatalf("shape = %dx%d, want 2x3", vol.ShapeObj().Dim(0), vol.ShapeObj().Dim(1))
	}
	if vol.Value([]int{1, 2}) != 6 {
		t.Errorf("vol[1][2] = %v, want 6", vol.Value([]int{1, 2}))
	}
}

func TestPlainTextReaderReadMaskFlat(t *testing.T) {
	path := writeTemp(t, "1 0 1 1\n")
	r := PlainTextReader{}
	mask, err := r.ReadMask(path, 0, 0)
	if err != nil {
		t.Fatalf("ReadMask: %v", err)
	}
	if mask.ShapeObj().Dim(0) != 1 || mask.ShapeObj().Dim(1) != 1 || mask.ShapeObj().Dim(2) != 4 {
		t.Fatalf("mask shape = %v, want [1,1,4]", []int{mask.ShapeObj().Dim(0), mask.ShapeObj().Dim(1), mask.ShapeObj().Dim(2)})
	}
}

func TestCombineTimeseriesSingleFileRejectsMultiple(t *testing.T) {
	a := etensor.NewFloat64([]int{2, 2}, nil, nil)
	b := etensor.NewFloat64([]int{2, 2}, nil, nil)
	if _, err := CombineTimeseries(SingleFile, []*etensor.Float64{a, b}); err == nil {
		t.Fatalf("expected error for singlefile with two volumes")
	}
}

func TestCombineTimeseriesConcatenateAppendsRows(t *testing.T) {
	a := etensor.NewFloat64([]int{1, 2}, nil, nil)
	a.SetFloat([]int{0, 0}, 1)
	a.SetFloat([]int{0, 1}, 2)
	b := etensor.NewFloat64([]int{1, 2}, nil, nil)
	b.SetFloat([]int{0, 0}, 3)
	b.SetFloat([]int{0, 1}, 4)

	out, err := CombineTimeseries(Concatenate, []*etensor.Float64{a, b})
	if err != nil {
		t.Fatalf("CombineTimeseries: %v", err)
	}
	if out.ShapeObj().Dim(0) != 2 {
		t.Fatalf("rows = %d, want 2", out.ShapeObj().Dim(0))
	}
	if out.Value([]int{0, 0}) != 1 || out.Value([]int{1, 0}) != 3 {
		t.Errorf("unexpected concatenation order: %v, %v", out.Value([]int{0, 0}), out.Value([]int{1, 0}))
	}
}

func TestCombineTimeseriesInterleaveRoundRobins(t *testing.T) {
	a := etensor.NewFloat64([]int{2, 1}, nil, nil)
	a.SetFloat([]int{0, 0}, 10)
	a.SetFloat([]int{1, 0}, 11)
	b := etensor.NewFloat64([]int{2, 1}, nil, nil)
	b.SetFloat([]int{0, 0}, 20)
	b.SetFloat([]int{1, 0}, 21)

	out, err := CombineTimeseries(Interleave, []*etensor.Float64{a, b})
	if err != nil {
		t.Fatalf("CombineTimeseries: %v", err)
	}
	want := []float64{10, 20, 11, 21}
	for i, w := range want {
		if out.Value([]int{i, 0}) != w {
			t.Errorf("row %d = %v, want %v", i, out.Value([]int{i, 0}), w)
		}
	}
}

func TestNewDatasetMatchesMaskedVoxelCount(t *testing.T) {
	mask := etensor.NewFloat64([]int{1, 1, 3}, nil, nil)
	mask.SetFloat1D(0, 1)
	mask.SetFloat1D(1, 0)
	mask.SetFloat1D(2, 1)

	data := etensor.NewFloat64([]int{4, 2}, nil, nil) // 4 timepoints, 2 included voxels
	if _, err := NewDataset(mask, data, 0); err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
}

func TestNewDatasetRejectsVoxelCountMismatch(t *testing.T) {
	mask := etensor.NewFloat64([]int{1, 1, 3}, nil, nil)
	for i := 0; i < 3; i++ {
		mask.SetFloat1D(i, 1)
	}
	data := etensor.NewFloat64([]int{4, 2}, nil, nil) // only 2 columns, mask wants 3
	if _, err := NewDataset(mask, data, 0); err == nil {
		t.Fatalf("expected dimension-mismatch error")
	}
}

func TestUnsupportedLoaderAlwaysErrors(t *testing.T) {
	if err := (UnsupportedLoader{}).Load("anything.so"); err == nil {
		t.Fatalf("expected UnsupportedLoader to always fail")
	}
}

func TestPlainTextWriterRoundTripsVectors(t *testing.T) {
	dir := t.TempDir()
	w := PlainTextWriter{}
	res := Results{
		ParamNames: []string{"c0", "c1"},
		Mean:       [][]float64{{1, 2}, {3, 4}},
		Std:        [][]float64{{0.1, 0.2}, {0.3, 0.4}},
		Zstat:      [][]float64{{10, 20}, {30, 40}},
		NoiseMean:  []float64{5, 6},
		Log:        "run complete\n",
	}
	if err := w.WriteResults(dir, res, DefaultSaveFlags()); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}
	for _, name := range []string{"mean_c0", "std_c1", "zstat_c0", "noise_mean", "paramnames.txt", "logfile.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected output file %s: %v", name, err)
		}
	}
}

func TestPackFinalMVNWritesMeanAndCovariance(t *testing.T) {
	d := mvn.New(2)
	out, err := packFinalMVN([]*mvn.Dist{d})
	if err != nil {
		t.Fatalf("packFinalMVN: %v", err)
	}
	if out == "" {
		t.Fatalf("expected non-empty finalMVN content")
	}
}
