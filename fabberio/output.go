// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fabberio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/emer/etable/v2/etensor"

	"github.com/fabberlabs/fabber/mvn"
	"github.com/fabberlabs/fabber/runlog"
)

// Results collects everything one run produces, in the shape
// WriteResults turns into files.
type Results struct {
	ParamNames []string

	// Mean, Std, Zstat are [param][voxel].
	Mean, Std, Zstat [][]float64

	NoiseMean, NoiseStd []float64

	FreeEnergy []float64 // per-outer-iteration trace

	// Modelfit and Residuals are [voxel][time].
	Modelfit, Residuals [][]float64

	// FinalMVN is each voxel's full posterior, for the symmetric
	// finalMVN volume (NIfTI intent SYMMATRIX in a real backend; this
	// package writes it as packed upper-triangle rows).
	FinalMVN []*mvn.Dist

	Log string
}

// SaveFlags selects which optional outputs WriteResults writes,
// mirroring the CLI's --save-* options.
type SaveFlags struct {
	Mean, Std, Zstat    bool
	ModelFit, Residuals bool
	FinalMVN            bool
}

// DefaultSaveFlags saves the always-useful summary outputs but skips
// the larger per-voxel diagnostic volumes, matching a typical run
// without any --save-* options given.
func DefaultSaveFlags() SaveFlags {
	return SaveFlags{Mean: true, Std: true, Zstat: true}
}

// PlainTextWriter writes Results as whitespace-separated text files
// under an output directory, the write-side counterpart to
// PlainTextReader.
type PlainTextWriter struct {
	Logger *runlog.Logger
}

func (w PlainTextWriter) WriteText(dir, name string, content string) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("fabberio: writing %s: %w", path, err)
	}
	logVolumeSize(w.Logger, "wrote", path)
	return nil
}

func (w PlainTextWriter) WriteVolume(dir, name string, data *etensor.Float64) error {
	var b strings.Builder
	shape := data.ShapeObj()
	if shape.NumDims() != 2 {
		return fmt.Errorf("fabberio: WriteVolume %s: expected 2D [row, col] volume, got %d dims", name, shape.NumDims())
	}
	rows, cols := shape.Dim(0), shape.Dim(1)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%g", data.Value([]int{r, c}))
		}
		b.WriteByte('\n')
	}
	return w.WriteText(dir, name, b.String())
}

// WriteResults writes every output Results names, filtered by which.
func (w PlainTextWriter) WriteResults(dir string, res Results, which SaveFlags) error {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return fmt.Errorf("fabberio: creating output directory %s: %w", dir, err)
	}

	if which.Mean {
		for p, name := range res.ParamNames {
			if err := w.writeVector(dir, "mean_"+name, res.Mean[p]); err != nil {
				return err
			}
		}
	}
	if which.Std {
		for p, name := range res.ParamNames {
			if err := w.writeVector(dir, "std_"+name, res.Std[p]); err != nil {
				return err
			}
		}
	}
	if which.Zstat {
		for p, name := range res.ParamNames {
			if err := w.writeVector(dir, "zstat_"+name, res.Zstat[p]); err != nil {
				return err
			}
		}
	}
	if len(res.NoiseMean) > 0 {
		if err := w.writeVector(dir, "noise_mean", res.NoiseMean); err != nil {
			return err
		}
	}
	if len(res.NoiseStd) > 0 {
		if err := w.writeVector(dir, "noise_std", res.NoiseStd); err != nil {
			return err
		}
	}
	if len(res.FreeEnergy) > 0 {
		if err := w.writeVector(dir, "freeEnergy", res.FreeEnergy); err != nil {
			return err
		}
	}
	if which.ModelFit && len(res.Modelfit) > 0 {
		if err := w.writeMatrix(dir, "modelfit", res.Modelfit); err != nil {
			return err
		}
	}
	if which.Residuals && len(res.Residuals) > 0 {
		if err := w.writeMatrix(dir, "residuals", res.Residuals); err != nil {
			return err
		}
	}
	if which.FinalMVN && len(res.FinalMVN) > 0 {
		content, err := packFinalMVN(res.FinalMVN)
		if err != nil {
			return err
		}
		if err := w.WriteText(dir, "finalMVN", content); err != nil {
			return err
		}
	}

	if err := w.WriteText(dir, "paramnames.txt", strings.Join(res.ParamNames, "\n")+"\n"); err != nil {
		return err
	}
	if err := w.WriteText(dir, "logfile.txt", res.Log); err != nil {
		return err
	}
	return nil
}

func (w PlainTextWriter) writeVector(dir, name string, v []float64) error {
	var b strings.Builder
	for i, x := range v {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte('\n')
	return w.WriteText(dir, name, b.String())
}

func (w PlainTextWriter) writeMatrix(dir, name string, rows [][]float64) error {
	var b strings.Builder
	for _, row := range rows {
		for c, x := range row {
			if c > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%g", x)
		}
		b.WriteByte('\n')
	}
	return w.WriteText(dir, name, b.String())
}

// packFinalMVN writes each voxel's posterior mean followed by the
// packed upper triangle of its covariance, one voxel per line -- the
// plain-text stand-in for the real backend's NIfTI SYMMATRIX volume.
func packFinalMVN(dists []*mvn.Dist) (string, error) {
	var b strings.Builder
	for _, d := range dists {
		n := d.Dim()
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%g", d.MeanAt(i))
		}
		cov, err := d.Cov()
		if err != nil {
			return "", fmt.Errorf("fabberio: packFinalMVN: %w", err)
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := cov.At(i, j)
				if math.IsNaN(v) {
					v = 0
				}
				fmt.Fprintf(&b, " %g", v)
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
