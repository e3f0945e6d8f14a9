// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/emer/etable/v2/etensor"

	"github.com/fabberlabs/fabber/convergence"
	"github.com/fabberlabs/fabber/fabberio"
	"github.com/fabberlabs/fabber/fwdmodel"
	"github.com/fabberlabs/fabber/mvn"
	"github.com/fabberlabs/fabber/noise"
	"github.com/fabberlabs/fabber/optparse"
	"github.com/fabberlabs/fabber/prior"
	"github.com/fabberlabs/fabber/runlog"
	"github.com/fabberlabs/fabber/spatial"
	"github.com/fabberlabs/fabber/transform"
	"github.com/fabberlabs/fabber/vb"
)

// doRun implements the full CLI pipeline: option validation, data
// loading, inference, and result writing.
func doRun(ctx context.Context, o *optparse.Options, baseLog *log.Logger) error {
	modelName, err := o.Require("model")
	if err != nil {
		return err
	}
	methodName, err := o.Require("method")
	if err != nil {
		return err
	}
	if methodName == "nlls" {
		return &optparse.OptionError{Key: "method", Value: methodName, Msg: "the nonlinear-least-squares baseline is out of scope for this build"}
	}
	if methodName != "vb" && methodName != "spatialvb" {
		return &optparse.OptionError{Key: "method", Value: methodName, Msg: "unknown method, want vb or spatialvb"}
	}

	outputBase, err := o.Require("output")
	if err != nil {
		return err
	}
	outDir, err := optparse.AllocateOutputDir(outputBase, o.Bool("overwrite"))
	if err != nil {
		return err
	}

	runLogger := runlog.New(baseLog, outDir)
	runLogger.Info("starting run: model=%s method=%s output=%s", modelName, methodName, outDir)

	model, err := fwdmodel.New(modelName, o.Map())
	if err != nil {
		return err
	}
	numParams := model.NumParams()
	specs := model.Params()

	defaultSpatialDims := 0
	if methodName == "spatialvb" {
		defaultSpatialDims = 3
	}
	spatialDims, err := o.Int("spatial-dims", defaultSpatialDims)
	if err != nil {
		return err
	}

	dataset, err := loadDataset(o, runLogger, spatialDims)
	if err != nil {
		return err
	}
	numVoxels := dataset.Grid.NumVoxels()
	runLogger.Info("loaded %d voxels", numVoxels)

	base, err := buildBasePriors(o, specs)
	if err != nil {
		return err
	}

	maxIts, err := o.Int("max-iterations", 10)
	if err != nil {
		return err
	}
	tol, err := o.Float64("convergence-tolerance", 1e-5)
	if err != nil {
		return err
	}
	maxReverts, err := o.Int("max-reverts", 4)
	if err != nil {
		return err
	}
	policy, err := convergencePolicy(o.GetDefault("convergence-policy", "lm"))
	if err != nil {
		return err
	}
	convParams := convergence.Params{Policy: policy, MaxIterations: maxIts, Tolerance: tol, MaxReverts: maxReverts}

	states := make([]*vb.State, numVoxels)
	for v := 0; v < numVoxels; v++ {
		nm, err := newNoiseModel(o)
		if err != nil {
			return err
		}
		states[v] = vb.NewState(model, nm, convParams)
	}

	priorTypes := o.GetDefault("prior-types", strings.Repeat("N", numParams))

	sp := spatial.Params{}
	sp.Defaults()
	sp.SpatialDims = spatialDims
	sp.Workers, err = o.Int("workers", 0)
	if err != nil {
		return err
	}
	sp.MaxOuterIterations, err = o.Int("max-outer-iterations", sp.MaxOuterIterations)
	if err != nil {
		return err
	}
	sp.MaxInnerTrials = maxIts

	coordinator, err := spatial.New(model, dataset.Grid, priorTypes, base, states, func(v int) []float64 { return dataset.Y[v] }, sp)
	if err != nil {
		return err
	}

	outcome, trace, err := coordinator.Run(ctx)
	if err != nil {
		return fmt.Errorf("fabber: inference failed: %w", err)
	}
	runLogger.Info("run finished: outcome=%v outer-iterations=%d", outcome, len(trace))

	failed := 0
	for v, s := range states {
		if s.Failed {
			failed++
			runLogger.Voxel(v, "failed: %v", s.FailureErr)
		}
	}

	writer := fabberio.PlainTextWriter{Logger: runLogger}
	res := buildResults(specs, states, trace, outDir)
	if err := writer.WriteResults(outDir, res, saveFlags(o)); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("fabber: %d of %d voxels failed during inference", failed, numVoxels)
	}
	return nil
}

func loadDataset(o *optparse.Options, logger *runlog.Logger, spatialDims int) (*fabberio.Dataset, error) {
	reader := fabberio.PlainTextReader{Logger: logger}

	dataFiles := o.Numbered("data")
	if len(dataFiles) == 0 {
		single, err := o.Require("data")
		if err != nil {
			return nil, err
		}
		dataFiles = []string{single}
	}
	orderStr := o.GetDefault("data-order", "singlefile")
	order, err := fabberio.ParseDataOrder(orderStr)
	if err != nil {
		return nil, &optparse.OptionError{Key: "data-order", Value: orderStr, Msg: err.Error()}
	}

	vols := make([]*etensor.Float64, len(dataFiles))
	for i, f := range dataFiles {
		vol, err := reader.ReadVolume(f)
		if err != nil {
			return nil, err
		}
		vols[i] = vol
	}
	dataVol, err := fabberio.CombineTimeseries(order, vols)
	if err != nil {
		return nil, err
	}

	maskFile, err := o.Require("mask")
	if err != nil {
		return nil, err
	}
	dimZ, err := o.Int("mask-dimz", 0)
	if err != nil {
		return nil, err
	}
	dimY, err := o.Int("mask-dimy", 0)
	if err != nil {
		return nil, err
	}
	maskVol, err := reader.ReadMask(maskFile, dimZ, dimY)
	if err != nil {
		return nil, err
	}

	return fabberio.NewDataset(maskVol, dataVol, spatialDims)
}

func buildBasePriors(o *optparse.Options, specs []fwdmodel.ParamSpec) ([]prior.Prior, error) {
	base := make([]prior.Prior, len(specs))
	for i, s := range specs {
		fb := transform.ToFabberParams(s.Transform, transform.DistParams{Mean: s.Initial.Mean, Var: s.Initial.Var})
		prec := fb.Prec()
		if v, err := o.Float64(fmt.Sprintf("PSP_byname%d_prec", i+1), 0); err != nil {
			return nil, err
		} else if v > 0 {
			prec = v
		}
		mean := fb.Mean
		if v, err := o.Float64(fmt.Sprintf("PSP_byname%d_mean", i+1), 0); err != nil {
			return nil, err
		} else if o.Bool(fmt.Sprintf("PSP_byname%d_mean", i+1)) {
			mean = v
		}
		base[i] = prior.NormalPrior{Mean: mean, Prec: prec}
	}
	return base, nil
}

// convergencePolicy parses the --convergence-policy option. "lm" is
// the default because it is the policy under which vb.Update's
// halve-toward-candidate-mean retry loop actually runs -- FChange
// alone reports Diverged on the first free-energy decrease, never
// giving that loop a revert to damp.
func convergencePolicy(s string) (convergence.Policy, error) {
	switch s {
	case "maxits":
		return convergence.MaxIts, nil
	case "fchange":
		return convergence.FChange, nil
	case "trialmode":
		return convergence.TrialMode, nil
	case "lm":
		return convergence.LM, nil
	default:
		return 0, &optparse.OptionError{Key: "convergence-policy", Value: s, Msg: "unknown policy, want maxits, fchange, trialmode, or lm"}
	}
}

func newNoiseModel(o *optparse.Options) (vb.NoiseModel, error) {
	switch kind := o.GetDefault("noise", "white"); kind {
	case "white":
		return noise.NewWhite(1e-8, 1e8), nil
	case "ar1":
		return noise.NewAR1(1e-8, 1e8, 0, 1), nil
	default:
		return nil, &optparse.OptionError{Key: "noise", Value: kind, Msg: "unknown noise model, want white or ar1"}
	}
}

func saveFlags(o *optparse.Options) fabberio.SaveFlags {
	f := fabberio.DefaultSaveFlags()
	if o.Bool("save-mean") || o.Bool("save-std") || o.Bool("save-zstat") || o.Bool("save-model-fit") || o.Bool("save-residuals") || o.Bool("save-mvn") {
		f = fabberio.SaveFlags{
			Mean:      o.Bool("save-mean"),
			Std:       o.Bool("save-std"),
			Zstat:     o.Bool("save-zstat"),
			ModelFit:  o.Bool("save-model-fit"),
			Residuals: o.Bool("save-residuals"),
			FinalMVN:  o.Bool("save-mvn"),
		}
	}
	return f
}

func buildResults(specs []fwdmodel.ParamSpec, states []*vb.State, trace []float64, outDir string) fabberio.Results {
	numParams := len(specs)
	numVoxels := len(states)

	names := make([]string, numParams)
	for i, s := range specs {
		names[i] = s.Name
	}

	mean := make([][]float64, numParams)
	std := make([][]float64, numParams)
	zstat := make([][]float64, numParams)
	for p := range mean {
		mean[p] = make([]float64, numVoxels)
		std[p] = make([]float64, numVoxels)
		zstat[p] = make([]float64, numVoxels)
	}

	noiseMean := make([]float64, numVoxels)
	noiseStd := make([]float64, numVoxels)
	dists := make([]*mvn.Dist, numVoxels)

	for v, s := range states {
		cov, err := s.Post.Cov()
		for p := 0; p < numParams; p++ {
			m := s.Post.MeanAt(p)
			mean[p][v] = m
			var sd float64
			if err == nil {
				sd = sqrtNonNegative(cov.At(p, p))
			}
			std[p][v] = sd
			if sd > 0 {
				zstat[p][v] = m / sd
			}
		}
		noiseMean[v] = s.Noise.Mean()
		if w, ok := s.Noise.(interface{ Var() float64 }); ok {
			noiseStd[v] = sqrtNonNegative(w.Var())
		}
		dists[v] = s.Post
	}

	return fabberio.Results{
		ParamNames: names,
		Mean:       mean,
		Std:        std,
		Zstat:      zstat,
		NoiseMean:  noiseMean,
		NoiseStd:   noiseStd,
		FreeEnergy: trace,
		FinalMVN:   dists,
		Log:        fmt.Sprintf("run complete: %d voxels, output %s\n", numVoxels, outDir),
	}
}

func sqrtNonNegative(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Sqrt(x)
}
