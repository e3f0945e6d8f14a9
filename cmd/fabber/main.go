// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Command fabber is the CLI entrypoint: it parses options (optparse),
loads data (fabberio), runs VB or Spatial VB (vb/spatial), and writes
results (fabberio).

Invocation: fabber --model=<m> --method=<vb|spatialvb> --data=<file>
--output=<dir> [options]. See printUsage for the full option list.
*/
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fabberlabs/fabber/fwdmodel"
	"github.com/fabberlabs/fabber/optparse"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fabber:", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	o := optparse.New()
	if err := o.Parse(argv); err != nil {
		return err
	}

	switch {
	case o.Bool("help"):
		printUsage(os.Stdout, o)
		return nil
	case o.Bool("listmethods"):
		for _, m := range []string{"vb", "spatialvb"} {
			fmt.Println(m)
		}
		return nil
	case o.Bool("listmodels"):
		for _, m := range fwdmodel.Names() {
			fmt.Println(m)
		}
		return nil
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	return doRun(context.Background(), o, logger)
}

// printUsage prints the option list for the named --method/--model,
// or the general option list if neither is given.
func printUsage(w *os.File, o *optparse.Options) {
	fmt.Fprintln(w, "usage: fabber --model=<m> --method=<vb|spatialvb> --data=<file> --output=<dir> [options]")
	if model, ok := o.Get("model"); ok {
		fmt.Fprintf(w, "\noptions for model %q are documented by the model's own option list, if it implements one.\n", model)
	}
	if method, ok := o.Get("method"); ok {
		fmt.Fprintf(w, "\noptions for method %q: see spatial.Params / vb package documentation.\n", method)
	}
	fmt.Fprintln(w, `
general options:
  --model=<name>          forward model to fit (--listmodels to enumerate)
  --method=<vb|spatialvb> inference method
  --data=<file>           single data file (or --data1, --data2, ... with --data-order)
  --data-order=<mode>     interleave|concatenate|singlefile (default: singlefile)
  --mask=<file>           voxel mask file
  --output=<dir>          output directory
  --overwrite             reuse --output if it already exists
  --spatial-dims=<0|1|2|3>  spatial coupling dimensionality (spatialvb only)
  --prior-types=<codes>   one prior-kind code per parameter (N,I,A,M,m,P,p)
  --noise=<white|ar1>     observation noise model
  --PSP_byname<i>_mean, --PSP_byname<i>_prec  per-parameter prior overrides
  --max-iterations=<n>    convergence monitor cap
  --convergence-policy=<maxits|fchange|trialmode|lm>  per-voxel convergence policy (default: lm)
  --convergence-tolerance=<f>  free-energy delta convergence threshold
  --max-reverts=<n>       reverted-step budget under trialmode/lm
  --save-mean, --save-std, --save-zstat, --save-mvn
  --save-model-fit, --save-residuals  accepted, but no modelfit or residuals output is written
  --help, --listmethods, --listmodels`)
}
