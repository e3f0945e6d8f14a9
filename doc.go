// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package fabber is the repository root for Fabber, a Bayesian
model-fitting engine for multi-voxel imaging timeseries.

This top level has no functional code -- everything is organized into
the following sub-packages:

* mvn: multivariate Gaussian with dual mean/covariance/precision
representation and cached lazy conversions.

* transform: monotone bijections between model space and fabber space
(identity, log, softplus).

* prior: the polymorphic prior system (normal, ARD, image, spatial
M/m/P/p) and its contribution to the effective prior per parameter.

* noise: white and AR(1) observation-noise posteriors.

* fwdmodel: the forward-model contract plus the linear, polynomial and
trivial reference models.

* convergence: per-voxel iteration termination policies.

* vgrid: the voxel lattice, mask, and first/second-order neighbour
graph.

* covcache: the delta-keyed spatial covariance cache and the
smoothing-scale / evidence-optimisation searches.

* vb: the per-voxel variational Bayes inference core, including the
worker-pool fan-out across voxels within a sweep.

* spatial: the outer spatial-VB coordinator that rewrites priors
between sweeps.

* runlog: the run-scoped logging handle.

* optparse: the CLI option grammar, parameter files, and output
directory allocation.

* fabberio: the data-loading and output-writing contracts.

* cmd/fabber: the command-line entry point wiring the above together.
*/
package fabber
