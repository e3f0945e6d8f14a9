// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package fabberio specifies the external-interface contracts a run
needs for data/mask loading, output-volume writing, and the dynamic
model loader, without implementing NIfTI I/O itself -- that format is
treated as an external collaborator whose interface is specified only
where it is needed.

VolumeReader and VolumeWriter are the seam a real NIfTI backend would
implement. PlainTextReader and PlainTextWriter are the minimal
in-memory/plain-text implementation this module ships, sufficient to
drive the option-file and text-data paths exercised by this package's
own tests and by the CLI's end-to-end tests, in the same spirit as the
teacher's etensor-backed UnitValsTensor accessors (pvlv/neuron.go)
rather than any image-format parser.
*/
package fabberio

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/emer/etable/v2/etensor"

	"github.com/fabberlabs/fabber/runlog"
)

// VolumeReader loads a named numeric volume. For data volumes the
// returned tensor is shaped [T, V] (one row per timepoint); for mask
// volumes it is shaped [nz, ny, nx] as vgrid.NewFromMask expects.
type VolumeReader interface {
	ReadVolume(path string) (*etensor.Float64, error)
}

// VolumeWriter persists a named output volume or text artifact under
// dir, following this package's output naming convention
// (mean_<param>, std_<param>, zstat_<param>, noise_mean, noise_std,
// freeEnergy, modelfit, residuals, finalMVN, paramnames.txt,
// logfile.txt).
type VolumeWriter interface {
	WriteVolume(dir, name string, data *etensor.Float64) error
	WriteText(dir, name string, content string) error
}

// ModelLoader loads an external forward-model provider by path and
// registers its factories under fwdmodel, for the CLI's
// "--loadmodels" option. optparse.Options.LoadModels is the hook that
// invokes one of these at option-parse time.
type ModelLoader interface {
	Load(path string) error
}

// UnsupportedLoader is a ModelLoader whose Load always fails with a
// clear explanation: Go's stdlib has no portable dlopen equivalent in
// the teacher's dependency stack. The CLI does not use it; it leaves
// optparse.Options.LoadModels unset, so --loadmodels fails there with
// an optparse.OptionError instead. Tests that
// need a loader to succeed construct their own func value and call
// fwdmodel.Register directly instead of using this type.
type UnsupportedLoader struct{}

func (UnsupportedLoader) Load(path string) error {
	return fmt.Errorf("dynamic model loading is not supported in this build (attempted to load %q); register models in-process via fwdmodel.Register instead", path)
}

// logVolumeSize reports path's on-disk size in human-readable form,
// following the teacher's datasize.ByteSize(...).HumanReadable()
// idiom for memory-usage reporting (leabra/network.go).
func logVolumeSize(logger *runlog.Logger, op, path string) {
	if logger == nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	logger.Info("%s %s (%s)", op, path, datasize.ByteSize(info.Size()).HumanReadable())
}
