// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transform

import (
	"fmt"

	"github.com/goki/ki/kit"
)

// KiT_Identity, KiT_Log and KiT_Softplus register the three transform
// types in the process-wide goki type registry, following the same
// AddType idiom the teacher repository uses for its own tagged types
// (see leabra.KiT_Network). The registry is built once at package
// init and never mutated afterward.
var (
	KiT_Identity = kit.Types.AddType(&Identity{}, nil)
	KiT_Log      = kit.Types.AddType(&Log{}, nil)
	KiT_Softplus = kit.Types.AddType(&Softplus{}, nil)
)

// byCode maps a transform's short config code to its zero value. This
// table, not the goki type registry, is the lookup actually used at
// run time: codes are a stable part of the model/option surface,
// whereas the type registry exists so GUI and reflection-based tooling
// (outside this module's scope) can enumerate the variants.
var byCode = map[string]Transform{
	Identity{}.Code(): Identity{},
	Log{}.Code():      Log{},
	Softplus{}.Code(): Softplus{},
}

// ByCode returns the transform registered under the given short code
// ("I", "L", "S"), or an error if the code is unrecognised.
func ByCode(code string) (Transform, error) {
	t, ok := byCode[code]
	if !ok {
		return nil, fmt.Errorf("transform: unknown transform code %q", code)
	}
	return t, nil
}
