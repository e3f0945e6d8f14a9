// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prior

import "fmt"

// TypeString parses a per-parameter prior-type configuration string.
// Following the original implementation's convention, the string has
// one character per parameter; if it ends with '+', the character
// before the '+' is repeated for any remaining parameters.
func TypeString(spec string, nParams int) ([]Kind, error) {
	kinds := make([]Kind, nParams)
	repeat := false
	body := spec
	if len(spec) > 0 && spec[len(spec)-1] == '+' {
		repeat = true
		body = spec[:len(spec)-1]
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("prior: empty prior-type string")
	}
	for i := 0; i < nParams; i++ {
		var c byte
		if i < len(body) {
			c = body[i]
		} else if repeat {
			c = body[len(body)-1]
		} else {
			return nil, fmt.Errorf("prior: type string %q too short for %d parameters", spec, nParams)
		}
		k, err := KindFromByte(c)
		if err != nil {
			return nil, err
		}
		kinds[i] = k
	}
	return kinds, nil
}
