// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package optparse implements Fabber's CLI option grammar: "--key=value"
/ boolean "--key", numbered "--data1", "--data2", ... families,
"-f <file>" option-parameter files, and the legacy
whitespace-tokenized "-@ <file>" variant.

There is no third-party option-file parser in the retrieval pack that
matches this grammar (stdlib flag cannot express "--key"/"--key=value"
mixed with numbered option families or the "-@" syntax), so this
package is grounded directly on the original implementation's
FabberRunData::Parse / ParseParamFile / ParseOldStyleParamFile /
AddKeyEqualsValue (rundata.cc), ported line-for-line in structure
while following Go idiom: a map-backed Options value with typed
accessors, in the teacher's Params-struct style.
*/
package optparse

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// OptionError reports a problem with a single option: an unknown key,
// a malformed value, or a forbidden combination. Key and Value are the
// offending option; Msg explains why.
type OptionError struct {
	Key   string
	Value string
	Msg   string
}

func (e *OptionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("option %q: %s", e.Key, e.Msg)
	}
	return fmt.Sprintf("option %q=%q: %s", e.Key, e.Value, e.Msg)
}

// Options holds the parsed "--key=value" table for one run, following
// the original implementation's FabberRunData::m_params map.
type Options struct {
	params map[string]string

	// LoadModels, if set, is invoked when a "loadmodels" key is
	// parsed. Only in-process registration is supported, so the CLI
	// entrypoint leaves this nil and every "--loadmodels=" option
	// fails with an OptionError; tests may set it to a func that
	// registers fwdmodel factories directly and succeeds.
	LoadModels func(path string) error
}

// New returns an empty Options table.
func New() *Options {
	return &Options{params: map[string]string{}}
}

// Set installs key=value directly, overwriting any previous value.
// Unlike AddKeyEqualsValue, Set never errors on a pre-existing key --
// it is meant for programmatic defaults set before Parse runs.
func (o *Options) Set(key, value string) {
	o.params[key] = value
}

// SetBool installs key as a boolean flag (present with an empty
// value) when value is true, or removes it when false, mirroring the
// original's FabberRunData::SetBool.
func (o *Options) SetBool(key string, value bool) {
	if value {
		o.params[key] = ""
	} else {
		delete(o.params, key)
	}
}

// Get returns key's value and whether it was set at all (a boolean
// flag is set with an empty string).
func (o *Options) Get(key string) (string, bool) {
	v, ok := o.params[key]
	return v, ok
}

// Map returns a copy of every option currently set, for collaborators
// (such as fwdmodel.Factory constructors) that want the whole table
// rather than individual keys.
func (o *Options) Map() map[string]string {
	out := make(map[string]string, len(o.params))
	for k, v := range o.params {
		out[k] = v
	}
	return out
}

// GetDefault returns key's value, or def if key was never set.
func (o *Options) GetDefault(key, def string) string {
	if v, ok := o.params[key]; ok {
		return v
	}
	return def
}

// Require returns key's value, or an OptionError if it was never set.
func (o *Options) Require(key string) (string, error) {
	v, ok := o.params[key]
	if !ok {
		return "", &OptionError{Key: key, Msg: "required option not given"}
	}
	return v, nil
}

// Bool reports whether key is present at all; its value (if any) is
// ignored, matching the original's boolean options.
func (o *Options) Bool(key string) bool {
	_, ok := o.params[key]
	return ok
}

// Int parses key as an integer, returning def if unset.
func (o *Options) Int(key string, def int) (int, error) {
	v, ok := o.params[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &OptionError{Key: key, Value: v, Msg: "not an integer"}
	}
	return n, nil
}

// Float64 parses key as a float, returning def if unset.
func (o *Options) Float64(key string, def float64) (float64, error) {
	v, ok := o.params[key]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &OptionError{Key: key, Value: v, Msg: "not a number"}
	}
	return f, nil
}

// Numbered collects the values of prefix+"1", prefix+"2", ... in
// order, stopping at the first missing index. This is how --data1,
// --data2, ... (and similarly-numbered option families) are read back
// once parsing is complete.
func (o *Options) Numbered(prefix string) []string {
	var out []string
	for i := 1; ; i++ {
		v, ok := o.params[prefix+strconv.Itoa(i)]
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// Parse implements FabberRunData::Parse: argv[0] is the program name
// (recorded under the empty key, as the original does); each
// remaining argument is "-f <file>", "--key[=value]", or "-@ <file>".
// Anything else is a parse error.
func (o *Options) Parse(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("optparse: Parse: empty argument list")
	}
	o.params[""] = argv[0]
	for a := 1; a < len(argv); a++ {
		switch {
		case argv[a] == "-f":
			a++
			if a >= len(argv) {
				return &OptionError{Key: "-f", Msg: "no parameter file given"}
			}
			if err := o.ParseParamFile(argv[a]); err != nil {
				return err
			}
		case strings.HasPrefix(argv[a], "--"):
			if err := o.AddKeyEqualsValue(argv[a][2:], false); err != nil {
				return err
			}
		case argv[a] == "-@":
			a++
			if a >= len(argv) {
				return &OptionError{Key: "-@", Msg: "no parameter file given"}
			}
			if err := o.ParseOldStyleParamFile(argv[a]); err != nil {
				return err
			}
		default:
			return &OptionError{Key: argv[a], Msg: "option doesn't begin with --"}
		}
	}
	return nil
}

// AddKeyEqualsValue parses one "key=value" or bare "key" expression
// and installs it, following AddKeyEqualsValue: a key given twice is
// an error, "#" starts a trailing comment when trimComments is set
// (only true when reading -f files), and the special key "loadmodels"
// is a parse-time side effect rather than a stored option.
func (o *Options) AddKeyEqualsValue(exp string, trimComments bool) error {
	eqPos := strings.IndexByte(exp, '=')
	if eqPos < 0 {
		key := strings.TrimSpace(exp)
		if key == "" {
			return nil
		}
		if _, exists := o.params[key]; exists {
			return &OptionError{Key: key, Msg: "already has a value"}
		}
		o.params[key] = ""
		return nil
	}

	key := strings.TrimSpace(exp[:eqPos])
	rest := exp[eqPos+1:]
	if trimComments {
		if hash := strings.IndexByte(rest, '#'); hash >= 0 {
			rest = rest[:hash]
		}
	}
	value := strings.TrimSpace(rest)

	if _, exists := o.params[key]; exists {
		return &OptionError{Key: key, Value: value, Msg: "already has a value: " + o.params[key]}
	}

	if key == "loadmodels" {
		if o.LoadModels == nil {
			return &OptionError{Key: key, Value: value, Msg: "dynamic model loading is not supported in this build; register models in-process via fwdmodel.Register"}
		}
		if err := o.LoadModels(value); err != nil {
			return &OptionError{Key: key, Value: value, Msg: err.Error()}
		}
		return nil
	}

	o.params[key] = value
	return nil
}

// ParseParamFile implements ParseParamFile: one "key=value" per
// non-blank, non-comment line, trailing "#" comments stripped.
func (o *Options) ParseParamFile(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return &OptionError{Key: "-f", Value: filename, Msg: "couldn't read input options file: " + err.Error()}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '#' {
			continue
		}
		if err := o.AddKeyEqualsValue(line, true); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ParseOldStyleParamFile implements ParseOldStyleParamFile: a
// character-at-a-time whitespace tokenizer, no support for inline
// comments other than a leading "#" word, and "-@" forbidden
// recursively inside it.
func (o *Options) ParseOldStyleParamFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return &OptionError{Key: "-@", Value: filename, Msg: "couldn't read input file: " + err.Error()}
	}

	var param strings.Builder
	runes := string(data)
	flush := func() error {
		if param.Len() == 0 {
			return nil
		}
		word := param.String()
		param.Reset()
		switch {
		case strings.HasPrefix(word, "--"):
			return o.AddKeyEqualsValue(word[2:], false)
		case strings.HasPrefix(word, "-@"):
			return &OptionError{Key: "-@", Value: filename, Msg: "can only use -@ on the command line"}
		default:
			return &OptionError{Key: word, Value: filename, Msg: "invalid data found in file"}
		}
	}

	i := 0
	for i < len(runes) {
		c := runes[i]
		if c == '#' && param.Len() == 0 {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			continue
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			if err := flush(); err != nil {
				return err
			}
			i++
			continue
		}
		param.WriteByte(c)
		i++
	}
	return flush()
}

// maxOutputDirAttempts bounds the "+"-suffix allocation loop, matching
// FabberRunData::GetOutputDir's hard-coded cap of 50.
const maxOutputDirAttempts = 50

// AllocateOutputDir creates base as the run's output directory. If
// base already exists and overwrite is false, "+" is appended
// repeatedly until a free name is found or maxOutputDirAttempts is
// exhausted.
func AllocateOutputDir(base string, overwrite bool) (string, error) {
	dir := base
	for attempt := 0; ; attempt++ {
		if attempt >= maxOutputDirAttempts {
			return "", fmt.Errorf("optparse: cannot create output directory (bad path, or too many + signs?): %s", dir)
		}
		err := os.Mkdir(dir, 0o777)
		if err == nil {
			return dir, nil
		}
		if overwrite && os.IsExist(err) {
			if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
				return dir, nil
			}
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("optparse: creating output directory %s: %w", dir, err)
		}
		dir += "+"
	}
}
