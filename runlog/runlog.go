// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package runlog wraps a run-scoped *log.Logger with voxel- and
parameter-tagged helpers, following the teacher's log.Println(err) /
log.Printf idiom (networkstru.go logs network-structure problems the
same way: a message string plus the offending identifier).

ProgressReporter follows rundata.cc's PercentProgressCheck, reporting
whole-percent milestones rather than the original's carriage-return
terminal animation, which has no meaning once voxel processing is run
concurrently across a worker pool.
*/
package runlog

import (
	"fmt"
	"log"
)

// Logger tags every message with the run it belongs to, for
// multi-run batch contexts where several fabber runs share a process.
type Logger struct {
	*log.Logger
	run string
}

// New wraps base; every tagged message begins with "[run] ".
func New(base *log.Logger, run string) *Logger {
	return &Logger{Logger: base, run: run}
}

// Voxel logs a message tagged with a voxel index, as
// networkstru.go's layer-lookup errors are tagged with a layer name.
func (l *Logger) Voxel(voxel int, format string, args ...interface{}) {
	l.Printf("[%s] voxel %d: %s", l.run, voxel, fmt.Sprintf(format, args...))
}

// Param logs a message tagged with a parameter name.
func (l *Logger) Param(name string, format string, args ...interface{}) {
	l.Printf("[%s] param %q: %s", l.run, name, fmt.Sprintf(format, args...))
}

// Info logs an untagged informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.Printf("[%s] %s", l.run, fmt.Sprintf(format, args...))
}

// Err logs err if non-nil, tagged with the operation it occurred
// during, and returns err unchanged so callers can log-and-propagate
// in one line.
func (l *Logger) Err(op string, err error) error {
	if err != nil {
		l.Printf("[%s] %s: %v", l.run, op, err)
	}
	return err
}

// ProgressReporter reports whole-percent milestones of a long voxel
// loop to a Logger, following rundata.cc's PercentProgressCheck.
type ProgressReporter struct {
	logger  *Logger
	total   int
	lastPct int
}

// NewProgressReporter builds a reporter for a loop of total steps.
func NewProgressReporter(logger *Logger, total int) *ProgressReporter {
	return &ProgressReporter{logger: logger, total: total, lastPct: -1}
}

// Progress reports step (0-based) out of the reporter's total,
// logging only when the whole-percent value advances.
func (r *ProgressReporter) Progress(step int) {
	if r.total == 0 {
		if r.lastPct != 100 {
			r.lastPct = 100
			r.logger.Info("progress: 100%%")
		}
		return
	}
	pct := (100 * step) / r.total
	if pct > r.lastPct {
		r.lastPct = pct
		r.logger.Info("progress: %d%%", pct)
	}
}
