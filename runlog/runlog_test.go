// Copyright (c) 2024, The Fabber Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package runlog

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func newTestLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	base := log.New(&buf, "", 0)
	return New(base, "testrun"), &buf
}

func TestVoxelTagsMessage(t *testing.T) {
	l, buf := newTestLogger()
	l.Voxel(42, "failed: %v", "bad data")
	if !strings.Contains(buf.String(), "voxel 42") {
		t.Errorf("expected voxel tag in output, got %q", buf.String())
	}
}

func TestErrLogsOnlyWhenNonNil(t *testing.T) {
	l, buf := newTestLogger()
	if err := l.Err("load", nil); err != nil {
		t.Errorf("expected nil passthrough")
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log output for nil error, got %q", buf.String())
	}
	wantErr := errors.New("boom")
	if err := l.Err("load", wantErr); err != wantErr {
		t.Errorf("expected error passthrough")
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected error text in log output, got %q", buf.String())
	}
}

func TestProgressReportsOnlyOnPercentAdvance(t *testing.T) {
	l, buf := newTestLogger()
	r := NewProgressReporter(l, 200)
	r.Progress(0)
	r.Progress(1) // still 0%
	if strings.Count(buf.String(), "progress:") != 1 {
		t.Errorf("expected exactly one progress line for two same-percent steps, got %q", buf.String())
	}
	r.Progress(100) // 50%
	if strings.Count(buf.String(), "progress:") != 2 {
		t.Errorf("expected a second progress line at 50%%, got %q", buf.String())
	}
}

func TestProgressZeroTotalReportsComplete(t *testing.T) {
	l, buf := newTestLogger()
	r := NewProgressReporter(l, 0)
	r.Progress(0)
	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("expected immediate 100%% for zero-length loop, got %q", buf.String())
	}
}
