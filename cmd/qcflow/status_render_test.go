package main

import (
	"bytes"
	"strings"
	"testing"

	"qcflow/internal/jobs"
)

func TestRenderStatusLine(t *testing.T) {
	line := renderStatusLine("State", statusOK, "READY", false)
	if !strings.Contains(line, "State:") || !strings.HasSuffix(line, "[OK] READY") {
		t.Fatalf("unexpected line %q", line)
	}
	colored := renderStatusLine("State", statusError, "", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red line, got %q", colored)
	}
}

func TestJobStateKind(t *testing.T) {
	cases := map[jobs.State]statusKind{
		jobs.StateCreated:    statusInfo,
		jobs.StateProcessing: statusInfo,
		jobs.StateReady:      statusOK,
		jobs.StateFinalizing: statusWarn,
		jobs.StateFinalized:  statusOK,
		jobs.StateFailed:     statusError,
	}
	for state, want := range cases {
		if got := jobStateKind(state); got != want {
			t.Fatalf("%s: expected %d, got %d", state, want, got)
		}
	}
}

func TestShouldColorizeIgnoresBuffers(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("buffers are never terminals")
	}
}
