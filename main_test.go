package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/gates"
)

func TestExitCode(t *testing.T) {
	failure := &gates.GateFailure{RunID: "run", Failed: []string{"G1"}}
	assert.Equal(t, 2, exitCode(failure))
	assert.Equal(t, 2, exitCode(xerrors.Errorf("gate: %w", failure)))
	assert.Equal(t, 1, exitCode(xerrors.New("--blocks is required")))
}
