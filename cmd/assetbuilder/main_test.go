package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_InitThenBuildExitCodes(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, 0, run([]string{"init", "--output", dir}))
	cfgPath := filepath.Join(dir, "assetbuilder.yaml")
	assert.FileExists(t, cfgPath)

	// A second init without --force is a validation error.
	assert.Equal(t, 2, run([]string{"init", "--output", dir}))

	// The example points at sources that do not exist yet.
	assert.NotEqual(t, 0, run([]string{"--config", cfgPath, "build", "--dry-run"}))
}

func TestRun_MissingConfigIsConfigError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := os.Stat(missing)
	require.True(t, os.IsNotExist(err))
	assert.Equal(t, 7, run([]string{"--config", missing, "history"}))
}
