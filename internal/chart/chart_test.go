package chart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDefault_WritesChartYaml(t *testing.T) {
	dir, cleanup, err := ExtractDefault()
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "Chart.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: agent-env")
}

func TestExtractDefault_CleanupRemovesDir(t *testing.T) {
	dir, cleanup, err := ExtractDefault()
	require.NoError(t, err)
	cleanup()
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}
