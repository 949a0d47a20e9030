package convert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graft-ml/graft/internal/quant"
)

func writeFlags(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convert.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFlags(t *testing.T) {
	path := writeFlags(t, `
passes:
  - fuse-conv-bn
  - eliminate-dead
quantization:
  mode: full-integer
  bit_width: 8
  per_channel: true
  strict: true
calibration:
  x: {min: -1.0, max: 1.0}
  y: {min: 0.0, max: 6.0}
`)

	f, err := LoadFlags(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"fuse-conv-bn", "eliminate-dead"}, f.Passes)
	assert.Equal(t, quant.ModeFullInteger, f.Quantization.Mode)
	assert.True(t, f.Quantization.PerChannel)
	assert.True(t, f.Quantization.Strict)
	assert.Equal(t, quant.Range{Min: -1, Max: 1}, f.Calibration["x"])
}

func TestLoadFlags_Defaults(t *testing.T) {
	path := writeFlags(t, "passes: [eliminate-dead]\n")

	f, err := LoadFlags(path)
	require.NoError(t, err)
	assert.Equal(t, quant.ModeNone, f.Quantization.Mode)
	assert.Equal(t, 8, f.Quantization.BitWidth)
}

func TestLoadFlags_Errors(t *testing.T) {
	_, err := LoadFlags(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeFlags(t, "passes: [not-a-pass]\n")
	_, err = LoadFlags(path)
	assert.Error(t, err)

	path = writeFlags(t, "quantization: {mode: wild}\n")
	_, err = LoadFlags(path)
	assert.ErrorIs(t, err, quant.ErrInvalidConfig)
}
