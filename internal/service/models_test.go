package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvailland/scribe/internal/domain"
)

func TestModelManager_DefaultsAndPersistence(t *testing.T) {
	dataDir := t.TempDir()
	modelDir := t.TempDir()

	m, err := NewModelManager(dataDir, modelDir, "base", "int8")
	require.NoError(t, err)

	id, compute := m.Current()
	assert.Equal(t, "base", id)
	assert.Equal(t, "int8", compute)
	assert.Equal(t, filepath.Join(modelDir, "ggml-base.bin"), m.ModelPath())

	// The selection is written to disk on first construction.
	_, err = os.Stat(filepath.Join(dataDir, "config.json"))
	require.NoError(t, err)

	// A second manager over the same data dir reads the stored selection,
	// not the defaults passed in.
	reloaded, err := NewModelManager(dataDir, modelDir, "large-v3", "float16")
	require.NoError(t, err)
	id, compute = reloaded.Current()
	assert.Equal(t, "base", id)
	assert.Equal(t, "int8", compute)
}

func TestModelManager_SwitchValidation(t *testing.T) {
	m, err := NewModelManager(t.TempDir(), t.TempDir(), "base", "int8")
	require.NoError(t, err)

	var verr *domain.ValidationError
	require.ErrorAs(t, m.Switch("gpt-4", "int8"), &verr)
	require.ErrorAs(t, m.Switch("small", "bf16"), &verr)
}

func TestModelManager_SwitchCommitsWhenWeightsPresent(t *testing.T) {
	dataDir := t.TempDir()
	modelDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "ggml-small.bin"), []byte("weights"), 0644))

	m, err := NewModelManager(dataDir, modelDir, "base", "int8")
	require.NoError(t, err)

	require.NoError(t, m.Switch("small", "float16"))

	require.Eventually(t, func() bool {
		id, _ := m.Current()
		return id == "small" && !m.Switching()
	}, 5*time.Second, 10*time.Millisecond)

	status := m.Status()
	assert.Equal(t, "small", status.ModelID)
	assert.Equal(t, "float16", status.ComputeType)
	assert.Empty(t, status.LastError)

	// The commit survives a restart.
	reloaded, err := NewModelManager(dataDir, modelDir, "base", "int8")
	require.NoError(t, err)
	id, compute := reloaded.Current()
	assert.Equal(t, "small", id)
	assert.Equal(t, "float16", compute)
}

func TestModelManager_SwitchFailsWithoutWeights(t *testing.T) {
	m, err := NewModelManager(t.TempDir(), t.TempDir(), "base", "int8")
	require.NoError(t, err)

	require.NoError(t, m.Switch("medium", ""))

	require.Eventually(t, func() bool {
		return !m.Switching()
	}, 5*time.Second, 10*time.Millisecond)

	status := m.Status()
	assert.Equal(t, "base", status.ModelID, "failed switch keeps the current model")
	assert.Contains(t, status.LastError, "not available")
}
