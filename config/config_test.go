package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDescriptorValidates(t *testing.T) {
	d := DefaultDescriptor()
	assert.NoError(t, d.Validate())
}

func TestValidateRejectsNonPositiveExtent(t *testing.T) {
	d := DefaultDescriptor()
	d.Extent = 0
	assert.Error(t, d.Validate())

	d.Extent = -1
	assert.Error(t, d.Validate())
}

func TestValidateRejectsOutOfRangeBalancing(t *testing.T) {
	d := DefaultDescriptor()
	d.Balancing = 0
	assert.Error(t, d.Validate())

	d.Balancing = 0.5
	assert.Error(t, d.Validate(), "balancing must stay strictly below 0.5 so split and merge thresholds never overlap")

	d.Balancing = 0.49
	assert.NoError(t, d.Validate())
}

func TestLoadStartsFromDefaultsAndOverridesOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "porcupine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("extent: 131072\n"), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 131072, d.Extent)
	assert.Equal(t, defaultBalancing, d.Balancing)
	assert.Equal(t, defaultResidentCapacity, d.ResidentCapacity)
	assert.Equal(t, CheckpointManual, d.CheckpointPolicy)
}

func TestLoadRejectsInvalidDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "porcupine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("extent: -1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
