package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkpointAtStep(step int) *Checkpoint {
	return &Checkpoint{
		Step: step,
		Weights: []WeightTensor{
			{Name: "conv1.weight", Shape: []int{1}, Data: []float32{float32(step)}},
		},
	}
}

func TestManagerRestoreEmptyDir(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), 3)
	require.NoError(t, err)

	ckpt, err := mgr.Restore()
	require.NoError(t, err)
	assert.Nil(t, ckpt)
}

func TestManagerSaveRestore(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), 3)
	require.NoError(t, err)

	path, err := mgr.Save(checkpointAtStep(500))
	require.NoError(t, err)
	assert.FileExists(t, path)

	ckpt, err := mgr.Restore()
	require.NoError(t, err)
	require.NotNil(t, ckpt)
	assert.Equal(t, 500, ckpt.Step)
	assert.Equal(t, []float32{500}, ckpt.Weights[0].Data)
}

func TestManagerRestoresNewest(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), 5)
	require.NoError(t, err)

	for _, step := range []int{500, 1000, 1500} {
		_, err := mgr.Save(checkpointAtStep(step))
		require.NoError(t, err)
	}

	ckpt, err := mgr.Restore()
	require.NoError(t, err)
	require.NotNil(t, ckpt)
	assert.Equal(t, 1500, ckpt.Step)
}

func TestManagerRetention(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, 3)
	require.NoError(t, err)

	for _, step := range []int{500, 1000, 1500, 2000, 2500} {
		_, err := mgr.Save(checkpointAtStep(step))
		require.NoError(t, err)
	}

	steps, err := mgr.Steps()
	require.NoError(t, err)
	assert.Equal(t, []int{1500, 2000, 2500}, steps)

	// Evicted files are gone from disk, retained ones remain.
	assert.NoFileExists(t, filepath.Join(dir, "ckpt-500.json"))
	assert.NoFileExists(t, filepath.Join(dir, "ckpt-1000.json"))
	assert.FileExists(t, filepath.Join(dir, "ckpt-1500.json"))
	assert.FileExists(t, filepath.Join(dir, "ckpt-2500.json"))
}

func TestManagerResaveSameStep(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), 3)
	require.NoError(t, err)

	_, err = mgr.Save(checkpointAtStep(500))
	require.NoError(t, err)
	_, err = mgr.Save(checkpointAtStep(500))
	require.NoError(t, err)

	steps, err := mgr.Steps()
	require.NoError(t, err)
	assert.Equal(t, []int{500}, steps)
}

func TestManagerStrayFilesWithoutIndex(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, 3)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ckpt-500.json"), []byte("{}"), 0o644))

	_, err = mgr.Restore()
	assert.Error(t, err)
}

func TestManagerCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, 3)
	require.NoError(t, err)

	_, err = mgr.Save(checkpointAtStep(500))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint"), []byte("{bad"), 0o644))

	_, err = mgr.Restore()
	assert.Error(t, err)
}

func TestManagerCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, 3)
	require.NoError(t, err)

	path, err := mgr.Save(checkpointAtStep(500))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("truncated"), 0o644))

	_, err = mgr.Restore()
	assert.Error(t, err)
}

func TestManagerLatestPath(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, 3)
	require.NoError(t, err)

	path, err := mgr.LatestPath()
	require.NoError(t, err)
	assert.Empty(t, path)

	saved, err := mgr.Save(checkpointAtStep(500))
	require.NoError(t, err)

	path, err = mgr.LatestPath()
	require.NoError(t, err)
	assert.Equal(t, saved, path)
}

func TestNewManagerRejectsNonPositiveRetention(t *testing.T) {
	_, err := NewManager(t.TempDir(), 0)
	assert.Error(t, err)
}
