package checkpoints

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faststyle/nn"
)

func testParams(t *testing.T, seed int64) []nn.Parameter {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	conv, err := nn.NewConv2D("conv1", 3, 3, 4, rng)
	require.NoError(t, err)
	return conv.Parameters()
}

func TestExtractWeightsDeepCopies(t *testing.T) {
	params := testParams(t, 1)
	weights := ExtractWeights(params)

	require.Len(t, weights, len(params))
	assert.Equal(t, "conv1.weight", weights[0].Name)
	assert.Equal(t, params[0].Value.Shape, weights[0].Shape)

	// Mutating the snapshot must not touch the live parameter.
	original := params[0].Value.Data[0]
	weights[0].Data[0] = original + 100
	assert.Equal(t, original, params[0].Value.Data[0])
}

func TestLoadWeightsRoundTrip(t *testing.T) {
	source := testParams(t, 1)
	target := testParams(t, 2)

	require.NotEqual(t, source[0].Value.Data, target[0].Value.Data)

	weights := ExtractWeights(source)
	require.NoError(t, LoadWeights(weights, target))
	assert.Equal(t, source[0].Value.Data, target[0].Value.Data)
	assert.Equal(t, source[1].Value.Data, target[1].Value.Data)
}

func TestLoadWeightsErrors(t *testing.T) {
	params := testParams(t, 1)

	t.Run("count mismatch", func(t *testing.T) {
		weights := ExtractWeights(params)
		err := LoadWeights(weights[:1], params)
		assert.Error(t, err)
	})

	t.Run("unknown name", func(t *testing.T) {
		weights := ExtractWeights(params)
		weights[0].Name = "conv9.weight"
		err := LoadWeights(weights, params)
		assert.Error(t, err)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		weights := ExtractWeights(params)
		weights[0].Shape = []int{1, 1, 3, 4}
		weights[0].Data = weights[0].Data[:12]
		err := LoadWeights(weights, params)
		assert.Error(t, err)
	})
}

func TestSaveLoadBitIdentical(t *testing.T) {
	dir := t.TempDir()
	params := testParams(t, 3)

	original := &Checkpoint{
		Step:    42,
		Weights: ExtractWeights(params),
		OptimizerState: &OptimizerState{
			Type:       "Adam",
			Parameters: map[string]interface{}{"step_count": float64(42)},
			StateData: []OptimizerTensor{
				{Name: "momentum_0", Shape: []int{3}, Data: []float32{0.125, -0.5, 0.75}, StateType: "momentum"},
				{Name: "variance_0", Shape: []int{3}, Data: []float32{0.25, 0.0625, 1}, StateType: "variance"},
			},
		},
		Metadata: Metadata{RunID: "test-run"},
	}

	path := dir + "/ckpt-42.json"
	require.NoError(t, save(original, path))

	loaded, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, original.Step, loaded.Step)
	assert.Equal(t, original.Weights, loaded.Weights)
	assert.Equal(t, original.OptimizerState.StateData, loaded.OptimizerState.StateData)
	assert.Equal(t, "test-run", loaded.Metadata.RunID)
	assert.Equal(t, "faststyle", loaded.Metadata.Framework)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/ckpt-1.json"
	require.NoError(t, writeFileAtomic(path, []byte("{not json")))

	_, err := load(path)
	assert.Error(t, err)
}
