// Package optimizer implements gradient-descent parameter updates for the
// trainer. Optimizers read the gradients accumulated on parameter tensors by
// the backward pass and update the parameters in place, maintaining whatever
// internal moment state the algorithm calls for. That state round-trips
// through checkpoints as an opaque blob so interrupted runs resume with the
// optimizer exactly where it left off.
package optimizer

import (
	"fmt"

	"faststyle/checkpoints"
	"faststyle/tensor"
)

// Optimizer is the common interface for all optimizers.
type Optimizer interface {
	// Step applies one update to every parameter using the gradient
	// currently accumulated on it. Parameter order must be stable across
	// calls; it defines how optimizer state is matched to parameters.
	Step(params []*tensor.Tensor) error

	// GetState extracts optimizer state for checkpointing.
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the number of updates applied so far.
	GetStepCount() uint64

	// UpdateLearningRate changes the learning rate for subsequent steps.
	UpdateLearningRate(lr float32)
}

// validateStateType ensures a checkpointed state belongs to this optimizer.
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// extractFloat32Param safely extracts a float32 hyperparameter from a state
// map. JSON decodes numbers as float64; a state blob that never left memory
// still carries the float32 the optimizer stored.
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	switch val := params[key].(type) {
	case float64:
		return float32(val)
	case float32:
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 counter from a state map,
// whether JSON-decoded or straight from GetState.
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	}
	return defaultValue
}
