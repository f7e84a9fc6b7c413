package optimizer

import (
	"fmt"
	"math"

	"faststyle/checkpoints"
	"faststyle/tensor"
)

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32

	momentum [][]float32
	variance [][]float32

	stepCount uint64
}

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns the standard Adam hyperparameters.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdam creates an Adam optimizer. Moment buffers are allocated lazily on
// the first Step so the optimizer needs no advance knowledge of parameter
// shapes.
func NewAdam(config AdamConfig) (*Adam, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1), got %g", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1), got %g", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %g", config.Epsilon)
	}
	return &Adam{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}, nil
}

// Step applies one Adam update to every parameter from the gradient
// accumulated on it. Parameters without a gradient are an error: a missing
// gradient means the parameter was disconnected from the loss.
func (a *Adam) Step(params []*tensor.Tensor) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters to update")
	}

	if a.momentum == nil {
		a.momentum = make([][]float32, len(params))
		a.variance = make([][]float32, len(params))
		for i, p := range params {
			a.momentum[i] = make([]float32, p.NumElems)
			a.variance[i] = make([]float32, p.NumElems)
		}
	}
	if len(a.momentum) != len(params) {
		return fmt.Errorf("optimizer state tracks %d parameters, got %d", len(a.momentum), len(params))
	}

	a.stepCount++
	beta1Corr := 1 - float32(math.Pow(float64(a.Beta1), float64(a.stepCount)))
	beta2Corr := 1 - float32(math.Pow(float64(a.Beta2), float64(a.stepCount)))

	for i, p := range params {
		grad := p.Grad()
		if grad == nil {
			return fmt.Errorf("parameter %d has no gradient", i)
		}
		if len(a.momentum[i]) != p.NumElems {
			return fmt.Errorf("optimizer state size mismatch for parameter %d: state %d, parameter %d",
				i, len(a.momentum[i]), p.NumElems)
		}

		m := a.momentum[i]
		v := a.variance[i]
		for j := 0; j < p.NumElems; j++ {
			g := grad.Data[j]
			if a.WeightDecay != 0 {
				g += a.WeightDecay * p.Data[j]
			}
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g*g

			mHat := m[j] / beta1Corr
			vHat := v[j] / beta2Corr
			p.Data[j] -= a.LearningRate * mHat / (float32(math.Sqrt(float64(vHat))) + a.Epsilon)
		}
	}
	return nil
}

// GetState extracts the optimizer state for checkpointing.
func (a *Adam) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": a.LearningRate,
			"beta1":         a.Beta1,
			"beta2":         a.Beta2,
			"epsilon":       a.Epsilon,
			"weight_decay":  a.WeightDecay,
			"step_count":    a.stepCount,
		},
	}
	for i := range a.momentum {
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("momentum_%d", i),
			Shape:     []int{len(a.momentum[i])},
			Data:      append([]float32(nil), a.momentum[i]...),
			StateType: "momentum",
		})
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("variance_%d", i),
			Shape:     []int{len(a.variance[i])},
			Data:      append([]float32(nil), a.variance[i]...),
			StateType: "variance",
		})
	}
	return state, nil
}

// LoadState restores the optimizer from a checkpointed state.
func (a *Adam) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	a.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", a.LearningRate)
	a.Beta1 = extractFloat32Param(state.Parameters, "beta1", a.Beta1)
	a.Beta2 = extractFloat32Param(state.Parameters, "beta2", a.Beta2)
	a.Epsilon = extractFloat32Param(state.Parameters, "epsilon", a.Epsilon)
	a.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", a.WeightDecay)
	a.stepCount = extractUint64Param(state.Parameters, "step_count", 0)

	momentum := make(map[int][]float32)
	variance := make(map[int][]float32)
	maxIdx := -1
	for _, st := range state.StateData {
		var idx int
		var kind string
		switch st.StateType {
		case "momentum":
			kind = "momentum"
		case "variance":
			kind = "variance"
		default:
			return fmt.Errorf("unknown optimizer state tensor type %q", st.StateType)
		}
		if _, err := fmt.Sscanf(st.Name, kind+"_%d", &idx); err != nil {
			return fmt.Errorf("malformed optimizer state tensor name %q: %v", st.Name, err)
		}
		data := append([]float32(nil), st.Data...)
		if kind == "momentum" {
			momentum[idx] = data
		} else {
			variance[idx] = data
		}
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	a.momentum = make([][]float32, maxIdx+1)
	a.variance = make([][]float32, maxIdx+1)
	for i := 0; i <= maxIdx; i++ {
		m, okM := momentum[i]
		v, okV := variance[i]
		if !okM || !okV {
			return fmt.Errorf("optimizer state missing moments for parameter %d", i)
		}
		if len(m) != len(v) {
			return fmt.Errorf("optimizer state moment size mismatch for parameter %d: %d vs %d", i, len(m), len(v))
		}
		a.momentum[i] = m
		a.variance[i] = v
	}
	return nil
}

// GetStepCount returns the number of updates applied so far.
func (a *Adam) GetStepCount() uint64 {
	return a.stepCount
}

// UpdateLearningRate changes the learning rate for subsequent steps.
func (a *Adam) UpdateLearningRate(lr float32) {
	a.LearningRate = lr
}
