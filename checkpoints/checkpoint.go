// Package checkpoints persists training state so long-running runs survive
// process restarts. A checkpoint bundles the step counter, the transformer's
// named weights, and the optimizer's opaque state into one atomically-written
// JSON document; the Manager keeps a bounded history of the most recent
// snapshots.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"faststyle/nn"
)

// Checkpoint is a complete snapshot of training state at a given step.
type Checkpoint struct {
	Step           int             `json:"step"`
	Weights        []WeightTensor  `json:"weights"`
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`
	Metadata       Metadata        `json:"metadata"`
}

// WeightTensor is a named model parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (moments, step count)
// as an opaque blob the optimizer itself knows how to interpret.
type OptimizerState struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor is a single optimizer state tensor, such as a first or
// second moment estimate.
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// Metadata describes the run a checkpoint belongs to.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// ExtractWeights snapshots a module's named parameters into serializable
// weight records.
func ExtractWeights(params []nn.Parameter) []WeightTensor {
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		data := make([]float32, len(p.Value.Data))
		copy(data, p.Value.Data)
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Value.Shape...),
			Data:  data,
		})
	}
	return weights
}

// LoadWeights restores saved weight records into a module's parameters,
// matching by name and validating shapes.
func LoadWeights(weights []WeightTensor, params []nn.Parameter) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	if len(weights) != len(params) {
		return fmt.Errorf("weight count mismatch: %d saved, %d parameters", len(weights), len(params))
	}

	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("no saved weight for parameter %s", p.Name)
		}
		if len(w.Data) != len(p.Value.Data) {
			return fmt.Errorf("weight %s has %d values, parameter expects %d", p.Name, len(w.Data), len(p.Value.Data))
		}
		for i, dim := range p.Value.Shape {
			if i >= len(w.Shape) || dim != w.Shape[i] {
				return fmt.Errorf("shape mismatch for weight %s: saved %v, parameter %v", p.Name, w.Shape, p.Value.Shape)
			}
		}
		copy(p.Value.Data, w.Data)
	}
	return nil
}

// save writes a checkpoint to path as one atomic unit: the document lands
// under a temporary name in the same directory and is renamed into place,
// so a crash mid-write can never leave a readable-but-partial checkpoint.
func save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "faststyle"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	return writeFileAtomic(path, data)
}

// load reads a checkpoint from path. A present-but-unreadable file is an
// error, never silently skipped.
func load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %v", path, err)
	}
	return &checkpoint, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %v", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %v", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %v", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %v", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file into place: %v", err)
	}
	return nil
}
