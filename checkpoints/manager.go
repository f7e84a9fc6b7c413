package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const indexFileName = "checkpoint"

// Manager owns a checkpoint directory, retaining at most maxToKeep of the
// most recent snapshots. The newest checkpoint is tracked through an index
// file written atomically after every save, so restore always sees either
// the previous index or the new one, never a half-updated state.
type Manager struct {
	dir       string
	maxToKeep int
}

type index struct {
	Latest string       `json:"latest"`
	All    []indexEntry `json:"all"`
}

type indexEntry struct {
	Step int    `json:"step"`
	File string `json:"file"`
}

// NewManager creates a manager for dir, creating the directory if needed.
func NewManager(dir string, maxToKeep int) (*Manager, error) {
	if maxToKeep <= 0 {
		return nil, fmt.Errorf("maxToKeep must be positive, got %d", maxToKeep)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}
	return &Manager{dir: dir, maxToKeep: maxToKeep}, nil
}

// Save persists a checkpoint, evicts the oldest snapshots beyond the
// retention limit, and returns the path of the saved file.
func (m *Manager) Save(checkpoint *Checkpoint) (string, error) {
	file := fmt.Sprintf("ckpt-%d.json", checkpoint.Step)
	path := filepath.Join(m.dir, file)

	if err := save(checkpoint, path); err != nil {
		return "", err
	}

	idx, err := m.readIndex()
	if err != nil {
		return "", err
	}
	if idx == nil {
		idx = &index{}
	}

	// Re-saving the same step replaces the entry instead of duplicating it.
	kept := idx.All[:0]
	for _, entry := range idx.All {
		if entry.Step != checkpoint.Step {
			kept = append(kept, entry)
		}
	}
	idx.All = append(kept, indexEntry{Step: checkpoint.Step, File: file})
	idx.Latest = file

	var evicted []string
	for len(idx.All) > m.maxToKeep {
		evicted = append(evicted, idx.All[0].File)
		idx.All = idx.All[1:]
	}

	if err := m.writeIndex(idx); err != nil {
		return "", err
	}

	for _, old := range evicted {
		if err := os.Remove(filepath.Join(m.dir, old)); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to evict old checkpoint %s: %v", old, err)
		}
	}

	return path, nil
}

// Restore loads the most recent checkpoint. It returns (nil, nil) only when
// the directory holds no checkpoints at all; a recorded-but-unreadable
// checkpoint is an error.
func (m *Manager) Restore() (*Checkpoint, error) {
	idx, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	if idx == nil {
		stray, err := filepath.Glob(filepath.Join(m.dir, "ckpt-*.json"))
		if err != nil {
			return nil, err
		}
		if len(stray) > 0 {
			return nil, fmt.Errorf("checkpoint directory %s contains snapshots but no index", m.dir)
		}
		return nil, nil
	}
	if idx.Latest == "" {
		return nil, nil
	}
	return load(filepath.Join(m.dir, idx.Latest))
}

// Steps returns the steps of all retained checkpoints, oldest first.
func (m *Manager) Steps() ([]int, error) {
	idx, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}
	steps := make([]int, len(idx.All))
	for i, entry := range idx.All {
		steps[i] = entry.Step
	}
	return steps, nil
}

// LatestPath returns the path of the newest checkpoint, or "" when none
// exists.
func (m *Manager) LatestPath() (string, error) {
	idx, err := m.readIndex()
	if err != nil {
		return "", err
	}
	if idx == nil || idx.Latest == "" {
		return "", nil
	}
	return filepath.Join(m.dir, idx.Latest), nil
}

func (m *Manager) readIndex() (*index, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, indexFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %v", err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint index in %s: %v", m.dir, err)
	}
	return &idx, nil
}

func (m *Manager) writeIndex(idx *index) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint index: %v", err)
	}
	return writeFileAtomic(filepath.Join(m.dir, indexFileName), data)
}
