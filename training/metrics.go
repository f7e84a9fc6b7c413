package training

import (
	"fmt"
)

// Mean is a running metric: it accumulates a scalar across the steps of a
// reporting window and yields the windowed average at emission time. The
// driver resets it after every emission, so each report covers exactly the
// steps since the previous one.
type Mean struct {
	name  string
	sum   float64
	count int
}

// NewMean creates an empty running metric.
func NewMean(name string) *Mean {
	return &Mean{name: name}
}

func (m *Mean) Name() string {
	return m.name
}

// Update adds one observation to the window.
func (m *Mean) Update(value float64) {
	m.sum += value
	m.count++
}

// Result returns the windowed average. Reading an empty window is a caller
// bug: the reporting cadence guarantees at least one update per emission.
func (m *Mean) Result() (float64, error) {
	if m.count == 0 {
		return 0, fmt.Errorf("metric %s has no observations in the current window", m.name)
	}
	return m.sum / float64(m.count), nil
}

// Count returns the number of observations in the current window.
func (m *Mean) Count() int {
	return m.count
}

// Reset empties the window.
func (m *Mean) Reset() {
	m.sum = 0
	m.count = 0
}
