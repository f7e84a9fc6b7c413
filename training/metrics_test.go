package training

import (
	"math"
	"testing"
)

func TestMeanAverages(t *testing.T) {
	m := NewMean("loss")
	m.Update(2)
	m.Update(4)
	m.Update(9)

	value, err := m.Result()
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if math.Abs(value-5) > 1e-12 {
		t.Errorf("Result = %v, expected 5", value)
	}
	if m.Count() != 3 {
		t.Errorf("Count = %d, expected 3", m.Count())
	}
}

func TestMeanEmptyWindow(t *testing.T) {
	m := NewMean("loss")
	if _, err := m.Result(); err == nil {
		t.Error("expected error for empty window")
	}
}

func TestMeanReset(t *testing.T) {
	m := NewMean("loss")
	m.Update(10)
	m.Reset()

	if m.Count() != 0 {
		t.Errorf("Count after Reset = %d, expected 0", m.Count())
	}
	if _, err := m.Result(); err == nil {
		t.Error("expected error after Reset")
	}

	// The window accumulates fresh after a reset.
	m.Update(7)
	value, err := m.Result()
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if value != 7 {
		t.Errorf("Result = %v, expected 7", value)
	}
}

func TestMeanName(t *testing.T) {
	m := NewMean("style_loss")
	if m.Name() != "style_loss" {
		t.Errorf("Name = %q, expected style_loss", m.Name())
	}
}
