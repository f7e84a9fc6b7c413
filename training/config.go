// Package training implements the orchestration core of the style-transfer
// trainer: per-step loss composition, the gradient-update step, running
// metrics, and the checkpoint and reporting cadence that lets long
// unattended runs resume after interruption.
package training

import (
	"fmt"
)

// Config captures the runtime knobs of a training run. Invalid values are
// configuration errors detected at startup, before any batch is processed.
type Config struct {
	LogDir         string
	LearningRate   float32
	ImageSize      int
	BatchSize      int
	Epochs         int
	ContentWeight  float32
	StyleWeight    float32
	TVWeight       float32
	ReportEvery    int
	MaxCheckpoints int
	Seed           int64
}

// DefaultConfig returns the default training configuration.
func DefaultConfig() Config {
	return Config{
		LogDir:         "logs/style",
		LearningRate:   1e-3,
		ImageSize:      256,
		BatchSize:      4,
		Epochs:         2,
		ContentWeight:  1e4,
		StyleWeight:    1e-2,
		TVWeight:       1,
		ReportEvery:    500,
		MaxCheckpoints: 3,
		Seed:           1,
	}
}

// Validate verifies the configuration is runnable.
func (c *Config) Validate() error {
	if c.LogDir == "" {
		return fmt.Errorf("log directory must be set")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image size must be positive, got %d", c.ImageSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.ContentWeight <= 0 {
		return fmt.Errorf("content weight must be positive, got %g", c.ContentWeight)
	}
	if c.StyleWeight <= 0 {
		return fmt.Errorf("style weight must be positive, got %g", c.StyleWeight)
	}
	if c.TVWeight <= 0 {
		return fmt.Errorf("tv weight must be positive, got %g", c.TVWeight)
	}
	if c.ReportEvery <= 0 {
		return fmt.Errorf("report interval must be positive, got %d", c.ReportEvery)
	}
	if c.MaxCheckpoints <= 0 {
		return fmt.Errorf("checkpoint retention must be positive, got %d", c.MaxCheckpoints)
	}
	return nil
}
