package training

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"faststyle/checkpoints"
	"faststyle/nn"
	"faststyle/optimizer"
	"faststyle/tensor"
)

// Dataset streams one epoch of fully materialized, fixed-size image batches.
// The stream is restartable: each Epoch call starts a fresh pass.
type Dataset interface {
	Epoch(ctx context.Context) (<-chan *tensor.Tensor, <-chan error)
}

// StepMetrics are the loss values of a single training step.
type StepMetrics struct {
	Total   float32
	Style   float32
	Content float32
	TV      float32
}

// Loop drives training: one gradient step per batch, with checkpointing and
// metric reporting on a fixed step cadence. All mutable training state (the
// step counter, the metric windows) lives on the Loop rather than in
// globals, so a step can be exercised deterministically in isolation.
type Loop struct {
	cfg         Config
	transformer nn.Module
	extractor   nn.FeatureExtractor
	opt         optimizer.Optimizer
	composer    *Composer
	manager     *checkpoints.Manager
	reporter    *Reporter

	styleImage *tensor.Tensor
	testImage  *tensor.Tensor

	runID string
	step  int

	totalLoss   *Mean
	styleLoss   *Mean
	contentLoss *Mean
	tvLoss      *Mean

	// Windowed averages recorded at each emission, for the end-of-run summary.
	reportedLosses []float64
}

// NewLoop wires the training loop together. The style targets are computed
// once from styleImage and stay fixed for the lifetime of the run.
func NewLoop(cfg Config, transformer nn.Module, extractor nn.FeatureExtractor, opt optimizer.Optimizer, styleImage *tensor.Tensor) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bundle, err := extractor.Extract(styleImage)
	if err != nil {
		return nil, fmt.Errorf("failed to compute style targets: %v", err)
	}
	composer, err := NewComposer(bundle.Style, Weights{
		Content: cfg.ContentWeight,
		Style:   cfg.StyleWeight,
		TV:      cfg.TVWeight,
	})
	if err != nil {
		return nil, err
	}

	manager, err := checkpoints.NewManager(cfg.LogDir, cfg.MaxCheckpoints)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	reporter, err := NewReporter(cfg.LogDir, runID)
	if err != nil {
		return nil, err
	}

	return &Loop{
		cfg:         cfg,
		transformer: transformer,
		extractor:   extractor,
		opt:         opt,
		composer:    composer,
		manager:     manager,
		reporter:    reporter,
		styleImage:  styleImage,
		runID:       runID,
		step:        1,
		totalLoss:   NewMean("loss"),
		styleLoss:   NewMean("style_loss"),
		contentLoss: NewMean("content_loss"),
		tvLoss:      NewMean("tv_loss"),
	}, nil
}

// SetTestImage sets the held-out content image that is stylized and recorded
// at every report.
func (l *Loop) SetTestImage(img *tensor.Tensor) {
	l.testImage = img
}

// Step returns the current value of the step counter.
func (l *Loop) Step() int {
	return l.step
}

// Restore loads the latest checkpoint if one exists, returning its path.
// With no prior checkpoint the loop starts fresh at step 1.
func (l *Loop) Restore() (string, error) {
	ckpt, err := l.manager.Restore()
	if err != nil {
		return "", err
	}
	if ckpt == nil {
		return "", nil
	}

	if err := checkpoints.LoadWeights(ckpt.Weights, l.transformer.Parameters()); err != nil {
		return "", fmt.Errorf("failed to restore transformer weights: %v", err)
	}
	if ckpt.OptimizerState != nil {
		if err := l.opt.LoadState(ckpt.OptimizerState); err != nil {
			return "", fmt.Errorf("failed to restore optimizer state: %v", err)
		}
	}
	l.step = ckpt.Step

	path, err := l.manager.LatestPath()
	if err != nil {
		return "", err
	}
	return path, nil
}

// TrainStep runs one training step on a batch: stylize, extract features of
// both the original and the stylized image, compose the loss, backpropagate,
// apply the optimizer, and accumulate the running metrics. Numerical
// failures propagate unhandled; a batch is processed at most once.
func (l *Loop) TrainStep(batch *tensor.Tensor) (StepMetrics, error) {
	transformed, err := l.transformer.Forward(batch)
	if err != nil {
		return StepMetrics{}, fmt.Errorf("transformer forward pass failed: %v", err)
	}

	outputs, err := l.extractor.Extract(batch)
	if err != nil {
		return StepMetrics{}, fmt.Errorf("feature extraction of batch failed: %v", err)
	}
	transformedOutputs, err := l.extractor.Extract(transformed)
	if err != nil {
		return StepMetrics{}, fmt.Errorf("feature extraction of stylized batch failed: %v", err)
	}

	terms, err := l.composer.Compose(outputs, transformedOutputs, batch)
	if err != nil {
		return StepMetrics{}, err
	}

	if err := tensor.Backward(terms.Total); err != nil {
		return StepMetrics{}, err
	}

	params := paramTensors(l.transformer.Parameters())
	if err := l.opt.Step(params); err != nil {
		return StepMetrics{}, err
	}
	for _, p := range params {
		p.ZeroGrad()
	}

	metrics, err := stepMetrics(terms)
	if err != nil {
		return StepMetrics{}, err
	}
	l.totalLoss.Update(float64(metrics.Total))
	l.styleLoss.Update(float64(metrics.Style))
	l.contentLoss.Update(float64(metrics.Content))
	l.tvLoss.Update(float64(metrics.TV))

	l.step++
	return metrics, nil
}

// Run drives the full training workload: restore, then one TrainStep per
// batch for the configured number of epochs. Every ReportEvery steps it
// emits the metric windows, saves a checkpoint, and resets the windows.
// The windows reset only after an emission, so every report carries a true
// average over its window rather than the value of the most recent step.
func (l *Loop) Run(ctx context.Context, ds Dataset) error {
	// An early return must unblock the dataset pipeline, which only watches
	// this context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	restoredFrom, err := l.Restore()
	if err != nil {
		return err
	}
	if restoredFrom != "" {
		fmt.Printf("Restored from %s\n", restoredFrom)
	} else {
		fmt.Println("Initializing from scratch.")
	}

	for epoch := 0; epoch < l.cfg.Epochs; epoch++ {
		batches, errs := ds.Epoch(ctx)
		for batch := range batches {
			if _, err := l.TrainStep(batch); err != nil {
				return err
			}

			if l.step%l.cfg.ReportEvery == 0 {
				if err := l.report(); err != nil {
					return err
				}
			}
		}
		if err := <-errs; err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	l.printSummary()
	return nil
}

// report emits the metric windows and sample images, saves a checkpoint,
// and resets the windows.
func (l *Loop) report() error {
	windowLoss, err := l.totalLoss.Result()
	if err != nil {
		return err
	}

	images := map[string]*tensor.Tensor{
		"style_image": l.styleImage,
	}
	if l.testImage != nil {
		images["content_image"] = l.testImage
		styled, err := l.transformer.Forward(l.testImage)
		if err != nil {
			return fmt.Errorf("failed to stylize test image: %v", err)
		}
		images["styled_image"] = styled.Detach()
	}

	metrics := []*Mean{l.totalLoss, l.styleLoss, l.contentLoss, l.tvLoss}
	if err := l.reporter.Emit(l.step, metrics, images); err != nil {
		return err
	}

	path, err := l.saveCheckpoint()
	if err != nil {
		return err
	}
	fmt.Printf("Saved checkpoint for step %d: %s\n", l.step, path)

	l.reportedLosses = append(l.reportedLosses, windowLoss)
	for _, m := range metrics {
		m.Reset()
	}
	return nil
}

func (l *Loop) saveCheckpoint() (string, error) {
	state, err := l.opt.GetState()
	if err != nil {
		return "", fmt.Errorf("failed to extract optimizer state: %v", err)
	}
	ckpt := &checkpoints.Checkpoint{
		Step:           l.step,
		Weights:        checkpoints.ExtractWeights(l.transformer.Parameters()),
		OptimizerState: state,
		Metadata: checkpoints.Metadata{
			RunID:       l.runID,
			Description: fmt.Sprintf("step %d", l.step),
		},
	}
	return l.manager.Save(ckpt)
}

func (l *Loop) printSummary() {
	if len(l.reportedLosses) == 0 {
		fmt.Printf("Training finished at step %d before the first report interval.\n", l.step)
		return
	}
	mean := stat.Mean(l.reportedLosses, nil)
	if len(l.reportedLosses) < 2 {
		fmt.Printf("Training finished at step %d: mean reported loss %.6g over 1 report.\n", l.step, mean)
		return
	}
	stddev := stat.StdDev(l.reportedLosses, nil)
	fmt.Printf("Training finished at step %d: mean reported loss %.6g (stddev %.6g) over %d reports.\n",
		l.step, mean, stddev, len(l.reportedLosses))
}

func stepMetrics(terms Terms) (StepMetrics, error) {
	total, err := terms.Total.Item()
	if err != nil {
		return StepMetrics{}, err
	}
	style, err := terms.Style.Item()
	if err != nil {
		return StepMetrics{}, err
	}
	content, err := terms.Content.Item()
	if err != nil {
		return StepMetrics{}, err
	}
	tv, err := terms.TV.Item()
	if err != nil {
		return StepMetrics{}, err
	}
	return StepMetrics{Total: total, Style: style, Content: content, TV: tv}, nil
}

func paramTensors(params []nn.Parameter) []*tensor.Tensor {
	tensors := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		tensors[i] = p.Value
	}
	return tensors
}
