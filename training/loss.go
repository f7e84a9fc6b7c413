package training

import (
	"fmt"
	"sort"

	"faststyle/nn"
	"faststyle/tensor"
)

// Weights are the loss term coefficients, fixed at run start.
type Weights struct {
	Content float32
	Style   float32
	TV      float32
}

// Terms holds the weighted loss components of one step. Total is the scalar
// the backward pass differentiates.
type Terms struct {
	Style   *tensor.Tensor
	Content *tensor.Tensor
	TV      *tensor.Tensor
	Total   *tensor.Tensor
}

// Composer computes the weighted training loss from feature-extractor
// outputs and the raw batch image. It holds the style targets precomputed
// once from the reference style image; Compose itself is a pure function of
// its inputs.
type Composer struct {
	styleTargets map[string]*tensor.Tensor
	weights      Weights
}

// NewComposer creates a loss composer around precomputed style targets.
// The targets are detached copies: they stay constant for the lifetime of
// the run no matter what happens to the extractor that produced them.
func NewComposer(styleTargets map[string]*tensor.Tensor, weights Weights) (*Composer, error) {
	if len(styleTargets) == 0 {
		return nil, fmt.Errorf("at least one style target layer is required")
	}
	targets := make(map[string]*tensor.Tensor, len(styleTargets))
	for name, t := range styleTargets {
		targets[name] = t.Clone()
	}
	return &Composer{styleTargets: targets, weights: weights}, nil
}

// Compose computes the style, content, total-variation, and total losses for
// one batch.
//
// Style loss compares the stylized image's activations against the fixed
// style targets; content loss compares them against the activations of the
// original batch, so the network is pushed to preserve the content of its
// own input. Total variation is computed on the raw input image. Style and
// content losses are normalized by their layer counts before weighting.
func (c *Composer) Compose(outputs, transformedOutputs nn.FeatureBundle, image *tensor.Tensor) (Terms, error) {
	styleLoss, err := c.styleLoss(transformedOutputs.Style)
	if err != nil {
		return Terms{}, err
	}
	contentLoss, numContent, err := contentLoss(outputs.Content, transformedOutputs.Content)
	if err != nil {
		return Terms{}, err
	}
	tvLoss, err := TotalVariation(image)
	if err != nil {
		return Terms{}, err
	}

	styleLoss, err = tensor.Scale(styleLoss, c.weights.Style/float32(len(c.styleTargets)))
	if err != nil {
		return Terms{}, err
	}
	contentLoss, err = tensor.Scale(contentLoss, c.weights.Content/float32(numContent))
	if err != nil {
		return Terms{}, err
	}
	tvLoss, err = tensor.Scale(tvLoss, c.weights.TV)
	if err != nil {
		return Terms{}, err
	}

	total, err := tensor.Add(styleLoss, contentLoss)
	if err != nil {
		return Terms{}, err
	}
	total, err = tensor.Add(total, tvLoss)
	if err != nil {
		return Terms{}, err
	}

	return Terms{Style: styleLoss, Content: contentLoss, TV: tvLoss, Total: total}, nil
}

// styleLoss sums the mean squared activation differences against the style
// targets. The stylized outputs and the targets originate from the same
// extractor configuration, so mismatched key sets are a precondition
// violation, not a condition to tolerate.
func (c *Composer) styleLoss(transformedStyle map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	if len(transformedStyle) != len(c.styleTargets) {
		return nil, fmt.Errorf("style layer mismatch: extractor produced %d layers, targets have %d",
			len(transformedStyle), len(c.styleTargets))
	}

	loss := tensor.FromScalar(0)
	for _, name := range sortedKeys(transformedStyle) {
		target, ok := c.styleTargets[name]
		if !ok {
			return nil, fmt.Errorf("style layer %q has no precomputed target", name)
		}
		activation := transformedStyle[name]
		// Targets come from the single style image; repeat them along the
		// batch axis to compare against full batches.
		if len(target.Shape) == len(activation.Shape) && target.Shape[0] == 1 && activation.Shape[0] > 1 {
			var err error
			target, err = tileBatch(target, activation.Shape[0])
			if err != nil {
				return nil, fmt.Errorf("style layer %q: %v", name, err)
			}
		}
		mse, err := meanSquaredError(activation, target)
		if err != nil {
			return nil, fmt.Errorf("style layer %q: %v", name, err)
		}
		loss, err = tensor.Add(loss, mse)
		if err != nil {
			return nil, err
		}
	}
	return loss, nil
}

// contentLoss sums the mean squared activation differences between the
// stylized image and the original batch across all content layers.
func contentLoss(content, transformedContent map[string]*tensor.Tensor) (*tensor.Tensor, int, error) {
	if len(content) == 0 {
		return nil, 0, fmt.Errorf("at least one content layer is required")
	}
	if len(transformedContent) != len(content) {
		return nil, 0, fmt.Errorf("content layer mismatch: %d transformed layers, %d original layers",
			len(transformedContent), len(content))
	}

	loss := tensor.FromScalar(0)
	for _, name := range sortedKeys(content) {
		transformed, ok := transformedContent[name]
		if !ok {
			return nil, 0, fmt.Errorf("content layer %q missing from transformed outputs", name)
		}
		mse, err := meanSquaredError(transformed, content[name])
		if err != nil {
			return nil, 0, fmt.Errorf("content layer %q: %v", name, err)
		}
		loss, err = tensor.Add(loss, mse)
		if err != nil {
			return nil, 0, err
		}
	}
	return loss, len(content), nil
}

// TotalVariation measures the spatial smoothness of a batched NHWC image as
// the mean squared horizontal pixel delta plus the mean squared vertical
// pixel delta. It is non-negative and exactly zero for a spatially constant
// image.
func TotalVariation(image *tensor.Tensor) (*tensor.Tensor, error) {
	xDeltas, err := tensor.DiffX(image)
	if err != nil {
		return nil, err
	}
	yDeltas, err := tensor.DiffY(image)
	if err != nil {
		return nil, err
	}

	xSquared, err := tensor.Square(xDeltas)
	if err != nil {
		return nil, err
	}
	ySquared, err := tensor.Square(yDeltas)
	if err != nil {
		return nil, err
	}

	xMean, err := tensor.MeanAll(xSquared)
	if err != nil {
		return nil, err
	}
	yMean, err := tensor.MeanAll(ySquared)
	if err != nil {
		return nil, err
	}
	return tensor.Add(xMean, yMean)
}

// tileBatch repeats a batch-1 constant n times along the batch axis.
func tileBatch(t *tensor.Tensor, n int) (*tensor.Tensor, error) {
	data := make([]float32, 0, n*t.NumElems)
	for i := 0; i < n; i++ {
		data = append(data, t.Data...)
	}
	shape := append([]int(nil), t.Shape...)
	shape[0] = n
	return tensor.New(shape, data)
}

func meanSquaredError(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.Sub(a, b)
	if err != nil {
		return nil, err
	}
	squared, err := tensor.Square(diff)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAll(squared)
}

// sortedKeys fixes the iteration order so loss sums are reproducible across
// runs.
func sortedKeys(m map[string]*tensor.Tensor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
