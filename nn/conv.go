package nn

import (
	"fmt"
	"math"
	"math/rand"

	"faststyle/tensor"
)

// Conv2D is a stride-1, same-padded convolution layer with bias.
type Conv2D struct {
	name   string
	weight *tensor.Tensor
	bias   *tensor.Tensor
}

// NewConv2D creates a convolution layer with Xavier/Glorot uniform weight
// initialization drawn from rng and a zero bias. Kernel sizes must be odd.
func NewConv2D(name string, kernel, inChannels, outChannels int, rng *rand.Rand) (*Conv2D, error) {
	if kernel%2 == 0 {
		return nil, fmt.Errorf("conv layer %s: kernel size must be odd, got %d", name, kernel)
	}

	fanIn := kernel * kernel * inChannels
	fanOut := kernel * kernel * outChannels
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	weightData := make([]float32, kernel*kernel*inChannels*outChannels)
	for i := range weightData {
		weightData[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	weight, err := tensor.New([]int{kernel, kernel, inChannels, outChannels}, weightData)
	if err != nil {
		return nil, fmt.Errorf("conv layer %s: failed to create weight tensor: %v", name, err)
	}
	weight.SetRequiresGrad(true)

	bias, err := tensor.Zeros([]int{outChannels})
	if err != nil {
		return nil, fmt.Errorf("conv layer %s: failed to create bias tensor: %v", name, err)
	}
	bias.SetRequiresGrad(true)

	return &Conv2D{name: name, weight: weight, bias: bias}, nil
}

// Forward applies the convolution to a batched NHWC input.
func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.Conv2D(input, c.weight, c.bias)
	if err != nil {
		return nil, fmt.Errorf("conv layer %s: %v", c.name, err)
	}
	return out, nil
}

func (c *Conv2D) Parameters() []Parameter {
	return []Parameter{
		{Name: c.name + ".weight", Value: c.weight},
		{Name: c.name + ".bias", Value: c.bias},
	}
}

// Freeze removes the layer's parameters from gradient computation. Gradients
// still flow through the layer to its input.
func (c *Conv2D) Freeze() {
	c.weight.SetRequiresGrad(false)
	c.bias.SetRequiresGrad(false)
}
