package nn

import (
	"fmt"
	"math/rand"

	"faststyle/tensor"
)

// TransformerNet is the trainable feed-forward stylization network: a small
// residual convolution stack whose output has the same shape as its input.
// With the final layer at zero it reduces to the identity, so training starts
// from a content-preserving state.
type TransformerNet struct {
	conv1 *Conv2D
	conv2 *Conv2D
	conv3 *Conv2D
}

// NewTransformerNet builds the stylization network with weights drawn
// deterministically from seed.
func NewTransformerNet(seed int64) (*TransformerNet, error) {
	rng := rand.New(rand.NewSource(seed))

	conv1, err := NewConv2D("conv1", 3, 3, 16, rng)
	if err != nil {
		return nil, err
	}
	conv2, err := NewConv2D("conv2", 3, 16, 16, rng)
	if err != nil {
		return nil, err
	}
	conv3, err := NewConv2D("conv3", 3, 16, 3, rng)
	if err != nil {
		return nil, err
	}

	// Zero the projection back to RGB so the initial residual is zero and
	// the untrained network maps every image to itself.
	for i := range conv3.weight.Data {
		conv3.weight.Data[i] = 0
	}

	return &TransformerNet{conv1: conv1, conv2: conv2, conv3: conv3}, nil
}

// Forward stylizes a batched NHWC image, returning a tensor of the same shape.
func (t *TransformerNet) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := t.conv1.Forward(input)
	if err != nil {
		return nil, err
	}
	x, err = tensor.ReLU(x)
	if err != nil {
		return nil, err
	}
	x, err = t.conv2.Forward(x)
	if err != nil {
		return nil, err
	}
	x, err = tensor.ReLU(x)
	if err != nil {
		return nil, err
	}
	x, err = t.conv3.Forward(x)
	if err != nil {
		return nil, err
	}
	out, err := tensor.Add(input, x)
	if err != nil {
		return nil, fmt.Errorf("residual connection failed: %v", err)
	}
	return out, nil
}

func (t *TransformerNet) Parameters() []Parameter {
	var params []Parameter
	params = append(params, t.conv1.Parameters()...)
	params = append(params, t.conv2.Parameters()...)
	params = append(params, t.conv3.Parameters()...)
	return params
}
