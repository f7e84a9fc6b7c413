package nn

import (
	"fmt"
	"math/rand"

	"faststyle/tensor"
)

// Style and content layer names exposed by LossNet, following the VGG block
// naming convention used throughout the style-transfer literature.
var (
	lossNetStyleLayers   = []string{"block1_conv1", "block2_conv1", "block3_conv1", "block4_conv1", "block5_conv1"}
	lossNetContentLayers = []string{"block5_conv2"}
)

// Channel widths of the five pyramid blocks.
var lossNetChannels = []int{8, 16, 32, 32, 32}

// LossNet is the built-in perceptual feature extractor: a frozen five-block
// convolution pyramid with 2x average-pool downsampling between blocks. Each
// block contributes a named style statistic, the Gram matrix of its
// activation, so style layers are comparable across images of different
// resolutions; the deepest block carries an extra convolution whose raw
// activation is the content layer. The weights are fixed random projections
// drawn deterministically from a seed, so the extractor is a pure function
// of its input. Gradients flow through it to the image being stylized but
// never into its own parameters.
type LossNet struct {
	blocks      []*Conv2D
	contentConv *Conv2D
}

// NewLossNet builds the extractor with projection weights drawn
// deterministically from seed.
func NewLossNet(seed int64) (*LossNet, error) {
	rng := rand.New(rand.NewSource(seed))

	blocks := make([]*Conv2D, len(lossNetChannels))
	inChannels := 3
	for i, outChannels := range lossNetChannels {
		name := fmt.Sprintf("block%d_conv1", i+1)
		conv, err := NewConv2D(name, 3, inChannels, outChannels, rng)
		if err != nil {
			return nil, err
		}
		conv.Freeze()
		blocks[i] = conv
		inChannels = outChannels
	}

	contentConv, err := NewConv2D("block5_conv2", 3, inChannels, inChannels, rng)
	if err != nil {
		return nil, err
	}
	contentConv.Freeze()

	return &LossNet{blocks: blocks, contentConv: contentConv}, nil
}

// Extract maps a batched NHWC image to its named style statistics and
// content activations.
func (ln *LossNet) Extract(image *tensor.Tensor) (FeatureBundle, error) {
	bundle := FeatureBundle{
		Style:   make(map[string]*tensor.Tensor, len(lossNetStyleLayers)),
		Content: make(map[string]*tensor.Tensor, len(lossNetContentLayers)),
	}

	x := image
	for i, block := range ln.blocks {
		conv, err := block.Forward(x)
		if err != nil {
			return FeatureBundle{}, err
		}
		act, err := tensor.ReLU(conv)
		if err != nil {
			return FeatureBundle{}, err
		}
		gram, err := tensor.GramMatrix(act)
		if err != nil {
			return FeatureBundle{}, err
		}
		bundle.Style[lossNetStyleLayers[i]] = gram

		x = act
		if i < len(ln.blocks)-1 {
			x, err = tensor.AvgPool2D(x, 2)
			if err != nil {
				return FeatureBundle{}, err
			}
		}
	}

	conv, err := ln.contentConv.Forward(x)
	if err != nil {
		return FeatureBundle{}, err
	}
	act, err := tensor.ReLU(conv)
	if err != nil {
		return FeatureBundle{}, err
	}
	bundle.Content[lossNetContentLayers[0]] = act

	return bundle, nil
}

func (ln *LossNet) StyleLayers() []string {
	return append([]string(nil), lossNetStyleLayers...)
}

func (ln *LossNet) ContentLayers() []string {
	return append([]string(nil), lossNetContentLayers...)
}
