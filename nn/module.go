// Package nn provides the network-facing contracts of the trainer and two
// built-in implementations: the trainable stylization network and the frozen
// feature extractor that serves as the perceptual loss oracle. Any types
// satisfying the interfaces here are substitutable, which keeps the training
// core testable with trivial stub networks.
package nn

import (
	"faststyle/tensor"
)

// Parameter is a named trainable tensor owned by a module.
type Parameter struct {
	Name  string
	Value *tensor.Tensor
}

// Module is a network that maps an image tensor to an image tensor and
// exposes an enumerable, named set of trainable parameters.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []Parameter
}

// FeatureBundle groups named activations produced by a feature extractor,
// partitioned into style layers and content layers. Key sets are stable
// across all invocations of the same extractor.
type FeatureBundle struct {
	Style   map[string]*tensor.Tensor
	Content map[string]*tensor.Tensor
}

// FeatureExtractor maps an image tensor to a bundle of named style and
// content activations. Extraction is deterministic and mutates no state.
type FeatureExtractor interface {
	Extract(image *tensor.Tensor) (FeatureBundle, error)
	StyleLayers() []string
	ContentLayers() []string
}
