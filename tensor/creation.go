package tensor

import (
	"fmt"
)

// New creates a tensor with the given shape backed by data. The data slice is
// adopted, not copied; its length must match the shape's element count.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	numElems := calculateNumElements(shape)
	return New(shape, make([]float32, numElems))
}

// Full creates a tensor with the given shape where every element is value.
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// FromScalar wraps a single value as a one-element tensor.
func FromScalar(value float32) *Tensor {
	return &Tensor{
		Shape:    []int{1},
		Strides:  []int{1},
		Data:     []float32{value},
		NumElems: 1,
	}
}
