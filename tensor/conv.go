package tensor

import (
	"fmt"
)

// Conv2D computes a stride-1, same-padded 2D convolution over a batched NHWC
// input. The weight tensor is laid out [kh, kw, inC, outC] with odd kernel
// sizes; bias is [outC] and may be nil.
func Conv2D(input, weight, bias *Tensor) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("Conv2D input must be rank-4 NHWC, got shape %v", input.Shape)
	}
	if len(weight.Shape) != 4 {
		return nil, fmt.Errorf("Conv2D weight must be [kh, kw, inC, outC], got shape %v", weight.Shape)
	}
	kh, kw, inC, outC := weight.Shape[0], weight.Shape[1], weight.Shape[2], weight.Shape[3]
	if kh%2 == 0 || kw%2 == 0 {
		return nil, fmt.Errorf("Conv2D requires odd kernel sizes, got %dx%d", kh, kw)
	}
	if input.Shape[3] != inC {
		return nil, fmt.Errorf("Conv2D channel mismatch: input has %d, weight expects %d", input.Shape[3], inC)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != outC) {
		return nil, fmt.Errorf("Conv2D bias must have shape [%d], got %v", outC, bias.Shape)
	}

	n, h, w := input.Shape[0], input.Shape[1], input.Shape[2]
	padH, padW := kh/2, kw/2

	result, err := Zeros([]int{n, h, w, outC})
	if err != nil {
		return nil, err
	}

	for in := 0; in < n; in++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				outBase := ((in*h+y)*w + x) * outC
				for oc := 0; oc < outC; oc++ {
					acc := float32(0)
					if bias != nil {
						acc = bias.Data[oc]
					}
					for ky := 0; ky < kh; ky++ {
						iy := y + ky - padH
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := x + kx - padW
							if ix < 0 || ix >= w {
								continue
							}
							inBase := ((in*h+iy)*w + ix) * inC
							wBase := ((ky*kw + kx) * inC) * outC
							for ic := 0; ic < inC; ic++ {
								acc += input.Data[inBase+ic] * weight.Data[wBase+ic*outC+oc]
							}
						}
					}
					result.Data[outBase+oc] = acc
				}
			}
		}
	}

	op := &conv2DOp{input: input, weight: weight, bias: bias}
	return record(result, op), nil
}

type conv2DOp struct {
	input  *Tensor
	weight *Tensor
	bias   *Tensor
}

func (op *conv2DOp) Inputs() []*Tensor {
	if op.bias == nil {
		return []*Tensor{op.input, op.weight}
	}
	return []*Tensor{op.input, op.weight, op.bias}
}

func (op *conv2DOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	kh, kw := op.weight.Shape[0], op.weight.Shape[1]
	inC, outC := op.weight.Shape[2], op.weight.Shape[3]
	n, h, w := op.input.Shape[0], op.input.Shape[1], op.input.Shape[2]
	padH, padW := kh/2, kw/2

	var gradInput, gradWeight, gradBias *Tensor
	var err error

	if op.input.requiresGrad {
		gradInput, err = Zeros(op.input.Shape)
		if err != nil {
			return nil, err
		}
	}
	if op.weight.requiresGrad {
		gradWeight, err = Zeros(op.weight.Shape)
		if err != nil {
			return nil, err
		}
	}
	if op.bias != nil && op.bias.requiresGrad {
		gradBias, err = Zeros(op.bias.Shape)
		if err != nil {
			return nil, err
		}
	}

	for in := 0; in < n; in++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				outBase := ((in*h+y)*w + x) * outC
				for oc := 0; oc < outC; oc++ {
					g := gradOut.Data[outBase+oc]
					if g == 0 {
						continue
					}
					if gradBias != nil {
						gradBias.Data[oc] += g
					}
					if gradInput == nil && gradWeight == nil {
						continue
					}
					for ky := 0; ky < kh; ky++ {
						iy := y + ky - padH
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := x + kx - padW
							if ix < 0 || ix >= w {
								continue
							}
							inBase := ((in*h+iy)*w + ix) * inC
							wBase := ((ky*kw + kx) * inC) * outC
							for ic := 0; ic < inC; ic++ {
								if gradInput != nil {
									gradInput.Data[inBase+ic] += g * op.weight.Data[wBase+ic*outC+oc]
								}
								if gradWeight != nil {
									gradWeight.Data[wBase+ic*outC+oc] += g * op.input.Data[inBase+ic]
								}
							}
						}
					}
				}
			}
		}
	}

	if op.bias == nil {
		return []*Tensor{gradInput, gradWeight}, nil
	}
	return []*Tensor{gradInput, gradWeight, gradBias}, nil
}

// AvgPool2D downsamples a batched NHWC input by averaging non-overlapping
// size x size windows. Trailing rows and columns that do not fill a full
// window are dropped.
func AvgPool2D(input *Tensor, size int) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("AvgPool2D input must be rank-4 NHWC, got shape %v", input.Shape)
	}
	if size < 1 {
		return nil, fmt.Errorf("AvgPool2D window size must be >= 1, got %d", size)
	}
	n, h, w, c := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	oh, ow := h/size, w/size
	if oh == 0 || ow == 0 {
		return nil, fmt.Errorf("AvgPool2D window %d exceeds input size %dx%d", size, h, w)
	}

	result, err := Zeros([]int{n, oh, ow, c})
	if err != nil {
		return nil, err
	}

	norm := float32(1) / float32(size*size)
	for in := 0; in < n; in++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				outBase := ((in*oh+y)*ow + x) * c
				for ch := 0; ch < c; ch++ {
					acc := float32(0)
					for wy := 0; wy < size; wy++ {
						for wx := 0; wx < size; wx++ {
							acc += input.Data[((in*h+y*size+wy)*w+x*size+wx)*c+ch]
						}
					}
					result.Data[outBase+ch] = acc * norm
				}
			}
		}
	}

	return record(result, &avgPool2DOp{input: input, size: size}), nil
}

type avgPool2DOp struct {
	input *Tensor
	size  int
}

func (op *avgPool2DOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *avgPool2DOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.input.Shape)
	if err != nil {
		return nil, err
	}
	n, h, w, c := op.input.Shape[0], op.input.Shape[1], op.input.Shape[2], op.input.Shape[3]
	oh, ow := gradOut.Shape[1], gradOut.Shape[2]
	size := op.size
	norm := float32(1) / float32(size*size)
	for in := 0; in < n; in++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				outBase := ((in*oh+y)*ow + x) * c
				for ch := 0; ch < c; ch++ {
					g := gradOut.Data[outBase+ch] * norm
					for wy := 0; wy < size; wy++ {
						for wx := 0; wx < size; wx++ {
							grad.Data[((in*h+y*size+wy)*w+x*size+wx)*c+ch] += g
						}
					}
				}
			}
		}
	}
	return []*Tensor{grad}, nil
}
