package tensor

import (
	"fmt"
)

// GramMatrix reduces a batched NHWC activation to per-image channel
// correlation statistics: out[n,i,j] is the sum over all spatial positions of
// in[n,y,x,i]*in[n,y,x,j], divided by h*w. The result shape [n, c, c] is
// independent of the activation's spatial size, so statistics computed from
// images of different resolutions stay comparable.
func GramMatrix(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("GramMatrix requires a rank-4 NHWC tensor, got shape %v", t.Shape)
	}
	n, h, w, c := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]

	result, err := Zeros([]int{n, c, c})
	if err != nil {
		return nil, err
	}

	for in := 0; in < n; in++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				base := ((in*h+y)*w + x) * c
				for i := 0; i < c; i++ {
					vi := t.Data[base+i]
					if vi == 0 {
						continue
					}
					row := (in*c + i) * c
					for j := 0; j < c; j++ {
						result.Data[row+j] += vi * t.Data[base+j]
					}
				}
			}
		}
	}

	norm := float32(1) / float32(h*w)
	for i := range result.Data {
		result.Data[i] *= norm
	}

	return record(result, &gramOp{a: t}), nil
}

type gramOp struct {
	a *Tensor
}

func (op *gramOp) Inputs() []*Tensor { return []*Tensor{op.a} }

// Backward: out[n,i,j] depends on in[n,y,x,i] and in[n,y,x,j], so each input
// element collects gradient from its row and its column of the output.
func (op *gramOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.a.Shape)
	if err != nil {
		return nil, err
	}
	n, h, w, c := op.a.Shape[0], op.a.Shape[1], op.a.Shape[2], op.a.Shape[3]
	norm := float32(1) / float32(h*w)

	for in := 0; in < n; in++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				base := ((in*h+y)*w + x) * c
				for k := 0; k < c; k++ {
					acc := float32(0)
					for j := 0; j < c; j++ {
						g := gradOut.Data[(in*c+k)*c+j] + gradOut.Data[(in*c+j)*c+k]
						acc += g * op.a.Data[base+j]
					}
					grad.Data[base+k] = acc * norm
				}
			}
		}
	}
	return []*Tensor{grad}, nil
}
