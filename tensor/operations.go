package tensor

import (
	"fmt"
)

func checkSameShape(t1, t2 *Tensor) error {
	if !shapesEqual(t1.Shape, t2.Shape) {
		return fmt.Errorf("tensor shapes must match: %v vs %v", t1.Shape, t2.Shape)
	}
	return nil
}

// record attaches op as the creator of result when any operand participates
// in gradient computation. Constant subgraphs record nothing.
func record(result *Tensor, op Operation) *Tensor {
	for _, in := range op.Inputs() {
		if in.requiresGrad {
			result.requiresGrad = true
			result.creator = op
			break
		}
	}
	return result
}

// Add returns the elementwise sum of two same-shape tensors.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkSameShape(t1, t2); err != nil {
		return nil, err
	}
	result, err := Zeros(t1.Shape)
	if err != nil {
		return nil, err
	}
	for i := 0; i < t1.NumElems; i++ {
		result.Data[i] = t1.Data[i] + t2.Data[i]
	}
	return record(result, &addOp{a: t1, b: t2}), nil
}

// Sub returns the elementwise difference of two same-shape tensors.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkSameShape(t1, t2); err != nil {
		return nil, err
	}
	result, err := Zeros(t1.Shape)
	if err != nil {
		return nil, err
	}
	for i := 0; i < t1.NumElems; i++ {
		result.Data[i] = t1.Data[i] - t2.Data[i]
	}
	return record(result, &subOp{a: t1, b: t2}), nil
}

// Mul returns the elementwise product of two same-shape tensors.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkSameShape(t1, t2); err != nil {
		return nil, err
	}
	result, err := Zeros(t1.Shape)
	if err != nil {
		return nil, err
	}
	for i := 0; i < t1.NumElems; i++ {
		result.Data[i] = t1.Data[i] * t2.Data[i]
	}
	return record(result, &mulOp{a: t1, b: t2}), nil
}

// Square returns the elementwise square of a tensor.
func Square(t *Tensor) (*Tensor, error) {
	return Mul(t, t)
}

// Scale multiplies every element by a scalar.
func Scale(t *Tensor, s float32) (*Tensor, error) {
	result, err := Zeros(t.Shape)
	if err != nil {
		return nil, err
	}
	for i := 0; i < t.NumElems; i++ {
		result.Data[i] = t.Data[i] * s
	}
	return record(result, &scaleOp{a: t, s: s}), nil
}

// MeanAll reduces a tensor to the mean of all its elements.
func MeanAll(t *Tensor) (*Tensor, error) {
	if t.NumElems == 0 {
		return nil, fmt.Errorf("cannot take mean of empty tensor")
	}
	sum := float32(0)
	for _, v := range t.Data {
		sum += v
	}
	result := FromScalar(sum / float32(t.NumElems))
	return record(result, &meanAllOp{a: t}), nil
}

// ReLU applies max(0, x) elementwise.
func ReLU(t *Tensor) (*Tensor, error) {
	result, err := Zeros(t.Shape)
	if err != nil {
		return nil, err
	}
	for i := 0; i < t.NumElems; i++ {
		if t.Data[i] > 0 {
			result.Data[i] = t.Data[i]
		}
	}
	return record(result, &reluOp{a: t}), nil
}

// DiffX returns the horizontal pixel deltas of a batched NHWC image:
// out[n,y,x,c] = in[n,y,x+1,c] - in[n,y,x,c]. The result is one column
// narrower than the input.
func DiffX(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("DiffX requires a rank-4 NHWC tensor, got shape %v", t.Shape)
	}
	n, h, w, c := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if w < 2 {
		return nil, fmt.Errorf("DiffX requires width >= 2, got %d", w)
	}
	result, err := Zeros([]int{n, h, w - 1, c})
	if err != nil {
		return nil, err
	}
	for in := 0; in < n; in++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w-1; x++ {
				for ch := 0; ch < c; ch++ {
					base := ((in*h+y)*w+x)*c + ch
					result.Data[((in*h+y)*(w-1)+x)*c+ch] = t.Data[base+c] - t.Data[base]
				}
			}
		}
	}
	return record(result, &diffOp{a: t, axis: 2}), nil
}

// DiffY returns the vertical pixel deltas of a batched NHWC image:
// out[n,y,x,c] = in[n,y+1,x,c] - in[n,y,x,c]. The result is one row
// shorter than the input.
func DiffY(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("DiffY requires a rank-4 NHWC tensor, got shape %v", t.Shape)
	}
	n, h, w, c := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if h < 2 {
		return nil, fmt.Errorf("DiffY requires height >= 2, got %d", h)
	}
	result, err := Zeros([]int{n, h - 1, w, c})
	if err != nil {
		return nil, err
	}
	for in := 0; in < n; in++ {
		for y := 0; y < h-1; y++ {
			for x := 0; x < w; x++ {
				for ch := 0; ch < c; ch++ {
					base := ((in*h+y)*w+x)*c + ch
					result.Data[((in*(h-1)+y)*w+x)*c+ch] = t.Data[base+w*c] - t.Data[base]
				}
			}
		}
	}
	return record(result, &diffOp{a: t, axis: 1}), nil
}
