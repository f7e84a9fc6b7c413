package tensor

import (
	"fmt"
)

// Backward computes gradients of a scalar loss with respect to every tensor
// in its creator graph that requires them. Gradients accumulate into each
// tensor's Grad slot; callers clear them between steps with ZeroGrad.
func Backward(loss *Tensor) error {
	if loss.NumElems != 1 {
		return fmt.Errorf("Backward requires a scalar loss, got shape %v", loss.Shape)
	}
	if loss.creator == nil && !loss.requiresGrad {
		return fmt.Errorf("loss is not connected to any recorded operation")
	}

	order := topoSort(loss)

	loss.grad = FromScalar(1)

	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]
		if t.creator == nil || t.grad == nil {
			continue
		}
		grads, err := t.creator.Backward(t.grad)
		if err != nil {
			return fmt.Errorf("backward pass failed: %v", err)
		}
		inputs := t.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(grads), len(inputs))
		}
		for j, in := range inputs {
			if grads[j] == nil {
				continue
			}
			if !in.requiresGrad {
				continue
			}
			if err := accumulateGrad(in, grads[j]); err != nil {
				return err
			}
		}
		// Intermediate gradients are no longer needed once propagated.
		if !isLeaf(t) && t != loss {
			t.grad = nil
		}
	}
	return nil
}

func isLeaf(t *Tensor) bool {
	return t.creator == nil
}

// topoSort returns the creator graph in dependency order, inputs first.
func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, t)
	}
	visit(root)
	return order
}

func accumulateGrad(t *Tensor, g *Tensor) error {
	if !shapesEqual(t.Shape, g.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", g.Shape, t.Shape)
	}
	if t.grad == nil {
		t.grad = g.Clone()
		return nil
	}
	for i := range t.grad.Data {
		t.grad.Data[i] += g.Data[i]
	}
	return nil
}

type addOp struct {
	a, b *Tensor
}

func (op *addOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *addOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{gradOut, gradOut}, nil
}

type subOp struct {
	a, b *Tensor
}

func (op *subOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *subOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradB := gradOut.Clone()
	for i := range gradB.Data {
		gradB.Data[i] = -gradB.Data[i]
	}
	return []*Tensor{gradOut, gradB}, nil
}

type mulOp struct {
	a, b *Tensor
}

func (op *mulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *mulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA := gradOut.Clone()
	gradB := gradOut.Clone()
	for i := range gradOut.Data {
		gradA.Data[i] = gradOut.Data[i] * op.b.Data[i]
		gradB.Data[i] = gradOut.Data[i] * op.a.Data[i]
	}
	return []*Tensor{gradA, gradB}, nil
}

type scaleOp struct {
	a *Tensor
	s float32
}

func (op *scaleOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *scaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad := gradOut.Clone()
	for i := range grad.Data {
		grad.Data[i] *= op.s
	}
	return []*Tensor{grad}, nil
}

type meanAllOp struct {
	a *Tensor
}

func (op *meanAllOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *meanAllOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	scale := gradOut.Data[0] / float32(op.a.NumElems)
	grad, err := Full(op.a.Shape, scale)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

type reluOp struct {
	a *Tensor
}

func (op *reluOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *reluOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad := gradOut.Clone()
	for i := range grad.Data {
		if op.a.Data[i] <= 0 {
			grad.Data[i] = 0
		}
	}
	return []*Tensor{grad}, nil
}

// diffOp is the shared backward for DiffX (axis=2) and DiffY (axis=1):
// each output element pulls gradient +1 from its forward neighbor and -1
// from itself.
type diffOp struct {
	a    *Tensor
	axis int
}

func (op *diffOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *diffOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.a.Shape)
	if err != nil {
		return nil, err
	}
	n, h, w, c := op.a.Shape[0], op.a.Shape[1], op.a.Shape[2], op.a.Shape[3]
	oh, ow := gradOut.Shape[1], gradOut.Shape[2]
	for in := 0; in < n; in++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				for ch := 0; ch < c; ch++ {
					g := gradOut.Data[((in*oh+y)*ow+x)*c+ch]
					base := ((in*h+y)*w + x) * c
					grad.Data[base+ch] -= g
					if op.axis == 2 {
						grad.Data[base+c+ch] += g
					} else {
						grad.Data[base+w*c+ch] += g
					}
				}
			}
		}
	}
	return []*Tensor{grad}, nil
}
