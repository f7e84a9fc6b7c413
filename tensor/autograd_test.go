package tensor

import (
	"testing"
)

func TestBackwardMSE(t *testing.T) {
	// loss = mean((a - b)^2), so dloss/da = 2(a - b) / n.
	a := mustNew(t, []int{4}, []float32{1, 2, 3, 4})
	a.SetRequiresGrad(true)
	b := mustNew(t, []int{4}, []float32{0, 2, 5, 1})

	diff, err := Sub(a, b)
	if err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	sq, err := Square(diff)
	if err != nil {
		t.Fatalf("Square failed: %v", err)
	}
	loss, err := MeanAll(sq)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := a.Grad()
	if grad == nil {
		t.Fatal("expected gradient on a")
	}
	expected := []float32{0.5, 0, -1, 1.5}
	for i, want := range expected {
		if !approxEqual(float64(grad.Data[i]), float64(want), 1e-6) {
			t.Errorf("grad[%d] = %v, expected %v", i, grad.Data[i], want)
		}
	}
	if b.Grad() != nil {
		t.Error("b does not require gradients but received one")
	}
}

func TestBackwardRequiresScalar(t *testing.T) {
	a := mustNew(t, []int{2}, []float32{1, 2})
	a.SetRequiresGrad(true)

	sq, err := Square(a)
	if err != nil {
		t.Fatalf("Square failed: %v", err)
	}
	if err := Backward(sq); err == nil {
		t.Error("expected error for non-scalar loss")
	}
}

func TestBackwardAccumulatesReusedInput(t *testing.T) {
	// loss = mean(a*a + a*a) has gradient 4a/n.
	a := mustNew(t, []int{2}, []float32{3, -1})
	a.SetRequiresGrad(true)

	p1, err := Mul(a, a)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	p2, err := Mul(a, a)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	sum, err := Add(p1, p2)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	loss, err := MeanAll(sum)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := a.Grad()
	expected := []float32{6, -2}
	for i, want := range expected {
		if !approxEqual(float64(grad.Data[i]), float64(want), 1e-5) {
			t.Errorf("grad[%d] = %v, expected %v", i, grad.Data[i], want)
		}
	}
}

func TestBackwardScale(t *testing.T) {
	a := mustNew(t, []int{3}, []float32{1, 2, 3})
	a.SetRequiresGrad(true)

	scaled, err := Scale(a, 3)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}
	loss, err := MeanAll(scaled)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := a.Grad()
	for i := range grad.Data {
		if !approxEqual(float64(grad.Data[i]), 1.0, 1e-6) {
			t.Errorf("grad[%d] = %v, expected 1", i, grad.Data[i])
		}
	}
}

func TestBackwardReLUMasksNegatives(t *testing.T) {
	a := mustNew(t, []int{4}, []float32{-2, -0.5, 0.5, 2})
	a.SetRequiresGrad(true)

	r, err := ReLU(a)
	if err != nil {
		t.Fatalf("ReLU failed: %v", err)
	}
	loss, err := MeanAll(r)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := a.Grad()
	expected := []float32{0, 0, 0.25, 0.25}
	for i, want := range expected {
		if !approxEqual(float64(grad.Data[i]), float64(want), 1e-6) {
			t.Errorf("grad[%d] = %v, expected %v", i, grad.Data[i], want)
		}
	}
}

func TestZeroGradBetweenSteps(t *testing.T) {
	a := mustNew(t, []int{2}, []float32{1, 2})
	a.SetRequiresGrad(true)

	for step := 0; step < 2; step++ {
		sq, err := Square(a)
		if err != nil {
			t.Fatalf("Square failed: %v", err)
		}
		loss, err := MeanAll(sq)
		if err != nil {
			t.Fatalf("MeanAll failed: %v", err)
		}
		if err := Backward(loss); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		grad := a.Grad()
		expected := []float32{1, 2}
		for i, want := range expected {
			if !approxEqual(float64(grad.Data[i]), float64(want), 1e-6) {
				t.Errorf("step %d: grad[%d] = %v, expected %v", step, i, grad.Data[i], want)
			}
		}
		a.ZeroGrad()
		if a.Grad() != nil {
			t.Fatal("ZeroGrad did not clear the gradient")
		}
	}
}

func TestBackwardDiffXGradient(t *testing.T) {
	// tv = mean(diffX(a)^2); check against a numeric gradient.
	a := mustNew(t, []int{1, 2, 3, 1}, []float32{1, 3, 6, 2, 2, 10})
	a.SetRequiresGrad(true)

	tvLoss := func(data []float32) float64 {
		// Two rows of three pixels, two horizontal diffs per row.
		d := []float64{
			float64(data[1] - data[0]), float64(data[2] - data[1]),
			float64(data[4] - data[3]), float64(data[5] - data[4]),
		}
		sum := 0.0
		for _, v := range d {
			sum += v * v
		}
		return sum / float64(len(d))
	}

	dx, err := DiffX(a)
	if err != nil {
		t.Fatalf("DiffX failed: %v", err)
	}
	sq, err := Square(dx)
	if err != nil {
		t.Fatalf("Square failed: %v", err)
	}
	loss, err := MeanAll(sq)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := a.Grad()
	const eps = 1e-2
	for i := range a.Data {
		plus := append([]float32(nil), a.Data...)
		minus := append([]float32(nil), a.Data...)
		plus[i] += eps
		minus[i] -= eps
		numeric := (tvLoss(plus) - tvLoss(minus)) / (2 * eps)
		if !approxEqual(float64(grad.Data[i]), numeric, 1e-3) {
			t.Errorf("grad[%d] = %v, numeric estimate %v", i, grad.Data[i], numeric)
		}
	}
}

func TestDetachBlocksGradients(t *testing.T) {
	a := mustNew(t, []int{2}, []float32{2, 3})
	a.SetRequiresGrad(true)

	sq, err := Square(a)
	if err != nil {
		t.Fatalf("Square failed: %v", err)
	}
	detached := sq.Detach()
	if detached.RequiresGrad() {
		t.Error("Detach result should not require gradients")
	}

	prod, err := Mul(detached, detached)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	loss, err := MeanAll(prod)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}
	// Nothing upstream of the detach requires gradients, so the graph
	// never formed.
	if err := Backward(loss); err == nil {
		t.Error("expected error: loss disconnected from any recorded operation")
	}
	if a.Grad() != nil {
		t.Error("gradient leaked through Detach")
	}
}

func TestBackwardTwoTermObjective(t *testing.T) {
	// loss = mean(a^2) + 2*mean(a), gradient 2a/n + 2/n.
	a := mustNew(t, []int{2}, []float32{1, -3})
	a.SetRequiresGrad(true)

	sq, err := Square(a)
	if err != nil {
		t.Fatalf("Square failed: %v", err)
	}
	m1, err := MeanAll(sq)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}
	m2, err := MeanAll(a)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}
	m2s, err := Scale(m2, 2)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}
	loss, err := Add(m1, m2s)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := a.Grad()
	expected := []float32{2, -2}
	for i, want := range expected {
		if !approxEqual(float64(grad.Data[i]), float64(want), 1e-5) {
			t.Errorf("grad[%d] = %v, expected %v", i, grad.Data[i], want)
		}
	}

	value, err := loss.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if !approxEqual(float64(value), 3, 1e-5) {
		t.Errorf("loss = %v, expected 3", value)
	}
}
