package tensor

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestConv2DIdentityKernel(t *testing.T) {
	input := mustNew(t, []int{1, 2, 2, 1}, []float32{1, 2, 3, 4})

	// 1x1 identity kernel passes the input through.
	weight := mustNew(t, []int{1, 1, 1, 1}, []float32{1})

	result, err := Conv2D(input, weight, nil)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if !reflect.DeepEqual(result.Data, input.Data) {
		t.Errorf("Conv2D = %v, expected %v", result.Data, input.Data)
	}
}

func TestConv2DSamePadding(t *testing.T) {
	// 3x3 all-ones kernel over a 3x3 all-ones image sums the valid
	// neighborhood at each position.
	input := mustNew(t, []int{1, 3, 3, 1}, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1})
	weight, err := Full([]int{3, 3, 1, 1}, 1)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}

	result, err := Conv2D(input, weight, nil)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}

	if !reflect.DeepEqual(result.Shape, []int{1, 3, 3, 1}) {
		t.Fatalf("Conv2D shape = %v, expected [1 3 3 1]", result.Shape)
	}
	expected := []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}
	if !reflect.DeepEqual(result.Data, expected) {
		t.Errorf("Conv2D = %v, expected %v", result.Data, expected)
	}
}

func TestConv2DBias(t *testing.T) {
	input := mustNew(t, []int{1, 1, 1, 1}, []float32{2})
	weight := mustNew(t, []int{1, 1, 1, 2}, []float32{3, -1})
	bias := mustNew(t, []int{2}, []float32{10, 20})

	result, err := Conv2D(input, weight, bias)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}

	expected := []float32{16, 18}
	if !reflect.DeepEqual(result.Data, expected) {
		t.Errorf("Conv2D = %v, expected %v", result.Data, expected)
	}
}

func TestConv2DValidation(t *testing.T) {
	input := mustNew(t, []int{1, 2, 2, 1}, []float32{1, 2, 3, 4})

	t.Run("even kernel", func(t *testing.T) {
		weight := mustNew(t, []int{2, 2, 1, 1}, []float32{1, 1, 1, 1})
		if _, err := Conv2D(input, weight, nil); err == nil {
			t.Error("expected error for even kernel size")
		}
	})

	t.Run("channel mismatch", func(t *testing.T) {
		weight := mustNew(t, []int{1, 1, 3, 1}, []float32{1, 1, 1})
		if _, err := Conv2D(input, weight, nil); err == nil {
			t.Error("expected error for channel mismatch")
		}
	})

	t.Run("bad bias shape", func(t *testing.T) {
		weight := mustNew(t, []int{1, 1, 1, 2}, []float32{1, 1})
		bias := mustNew(t, []int{3}, []float32{1, 1, 1})
		if _, err := Conv2D(input, weight, bias); err == nil {
			t.Error("expected error for bias shape mismatch")
		}
	})
}

// conv2DForward recomputes the convolution without the graph, for numeric
// gradient estimates.
func conv2DForward(t *testing.T, inputData, weightData, biasData []float32,
	inputShape, weightShape []int) float64 {
	t.Helper()
	input := mustNew(t, inputShape, append([]float32(nil), inputData...))
	weight := mustNew(t, weightShape, append([]float32(nil), weightData...))
	var bias *Tensor
	if biasData != nil {
		bias = mustNew(t, []int{weightShape[3]}, append([]float32(nil), biasData...))
	}
	out, err := Conv2D(input, weight, bias)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	loss, err := MeanAll(out)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}
	value, err := loss.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	return float64(value)
}

func TestConv2DGradientsNumeric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	inputShape := []int{1, 4, 4, 2}
	weightShape := []int{3, 3, 2, 2}

	inputData := make([]float32, 32)
	for i := range inputData {
		inputData[i] = rng.Float32()*2 - 1
	}
	weightData := make([]float32, 36)
	for i := range weightData {
		weightData[i] = rng.Float32()*2 - 1
	}
	biasData := []float32{0.1, -0.2}

	input := mustNew(t, inputShape, append([]float32(nil), inputData...))
	input.SetRequiresGrad(true)
	weight := mustNew(t, weightShape, append([]float32(nil), weightData...))
	weight.SetRequiresGrad(true)
	bias := mustNew(t, []int{2}, append([]float32(nil), biasData...))
	bias.SetRequiresGrad(true)

	out, err := Conv2D(input, weight, bias)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	loss, err := MeanAll(out)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	const eps = 1e-2
	check := func(name string, grad *Tensor, data []float32, perturb func(i int, d []float32) float64) {
		if grad == nil {
			t.Fatalf("%s has no gradient", name)
		}
		for i := range data {
			plus := append([]float32(nil), data...)
			minus := append([]float32(nil), data...)
			plus[i] += eps
			minus[i] -= eps
			numeric := (perturb(i, plus) - perturb(i, minus)) / (2 * eps)
			if !approxEqual(float64(grad.Data[i]), numeric, 1e-2) {
				t.Errorf("%s grad[%d] = %v, numeric estimate %v", name, i, grad.Data[i], numeric)
			}
		}
	}

	check("input", input.Grad(), inputData, func(i int, d []float32) float64 {
		return conv2DForward(t, d, weightData, biasData, inputShape, weightShape)
	})
	check("weight", weight.Grad(), weightData, func(i int, d []float32) float64 {
		return conv2DForward(t, inputData, d, biasData, inputShape, weightShape)
	})
	check("bias", bias.Grad(), biasData, func(i int, d []float32) float64 {
		return conv2DForward(t, inputData, weightData, d, inputShape, weightShape)
	})
}

func TestAvgPool2D(t *testing.T) {
	input := mustNew(t, []int{1, 2, 2, 1}, []float32{1, 3, 5, 7})

	result, err := AvgPool2D(input, 2)
	if err != nil {
		t.Fatalf("AvgPool2D failed: %v", err)
	}

	if !reflect.DeepEqual(result.Shape, []int{1, 1, 1, 1}) {
		t.Fatalf("AvgPool2D shape = %v, expected [1 1 1 1]", result.Shape)
	}
	if result.Data[0] != 4 {
		t.Errorf("AvgPool2D = %v, expected 4", result.Data[0])
	}
}

func TestAvgPool2DDropsRemainder(t *testing.T) {
	input := mustNew(t, []int{1, 3, 3, 1}, []float32{
		1, 2, 9,
		3, 4, 9,
		9, 9, 9,
	})

	result, err := AvgPool2D(input, 2)
	if err != nil {
		t.Fatalf("AvgPool2D failed: %v", err)
	}

	if !reflect.DeepEqual(result.Shape, []int{1, 1, 1, 1}) {
		t.Fatalf("AvgPool2D shape = %v, expected [1 1 1 1]", result.Shape)
	}
	if result.Data[0] != 2.5 {
		t.Errorf("AvgPool2D = %v, expected 2.5", result.Data[0])
	}
}

func TestAvgPool2DBackward(t *testing.T) {
	input := mustNew(t, []int{1, 2, 2, 1}, []float32{1, 3, 5, 7})
	input.SetRequiresGrad(true)

	pooled, err := AvgPool2D(input, 2)
	if err != nil {
		t.Fatalf("AvgPool2D failed: %v", err)
	}
	loss, err := MeanAll(pooled)
	if err != nil {
		t.Fatalf("MeanAll failed: %v", err)
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := input.Grad()
	for i := range grad.Data {
		if !approxEqual(float64(grad.Data[i]), 0.25, 1e-6) {
			t.Errorf("grad[%d] = %v, expected 0.25", i, grad.Data[i])
		}
	}
}
