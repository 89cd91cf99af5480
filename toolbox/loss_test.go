package toolbox

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSparseCategoricalCrossEntropy(t *testing.T) {
	a := fill(MakeAF32(2, 3), 0, 0, 0, 10, 0, 0)
	y := fill(MakeAF32(2), 1, 0)

	// Uniform logits give ln(3) for the first sample; the second is nearly
	// certain and correct.
	want := (math32.Log(3) + 0) / 2
	if got := Loss(SparseCategoricalCrossEntropyFromLogits, y, a, 2); math32.Abs(got-want) > 1e-3 {
		t.Errorf("Wrong loss; got %v want %v", got, want)
	}

	grad := LossGradient(SparseCategoricalCrossEntropyFromLogits, y, a)
	third := float32(1) / 3
	wantGrad := []float32{third / 2, (third - 1) / 2, third / 2, 0, 0, 0}
	if diff := cmp.Diff(grad.V, wantGrad, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Errorf("Wrong gradient; diff (-got +want)\n%s", diff)
	}
}

func TestMeanSquaredError(t *testing.T) {
	a := fill(MakeAF32(2, 1), 3, 1)
	y := fill(MakeAF32(2, 1), 1, 1)

	if got := Loss(MeanSquaredError, y, a, 2); got != 1 {
		t.Errorf("Wrong loss; got %v want 1", got)
	}
	grad := LossGradient(MeanSquaredError, y, a)
	if diff := cmp.Diff(grad.V, []float32{1, 0}); diff != "" {
		t.Errorf("Wrong gradient; diff (-got +want)\n%s", diff)
	}
}

func TestArgmax(t *testing.T) {
	a := fill(MakeAF32(2, 3), 1, 5, 2, -1, -3, -2)
	if diff := cmp.Diff(Argmax(a), []int{1, 0}); diff != "" {
		t.Errorf("Wrong argmax; diff (-got +want)\n%s", diff)
	}
}
