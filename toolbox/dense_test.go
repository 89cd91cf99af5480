package toolbox

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDenseGradientsAgreeWithFiniteDifferences(t *testing.T) {
	for _, tc := range []struct {
		desc       string
		activation ActivationType
	}{
		{desc: "linear", activation: Linear},
		{desc: "sigmoid", activation: Sigmoid},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			r := rand.New(rand.NewSource(2024))
			lay := MakeDense(tc.activation, 6, 4, "fc", r)

			x := MakeAF32(3, 6)
			for i := range x.V {
				x.V[i] = float32(r.NormFloat64())
			}

			results, err := CheckGradients(lay, x, r, 1e-2)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			for _, res := range results {
				if res.RelativeError > 1e-3 {
					t.Errorf("%s: relative error %v too large (max abs error %v)", res.Name, res.RelativeError, res.MaxAbsError)
				}
			}
		})
	}
}

func TestDenseForward(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	lay := MakeDense(ReLU, 2, 2, "fc", r)
	fill(lay.Params()["fc_w"], 1, 2, -1, -1)
	fill(lay.Params()["fc_b"], 0.5, 0)

	out, err := lay.Forward(fill(MakeAF32(1, 2), 1, 1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(out, fill(MakeAF32(1, 2), 3.5, 0)); diff != "" {
		t.Errorf("Wrong output; diff (-got +want)\n%s", diff)
	}

	if _, err := lay.Forward(MakeAF32(1, 3)); err == nil {
		t.Errorf("Expected error for wrong input size")
	}
}

func TestReLULayer(t *testing.T) {
	lay := MakeReLULayer("relu")
	if _, err := lay.Backward(MakeAF32(1)); !errors.Is(err, ErrNoForward) {
		t.Fatalf("Got error %v, want ErrNoForward", err)
	}

	out, err := lay.Forward(fill(MakeAF32(1, 1, 2, 2), -1, 2, 0, 3))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(out, fill(MakeAF32(1, 1, 2, 2), 0, 2, 0, 3)); diff != "" {
		t.Errorf("Wrong output; diff (-got +want)\n%s", diff)
	}

	dx, err := lay.Backward(fill(MakeAF32(1, 1, 2, 2), 5, 6, 7, 8))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(dx, fill(MakeAF32(1, 1, 2, 2), 0, 6, 0, 8)); diff != "" {
		t.Errorf("Wrong input gradient; diff (-got +want)\n%s", diff)
	}
}

func TestFlattenLayer(t *testing.T) {
	lay := MakeFlattenLayer("flatten")

	x := fill(MakeAF32(2, 1, 2, 2), 1, 2, 3, 4, 5, 6, 7, 8)
	out, err := lay.Forward(x)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(out.Shape, []int{2, 4}); diff != "" {
		t.Errorf("Wrong output shape; diff (-got +want)\n%s", diff)
	}

	dx, err := lay.Backward(fill(MakeAF32(2, 4), 8, 7, 6, 5, 4, 3, 2, 1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(dx, fill(MakeAF32(2, 1, 2, 2), 8, 7, 6, 5, 4, 3, 2, 1)); diff != "" {
		t.Errorf("Wrong input gradient; diff (-got +want)\n%s", diff)
	}
}
