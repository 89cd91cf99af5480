package toolbox

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDenseBackpropDjdwSumsOverBatch(t *testing.T) {
	batchSize := 100
	inputSize := 33
	outputSize := 44

	r := rand.New(rand.NewSource(12345))
	lay := MakeDense(Linear, inputSize, outputSize, "fc", r)

	x := MakeAF32(batchSize, inputSize)
	for i := range x.V {
		x.V[i] = 1.0
	}
	if _, err := lay.Forward(x); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	djda := MakeAF32(batchSize, outputSize)
	for i := range djda.V {
		djda.V[i] = 1.0
	}
	if _, err := lay.Backward(djda); err != nil {
		t.Fatalf("Backward: %v", err)
	}

	wantDjdw := make([]float32, outputSize*inputSize)
	for i := range wantDjdw {
		wantDjdw[i] = 100.0
	}
	if diff := cmp.Diff(lay.Grads()["fc_w"].V, wantDjdw); diff != "" {
		t.Fatalf("Wrong djdw; diff (-got +want)\n%s", diff)
	}

	wantDjdb := make([]float32, outputSize)
	for i := range wantDjdb {
		wantDjdb[i] = 100.0
	}
	if diff := cmp.Diff(lay.Grads()["fc_b"].V, wantDjdb); diff != "" {
		t.Fatalf("Wrong djdb; diff (-got +want)\n%s", diff)
	}
}
