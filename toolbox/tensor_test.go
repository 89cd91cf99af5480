package toolbox

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAF32Layout(t *testing.T) {
	a := MakeAF32(2, 3, 4, 5)
	a.Set4(1, 2, 3, 4, 9)
	if a.V[len(a.V)-1] != 9 {
		t.Errorf("Last NHWC index is not the last element")
	}
	a.Set4(0, 1, 0, 2, 3)
	if got := a.V[1*4*5+2]; got != 3 {
		t.Errorf("Wrong element at flat index; got %v want 3", got)
	}
	a.Add4(0, 1, 0, 2, 1)
	if got := a.At4(0, 1, 0, 2); got != 4 {
		t.Errorf("Add4 did not accumulate; got %v want 4", got)
	}
}

func TestAF32ReshapeSharesStorage(t *testing.T) {
	a := MakeAF32(2, 2)
	b := AF32Reshape(a, 4)
	b.Set1(3, 5)
	if a.At2(1, 1) != 5 {
		t.Errorf("Reshape copied the data")
	}
}

func TestAF32CloneIsDeep(t *testing.T) {
	a := fill(MakeAF32(2), 1, 2)
	b := AF32Clone(a)
	b.V[0] = 10
	b.Shape[0] = 7
	if diff := cmp.Diff(a, fill(MakeAF32(2), 1, 2)); diff != "" {
		t.Errorf("Clone shares state with original; diff (-got +want)\n%s", diff)
	}

	z := AF32ZerosLike(a)
	if diff := cmp.Diff(z, MakeAF32(2)); diff != "" {
		t.Errorf("ZerosLike is not zero; diff (-got +want)\n%s", diff)
	}
}

func TestMakeAF32PanicsOnBadShape(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic")
		}
	}()
	MakeAF32(2, 0)
}
