package toolbox

import (
	"fmt"
	"slices"
)

// AF32 is a dense row-major float32 array.  Image batches use the NHWC layout
// (batchSize, height, width, channels).
type AF32 struct {
	V     []float32
	Shape []int
}

func MakeAF32(shape ...int) *AF32 {
	for _, s := range shape {
		if s <= 0 {
			panic(fmt.Sprintf("invalid shape: %v", shape))
		}
	}
	size := 1
	for _, s := range shape {
		size *= s
	}

	return &AF32{
		V:     make([]float32, size),
		Shape: slices.Clone(shape),
	}
}

func MakeScalarAF32(scalar float32) *AF32 {
	return &AF32{
		V:     []float32{scalar},
		Shape: []int{1},
	}
}

// AF32ZerosLike allocates a zeroed tensor with the same shape as in.
func AF32ZerosLike(in *AF32) *AF32 {
	return &AF32{
		V:     make([]float32, len(in.V)),
		Shape: slices.Clone(in.Shape),
	}
}

// AF32Clone returns a deep copy of in.
func AF32Clone(in *AF32) *AF32 {
	return &AF32{
		V:     slices.Clone(in.V),
		Shape: slices.Clone(in.Shape),
	}
}

// AF32Reshape reshapes the input tensor.  The overall number of elements must
// be the same.  The returned tensor shares storage with the input tensor (no
// data is copied).
func AF32Reshape(a *AF32, shape ...int) *AF32 {
	newSize := 1
	for _, s := range shape {
		if s <= 0 {
			panic(fmt.Sprintf("invalid shape: %v", shape))
		}
		newSize *= s
	}

	if newSize != len(a.V) {
		panic("invalid reshape")
	}

	return &AF32{
		V:     a.V,
		Shape: slices.Clone(shape),
	}
}

func SameShape(a, b *AF32) bool {
	return slices.Equal(a.Shape, b.Shape)
}

func (a *AF32) At1(idx int) float32 {
	return a.V[idx]
}

func (a *AF32) At2(idx0, idx1 int) float32 {
	if len(a.Shape) != 2 {
		panic("At2() invalid for len(shape) != 2")
	}
	return a.V[idx0*a.Shape[1]+idx1]
}

func (a *AF32) At4(idx0, idx1, idx2, idx3 int) float32 {
	if len(a.Shape) != 4 {
		panic("At4() invalid for len(shape) != 4")
	}
	return a.V[((idx0*a.Shape[1]+idx1)*a.Shape[2]+idx2)*a.Shape[3]+idx3]
}

func (a *AF32) Set1(idx int, v float32) {
	a.V[idx] = v
}

func (a *AF32) Set2(idx0, idx1 int, v float32) {
	if len(a.Shape) != 2 {
		panic("Set2() invalid for len(shape) != 2")
	}
	a.V[idx0*a.Shape[1]+idx1] = v
}

func (a *AF32) Set4(idx0, idx1, idx2, idx3 int, v float32) {
	if len(a.Shape) != 4 {
		panic("Set4() invalid for len(shape) != 4")
	}
	a.V[((idx0*a.Shape[1]+idx1)*a.Shape[2]+idx2)*a.Shape[3]+idx3] = v
}

// Add4 accumulates v into the element at the given NHWC index.
func (a *AF32) Add4(idx0, idx1, idx2, idx3 int, v float32) {
	if len(a.Shape) != 4 {
		panic("Add4() invalid for len(shape) != 4")
	}
	a.V[((idx0*a.Shape[1]+idx1)*a.Shape[2]+idx2)*a.Shape[3]+idx3] += v
}
