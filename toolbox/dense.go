package toolbox

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/chewxy/math32"
)

type ActivationType int

const (
	ReLU ActivationType = iota
	Linear
	Sigmoid
)

// Dense is a fully connected layer with an elementwise activation.
type Dense struct {
	name  string
	wName string
	bName string

	Activation ActivationType

	InputSize  int
	OutputSize int

	params map[string]*AF32 // W shape (OutputSize, InputSize), B shape (OutputSize)
	grads  map[string]*AF32

	// Saved by Forward for Backward.
	x    *AF32
	dadz *AF32
}

var _ Module = (*Dense)(nil)

func MakeDense(activation ActivationType, inputSize, outputSize int, name string, r *rand.Rand) *Dense {
	lay := &Dense{
		name:       name,
		wName:      name + "_w",
		bName:      name + "_b",
		Activation: activation,
		InputSize:  inputSize,
		OutputSize: outputSize,
		params:     map[string]*AF32{},
		grads:      map[string]*AF32{},
	}

	w := MakeAF32(outputSize, inputSize)
	b := MakeAF32(outputSize)
	for i := 0; i < outputSize; i++ {
		for j := 0; j < inputSize; j++ {
			w.Set2(i, j, float32(r.NormFloat64())*0.1)
		}
		b.Set1(i, 0.1)
	}

	lay.params[lay.wName] = w
	lay.params[lay.bName] = b
	lay.grads[lay.wName] = nil
	lay.grads[lay.bName] = nil

	return lay
}

func (lay *Dense) Name() string             { return lay.name }
func (lay *Dense) WName() string            { return lay.wName }
func (lay *Dense) BName() string            { return lay.bName }
func (lay *Dense) Params() map[string]*AF32 { return lay.params }
func (lay *Dense) Grads() map[string]*AF32  { return lay.grads }

// Forward applies the layer.
//
// x is the layer input.  Shape (batchSize, lay.InputSize)
// The result is the activated output.  Shape (batchSize, lay.OutputSize)
func (lay *Dense) Forward(x *AF32) (*AF32, error) {
	if len(x.Shape) != 2 || x.Shape[1] != lay.InputSize {
		return nil, fmt.Errorf("expected input of shape (batchSize, %d), but received %v", lay.InputSize, x.Shape)
	}
	batchSize := x.Shape[0]
	inputSize := lay.InputSize
	outputSize := lay.OutputSize

	w := lay.params[lay.wName]
	b := lay.params[lay.bName]
	if !slices.Equal(w.Shape, []int{outputSize, inputSize}) {
		return nil, fmt.Errorf("weight %s has shape %v", lay.wName, w.Shape)
	}
	if !slices.Equal(b.Shape, []int{outputSize}) {
		return nil, fmt.Errorf("bias %s has shape %v", lay.bName, b.Shape)
	}

	a := MakeAF32(batchSize, outputSize)
	dadz := MakeAF32(batchSize, outputSize)

	// Write the linear activations into a.
	for k := 0; k < batchSize; k++ {
		xRow := x.V[k*inputSize : k*inputSize+inputSize]
		for i := 0; i < outputSize; i++ {
			wRow := w.V[i*inputSize : i*inputSize+inputSize]
			var z float32
			for j := range wRow {
				z += wRow[j] * xRow[j]
			}
			a.Set2(k, i, z+b.At1(i))
		}
	}

	// Apply activation function to a elementwise, saving the activation
	// gradients for backprop.
	switch lay.Activation {
	case ReLU:
		reluActivationGradient(a.V, dadz.V)
		reluActivation(a.V)
	case Linear:
		linearActivationGradient(dadz.V)
	case Sigmoid:
		sigmoidActivationGradient(a.V, dadz.V)
		sigmoidActivation(a.V)
	default:
		panic("unhandled activation function")
	}

	lay.x = x
	lay.dadz = dadz
	return a, nil
}

// Backward computes the weight, bias and input gradients.
//
// djda is the gradient of the loss wrt the activated output.  Shape (batchSize, lay.OutputSize)
// The result is the gradient of the loss wrt x.  Shape (batchSize, lay.InputSize)
func (lay *Dense) Backward(djda *AF32) (*AF32, error) {
	x, dadz := lay.x, lay.dadz
	if x == nil {
		return nil, ErrNoForward
	}
	if !SameShape(djda, dadz) {
		return nil, fmt.Errorf("expected upstream gradient of shape %v, but received %v", dadz.Shape, djda.Shape)
	}

	batchSize := x.Shape[0]
	inputSize := lay.InputSize
	outputSize := lay.OutputSize
	w := lay.params[lay.wName]

	// delta is the gradient of the loss wrt the linear output z.
	delta := AF32ZerosLike(djda)
	for i := range delta.V {
		delta.V[i] = djda.V[i] * dadz.V[i]
	}

	djdw := MakeAF32(outputSize, inputSize)
	djdb := MakeAF32(outputSize)
	djdx := MakeAF32(batchSize, inputSize)

	for k := 0; k < batchSize; k++ {
		for i := 0; i < outputSize; i++ {
			d := delta.At2(k, i)
			djdb.V[i] += d
			for j := 0; j < inputSize; j++ {
				djdw.V[i*inputSize+j] += d * x.At2(k, j)
				djdx.V[k*inputSize+j] += d * w.At2(i, j)
			}
		}
	}

	lay.grads[lay.wName] = djdw
	lay.grads[lay.bName] = djdb
	lay.x, lay.dadz = nil, nil

	return djdx, nil
}

// ReLULayer applies max(0, x) elementwise to a tensor of any shape.
type ReLULayer struct {
	name string
	mask *AF32

	params map[string]*AF32
	grads  map[string]*AF32
}

var _ Module = (*ReLULayer)(nil)

func MakeReLULayer(name string) *ReLULayer {
	return &ReLULayer{
		name:   name,
		params: map[string]*AF32{},
		grads:  map[string]*AF32{},
	}
}

func (lay *ReLULayer) Name() string             { return lay.name }
func (lay *ReLULayer) Params() map[string]*AF32 { return lay.params }
func (lay *ReLULayer) Grads() map[string]*AF32  { return lay.grads }

func (lay *ReLULayer) Forward(x *AF32) (*AF32, error) {
	out := AF32Clone(x)
	mask := AF32ZerosLike(x)
	reluActivationGradient(out.V, mask.V)
	reluActivation(out.V)
	lay.mask = mask
	return out, nil
}

func (lay *ReLULayer) Backward(dout *AF32) (*AF32, error) {
	if lay.mask == nil {
		return nil, ErrNoForward
	}
	if !SameShape(dout, lay.mask) {
		return nil, fmt.Errorf("expected upstream gradient of shape %v, but received %v", lay.mask.Shape, dout.Shape)
	}
	dx := AF32ZerosLike(dout)
	for i := range dx.V {
		dx.V[i] = dout.V[i] * lay.mask.V[i]
	}
	lay.mask = nil
	return dx, nil
}

// FlattenLayer reshapes (batchSize, ...) into (batchSize, rest).  No data is
// copied.
type FlattenLayer struct {
	name    string
	inShape []int

	params map[string]*AF32
	grads  map[string]*AF32
}

var _ Module = (*FlattenLayer)(nil)

func MakeFlattenLayer(name string) *FlattenLayer {
	return &FlattenLayer{
		name:   name,
		params: map[string]*AF32{},
		grads:  map[string]*AF32{},
	}
}

func (lay *FlattenLayer) Name() string             { return lay.name }
func (lay *FlattenLayer) Params() map[string]*AF32 { return lay.params }
func (lay *FlattenLayer) Grads() map[string]*AF32  { return lay.grads }

func (lay *FlattenLayer) Forward(x *AF32) (*AF32, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("expected a batch, but received shape %v", x.Shape)
	}
	lay.inShape = slices.Clone(x.Shape)
	return AF32Reshape(x, x.Shape[0], len(x.V)/x.Shape[0]), nil
}

func (lay *FlattenLayer) Backward(dout *AF32) (*AF32, error) {
	if lay.inShape == nil {
		return nil, ErrNoForward
	}
	size := 1
	for _, s := range lay.inShape {
		size *= s
	}
	if len(dout.V) != size {
		return nil, fmt.Errorf("expected upstream gradient with %d elements, but received shape %v", size, dout.Shape)
	}
	dx := AF32Reshape(dout, lay.inShape...)
	lay.inShape = nil
	return dx, nil
}

// z (input/output)
func reluActivation(z []float32) {
	for i := range z {
		if z[i] < 0 {
			z[i] = 0
		}
	}
}

// reluActivationGradient computes the derivative of the ReLU function.
//
// z (input) is the pre-activation linear output of a layer.
//
// dadz (output) is the derivative of ReLU(z)
func reluActivationGradient(z, dadz []float32) {
	if len(z) != len(dadz) {
		panic("len(z) != len(dadz)")
	}

	for i := 0; i < len(z); i++ {
		if z[i] <= 0 {
			dadz[i] = 0
		} else {
			dadz[i] = 1
		}
	}
}

func linearActivationGradient(dadz []float32) {
	for i := 0; i < len(dadz); i++ {
		dadz[i] = 1
	}
}

func sigmoidActivation(z []float32) {
	for i := 0; i < len(z); i++ {
		z[i] = 1 / (1 + math32.Exp(-z[i]))
	}
}

func sigmoidActivationGradient(z, dadz []float32) {
	for i := 0; i < len(z); i++ {
		tmp := math32.Exp(-z[i])
		dadz[i] = tmp / (1 + tmp) / (1 + tmp)
	}
}
