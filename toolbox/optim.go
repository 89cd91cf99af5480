package toolbox

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
)

// Optimizer updates every parameter of a model from its gradient.
type Optimizer interface {
	Step() error
}

// paramGrad looks up the parameter that matches the named gradient.
func paramGrad(layer Module, n string, dv *AF32) (*AF32, error) {
	if dv == nil {
		return nil, fmt.Errorf("gradient %s of layer %s not computed yet", n, layer.Name())
	}
	p, ok := layer.Params()[n]
	if !ok {
		return nil, fmt.Errorf("layer %s has a gradient but no parameter named %s", layer.Name(), n)
	}
	if !SameShape(p, dv) {
		return nil, fmt.Errorf("gradient %s has shape %v, parameter has %v", n, dv.Shape, p.Shape)
	}
	return p, nil
}

// SGD is plain stochastic gradient descent with optional weight decay:
//
//	p = p - LR*g - WeightDecay*p
type SGD struct {
	Net         LayeredModel
	LR          float32
	WeightDecay float32
}

var _ Optimizer = (*SGD)(nil)

func MakeSGD(net LayeredModel, lr, weightDecay float32) *SGD {
	if lr == 0 {
		lr = 1e-4
	}
	return &SGD{
		Net:         net,
		LR:          lr,
		WeightDecay: weightDecay,
	}
}

func (o *SGD) Step() error {
	for _, layer := range o.Net.Layers() {
		if err := o.update(layer); err != nil {
			return err
		}
	}
	return nil
}

func (o *SGD) update(layer Module) error {
	for n, dv := range layer.Grads() {
		p, err := paramGrad(layer, n, dv)
		if err != nil {
			return err
		}
		for i := range p.V {
			p.V[i] = p.V[i] - o.LR*dv.V[i] - o.WeightDecay*p.V[i]
		}
	}
	return nil
}

// Adam keeps bias-corrected first and second moment estimates of every
// gradient, keyed by parameter name.
type Adam struct {
	Net LayeredModel

	LR          float32
	Beta1       float32
	Beta2       float32
	Epsilon     float32
	WeightDecay float32

	// T counts completed steps.
	T int

	mt map[string]*AF32
	vt map[string]*AF32
}

var _ Optimizer = (*Adam)(nil)

// MakeAdam returns an Adam optimizer with beta1=0.9, beta2=0.999, eps=1e-8 and
// no weight decay.  A zero lr selects 1e-3.
func MakeAdam(net LayeredModel, lr float32) *Adam {
	if lr == 0 {
		lr = 1e-3
	}
	return &Adam{
		Net:     net,
		LR:      lr,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		mt:      map[string]*AF32{},
		vt:      map[string]*AF32{},
	}
}

// Step advances the time step once and updates every layer.
func (o *Adam) Step() error {
	o.T++
	for _, layer := range o.Net.Layers() {
		if err := o.update(layer); err != nil {
			return err
		}
	}
	return nil
}

func (o *Adam) moments(n string, like *AF32) (mt, vt *AF32) {
	mt, ok := o.mt[n]
	if !ok || !SameShape(mt, like) {
		mt = AF32ZerosLike(like)
		o.mt[n] = mt
	}
	vt, ok = o.vt[n]
	if !ok || !SameShape(vt, like) {
		vt = AF32ZerosLike(like)
		o.vt[n] = vt
	}
	return mt, vt
}

func (o *Adam) update(layer Module) error {
	beta1, beta2 := o.Beta1, o.Beta2
	mCorrection := 1 - math32.Pow(beta1, float32(o.T))
	vCorrection := 1 - math32.Pow(beta2, float32(o.T))

	for n, dv := range layer.Grads() {
		p, err := paramGrad(layer, n, dv)
		if err != nil {
			return err
		}
		mt, vt := o.moments(n, dv)

		for i := range p.V {
			g := dv.V[i]
			mt.V[i] = beta1*mt.V[i] + (1-beta1)*g
			vt.V[i] = beta2*vt.V[i] + (1-beta2)*g*g

			if o.WeightDecay > 0 {
				p.V[i] -= o.WeightDecay * p.V[i]
			}

			mHat := mt.V[i] / mCorrection
			vHat := vt.V[i] / vCorrection
			p.V[i] -= o.LR * mHat / (math32.Sqrt(vHat) + o.Epsilon)
		}
	}
	return nil
}

// Moments returns the first and second moment estimates for a parameter, or
// nil if it has not been updated yet.
func (o *Adam) Moments(name string) (mt, vt *AF32) {
	return o.mt[name], o.vt[name]
}

func (o *Adam) DumpTensors(tensors map[string]*AF32) {
	// Scalars are saved as {1} tensors.
	tensors["adam.t"] = MakeScalarAF32(float32(o.T))
	tensors["adam.lr"] = MakeScalarAF32(o.LR)
	tensors["adam.beta1"] = MakeScalarAF32(o.Beta1)
	tensors["adam.beta2"] = MakeScalarAF32(o.Beta2)
	tensors["adam.epsilon"] = MakeScalarAF32(o.Epsilon)
	tensors["adam.weightDecay"] = MakeScalarAF32(o.WeightDecay)

	for n, v := range o.mt {
		tensors["adam.mt."+n] = v
	}
	for n, v := range o.vt {
		tensors["adam.vt."+n] = v
	}
}

func loadFloat32FromTensor(tensors map[string]*AF32, key string) (float32, error) {
	tensor, ok := tensors[key]
	if !ok {
		return 0, fmt.Errorf("missing tensor %s", key)
	}
	if len(tensor.V) != 1 {
		return 0, fmt.Errorf("tensor %s is not a scalar: shape %v", key, tensor.Shape)
	}
	return tensor.At1(0), nil
}

func (o *Adam) LoadTensors(tensors map[string]*AF32) error {
	t, err := loadFloat32FromTensor(tensors, "adam.t")
	if err != nil {
		return err
	}
	o.T = int(t)

	for key, dst := range map[string]*float32{
		"adam.lr":          &o.LR,
		"adam.beta1":       &o.Beta1,
		"adam.beta2":       &o.Beta2,
		"adam.epsilon":     &o.Epsilon,
		"adam.weightDecay": &o.WeightDecay,
	} {
		if *dst, err = loadFloat32FromTensor(tensors, key); err != nil {
			return err
		}
	}

	o.mt = map[string]*AF32{}
	o.vt = map[string]*AF32{}
	for key, v := range tensors {
		if n, ok := strings.CutPrefix(key, "adam.mt."); ok {
			o.mt[n] = v
		}
		if n, ok := strings.CutPrefix(key, "adam.vt."); ok {
			o.vt[n] = v
		}
	}

	return nil
}
