package toolbox

import (
	"fmt"
	"log"
	"slices"
)

// Sequential serializes layers into one model and keeps a name-indexed view
// of every layer's parameters and gradients.
//
// The view holds the same tensors as the layers, so in-place updates are seen
// by both.  Assign and AssignGrads replace a layer's tensor; the view is stale
// until GatherParams or GatherGrads is called.
type Sequential struct {
	params           map[string]*AF32
	grads            map[string]*AF32
	layers           []Module
	paramNameToLayer map[string]int
	layerNames       map[string]bool
}

var _ LayeredModel = (*Sequential)(nil)

func NewSequential(layers ...Module) (*Sequential, error) {
	s := &Sequential{
		params:           map[string]*AF32{},
		grads:            map[string]*AF32{},
		paramNameToLayer: map[string]int{},
		layerNames:       map[string]bool{},
	}

	for l, layer := range layers {
		for n, v := range layer.Params() {
			s.params[n] = v
			s.paramNameToLayer[n] = l
		}
		for n, v := range layer.Grads() {
			s.grads[n] = v
		}
		if s.layerNames[layer.Name()] {
			return nil, fmt.Errorf("existing name %s", layer.Name())
		}
		s.layerNames[layer.Name()] = true
		s.layers = append(s.layers, layer)
	}

	return s, nil
}

func (s *Sequential) Layers() []Module {
	return s.layers
}

func (s *Sequential) owner(name string) (Module, error) {
	l, ok := s.paramNameToLayer[name]
	if !ok {
		return nil, fmt.Errorf("no parameter named %s", name)
	}
	return s.layers[l], nil
}

// Assign loads val into the layer that owns the named parameter.
func (s *Sequential) Assign(name string, val *AF32) error {
	layer, err := s.owner(name)
	if err != nil {
		return err
	}
	layer.Params()[name] = val
	return nil
}

// AssignGrads loads val as the gradient of the named parameter.
func (s *Sequential) AssignGrads(name string, val *AF32) error {
	layer, err := s.owner(name)
	if err != nil {
		return err
	}
	layer.Grads()[name] = val
	return nil
}

func (s *Sequential) GetParams(name string) (*AF32, error) {
	v, ok := s.params[name]
	if !ok {
		return nil, fmt.Errorf("no parameter named %s", name)
	}
	return v, nil
}

func (s *Sequential) GetGrads(name string) (*AF32, error) {
	v, ok := s.grads[name]
	if !ok {
		return nil, fmt.Errorf("no gradient named %s", name)
	}
	return v, nil
}

// GatherParams collects the parameters of every layer.
func (s *Sequential) GatherParams() {
	for _, layer := range s.layers {
		for n, v := range layer.Params() {
			s.params[n] = v
		}
	}
}

// GatherGrads collects the gradients of every layer.
func (s *Sequential) GatherGrads() {
	for _, layer := range s.layers {
		for n, v := range layer.Grads() {
			s.grads[n] = v
		}
	}
}

// ApplyL1Regularization adds lam*sign(param) to every gathered gradient.
func (s *Sequential) ApplyL1Regularization(lam float32) error {
	return s.regularize(func(p float32) float32 {
		switch {
		case p > 0:
			return lam
		case p < 0:
			return -lam
		default:
			return 0
		}
	})
}

// ApplyL2Regularization adds lam*param to every gathered gradient.
func (s *Sequential) ApplyL2Regularization(lam float32) error {
	return s.regularize(func(p float32) float32 {
		return lam * p
	})
}

func (s *Sequential) regularize(term func(p float32) float32) error {
	for _, layer := range s.layers {
		for n := range layer.Grads() {
			param, ok := s.params[n]
			if !ok {
				return fmt.Errorf("no parameter named %s", n)
			}
			grad := s.grads[n]
			if grad == nil {
				return fmt.Errorf("gradient %s not computed yet", n)
			}
			if !SameShape(param, grad) {
				return fmt.Errorf("gradient %s has shape %v, parameter has %v", n, grad.Shape, param.Shape)
			}
			for i := range grad.V {
				grad.V[i] += term(param.V[i])
			}
		}
	}
	return nil
}

// Load copies every parameter present in pretrained into its layer.  Names
// missing from pretrained are left alone.
func (s *Sequential) Load(pretrained map[string]*AF32) {
	for _, layer := range s.layers {
		params := layer.Params()
		names := make([]string, 0, len(params))
		for n := range params {
			names = append(names, n)
		}
		slices.Sort(names)

		for _, n := range names {
			v, ok := pretrained[n]
			if !ok {
				continue
			}
			params[n] = AF32Clone(v)
			log.Printf("Loading Params: %s Shape: %v", n, params[n].Shape)
		}
	}
	s.GatherParams()
}

// Forward applies every layer in order.
func (s *Sequential) Forward(x *AF32) (*AF32, error) {
	var err error
	for _, layer := range s.layers {
		x, err = layer.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("while applying %s: %w", layer.Name(), err)
		}
	}
	return x, nil
}

// Backward propagates dout through every layer in reverse order and gathers
// the resulting gradients.
func (s *Sequential) Backward(dout *AF32) (*AF32, error) {
	var err error
	for l := len(s.layers) - 1; l >= 0; l-- {
		dout, err = s.layers[l].Backward(dout)
		if err != nil {
			return nil, fmt.Errorf("while backpropagating %s: %w", s.layers[l].Name(), err)
		}
	}
	s.GatherGrads()
	return dout, nil
}

func (s *Sequential) DumpTensors(tensors map[string]*AF32) {
	for _, layer := range s.layers {
		for n, v := range layer.Params() {
			tensors["net."+n] = v
		}
	}
}

// LoadTensors restores every parameter from a checkpoint.  Unlike Load, every
// parameter must be present with the same shape.
func (s *Sequential) LoadTensors(tensors map[string]*AF32) error {
	for _, layer := range s.layers {
		params := layer.Params()
		for n, v := range params {
			key := "net." + n
			t, ok := tensors[key]
			if !ok {
				return fmt.Errorf("no entry for %s", key)
			}
			if !SameShape(t, v) {
				return fmt.Errorf("wrong shape for %s; got %v want %v", key, t.Shape, v.Shape)
			}
			params[n] = t
		}
	}
	s.GatherParams()
	return nil
}
