package toolbox

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

type GradCheckResult struct {
	// Name is "input" for dJ/dx, otherwise the parameter name.
	Name string

	MaxAbsError   float64
	RelativeError float64
}

// CheckGradients compares the analytic gradients of m against central finite
// differences of the scalar J = sum(Forward(x) * proj), where proj is a fixed
// standard-normal projection drawn from r.  step is the finite-difference step;
// float32 arithmetic wants something around 1e-2.
func CheckGradients(m Module, x *AF32, r *rand.Rand, step float64) ([]GradCheckResult, error) {
	out, err := m.Forward(AF32Clone(x))
	if err != nil {
		return nil, fmt.Errorf("while running forward pass: %w", err)
	}
	proj := AF32ZerosLike(out)
	for i := range proj.V {
		proj.V[i] = float32(r.NormFloat64())
	}

	dx, err := m.Backward(proj)
	if err != nil {
		return nil, fmt.Errorf("while running backward pass: %w", err)
	}

	objective := func(in *AF32) float64 {
		out, err := m.Forward(in)
		if err != nil {
			panic(fmt.Sprintf("forward pass failed during gradient check: %v", err))
		}
		var j float64
		for i := range out.V {
			j += float64(out.V[i]) * float64(proj.V[i])
		}
		return j
	}
	settings := &fd.Settings{Formula: fd.Central, Step: step}

	results := []GradCheckResult{}

	// Input gradient: perturb a private copy of x.
	xp := AF32Clone(x)
	numeric := fd.Gradient(nil, func(v []float64) float64 {
		for i := range v {
			xp.V[i] = float32(v[i])
		}
		return objective(xp)
	}, toFloat64(x.V), settings)
	results = append(results, compareGradients("input", toFloat64(dx.V), numeric))

	names := []string{}
	for n := range m.Grads() {
		names = append(names, n)
	}
	slices.Sort(names)

	for _, n := range names {
		grad := m.Grads()[n]
		if grad == nil {
			return nil, fmt.Errorf("gradient %s not computed by backward pass", n)
		}
		p := m.Params()[n]
		orig := slices.Clone(p.V)
		numeric := fd.Gradient(nil, func(v []float64) float64 {
			for i := range v {
				p.V[i] = float32(v[i])
			}
			return objective(AF32Clone(x))
		}, toFloat64(orig), settings)
		copy(p.V, orig)
		results = append(results, compareGradients(n, toFloat64(grad.V), numeric))
	}

	return results, nil
}

func compareGradients(name string, analytic, numeric []float64) GradCheckResult {
	scale := floats.Norm(analytic, 2) + floats.Norm(numeric, 2)
	res := GradCheckResult{
		Name:        name,
		MaxAbsError: floats.Distance(analytic, numeric, math.Inf(1)),
	}
	if scale > 0 {
		res.RelativeError = floats.Distance(analytic, numeric, 2) / scale
	}
	return res
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = float64(v[i])
	}
	return out
}
