package toolbox

import (
	"fmt"
	"strings"

	"github.com/sbinet/npyio/npz"
)

// ReadNPZ loads every array of a numpy .npz archive as an AF32, keyed by the
// array name without its ".npy" suffix.  The result can be handed to
// Sequential.Load.
//
// numpy always writes C-order arrays, so the flat values are already in our
// row-major layout.
func ReadNPZ(path string) (map[string]*AF32, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("while opening npz file: %w", err)
	}
	defer r.Close()

	tensors := map[string]*AF32{}
	for _, name := range r.Keys() {
		t, err := ReadNPZArray(r, name)
		if err != nil {
			return nil, fmt.Errorf("while reading %s: %w", name, err)
		}
		tensors[strings.TrimSuffix(name, ".npy")] = t
	}

	return tensors, nil
}

// ReadNPZArray reads a single float or uint8 array from an open archive.
func ReadNPZArray(r *npz.Reader, name string) (*AF32, error) {
	header := r.Header(name)
	if header == nil {
		return nil, fmt.Errorf("no array named %s", name)
	}
	if header.Descr.Fortran {
		return nil, fmt.Errorf("fortran-ordered arrays are not supported")
	}

	shape := header.Descr.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	result := MakeAF32(shape...)

	switch dtype := strings.TrimLeft(header.Descr.Type, "<>|="); dtype {
	case "f4":
		var raw []float32
		if err := r.Read(name, &raw); err != nil {
			return nil, fmt.Errorf("while reading float32 array: %w", err)
		}
		copy(result.V, raw)
	case "f8":
		var raw []float64
		if err := r.Read(name, &raw); err != nil {
			return nil, fmt.Errorf("while reading float64 array: %w", err)
		}
		for i := range raw {
			result.V[i] = float32(raw[i])
		}
	case "u1":
		var raw []uint8
		if err := r.Read(name, &raw); err != nil {
			return nil, fmt.Errorf("while reading uint8 array: %w", err)
		}
		for i := range raw {
			result.V[i] = float32(raw[i])
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %s", header.Descr.Type)
	}

	return result, nil
}
