package toolbox

import (
	"fmt"
	"math/rand"
	"slices"
)

// ConvLayer2D is a 2-D convolution over NHWC image batches.
//
// W has shape (KernelSize, KernelSize, InputChannels, NumberFilters) and B has
// shape (NumberFilters).
type ConvLayer2D struct {
	name  string
	wName string
	bName string

	InputChannels int
	KernelSize    int
	NumberFilters int
	Stride        int
	Padding       int

	params map[string]*AF32
	grads  map[string]*AF32

	// Input of the last forward pass, consumed by Backward.
	meta *AF32
}

var _ Module = (*ConvLayer2D)(nil)

type ConvOptions struct {
	Stride    int     // defaults to 1
	Padding   int     // defaults to 0
	InitScale float32 // defaults to 0.02
	Name      string  // defaults to "conv"
}

func MakeConvLayer2D(inputChannels, kernelSize, numberFilters int, opts ConvOptions, r *rand.Rand) *ConvLayer2D {
	if opts.Stride == 0 {
		opts.Stride = 1
	}
	if opts.InitScale == 0 {
		opts.InitScale = 0.02
	}
	if opts.Name == "" {
		opts.Name = "conv"
	}
	if inputChannels <= 0 || kernelSize <= 0 || numberFilters <= 0 || opts.Stride < 0 || opts.Padding < 0 {
		panic(fmt.Sprintf("invalid convolution geometry: channels=%d kernel=%d filters=%d stride=%d padding=%d",
			inputChannels, kernelSize, numberFilters, opts.Stride, opts.Padding))
	}

	lay := &ConvLayer2D{
		name:          opts.Name,
		wName:         opts.Name + "_w",
		bName:         opts.Name + "_b",
		InputChannels: inputChannels,
		KernelSize:    kernelSize,
		NumberFilters: numberFilters,
		Stride:        opts.Stride,
		Padding:       opts.Padding,
		params:        map[string]*AF32{},
		grads:         map[string]*AF32{},
	}

	w := MakeAF32(kernelSize, kernelSize, inputChannels, numberFilters)
	for i := range w.V {
		w.V[i] = opts.InitScale * float32(r.NormFloat64())
	}
	lay.params[lay.wName] = w
	lay.params[lay.bName] = MakeAF32(numberFilters)
	lay.grads[lay.wName] = nil
	lay.grads[lay.bName] = nil

	return lay
}

func (lay *ConvLayer2D) Name() string             { return lay.name }
func (lay *ConvLayer2D) WName() string            { return lay.wName }
func (lay *ConvLayer2D) BName() string            { return lay.bName }
func (lay *ConvLayer2D) Params() map[string]*AF32 { return lay.params }
func (lay *ConvLayer2D) Grads() map[string]*AF32  { return lay.grads }

// OutputShape returns the NHWC shape produced for an input of shape in.
func (lay *ConvLayer2D) OutputShape(in []int) []int {
	return []int{
		in[0],
		(in[1]-lay.KernelSize+2*lay.Padding)/lay.Stride + 1,
		(in[2]-lay.KernelSize+2*lay.Padding)/lay.Stride + 1,
		lay.NumberFilters,
	}
}

// pad returns img with Padding zeros added on both sides of height and width.
func (lay *ConvLayer2D) pad(img *AF32) *AF32 {
	if lay.Padding == 0 {
		return img
	}
	p := lay.Padding
	batchSize, height, width, channels := img.Shape[0], img.Shape[1], img.Shape[2], img.Shape[3]
	padded := MakeAF32(batchSize, height+2*p, width+2*p, channels)
	for n := 0; n < batchSize; n++ {
		for h := 0; h < height; h++ {
			for w := 0; w < width; w++ {
				src := ((n*height+h)*width + w) * channels
				copy(padded.V[((n*(height+2*p)+h+p)*(width+2*p)+w+p)*channels:][:channels], img.V[src:src+channels])
			}
		}
	}
	return padded
}

func (lay *ConvLayer2D) checkInput(img *AF32) error {
	if err := checkRank4(img); err != nil {
		return err
	}
	if img.Shape[3] != lay.InputChannels {
		return fmt.Errorf("expected %d input channels, but received shape %v", lay.InputChannels, img.Shape)
	}
	if img.Shape[1]+2*lay.Padding < lay.KernelSize || img.Shape[2]+2*lay.Padding < lay.KernelSize {
		return fmt.Errorf("kernel size %d larger than padded input %v", lay.KernelSize, img.Shape)
	}
	return nil
}

// Forward computes
//
//	out[n, h, w, f] = b[f] + sum_{i, j, c} pad[n, h*s+i, w*s+j, c] * W[i, j, c, f]
func (lay *ConvLayer2D) Forward(img *AF32) (*AF32, error) {
	if err := lay.checkInput(img); err != nil {
		return nil, err
	}

	weight := lay.params[lay.wName]
	bias := lay.params[lay.bName]
	if !slices.Equal(weight.Shape, []int{lay.KernelSize, lay.KernelSize, lay.InputChannels, lay.NumberFilters}) {
		return nil, fmt.Errorf("weight %s has shape %v", lay.wName, weight.Shape)
	}
	if len(bias.V) != lay.NumberFilters {
		return nil, fmt.Errorf("bias %s has shape %v", lay.bName, bias.Shape)
	}

	outShape := lay.OutputShape(img.Shape)
	batchSize, outHeight, outWidth := outShape[0], outShape[1], outShape[2]
	padded := lay.pad(img)
	out := MakeAF32(outShape...)

	k := lay.KernelSize
	channels := lay.InputChannels
	filters := lay.NumberFilters

	for n := 0; n < batchSize; n++ {
		for h := 0; h < outHeight; h++ {
			for w := 0; w < outWidth; w++ {
				sh := h * lay.Stride
				sw := w * lay.Stride
				for f := 0; f < filters; f++ {
					z := bias.At1(f)
					for i := 0; i < k; i++ {
						for j := 0; j < k; j++ {
							for c := 0; c < channels; c++ {
								z += padded.At4(n, sh+i, sw+j, c) * weight.At4(i, j, c, f)
							}
						}
					}
					out.Set4(n, h, w, f, z)
				}
			}
		}
	}

	lay.meta = img
	return out, nil
}

// Backward stores dJ/dW and dJ/db in Grads() and returns dJ/dimg.  The cached
// input is released, so each Forward supports exactly one Backward.
func (lay *ConvLayer2D) Backward(dprev *AF32) (*AF32, error) {
	img := lay.meta
	if img == nil {
		return nil, ErrNoForward
	}

	outShape := lay.OutputShape(img.Shape)
	if !slices.Equal(dprev.Shape, outShape) {
		return nil, fmt.Errorf("expected upstream gradient of shape %v, but received %v", outShape, dprev.Shape)
	}
	batchSize, outHeight, outWidth := outShape[0], outShape[1], outShape[2]

	weight := lay.params[lay.wName]
	dw := AF32ZerosLike(weight)
	db := MakeAF32(lay.NumberFilters)

	padded := lay.pad(img)
	dpad := AF32ZerosLike(padded)

	k := lay.KernelSize
	channels := lay.InputChannels
	filters := lay.NumberFilters

	for n := 0; n < batchSize; n++ {
		for h := 0; h < outHeight; h++ {
			for w := 0; w < outWidth; w++ {
				sh := h * lay.Stride
				sw := w * lay.Stride
				for f := 0; f < filters; f++ {
					g := dprev.At4(n, h, w, f)
					if g == 0 {
						continue
					}
					db.V[f] += g
					for i := 0; i < k; i++ {
						for j := 0; j < k; j++ {
							for c := 0; c < channels; c++ {
								dw.Add4(i, j, c, f, padded.At4(n, sh+i, sw+j, c)*g)
								dpad.Add4(n, sh+i, sw+j, c, weight.At4(i, j, c, f)*g)
							}
						}
					}
				}
			}
		}
	}

	lay.grads[lay.wName] = dw
	lay.grads[lay.bName] = db
	lay.meta = nil

	return lay.crop(dpad, img.Shape), nil
}

// crop removes the padding border from dpad.
func (lay *ConvLayer2D) crop(dpad *AF32, shape []int) *AF32 {
	if lay.Padding == 0 {
		return dpad
	}
	p := lay.Padding
	batchSize, height, width, channels := shape[0], shape[1], shape[2], shape[3]
	dimg := MakeAF32(shape...)
	for n := 0; n < batchSize; n++ {
		for h := 0; h < height; h++ {
			for w := 0; w < width; w++ {
				src := ((n*(height+2*p)+h+p)*(width+2*p) + w + p) * channels
				copy(dimg.V[((n*height+h)*width+w)*channels:][:channels], dpad.V[src:src+channels])
			}
		}
	}
	return dimg
}
