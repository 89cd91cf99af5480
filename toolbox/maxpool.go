package toolbox

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"
)

// MaxPoolingLayer takes the maximum over PoolSize x PoolSize windows of each
// channel.  It has no parameters.
type MaxPoolingLayer struct {
	name     string
	PoolSize int
	Stride   int

	params map[string]*AF32
	grads  map[string]*AF32

	meta *AF32
}

var _ Module = (*MaxPoolingLayer)(nil)

func MakeMaxPoolingLayer(poolSize, stride int, name string) *MaxPoolingLayer {
	if poolSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("invalid pooling geometry: pool=%d stride=%d", poolSize, stride))
	}
	return &MaxPoolingLayer{
		name:     name,
		PoolSize: poolSize,
		Stride:   stride,
		params:   map[string]*AF32{},
		grads:    map[string]*AF32{},
	}
}

func (lay *MaxPoolingLayer) Name() string             { return lay.name }
func (lay *MaxPoolingLayer) Params() map[string]*AF32 { return lay.params }
func (lay *MaxPoolingLayer) Grads() map[string]*AF32  { return lay.grads }

func (lay *MaxPoolingLayer) OutputShape(in []int) []int {
	return []int{
		in[0],
		(in[1]-lay.PoolSize)/lay.Stride + 1,
		(in[2]-lay.PoolSize)/lay.Stride + 1,
		in[3],
	}
}

func (lay *MaxPoolingLayer) Forward(img *AF32) (*AF32, error) {
	if err := checkRank4(img); err != nil {
		return nil, err
	}
	if img.Shape[1] < lay.PoolSize || img.Shape[2] < lay.PoolSize {
		return nil, fmt.Errorf("pool size %d larger than input %v", lay.PoolSize, img.Shape)
	}

	outShape := lay.OutputShape(img.Shape)
	batchSize, outHeight, outWidth, channels := outShape[0], outShape[1], outShape[2], outShape[3]
	out := MakeAF32(outShape...)

	for n := 0; n < batchSize; n++ {
		for h := 0; h < outHeight; h++ {
			for w := 0; w < outWidth; w++ {
				for c := 0; c < channels; c++ {
					out.Set4(n, h, w, c, lay.windowMax(img, n, h*lay.Stride, w*lay.Stride, c))
				}
			}
		}
	}

	lay.meta = img
	return out, nil
}

func (lay *MaxPoolingLayer) windowMax(img *AF32, n, sh, sw, c int) float32 {
	m := math32.Inf(-1)
	for i := 0; i < lay.PoolSize; i++ {
		for j := 0; j < lay.PoolSize; j++ {
			if v := img.At4(n, sh+i, sw+j, c); v > m {
				m = v
			}
		}
	}
	return m
}

// Backward routes each upstream gradient to the positions of its window that
// hold the maximum.  Every tied maximum receives the full gradient, and
// overlapping windows accumulate.
func (lay *MaxPoolingLayer) Backward(dprev *AF32) (*AF32, error) {
	img := lay.meta
	if img == nil {
		return nil, ErrNoForward
	}

	outShape := lay.OutputShape(img.Shape)
	if !slices.Equal(dprev.Shape, outShape) {
		return nil, fmt.Errorf("expected upstream gradient of shape %v, but received %v", outShape, dprev.Shape)
	}
	batchSize, outHeight, outWidth, channels := outShape[0], outShape[1], outShape[2], outShape[3]

	dimg := AF32ZerosLike(img)
	for n := 0; n < batchSize; n++ {
		for h := 0; h < outHeight; h++ {
			for w := 0; w < outWidth; w++ {
				sh := h * lay.Stride
				sw := w * lay.Stride
				for c := 0; c < channels; c++ {
					m := lay.windowMax(img, n, sh, sw, c)
					g := dprev.At4(n, h, w, c)
					for i := 0; i < lay.PoolSize; i++ {
						for j := 0; j < lay.PoolSize; j++ {
							if img.At4(n, sh+i, sw+j, c) == m {
								dimg.Add4(n, sh+i, sw+j, c, g)
							}
						}
					}
				}
			}
		}
	}

	return dimg, nil
}
