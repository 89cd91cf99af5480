package toolbox

import (
	"slices"

	"github.com/chewxy/math32"
)

type LossFunctionType int

const (
	SparseCategoricalCrossEntropyFromLogits LossFunctionType = iota
	MeanSquaredError
)

// Loss evaluates the loss of predictions a against ground truth y.  denom is
// the total number of samples we will calculate the loss over.  Useful for
// computing the loss over a set of batches.
func Loss(lossFunction LossFunctionType, y, a *AF32, denom int) float32 {
	switch lossFunction {
	case MeanSquaredError:
		return MeanSquaredErrorLoss(y, a, denom)
	case SparseCategoricalCrossEntropyFromLogits:
		return SparseCategoricalCrossEntropyLoss(y, a, denom)
	default:
		panic("unimplemented loss function type")
	}
}

// LossGradient returns the gradient of the batch loss wrt a.
func LossGradient(lossFunction LossFunctionType, y, a *AF32) *AF32 {
	dJda := AF32ZerosLike(a)
	switch lossFunction {
	case MeanSquaredError:
		MeanSquaredErrorLossGradient(y, a, dJda)
	case SparseCategoricalCrossEntropyFromLogits:
		SparseCategoricalCrossEntropyLossGradient(y, a, dJda)
	default:
		panic("unimplemented loss function type")
	}
	return dJda
}

// y is the ground truth output.  Shape (batchSize, outputSize)
// a is the model's forward output.  Shape (batchSize, outputSize)
func MeanSquaredErrorLoss(y, a *AF32, denom int) float32 {
	if len(y.Shape) != 2 {
		panic("len(y.Shape) != 2")
	}
	if !slices.Equal(y.Shape, a.Shape) {
		panic("y and a must have same shape")
	}

	batchSize := y.Shape[0]
	outputSize := y.Shape[1]

	loss := float32(0)

	for k := 0; k < batchSize; k++ {
		for i := 0; i < outputSize; i++ {
			diff := a.At2(k, i) - y.At2(k, i)
			loss += diff * diff / 2 / float32(denom) / float32(outputSize)
		}
	}

	return loss
}

// y is the ground truth output.  Shape (batchSize, outputSize)
// a is the model's forward output.  Shape (batchSize, outputSize)
// dJda (output) is storage for the gradient of the loss wrt a.  Shape (batchSize, outputSize)
func MeanSquaredErrorLossGradient(y, a, dJda *AF32) {
	if len(y.Shape) != 2 {
		panic("len(y.Shape) != 2")
	}
	if !slices.Equal(y.Shape, a.Shape) {
		panic("y and a must have same shape")
	}
	if !slices.Equal(y.Shape, dJda.Shape) {
		panic("y and dJda must have same shape")
	}

	batchSize := a.Shape[0]
	outputSize := a.Shape[1]

	for k := 0; k < batchSize; k++ {
		for i := 0; i < outputSize; i++ {
			grad := (a.At2(k, i) - y.At2(k, i)) / float32(batchSize) / float32(outputSize)
			dJda.Set2(k, i, grad)
		}
	}
}

// y is the ground truth class index.  Shape (batchSize)
// a is the model's forward output (logits).  Shape (batchSize, outputSize)
func SparseCategoricalCrossEntropyLoss(y, a *AF32, denom int) float32 {
	if len(a.Shape) != 2 {
		panic("len(a.Shape) != 2")
	}
	batchSize := a.Shape[0]
	outputSize := a.Shape[1]

	if !slices.Equal(y.Shape, []int{batchSize}) {
		panic("y.Shape != {batchSize}")
	}

	loss := float32(0)
	for k := 0; k < batchSize; k++ {
		maxa := rowMax(a, k)
		var suma float32
		for l := 0; l < outputSize; l++ {
			suma += math32.Exp(a.At2(k, l) - maxa)
		}

		i := int(y.At1(k))
		softmax := clampProbability(math32.Exp(a.At2(k, i)-maxa) / suma)
		loss += -math32.Log(softmax) / float32(denom)
	}

	return loss
}

// y is the ground truth class index.  Shape (batchSize)
// a is the model's forward output (logits).  Shape (batchSize, outputSize)
// dJda (output) is storage for the gradient of the loss wrt a.  Shape (batchSize, outputSize)
func SparseCategoricalCrossEntropyLossGradient(y, a, dJda *AF32) {
	if len(a.Shape) != 2 {
		panic("len(a.Shape) != 2")
	}
	batchSize := a.Shape[0]
	outputSize := a.Shape[1]

	if !slices.Equal(y.Shape, []int{batchSize}) {
		panic("y.Shape != {batchSize}")
	}
	if !slices.Equal(dJda.Shape, []int{batchSize, outputSize}) {
		panic("dJda.Shape != {batchSize, outputSize}")
	}

	// ref https://eli.thegreenplace.net/2016/the-softmax-function-and-its-derivative/

	for k := 0; k < batchSize; k++ {
		// For stability, use the identity softmax(v) = softmax(v - c), and
		// subtract the maximimum element of a from every element as we evaluate
		// the softmax.
		//
		// https://stackoverflow.com/questions/42599498/numerically-stable-softmax
		maxa := rowMax(a, k)

		var sum float32
		for l := 0; l < outputSize; l++ {
			sum += math32.Exp(a.At2(k, l) - maxa)
		}

		for i := 0; i < outputSize; i++ {
			softmax := clampProbability(math32.Exp(a.At2(k, i)-maxa) / sum)

			if y.At1(k) == float32(i) {
				dJda.Set2(k, i, (softmax-1)/float32(batchSize))
			} else {
				dJda.Set2(k, i, (softmax-0)/float32(batchSize))
			}
		}
	}
}

func rowMax(a *AF32, k int) float32 {
	maxa := math32.Inf(-1)
	for l := 0; l < a.Shape[1]; l++ {
		if a.At2(k, l) > maxa {
			maxa = a.At2(k, l)
		}
	}
	return maxa
}

// Clamp softmax to make sure the loss is finite.
//
// https://stackoverflow.com/a/70608107
func clampProbability(p float32) float32 {
	if p < 1e-7 {
		return 1e-7
	}
	if p > 1-1e-7 {
		return 1 - 1e-7
	}
	return p
}

// Argmax returns the index of the largest entry of each row of a.
func Argmax(a *AF32) []int {
	out := make([]int, a.Shape[0])
	for k := range out {
		score := math32.Inf(-1)
		for i := 0; i < a.Shape[1]; i++ {
			if a.At2(k, i) > score {
				out[k] = i
				score = a.At2(k, i)
			}
		}
	}
	return out
}
