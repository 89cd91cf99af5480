// Command logistic-regression-simulator separates two classes of points in
// the unit square, once with a two-logit toolbox network trained by the
// Trainer, and once with a hand-coded sigmoid model, and reports how many
// points each one misclassifies.
package main

import (
	"flag"
	"log"
	"math/rand"

	"github.com/ahmedtd/convnet/toolbox"
	"github.com/chewxy/math32"
)

var (
	batchSize = flag.Int("batch-size", 1000, "Number of generated points")
	alpha     = flag.Float64("lr", 0.1, "Learning rate")
	steps     = flag.Int("steps", 20000, "Optimization steps")
	lambda    = flag.Float64("l2", 0, "L2 regularization strength")
	optimizer = flag.String("optimizer", "sgd", "Toolbox optimizer: sgd or adam")
)

func main() {
	flag.Parse()

	x, y := generateDataset(*batchSize)

	num0s := 0
	num1s := 0
	for k := 0; k < *batchSize; k++ {
		if y.At1(k) == 1 {
			num1s++
		} else {
			num0s++
		}
	}
	log.Printf("original data set has %d 1s and %d 0s", num1s, num0s)

	r := rand.New(rand.NewSource(12345))
	lay := toolbox.MakeDense(toolbox.Linear, 2, 2, "fc", r)
	net, err := toolbox.NewSequential(lay)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	var opt toolbox.Optimizer
	switch *optimizer {
	case "sgd":
		opt = toolbox.MakeSGD(net, float32(*alpha), 0)
	case "adam":
		opt = toolbox.MakeAdam(net, float32(*alpha))
	default:
		log.Fatalf("Error: unknown optimizer %q", *optimizer)
	}

	tr := &toolbox.Trainer{
		Net:          net,
		Optimizer:    opt,
		LossFunction: toolbox.SparseCategoricalCrossEntropyFromLogits,
		L2:           float32(*lambda) / float32(*batchSize),
	}
	var loss float32
	for s := 0; s < *steps; s++ {
		loss, err = tr.Step(x, y)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
	}

	w, _ := net.GetParams(lay.WName())
	b, _ := net.GetParams(lay.BName())
	log.Printf("toolbox learned model W=%v B=%v loss=%v", w.V, b.V, loss)

	// Class 1 wins where (w1 - w0) . x + (b1 - b0) > 0.
	dw0 := w.At2(1, 0) - w.At2(0, 0)
	dw1 := w.At2(1, 1) - w.At2(0, 1)
	db := b.At1(1) - b.At1(0)
	log.Printf("toolbox learned decision boundary x1=%v*x0+%v", -dw0/dw1, -db/dw1)

	logits, err := net.Forward(x)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	toolboxNumMispredictions := 0
	for k, class := range toolbox.Argmax(logits) {
		if float32(class) != y.At1(k) {
			toolboxNumMispredictions++
		}
	}
	log.Printf("toolbox had %d mispredictions (%v%%)", toolboxNumMispredictions, float32(toolboxNumMispredictions)/float32(*batchSize)*float32(100))

	m := &Model{}
	m.Learn(x, y, float32(*alpha), float32(*lambda), *steps)
	log.Printf("Learned model W1=%v W2=%v B=%v", m.W1, m.W2, m.B)

	slope := float32(-m.W1 / m.W2)
	intercept := float32(-m.B / m.W2)
	log.Printf("Learned decision boundary x2=%v*x1+%v", slope, intercept)

	handPredictions := m.apply(x)
	handNumMispredictions := 0
	for k := 0; k < *batchSize; k++ {
		if handPredictions.At1(k) != y.At1(k) {
			handNumMispredictions++
		}
	}
	log.Printf("hand had %d mispredictions (%v%%)", handNumMispredictions, float32(handNumMispredictions)/float32(*batchSize)*float32(100))
}

// generateDataset returns points x of shape (m, 2) and class labels y of
// shape (m).  Points above the diagonal are class 1.
func generateDataset(m int) (x, y *toolbox.AF32) {
	r := rand.New(rand.NewSource(12345))

	x = toolbox.MakeAF32(m, 2)
	y = toolbox.MakeAF32(m)

	for i := 0; i < m; i++ {
		x1 := r.Float32()
		x2 := r.Float32()
		y1 := float32(0.0)
		if x2 > x1 {
			y1 = 1.0
		}

		x.Set2(i, 0, x1)
		x.Set2(i, 1, x2)
		y.Set1(i, y1)
	}

	return x, y
}

type Model struct {
	W1, W2 float32
	B      float32
}

func sigmoid(z float32) float32 {
	return float32(1) / (float32(1) + math32.Exp(-z))
}

func (m *Model) apply(x *toolbox.AF32) *toolbox.AF32 {
	batchSize := x.Shape[0]

	pred := toolbox.MakeAF32(batchSize)

	for k := 0; k < batchSize; k++ {
		if sigmoid(m.W1*x.At2(k, 0)+m.W2*x.At2(k, 1)+m.B) > 0.5 {
			pred.Set1(k, 1)
		}
	}
	return pred
}

func (m *Model) loss(x, y *toolbox.AF32, lambda float32) float32 {
	batchSize := x.Shape[0]

	predictionCost := float32(0)
	for i := 0; i < batchSize; i++ {
		pred := sigmoid(m.W1*x.At2(i, 0) + m.W2*x.At2(i, 1) + m.B)
		if y.At1(i) == 1.0 {
			predictionCost += -math32.Log(pred)
		} else {
			predictionCost += -math32.Log(float32(1) - pred)
		}
	}

	// The regularization cost is divided by 2n, mostly to make the gradient math simpler.
	regularizationCost := m.W1*m.W1 + m.W2*m.W2
	return predictionCost/float32(batchSize) + lambda*regularizationCost/float32(2)/float32(batchSize)
}

func (m *Model) gradient(x, y *toolbox.AF32, lambda float32) (dW1, dW2, dB float32) {
	batchSize := x.Shape[0]

	for i := 0; i < batchSize; i++ {
		pred := sigmoid(m.W1*x.At2(i, 0) + m.W2*x.At2(i, 1) + m.B)
		dW1 += (pred - y.At1(i)) * x.At2(i, 0)
		dW2 += (pred - y.At1(i)) * x.At2(i, 1)
		dB += (pred - y.At1(i))
	}

	// Regularize: encourage model parameters to be small.
	dW1 += lambda * m.W1
	dW2 += lambda * m.W2

	dW1 /= float32(batchSize)
	dW2 /= float32(batchSize)
	dB /= float32(batchSize)

	return dW1, dW2, dB
}

func (m *Model) Learn(x, y *toolbox.AF32, learningRate float32, lambda float32, steps int) {
	var dJdW1, dJdW2, dJdb float32
	for i := 0; i < steps; i++ {
		dJdW1, dJdW2, dJdb = m.gradient(x, y, lambda)
		m.W1 -= learningRate * dJdW1
		m.W2 -= learningRate * dJdW2
		m.B -= learningRate * dJdb

		if i%10000 == 0 {
			log.Printf("step=%v W1=%v W2=%v B=%v djdw1=%v djdw2=%v djdb=%v loss=%v", i, m.W1, m.W2, m.B, dJdW1, dJdW2, dJdb, m.loss(x, y, lambda))
		}
	}
}
