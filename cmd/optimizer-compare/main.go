// Command optimizer-compare fits a 1-D linear regression three ways: a
// hand-coded gradient descent, the toolbox SGD optimizer and the toolbox Adam
// optimizer, and logs how each one converges.
package main

import (
	"flag"
	"log"
	"math/rand"

	"github.com/ahmedtd/convnet/toolbox"
)

var (
	steps = flag.Int("steps", 20000, "Optimization steps per optimizer")
	sgdLR = flag.Float64("sgd-lr", 0.05, "SGD learning rate")
	adaLR = flag.Float64("adam-lr", 0.05, "Adam learning rate")
)

func main() {
	flag.Parse()

	x := toolbox.MakeAF32(3, 1)
	y := toolbox.MakeAF32(3, 1)
	for i, v := range []float32{1.0, 2.0, 3.0} {
		x.Set2(i, 0, v)
		y.Set2(i, 0, v+2)
	}

	m, b := gradientDescentLinReg(x.V, y.V, float32(*sgdLR), *steps, float32(0.0), float32(0.0))
	log.Printf("hand-coded m=%v b=%v loss=%v", m, b, lossFn(x.V, y.V, m, b))

	for _, name := range []string{"sgd", "adam"} {
		r := rand.New(rand.NewSource(12345))
		lay := toolbox.MakeDense(toolbox.Linear, 1, 1, "fc", r)
		net, err := toolbox.NewSequential(lay)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}

		var opt toolbox.Optimizer
		switch name {
		case "sgd":
			opt = toolbox.MakeSGD(net, float32(*sgdLR), 0)
		case "adam":
			opt = toolbox.MakeAdam(net, float32(*adaLR))
		}

		tr := &toolbox.Trainer{Net: net, Optimizer: opt, LossFunction: toolbox.MeanSquaredError}
		for s := 0; s < *steps; s++ {
			loss, err := tr.Step(x, y)
			if err != nil {
				log.Fatalf("Error: %v", err)
			}
			if s%1000 == 0 {
				log.Printf("%s step=%v loss=%v", name, s, loss)
			}
		}

		w, _ := net.GetParams(lay.WName())
		bias, _ := net.GetParams(lay.BName())
		log.Printf("%s m=%v b=%v loss=%v timings overall=%v", name, w.At1(0), bias.At1(0), lossFn(x.V, y.V, w.At1(0), bias.At1(0)), tr.Timings.Overall)
	}
}

func lossFn(x, y []float32, m, b float32) float32 {
	loss := float32(0)
	for i := range x {
		pred := m*x[i] + b
		loss += (pred - y[i]) * (pred - y[i])
	}
	loss /= 2 * float32(len(x))
	return loss
}

func gradientFn(x, y []float32, m, b float32) (gradM, gradB float32) {
	gradB = float32(0)
	gradM = float32(0)
	for i := range x {
		pred := m*x[i] + b
		gradM += (pred - y[i]) * x[i]
		gradB += (pred - y[i])
	}
	gradM /= float32(len(x))
	gradB /= float32(len(x))
	return gradM, gradB
}

func gradientDescentLinReg(x, y []float32, learningRate float32, steps int, initM, initB float32) (m, b float32) {
	m = initM
	b = initB
	for i := 0; i < steps; i++ {
		gradM, gradB := gradientFn(x, y, m, b)
		m = m - learningRate*gradM
		b = b - learningRate*gradB
	}
	return m, b
}
