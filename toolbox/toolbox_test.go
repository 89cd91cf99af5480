package toolbox

import (
	"math/rand"
	"testing"
)

func benchmarkInput(r *rand.Rand, shape ...int) *AF32 {
	x := MakeAF32(shape...)
	for i := range x.V {
		x.V[i] = r.Float32()
	}
	return x
}

func BenchmarkConvForward(b *testing.B) {
	r := rand.New(rand.NewSource(12345))
	conv := MakeConvLayer2D(1, 3, 8, ConvOptions{Padding: 1, Name: "conv1"}, r)
	x := benchmarkInput(r, 64, 28, 28, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conv.Forward(x); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConvBackward(b *testing.B) {
	r := rand.New(rand.NewSource(12345))
	conv := MakeConvLayer2D(1, 3, 8, ConvOptions{Padding: 1, Name: "conv1"}, r)
	x := benchmarkInput(r, 64, 28, 28, 1)
	dout := benchmarkInput(r, 64, 28, 28, 8)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		if _, err := conv.Forward(x); err != nil {
			b.Fatal(err)
		}
		b.StartTimer()
		if _, err := conv.Backward(dout); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMaxPool(b *testing.B) {
	r := rand.New(rand.NewSource(12345))
	pool := MakeMaxPoolingLayer(2, 2, "pool1")
	x := benchmarkInput(r, 64, 28, 28, 8)
	dout := benchmarkInput(r, 64, 14, 14, 8)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pool.Forward(x); err != nil {
			b.Fatal(err)
		}
		if _, err := pool.Backward(dout); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLinReg(b *testing.B) {
	x, y := generate2DLinRegDataset(1000)

	r := rand.New(rand.NewSource(12345))
	net, err := NewSequential(MakeDense(Linear, 2, 1, "fc", r))
	if err != nil {
		b.Fatal(err)
	}
	tr := &Trainer{
		Net:          net,
		Optimizer:    MakeSGD(net, 0.0001, 0),
		LossFunction: MeanSquaredError,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Step(x, y); err != nil {
			b.Fatal(err)
		}
	}
}
