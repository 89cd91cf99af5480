package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"

	"github.com/ahmedtd/convnet/toolbox"
	"github.com/google/subcommands"
)

type GradCheckCommand struct {
	batchSize int
	size      int
	channels  int
	filters   int
	kernel    int
	stride    int
	padding   int
	pool      int
	step      float64
	tolerance float64
}

var _ subcommands.Command = (*GradCheckCommand)(nil)

func (*GradCheckCommand) Name() string {
	return "gradcheck"
}

func (*GradCheckCommand) Synopsis() string {
	return "Compare layer gradients against finite differences"
}

func (*GradCheckCommand) Usage() string {
	return ``
}

func (c *GradCheckCommand) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.batchSize, "batch-size", 2, "Images per batch")
	f.IntVar(&c.size, "size", 6, "Image height and width")
	f.IntVar(&c.channels, "channels", 3, "Input channels")
	f.IntVar(&c.filters, "filters", 4, "Convolution filters")
	f.IntVar(&c.kernel, "kernel", 3, "Convolution kernel size")
	f.IntVar(&c.stride, "stride", 1, "Convolution stride")
	f.IntVar(&c.padding, "padding", 1, "Convolution padding")
	f.IntVar(&c.pool, "pool", 2, "Max-pooling window and stride")
	f.Float64Var(&c.step, "step", 1e-2, "Finite difference step")
	f.Float64Var(&c.tolerance, "tolerance", 1e-2, "Largest acceptable relative error")
}

func (c *GradCheckCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *GradCheckCommand) executeErr(ctx context.Context) error {
	r := rand.New(rand.NewSource(12345))

	x := toolbox.MakeAF32(c.batchSize, c.size, c.size, c.channels)
	for i := range x.V {
		x.V[i] = float32(r.NormFloat64())
	}

	conv := toolbox.MakeConvLayer2D(c.channels, c.kernel, c.filters, toolbox.ConvOptions{
		Stride:    c.stride,
		Padding:   c.padding,
		InitScale: 0.5,
		Name:      "conv",
	}, r)
	for i := range conv.Params()[conv.BName()].V {
		conv.Params()[conv.BName()].V[i] = float32(r.NormFloat64())
	}
	pool := toolbox.MakeMaxPoolingLayer(c.pool, c.pool, "pool")

	// Max-pooling is only differentiable away from ties, so its input is a
	// shuffled grid of well-separated values.
	xPool := toolbox.AF32ZerosLike(x)
	for i, p := range r.Perm(len(xPool.V)) {
		xPool.V[i] = float32(p) * 0.1
	}

	failed := false
	for _, check := range []struct {
		m toolbox.Module
		x *toolbox.AF32
	}{{conv, x}, {pool, xPool}} {
		m := check.m
		results, err := toolbox.CheckGradients(m, check.x, r, c.step)
		if err != nil {
			return fmt.Errorf("while checking %s: %w", m.Name(), err)
		}
		for _, res := range results {
			status := "ok"
			if res.RelativeError > c.tolerance {
				status = "FAIL"
				failed = true
			}
			log.Printf("%s %s relative-error=%.2e max-abs-error=%.2e %s", m.Name(), res.Name, res.RelativeError, res.MaxAbsError, status)
		}
	}

	if failed {
		return fmt.Errorf("gradient check failed")
	}
	return nil
}
