package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"math/rand"
	"os"

	"github.com/ahmedtd/convnet/toolbox"
	"github.com/google/subcommands"

	_ "image/jpeg"
	_ "image/png"
)

type InferCommand struct {
	weightsFile string
	imageFile   string
}

var _ subcommands.Command = (*InferCommand)(nil)

func (*InferCommand) Name() string {
	return "infer"
}

func (*InferCommand) Synopsis() string {
	return "Infer using the model weights"
}

func (*InferCommand) Usage() string {
	return ``
}

func (c *InferCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.weightsFile, "weights", "convnet-out.safetensors", "Path to the weights produced by the train command")
	f.StringVar(&c.imageFile, "image", "", "Path to the 28x28 image to predict")
}

func (c *InferCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *InferCommand) executeErr(ctx context.Context) error {
	r := rand.New(rand.NewSource(12345))

	net, err := makeNet(r)
	if err != nil {
		return fmt.Errorf("while building network: %w", err)
	}

	if err := c.loadWeights(net); err != nil {
		return fmt.Errorf("while loading weights: %w", err)
	}

	x, err := c.loadImage()
	if err != nil {
		return fmt.Errorf("while loading image: %w", err)
	}

	pred, err := net.Forward(x)
	if err != nil {
		return fmt.Errorf("while running network: %w", err)
	}

	log.Printf("Prediction: %d", toolbox.Argmax(pred)[0])
	return nil
}

func (c *InferCommand) loadImage() (*toolbox.AF32, error) {
	f, err := os.Open(c.imageFile)
	if err != nil {
		return nil, fmt.Errorf("while opening image file: %w", err)
	}
	defer f.Close()

	rawImg, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("while decoding image: %w", err)
	}

	rawBounds := rawImg.Bounds()
	if rawBounds.Dx() != 28 || rawBounds.Dy() != 28 {
		return nil, fmt.Errorf("expected a 28x28 image, got %dx%d", rawBounds.Dx(), rawBounds.Dy())
	}

	out := toolbox.MakeAF32(1, 28, 28, 1)

	for y := rawBounds.Min.Y; y < rawBounds.Max.Y; y++ {
		for x := rawBounds.Min.X; x < rawBounds.Max.X; x++ {
			v := float32(color.GrayModel.Convert(rawImg.At(x, y)).(color.Gray).Y) / float32(255)
			out.Set4(0, y-rawBounds.Min.Y, x-rawBounds.Min.X, 0, v)
		}
	}

	return out, nil
}

func (c *InferCommand) loadWeights(net *toolbox.Sequential) error {
	f, err := os.Open(c.weightsFile)
	if err != nil {
		return fmt.Errorf("while opening weights file: %w", err)
	}
	defer f.Close()

	tensors, err := toolbox.ReadSafeTensors(f)
	if err != nil {
		return fmt.Errorf("while reading weight tensors: %w", err)
	}

	if err := net.LoadTensors(tensors); err != nil {
		return fmt.Errorf("while restoring network: %w", err)
	}

	return nil
}
