// Command convnet trains and runs a small convolutional network on MNIST, and
// checks the analytic gradients of the convolution and pooling layers.
//
// To train: `go run ./cmd/convnet train --data-file=mnist.npz --optimizer=adam`
//
// To infer: `go run ./cmd/convnet infer --weights=convnet-out.safetensors --image=five.png`
//
// To check gradients: `go run ./cmd/convnet gradcheck`
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime/pprof"

	"github.com/ahmedtd/convnet/toolbox"
	"github.com/google/subcommands"
	"github.com/sbinet/npyio/npz"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&TrainCommand{}, "")
	subcommands.Register(&InferCommand{}, "")
	subcommands.Register(&GradCheckCommand{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

// makeNet builds conv(3x3, 8) -> relu -> maxpool(2) -> flatten -> dense(10).
func makeNet(r *rand.Rand) (*toolbox.Sequential, error) {
	return toolbox.NewSequential(
		toolbox.MakeConvLayer2D(1, 3, 8, toolbox.ConvOptions{Padding: 1, InitScale: 0.1, Name: "conv1"}, r),
		toolbox.MakeReLULayer("relu1"),
		toolbox.MakeMaxPoolingLayer(2, 2, "pool1"),
		toolbox.MakeFlattenLayer("flatten"),
		toolbox.MakeDense(toolbox.Linear, 14*14*8, 10, "fc", r),
	)
}

type TrainCommand struct {
	dataFile string

	fromCheckpointFile string
	pretrainedFile     string
	outputWeightFile   string

	optimizer   string
	lr          float64
	weightDecay float64
	l1, l2      float64
	batchSize   int
	epochs      int
	maxBatches  int

	cpuProfileFile string
}

var _ subcommands.Command = (*TrainCommand)(nil)

func (*TrainCommand) Name() string {
	return "train"
}

func (*TrainCommand) Synopsis() string {
	return "Train the model"
}

func (*TrainCommand) Usage() string {
	return ``
}

func (c *TrainCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dataFile, "data-file", "mnist.npz", "Path to the mnist.npz input file")
	f.StringVar(&c.fromCheckpointFile, "from-checkpoint", "", "Path to a checkpoint (weights and optimizer state) to resume from")
	f.StringVar(&c.pretrainedFile, "pretrained", "", "Path to a .npz of named parameters to load before training")
	f.StringVar(&c.outputWeightFile, "output-weight-file", "convnet-out.safetensors", "Path to save trained weights (safetensors format)")

	f.StringVar(&c.optimizer, "optimizer", "adam", "Optimizer to use: sgd or adam")
	f.Float64Var(&c.lr, "lr", 1e-3, "Learning rate")
	f.Float64Var(&c.weightDecay, "weight-decay", 0, "Weight decay")
	f.Float64Var(&c.l1, "l1", 0, "L1 regularization strength")
	f.Float64Var(&c.l2, "l2", 0, "L2 regularization strength")
	f.IntVar(&c.batchSize, "batch-size", 64, "Samples per batch")
	f.IntVar(&c.epochs, "epochs", 1, "Number of passes over the training data")
	f.IntVar(&c.maxBatches, "max-batches", 0, "Stop each epoch after this many batches (0 means all)")

	f.StringVar(&c.cpuProfileFile, "cpu-profile", "", "Write a CPU profile")
}

func (c *TrainCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *TrainCommand) makeOptimizer(net *toolbox.Sequential) (toolbox.Optimizer, error) {
	switch c.optimizer {
	case "sgd":
		return toolbox.MakeSGD(net, float32(c.lr), float32(c.weightDecay)), nil
	case "adam":
		adam := toolbox.MakeAdam(net, float32(c.lr))
		adam.WeightDecay = float32(c.weightDecay)
		return adam, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", c.optimizer)
	}
}

func (c *TrainCommand) executeErr(ctx context.Context) error {
	if c.cpuProfileFile != "" {
		f, err := os.Create(c.cpuProfileFile)
		if err != nil {
			return fmt.Errorf("while creating CPU profile file: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("while starting CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}
	if c.batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.batchSize)
	}

	xTrain, yTrain, xTest, yTest, err := loadMNIST(c.dataFile)
	if err != nil {
		return fmt.Errorf("while loading MNIST data set: %w", err)
	}

	xs, ys := batchImages(xTrain, yTrain, c.batchSize)
	log.Printf("Data loaded and batched into %d batches", len(xs))

	r := rand.New(rand.NewSource(12345))

	net, err := makeNet(r)
	if err != nil {
		return fmt.Errorf("while building network: %w", err)
	}

	if c.pretrainedFile != "" {
		pretrained, err := toolbox.ReadNPZ(c.pretrainedFile)
		if err != nil {
			return fmt.Errorf("while reading pretrained parameters: %w", err)
		}
		net.Load(pretrained)
	}

	opt, err := c.makeOptimizer(net)
	if err != nil {
		return err
	}

	if c.fromCheckpointFile != "" {
		if err := c.loadCheckpoint(net, opt); err != nil {
			return fmt.Errorf("while loading initial checkpoint: %w", err)
		}
	}

	tr := &toolbox.Trainer{
		Net:          net,
		Optimizer:    opt,
		LossFunction: toolbox.SparseCategoricalCrossEntropyFromLogits,
		L1:           float32(c.l1),
		L2:           float32(c.l2),
	}

	for epoch := 0; epoch < c.epochs; epoch++ {
		var trainLoss float32
		numBatches := len(xs)
		if c.maxBatches > 0 && c.maxBatches < numBatches {
			numBatches = c.maxBatches
		}
		for batch := 0; batch < numBatches; batch++ {
			loss, err := tr.Step(xs[batch], ys[batch])
			if err != nil {
				return fmt.Errorf("while training epoch %d batch %d: %w", epoch, batch, err)
			}
			trainLoss += loss / float32(numBatches)
		}

		// Shuffle batches so we present them in a different order in the next epoch.
		r.Shuffle(len(xs), func(i, j int) {
			xs[i], xs[j] = xs[j], xs[i]
			ys[i], ys[j] = ys[j], ys[i]
		})

		if err := c.writeCheckpoint(net, opt); err != nil {
			return fmt.Errorf("while writing checkpoint: %w", err)
		}

		testLoss, testPercent, err := evaluate(net, xTest, yTest, c.batchSize)
		if err != nil {
			return fmt.Errorf("while evaluating test set: %w", err)
		}

		log.Printf("epoch %d training-loss=%f testing-loss=%f testing-pct=%.1f",
			epoch,
			trainLoss,
			testLoss,
			testPercent,
		)
		log.Printf("epoch %d timings overall=%.1f forward=%.1f loss=%.1f backprop=%.1f weightupdate=%.1f",
			epoch,
			tr.Timings.Overall.Seconds(),
			tr.Timings.Forward.Seconds(),
			tr.Timings.Loss.Seconds(),
			tr.Timings.Backpropagation.Seconds(),
			tr.Timings.WeightUpdate.Seconds(),
		)
		tr.Timings.Reset()
	}

	return nil
}

// evaluate returns the mean loss and the percentage of correct predictions.
func evaluate(net *toolbox.Sequential, x, y *toolbox.AF32, batchSize int) (float32, float32, error) {
	xs, ys := batchImages(x, y, batchSize)
	total := len(xs) * batchSize

	var loss float32
	numCorrect := 0
	for b := range xs {
		pred, err := net.Forward(xs[b])
		if err != nil {
			return 0, 0, err
		}
		loss += toolbox.Loss(toolbox.SparseCategoricalCrossEntropyFromLogits, ys[b], pred, total)
		for k, digit := range toolbox.Argmax(pred) {
			if float32(digit) == ys[b].At1(k) {
				numCorrect++
			}
		}
	}

	return loss, float32(numCorrect) / float32(total) * float32(100), nil
}

// batchImages groups NHWC images and their labels into batches, discarding the
// last partially-full batch.
func batchImages(x, y *toolbox.AF32, batchSize int) (xs, ys []*toolbox.AF32) {
	numSamples := x.Shape[0]
	sampleSize := len(x.V) / numSamples

	for start := 0; start+batchSize <= numSamples; start += batchSize {
		xb := toolbox.MakeAF32(batchSize, x.Shape[1], x.Shape[2], x.Shape[3])
		copy(xb.V, x.V[start*sampleSize:(start+batchSize)*sampleSize])
		yb := toolbox.MakeAF32(batchSize)
		copy(yb.V, y.V[start:start+batchSize])
		xs = append(xs, xb)
		ys = append(ys, yb)
	}

	return xs, ys
}

type checkpointer interface {
	DumpTensors(map[string]*toolbox.AF32)
	LoadTensors(map[string]*toolbox.AF32) error
}

func (c *TrainCommand) loadCheckpoint(net *toolbox.Sequential, opt toolbox.Optimizer) error {
	f, err := os.Open(c.fromCheckpointFile)
	if err != nil {
		return fmt.Errorf("while opening checkpoint file: %w", err)
	}
	defer f.Close()

	tensors, err := toolbox.ReadSafeTensors(f)
	if err != nil {
		return fmt.Errorf("while reading checkpoint tensors: %w", err)
	}

	if err := net.LoadTensors(tensors); err != nil {
		return fmt.Errorf("while restoring network: %w", err)
	}
	if cp, ok := opt.(checkpointer); ok {
		if err := cp.LoadTensors(tensors); err != nil {
			return fmt.Errorf("while restoring optimizer: %w", err)
		}
	}

	return nil
}

func (c *TrainCommand) writeCheckpoint(net *toolbox.Sequential, opt toolbox.Optimizer) error {
	f, err := os.Create(c.outputWeightFile)
	if err != nil {
		return fmt.Errorf("while creating checkpoint file: %w", err)
	}
	defer f.Close()

	tensors := map[string]*toolbox.AF32{}

	net.DumpTensors(tensors)
	if cp, ok := opt.(checkpointer); ok {
		cp.DumpTensors(tensors)
	}

	if err := toolbox.WriteSafeTensors(f, tensors); err != nil {
		return fmt.Errorf("while writing checkpoint tensors: %w", err)
	}

	return nil
}

func loadMNIST(path string) (xTrain, yTrain, xTest, yTest *toolbox.AF32, err error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("while opening mnist data file: %w", err)
	}
	defer r.Close()

	// The MNIST data set is of 28x28 grayscale images.  We return them as
	// NHWC arrays of shape (numSamples, 28, 28, 1).

	xTrain, err = loadImages(r, "x_train.npy")
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("while reading x_train.npy: %w", err)
	}

	yTrain, err = toolbox.ReadNPZArray(r, "y_train.npy")
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("while reading y_train.npy: %w", err)
	}

	xTest, err = loadImages(r, "x_test.npy")
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("while reading x_test.npy: %w", err)
	}

	yTest, err = toolbox.ReadNPZArray(r, "y_test.npy")
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("while reading y_test.npy: %w", err)
	}

	return xTrain, yTrain, xTest, yTest, nil
}

func loadImages(r *npz.Reader, name string) (*toolbox.AF32, error) {
	raw, err := toolbox.ReadNPZArray(r, name)
	if err != nil {
		return nil, err
	}
	if len(raw.Shape) != 3 {
		return nil, fmt.Errorf("expected images of shape (n, h, w), got %v", raw.Shape)
	}

	for i := range raw.V {
		raw.V[i] /= 255
	}

	return toolbox.AF32Reshape(raw, raw.Shape[0], raw.Shape[1], raw.Shape[2], 1), nil
}
