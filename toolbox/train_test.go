package toolbox

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// makeStripes returns 4x4 single-channel images whose class is 0 when the top
// half is bright and 1 when the bottom half is.
func makeStripes(r *rand.Rand, n int) (x, y *AF32) {
	x = MakeAF32(n, 4, 4, 1)
	y = MakeAF32(n)
	for k := 0; k < n; k++ {
		label := k % 2
		y.Set1(k, float32(label))
		for h := 0; h < 4; h++ {
			for w := 0; w < 4; w++ {
				v := 0.1 * float32(r.Float64())
				if (h < 2) == (label == 0) {
					v += 1
				}
				x.Set4(k, h, w, 0, v)
			}
		}
	}
	return x, y
}

func TestTrainerLearnsStripes(t *testing.T) {
	for _, name := range []string{"sgd", "adam"} {
		t.Run(name, func(t *testing.T) {
			r := rand.New(rand.NewSource(8))
			net, err := NewSequential(
				MakeConvLayer2D(1, 3, 4, ConvOptions{Padding: 1, InitScale: 0.5, Name: "conv"}, r),
				MakeReLULayer("relu"),
				MakeMaxPoolingLayer(2, 2, "pool"),
				MakeFlattenLayer("flatten"),
				MakeDense(Linear, 2*2*4, 2, "fc", r),
			)
			require.NoError(t, err)

			var opt Optimizer
			switch name {
			case "sgd":
				opt = MakeSGD(net, 0.1, 0)
			case "adam":
				opt = MakeAdam(net, 0.02)
			}
			tr := &Trainer{
				Net:          net,
				Optimizer:    opt,
				LossFunction: SparseCategoricalCrossEntropyFromLogits,
				L2:           1e-4,
			}

			x, y := makeStripes(r, 16)
			first, err := tr.Step(x, y)
			require.NoError(t, err)

			var last float32
			for s := 0; s < 300; s++ {
				last, err = tr.Step(x, y)
				require.NoError(t, err)
			}
			t.Logf("%s first loss=%v last loss=%v", name, first, last)
			require.Less(t, last, 0.5*first)

			pred, err := net.Forward(x)
			require.NoError(t, err)
			correct := 0
			for k, c := range Argmax(pred) {
				if float32(c) == y.At1(k) {
					correct++
				}
			}
			require.GreaterOrEqual(t, correct, 12)
			require.Greater(t, int64(tr.Timings.Overall), int64(0))
		})
	}
}
