package toolbox

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSafeTensorsKeepsRankAndValues(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	tensors := map[string]*AF32{
		"kernel": MakeAF32(3, 3, 2, 4),
		"bias":   MakeAF32(4),
		"scalar": MakeScalarAF32(7),
	}
	for _, v := range tensors {
		for i := range v.V {
			v.V[i] = float32(r.NormFloat64())
		}
	}

	buf := &bytes.Buffer{}
	require.NoError(t, WriteSafeTensors(buf, tensors))

	got, err := ReadSafeTensors(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	if diff := cmp.Diff(got, tensors); diff != "" {
		t.Errorf("Wrong tensors after reading back; diff (-got +want)\n%s", diff)
	}
}

func TestSafeTensorsRejectsTruncatedData(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteSafeTensors(buf, map[string]*AF32{"w": MakeAF32(16)}))

	truncated := buf.Bytes()[:buf.Len()-8]
	_, err := ReadSafeTensors(bytes.NewReader(truncated))
	require.Error(t, err)
}

func TestSequentialCheckpointRejectsWrongShape(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	net, err := NewSequential(MakeConvLayer2D(1, 3, 2, ConvOptions{Name: "c"}, r))
	require.NoError(t, err)

	require.ErrorContains(t, net.LoadTensors(map[string]*AF32{}), "no entry")
	require.ErrorContains(t, net.LoadTensors(map[string]*AF32{
		"net.c_w": MakeAF32(3, 3, 1, 3),
		"net.c_b": MakeAF32(2),
	}), "wrong shape")
}

func TestReadNPZMissingFile(t *testing.T) {
	_, err := ReadNPZ(filepath.Join(t.TempDir(), "missing.npz"))
	require.Error(t, err)
}
