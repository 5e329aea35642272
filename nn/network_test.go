package nn

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyrochess/tyro/config"
)

// tiny returns a small network so graph runs stay cheap.
func tiny() *Network {
	return newWithDims(3, 3, 2, 5, 4, 1)
}

func TestInferShapesAndRanges(t *testing.T) {
	n := tiny()

	batch := 3
	obs := make([]float32, batch*n.ObsSize())
	for i := range obs {
		obs[i] = float32(i%7) / 7
	}

	policy, value, err := n.Infer(obs, batch)
	require.NoError(t, err)
	require.Len(t, policy, batch*n.PolicySize())
	require.Len(t, value, batch)

	for row := 0; row < batch; row++ {
		var sum float32
		for _, p := range policy[row*n.PolicySize() : (row+1)*n.PolicySize()] {
			require.GreaterOrEqual(t, p, float32(0))
			sum += p
		}
		require.InDelta(t, 1.0, float64(sum), 1e-4, "policy row %d must be a distribution", row)
		require.LessOrEqual(t, math.Abs(float64(value[row])), 1.0)
	}
}

func TestTrainIncrementsGeneration(t *testing.T) {
	config.Reset()
	config.SetInt("training_epochs", 1)
	config.SetInt("training_batchsize", 2)
	config.SetInt("training_mlr", 1)

	n := tiny()
	require.Zero(t, n.Generation())

	samples := 4
	obs := make([]float32, samples*n.ObsSize())
	dists := make([]float32, samples*n.PolicySize())
	targets := make([]float32, samples)
	for i := 0; i < samples; i++ {
		dists[i*n.PolicySize()] = 1
		targets[i] = float32(i%2)*2 - 1
	}

	require.NoError(t, n.Train(samples, obs, dists, targets, true))
	require.Equal(t, uint32(1), n.Generation())

	require.NoError(t, n.Train(samples, obs, dists, targets, false))
	require.Equal(t, uint32(2), n.Generation())
}

func TestCloneIsIndependent(t *testing.T) {
	n := tiny()

	c, err := n.Clone()
	require.NoError(t, err)
	require.Equal(t, n.Generation(), c.Generation())

	// Mutating the original's parameters must not touch the clone.
	orig := n.weights[0].Data().([]float32)
	cloned := c.weights[0].Data().([]float32)
	require.Equal(t, orig[0], cloned[0])

	orig[0] += 42
	require.NotEqual(t, orig[0], cloned[0])
}

func TestPersistRoundTrip(t *testing.T) {
	n := tiny()
	n.generation = 7

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, n.Write(path))

	other := tiny()
	require.NoError(t, other.Read(path))
	require.Equal(t, uint32(7), other.Generation())
	require.Equal(t,
		n.weights[0].Data().([]float32),
		other.weights[0].Data().([]float32))
}

func TestInferNaNGuard(t *testing.T) {
	config.Reset()
	config.SetInt("debug_nan_checks", 1)
	defer config.Reset()

	n := tiny()
	obs := make([]float32, n.ObsSize())
	obs[0] = float32(math.NaN())

	_, _, err := n.Infer(obs, 1)
	require.ErrorIs(t, err, ErrInferenceFailed)
}
