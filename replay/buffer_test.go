package replay

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func tuple(v float32) ([]float32, []float32) {
	return []float32{v, v}, []float32{v, v, v}
}

func TestWrapKeepsLastCapacityTuples(t *testing.T) {
	b := New(2, 3, 4, rand.New(rand.NewSource(7)))

	for i := 0; i < 10; i++ {
		obs, dist := tuple(float32(i))
		b.Add(obs, dist, float32(i))
	}
	require.Equal(t, int64(10), b.Count())

	// Only v6..v9 survive the wrap.
	dstObs := make([]float32, 2)
	dstDist := make([]float32, 3)
	dstValue := make([]float32, 1)
	for i := 0; i < 1000; i++ {
		b.SampleBatch(1, dstObs, dstDist, dstValue)
		require.GreaterOrEqual(t, dstValue[0], float32(6))
		require.LessOrEqual(t, dstValue[0], float32(9))
		require.Equal(t, dstValue[0], dstObs[0], "observation must travel with its value")
		require.Equal(t, dstValue[0], dstDist[2])
	}
}

func TestPartialFillSamplesOnlyFilledPrefix(t *testing.T) {
	b := New(2, 3, 64, rand.New(rand.NewSource(7)))

	obs, dist := tuple(5)
	b.Add(obs, dist, 5)

	dstObs := make([]float32, 2)
	dstDist := make([]float32, 3)
	dstValue := make([]float32, 1)
	for i := 0; i < 100; i++ {
		b.SampleBatch(1, dstObs, dstDist, dstValue)
		require.Equal(t, float32(5), dstValue[0])
	}
}

func TestCountMonotonicAndClear(t *testing.T) {
	b := New(1, 1, 2, rand.New(rand.NewSource(7)))

	var last int64
	for i := 0; i < 5; i++ {
		b.Add([]float32{0}, []float32{0}, 0)
		c := b.Count()
		require.Greater(t, c, last)
		last = c
	}

	b.Clear()
	require.Zero(t, b.Count())

	// Cursor rewound: the next add lands at slot 0.
	b.Add([]float32{1}, []float32{1}, 1)
	dstObs := make([]float32, 1)
	dstDist := make([]float32, 1)
	dstValue := make([]float32, 1)
	b.SampleBatch(1, dstObs, dstDist, dstValue)
	require.Equal(t, float32(1), dstValue[0])
}

func TestSampleBatchFillsAllRows(t *testing.T) {
	b := New(2, 3, 8, rand.New(rand.NewSource(3)))
	for i := 0; i < 8; i++ {
		obs, dist := tuple(float32(i))
		b.Add(obs, dist, float32(i))
	}

	n := 32
	dstObs := make([]float32, n*2)
	dstDist := make([]float32, n*3)
	dstValue := make([]float32, n)
	b.SampleBatch(n, dstObs, dstDist, dstValue)

	for i := 0; i < n; i++ {
		v := dstValue[i]
		require.Equal(t, v, dstObs[i*2])
		require.Equal(t, v, dstObs[i*2+1])
		require.Equal(t, v, dstDist[i*3])
	}
}
