package selfplay

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tyrochess/tyro/mcts"
	"github.com/tyrochess/tyro/replay"
)

// toyGame is a fixed-depth game with a constant number of actions.
// outcome maps the move history to a terminal value relative to the +1
// player; nil means every game is a draw at maxPly.
type toyGame struct {
	actions int
	maxPly  int
	stack   []int
	outcome func(history []int) float32
}

func (g *toyGame) Turn() float32 {
	if len(g.stack)%2 == 0 {
		return 1
	}
	return -1
}

func (g *toyGame) Ply() int           { return len(g.stack) }
func (g *toyGame) Push(a int)         { g.stack = append(g.stack, a) }
func (g *toyGame) Pop()               { g.stack = g.stack[:len(g.stack)-1] }
func (g *toyGame) Heuristic() float32 { return 0 }
func (g *toyGame) Reset()             { g.stack = g.stack[:0] }
func (g *toyGame) FEN() string        { return "toy" }

func (g *toyGame) PGN() (string, error) { return "1. toy 1/2-1/2 {toy game}", nil }

func (g *toyGame) Actions() []int {
	out := make([]int, g.actions)
	for i := range out {
		out[i] = i
	}
	return out
}

func (g *toyGame) Terminal() (float32, bool) {
	if len(g.stack) < g.maxPly {
		return 0, false
	}
	if g.outcome != nil {
		return g.outcome(g.stack), true
	}
	return 0, true
}

func (g *toyGame) Observe(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
}

// fakeModel serves a fixed policy over a small action space.
type fakeModel struct {
	policy     []float32
	policySize int
	gen        atomic.Uint32
	genOnCall  func(calls uint32) uint32
	calls      atomic.Uint32
}

func (m *fakeModel) Generation() uint32 {
	calls := m.calls.Add(1)
	if m.genOnCall != nil {
		return m.genOnCall(calls)
	}
	return m.gen.Load()
}

func (m *fakeModel) Infer(obs []float32, batch int) ([]float32, []float32, error) {
	policy := make([]float32, batch*m.policySize)
	value := make([]float32, batch)
	for i := 0; i < batch; i++ {
		copy(policy[i*m.policySize:], m.policy)
	}
	return policy, value, nil
}

func TestTemperatureSchedule(t *testing.T) {
	s := TemperatureSchedule{Initial: 1.0, Decay: 0.95, Final: 0.5, Cutoff: 20}

	cases := []struct {
		ply  int
		want float64
	}{
		{0, 1.0},
		{10, 0.598737},
		{19, 0.377354},
		{20, 0.5},
		{30, 0.5},
	}
	for _, c := range cases {
		require.InDelta(t, c.want, float64(s.At(c.ply)), 1e-4, "ply %d", c.ply)
	}
}

func TestEngineStateMachine(t *testing.T) {
	cfg := EngineConfig{
		Workers:        1,
		BatchPerWorker: 1,
		NodesPerAction: 4,
		ObsSize:        4,
		PolicySize:     3,
		Params:         mcts.Params{CPUCT: 1.0},
		Alpha:          TemperatureSchedule{Initial: 1, Decay: 1, Final: 1, Cutoff: 0},
	}
	model := &fakeModel{policy: []float32{0.4, 0.3, 0.3}, policySize: 3}
	buffer := replay.New(4, 3, 64, rand.New(rand.NewSource(1)))
	newEnv := func() GameEnvironment { return &toyGame{actions: 3, maxPly: 4} }

	e := NewEngine(cfg, model, newEnv, buffer)
	require.Equal(t, Stopped, e.Status())

	require.NoError(t, e.Start())
	require.Equal(t, Running, e.Status())
	require.Error(t, e.Start(), "start is only legal from stopped")

	require.NoError(t, e.Stop())
	require.Equal(t, Stopped, e.Status())
	require.Error(t, e.Stop(), "stop is only legal from running")
}

func TestEngineProducesTrajectories(t *testing.T) {
	cfg := EngineConfig{
		Workers:        2,
		BatchPerWorker: 2,
		NodesPerAction: 8,
		ObsSize:        4,
		PolicySize:     3,
		DrawValue:      -0.5,
		Params:         mcts.Params{CPUCT: 1.0, UnvisitedValue: 1},
		Alpha:          TemperatureSchedule{Initial: 1, Decay: 0.95, Final: 0.5, Cutoff: 2},
	}
	model := &fakeModel{policy: []float32{0.5, 0.25, 0.25}, policySize: 3}
	buffer := replay.New(4, 3, 256, rand.New(rand.NewSource(1)))
	newEnv := func() GameEnvironment { return &toyGame{actions: 3, maxPly: 4} }

	e := NewEngine(cfg, model, newEnv, buffer)

	var finished atomic.Int64
	e.OnGameFinished = func(g FinishedGame) { finished.Add(1) }

	require.NoError(t, e.Start())
	defer e.Stop()

	// Every toy game is a 4-ply draw, so the buffer should fill with
	// tuples carrying the configured draw value.
	require.Eventually(t, func() bool { return buffer.Count() >= 16 }, 5*time.Second, 10*time.Millisecond)

	pgn, err := e.RequestPGN()
	require.NoError(t, err)
	require.Contains(t, pgn, "1/2-1/2")

	require.Eventually(t, func() bool { return finished.Load() > 0 }, time.Second, 10*time.Millisecond)
	require.Greater(t, e.GamesPlayed(), int64(0))

	dstObs := make([]float32, 4)
	dstDist := make([]float32, 3)
	dstValue := make([]float32, 1)
	buffer.SampleBatch(1, dstObs, dstDist, dstValue)
	require.Equal(t, float32(-0.5), dstValue[0])

	// Snapshot distributions are normalized.
	var sum float32
	for _, d := range dstDist {
		sum += d
	}
	require.InDelta(t, 1.0, sum, 1e-4)
}

// winnerTakesFirstMove is a one-ply game decided by White's move:
// action 1 wins for White, action 0 loses.
func winnerTakesFirstMove() GameEnvironment {
	return &toyGame{
		actions: 2,
		maxPly:  1,
		outcome: func(history []int) float32 {
			if history[0] == 1 {
				return 1
			}
			return -1
		},
	}
}

func evalTestConfig() EvalConfig {
	return EvalConfig{
		Games:      10,
		Batch:      4,
		Nodes:      8,
		TargetPct:  54,
		ObsSize:    4,
		PolicySize: 2,
		Params:     mcts.Params{CPUCT: 1.0},
	}
}

func TestEvalAcceptsRiggedCandidate(t *testing.T) {
	// The candidate always plays the winning move, the reference always
	// blunders, so the candidate scores 100% from either color.
	reference := &fakeModel{policy: []float32{0.999, 0.001}, policySize: 2}
	candidate := &fakeModel{policy: []float32{0.001, 0.999}, policySize: 2}

	accepted, err := Eval(reference, candidate, evalTestConfig(), winnerTakesFirstMove, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	require.True(t, accepted)
}

func TestEvalRejectsRiggedCandidate(t *testing.T) {
	// Roles swapped: the candidate blunders every game and must be
	// rejected, via the impossible-to-pass early exit.
	reference := &fakeModel{policy: []float32{0.001, 0.999}, policySize: 2}
	candidate := &fakeModel{policy: []float32{0.999, 0.001}, policySize: 2}

	accepted, err := Eval(reference, candidate, evalTestConfig(), winnerTakesFirstMove, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestEvalAbortsOnGenerationBump(t *testing.T) {
	reference := &fakeModel{policy: []float32{0.5, 0.5}, policySize: 2}
	reference.genOnCall = func(calls uint32) uint32 {
		if calls == 1 {
			return 1 // the snapshot taken at eval start
		}
		return 2 // the reference was promoted mid-match
	}
	candidate := &fakeModel{policy: []float32{0.5, 0.5}, policySize: 2}

	accepted, err := Eval(reference, candidate, evalTestConfig(), winnerTakesFirstMove, rand.New(rand.NewSource(5)))
	require.ErrorIs(t, err, ErrEvaluationAborted)
	require.False(t, accepted)
}
