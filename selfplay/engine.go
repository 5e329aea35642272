// Package selfplay runs the production side of the training loop: a
// fleet of search trees per producer worker feeding batched inference,
// trajectory recording into the replay buffer, and the consumer side
// that trains and gates candidate networks.
package selfplay

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tyrochess/tyro/config"
	"github.com/tyrochess/tyro/game"
	"github.com/tyrochess/tyro/mcts"
	"github.com/tyrochess/tyro/replay"
)

// Status is the engine lifecycle state.
type Status int32

const (
	Stopped Status = iota
	Running
	Waiting // stop requested, workers draining
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	}
	return "unknown"
}

// Model is the inference surface the producers need.
type Model interface {
	Infer(obs []float32, batch int) (policy []float32, value []float32, err error)
	Generation() uint32
}

// GameEnvironment extends the search environment with the transcript
// surface the engine needs for PGN requests and archiving.
type GameEnvironment interface {
	mcts.Environment
	PGN() (string, error)
	FEN() string
}

// FinishedGame is the record handed to archive/viewer sinks when a
// self-play game terminates.
type FinishedGame struct {
	PGN        string
	Outcome    float32 // relative to White
	Plies      int
	Generation uint32
	Worker     int
	FinishedAt time.Time
}

// EngineConfig sizes the producer fleet.
type EngineConfig struct {
	Workers        int // producer goroutines
	BatchPerWorker int // trees per producer
	NodesPerAction int
	ObsSize        int
	PolicySize     int

	// FlushStaleTrees resets any tree built against an older generation,
	// discarding its pending trajectories.
	FlushStaleTrees bool

	// DrawValue is the training target written for drawn games, already
	// mapped into [-1, 1].
	DrawValue float32

	Alpha  TemperatureSchedule
	Params mcts.Params
}

// EngineConfigFromOptions assembles the production configuration from
// the process options and the chess adapter's dimensions.
func EngineConfigFromOptions() EngineConfig {
	return EngineConfig{
		Workers:         config.Int("inference_threads", 1),
		BatchPerWorker:  config.Int("selfplay_batch", 16),
		NodesPerAction:  config.Int("selfplay_nodes", 512),
		ObsSize:         game.ObsSize,
		PolicySize:      game.PolicySize,
		FlushStaleTrees: config.Int("flush_old_trees", 1) != 0,
		DrawValue:       float32(config.Int("draw_value_pct", 50))/100*2 - 1,
		Alpha: TemperatureSchedule{
			Initial: config.Float("selfplay_alpha_initial", 1.0),
			Decay:   config.Float("selfplay_alpha_decay", 1.0),
			Final:   config.Float("selfplay_alpha_final", 1.0),
			Cutoff:  config.Int("selfplay_alpha_cutoff", 1),
		},
		Params: mcts.ParamsFromOptions(),
	}
}

// tuple is a pending trajectory entry awaiting game resolution.
type tuple struct {
	obs  []float32
	dist []float32
	pov  float32
}

// Engine drives the producer fleet.
type Engine struct {
	cfg    EngineConfig
	model  Model
	buffer *replay.Buffer
	newEnv func() GameEnvironment

	status atomic.Int32
	wg     sync.WaitGroup

	wantsPGN atomic.Bool
	pgnCh    chan string

	partials    []atomic.Int64
	gamesPlayed atomic.Int64

	// OnGameFinished, when set before Start, is invoked from worker
	// goroutines for every finished game.
	OnGameFinished func(FinishedGame)
}

// NewEngine wires the producer fleet against a model, an environment
// factory, and the shared replay buffer.
func NewEngine(cfg EngineConfig, model Model, newEnv func() GameEnvironment, buffer *replay.Buffer) *Engine {
	return &Engine{
		cfg:      cfg,
		model:    model,
		buffer:   buffer,
		newEnv:   newEnv,
		pgnCh:    make(chan string, 1),
		partials: make([]atomic.Int64, cfg.Workers),
	}
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status { return Status(e.status.Load()) }

// Buffer exposes the shared replay buffer.
func (e *Engine) Buffer() *replay.Buffer { return e.buffer }

// GamesPlayed is the total number of finished self-play games.
func (e *Engine) GamesPlayed() int64 { return e.gamesPlayed.Load() }

// Partials reports the pending-trajectory gauge per worker.
func (e *Engine) Partials() []int64 {
	out := make([]int64, len(e.partials))
	for i := range e.partials {
		out[i] = e.partials[i].Load()
	}
	return out
}

// Start launches the producer workers. Legal only from Stopped.
func (e *Engine) Start() error {
	if !e.status.CompareAndSwap(int32(Stopped), int32(Running)) {
		return fmt.Errorf("start called while %s", e.Status())
	}

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	return nil
}

// Stop requests shutdown and joins the workers. Legal only from
// Running. Each worker finishes its current iteration, so shutdown is
// bounded by one MCTS iteration.
func (e *Engine) Stop() error {
	if !e.status.CompareAndSwap(int32(Running), int32(Waiting)) {
		return fmt.Errorf("stop called while %s", e.Status())
	}
	e.wg.Wait()
	e.status.Store(int32(Stopped))
	return nil
}

// RequestPGN blocks until the next self-play game finishes on any
// worker and returns its transcript. Fails immediately when the engine
// is not running.
func (e *Engine) RequestPGN() (string, error) {
	if e.Status() != Running {
		return "", fmt.Errorf("pgn requested while %s", e.Status())
	}
	e.wantsPGN.Store(true)
	return <-e.pgnCh, nil
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	log.Printf("[worker %d] starting", id)

	b := e.cfg.BatchPerWorker
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*1000003))

	trees := make([]*mcts.Tree, b)
	trajectories := make([][]tuple, b)
	sourceGen := make([]uint32, b)
	for i := range trees {
		trees[i] = mcts.NewTree(e.newEnv(), e.cfg.Params, rng)
		sourceGen[i] = e.model.Generation()
	}

	batch := make([]float32, b*e.cfg.ObsSize)
	partials := 0

	for e.Status() == Running {
		for i := 0; i < b; i++ {
			// Retire trees built against an old generation.
			if gen := e.model.Generation(); e.cfg.FlushStaleTrees && sourceGen[i] < gen {
				trees[i].Reset()
				partials -= len(trajectories[i])
				trajectories[i] = trajectories[i][:0]
				sourceGen[i] = gen
			}

			slot := batch[i*e.cfg.ObsSize : (i+1)*e.cfg.ObsSize]

			// Push selections until the tree either yields an observation or
			// hits the per-action node budget.
			for trees[i].Visits() < e.cfg.NodesPerAction && !trees[i].Select(slot) {
			}
			if trees[i].Visits() < e.cfg.NodesPerAction {
				continue // slot filled, awaiting expansion
			}

			// Node budget reached: record a trajectory tuple and move.
			env := trees[i].Env().(GameEnvironment)

			obs := make([]float32, e.cfg.ObsSize)
			env.Observe(obs)
			dist := make([]float32, e.cfg.PolicySize)
			trees[i].Snapshot(dist)

			trajectories[i] = append(trajectories[i], tuple{obs: obs, dist: dist, pov: -env.Turn()})
			partials++

			action, err := trees[i].Pick(e.cfg.Alpha.At(env.Ply()))
			if err == nil {
				err = trees[i].Advance(action)
			}
			if err != nil {
				// Search usage error: drop this game and start over.
				log.Printf("[worker %d] tree %d: %v, resetting", id, i, err)
				partials -= len(trajectories[i])
				trajectories[i] = trajectories[i][:0]
				trees[i].Reset()
				i--
				continue
			}

			if value, done := env.Terminal(); done {
				e.finishGame(id, env, trees[i], &trajectories[i], &partials, value)
			}

			// The tree advanced or was reset; run it again so every tree
			// contributes exactly one observation to the batch.
			i--
		}

		policy, value, err := e.model.Infer(batch, b)
		if err != nil {
			// A failed batch leaves every tree with a dangling selection;
			// resetting is the only way back to a clean state.
			log.Printf("[worker %d] inference failed: %v", id, err)
			for i := range trees {
				trees[i].Reset()
				partials -= len(trajectories[i])
				trajectories[i] = trajectories[i][:0]
			}
			continue
		}

		for i := range trees {
			trees[i].Expand(policy[i*e.cfg.PolicySize:(i+1)*e.cfg.PolicySize], value[i], false)
		}

		e.partials[id].Store(int64(partials))
	}

	log.Printf("[worker %d] terminating", id)
}

// finishGame claims a pending PGN request, resolves the trajectory list
// into the replay buffer, notifies sinks, and resets the tree.
func (e *Engine) finishGame(worker int, env GameEnvironment, tree *mcts.Tree, trajectories *[]tuple, partials *int, value float32) {
	if e.wantsPGN.CompareAndSwap(true, false) {
		if pgn, err := env.PGN(); err == nil {
			select {
			case e.pgnCh <- pgn:
			default:
			}
		} else {
			log.Printf("[worker %d] pgn: %v", worker, err)
		}
	}

	if e.OnGameFinished != nil {
		pgn, _ := env.PGN()
		e.OnGameFinished(FinishedGame{
			PGN:        pgn,
			Outcome:    value,
			Plies:      env.Ply(),
			Generation: e.model.Generation(),
			Worker:     worker,
			FinishedAt: time.Now(),
		})
	}

	for _, t := range *trajectories {
		target := t.pov * value
		if value == 0 {
			target = e.cfg.DrawValue
		}
		e.buffer.Add(t.obs, t.dist, target)
	}
	*partials -= len(*trajectories)
	*trajectories = (*trajectories)[:0]

	e.gamesPlayed.Add(1)
	tree.Reset()
}
