package selfplay

import (
	"errors"
	"log"
	"math/rand"

	"github.com/tyrochess/tyro/config"
	"github.com/tyrochess/tyro/game"
	"github.com/tyrochess/tyro/mcts"
)

// ErrEvaluationAborted reports that the reference network's generation
// changed while an evaluation match was in flight. Callers map it to a
// rejection.
var ErrEvaluationAborted = errors.New("selfplay: evaluation aborted by generation change")

// EvalConfig sizes the gated head-to-head match.
type EvalConfig struct {
	Games      int
	Batch      int
	Nodes      int
	TargetPct  int
	ObsSize    int
	PolicySize int
	Params     mcts.Params
}

// EvalConfigFromOptions reads the evaluation parameters.
func EvalConfigFromOptions() EvalConfig {
	return EvalConfig{
		Games:      config.Int("evaluate_games", 10),
		Batch:      config.Int("evaluate_batch", 16),
		Nodes:      config.Int("evaluate_nodes", 512),
		TargetPct:  config.Int("evaluate_target_pct", 54),
		ObsSize:    game.ObsSize,
		PolicySize: game.PolicySize,
		Params:     mcts.ParamsFromOptions(),
	}
}

// Eval plays cfg.Games paired-color games between the reference and the
// candidate and reports whether the candidate meets the acceptance
// threshold. Each slot randomly assigns the candidate a color; on each
// tree's turn the observation is routed to whichever model owns that
// color, and each model gets its own batched inference call. Expansion
// runs with the heuristic bootstrap disabled so the blend cannot bias
// the gate.
//
// Early exits: accept as soon as the score reaches the target, reject
// as soon as the target is unreachable, and abort (reject) if the
// reference generation changes mid-match.
func Eval(reference, candidate Model, cfg EvalConfig, newEnv func() GameEnvironment, rng *rand.Rand) (bool, error) {
	startGen := reference.Generation()
	target := float32(cfg.Games) * float32(cfg.TargetPct) / 100

	trees := make([]*mcts.Tree, cfg.Batch)
	candSide := make([]float32, cfg.Batch)
	for i := range trees {
		trees[i] = mcts.NewTree(newEnv(), cfg.Params, rng)
		candSide[i] = float32(rng.Intn(2))*2 - 1
	}

	refObs := make([]float32, cfg.Batch*cfg.ObsSize)
	candObs := make([]float32, cfg.Batch*cfg.ObsSize)
	refTargets := make([]int, 0, cfg.Batch)
	candTargets := make([]int, 0, cfg.Batch)

	var score float32
	games := 0

	log.Printf("[eval] starting candidate evaluation over %d games", cfg.Games)

	for games < cfg.Games {
		if reference.Generation() != startGen {
			return false, ErrEvaluationAborted
		}

		refTargets = refTargets[:0]
		candTargets = candTargets[:0]

		for i := 0; i < cfg.Batch; i++ {
			env := trees[i].Env()

			// Route this tree's observation by whose turn it is at the root.
			isCand := env.Turn() == candSide[i]
			var slot []float32
			if isCand {
				slot = candObs[len(candTargets)*cfg.ObsSize : (len(candTargets)+1)*cfg.ObsSize]
			} else {
				slot = refObs[len(refTargets)*cfg.ObsSize : (len(refTargets)+1)*cfg.ObsSize]
			}

			for trees[i].Visits() < cfg.Nodes && !trees[i].Select(slot) {
			}
			if trees[i].Visits() < cfg.Nodes {
				if isCand {
					candTargets = append(candTargets, i)
				} else {
					refTargets = append(refTargets, i)
				}
				continue
			}

			action, err := trees[i].Pick(0)
			if err == nil {
				err = trees[i].Advance(action)
			}
			if err != nil {
				log.Printf("[eval] tree %d: %v, resetting", i, err)
				trees[i].Reset()
				candSide[i] = float32(rng.Intn(2))*2 - 1
				i--
				continue
			}

			if value, done := env.Terminal(); done {
				// 0 for a candidate loss, 0.5 for a draw, 1 for a win.
				score += value*candSide[i]/2 + 0.5
				games++
				log.Printf("[eval] game %d of %d [%+.0f]: score %d%%",
					games, cfg.Games, value*candSide[i], int(score*100/float32(games)))

				if score >= target {
					return true, nil
				}
				if score+float32(cfg.Games-games) < target {
					return false, nil
				}

				trees[i].Reset()
				candSide[i] = float32(rng.Intn(2))*2 - 1
			}

			i--
		}

		if len(refTargets) > 0 {
			policy, value, err := reference.Infer(refObs, len(refTargets))
			if err != nil {
				return false, err
			}
			for j, ti := range refTargets {
				trees[ti].Expand(policy[j*cfg.PolicySize:(j+1)*cfg.PolicySize], value[j], true)
			}
		}

		if len(candTargets) > 0 {
			policy, value, err := candidate.Infer(candObs, len(candTargets))
			if err != nil {
				return false, err
			}
			for j, ti := range candTargets {
				trees[ti].Expand(policy[j*cfg.PolicySize:(j+1)*cfg.PolicySize], value[j], true)
			}
		}
	}

	accepted := score >= target
	log.Printf("[eval] finished: score %d%%, target %d%%", int(score*100/float32(cfg.Games)), cfg.TargetPct)
	return accepted, nil
}
