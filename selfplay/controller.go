package selfplay

import (
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/tyrochess/tyro/config"
	"github.com/tyrochess/tyro/nn"
)

// Controller runs the consumer side: it watches replay-buffer progress,
// trains candidate networks, and promotes them through the gated
// evaluation match. Promotion is serialized by the network's writer
// lock; the producers observe it as a generation bump.
type Controller struct {
	engine  *Engine
	network *nn.Network
	newEnv  func() GameEnvironment

	modelPath string
	wg        sync.WaitGroup
}

// NewController wires the consumer workers against the engine's buffer
// and the shared reference network.
func NewController(engine *Engine, network *nn.Network, newEnv func() GameEnvironment) *Controller {
	return &Controller{
		engine:    engine,
		network:   network,
		newEnv:    newEnv,
		modelPath: config.Str("model_path", "model.bin"),
	}
}

// Start launches training_threads consumer workers. They exit when the
// engine leaves the Running state; call Wait to join them.
func (c *Controller) Start() {
	workers := config.Int("training_threads", 1)
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
}

// Wait joins the consumer workers.
func (c *Controller) Wait() { c.wg.Wait() }

func (c *Controller) worker(id int) {
	defer c.wg.Done()
	log.Printf("[train %d] starting", id)

	buffer := c.engine.Buffer()
	capacity := int64(buffer.Size())

	targetIncr := capacity * int64(config.Int("rpb_train_pct", 40)) / 100
	sampleN := buffer.Size() * config.Int("training_sample_pct", 60) / 100
	detectAnomaly := config.Int("training_detect_anomaly", 0) != 0
	flushBuffer := config.Int("flush_old_rpb", 0) != 0

	targetCount := capacity
	targetFrom := int64(0)

	obs := make([]float32, sampleN*c.network.ObsSize())
	dists := make([]float32, sampleN*c.network.PolicySize())
	targets := make([]float32, sampleN)

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	for c.engine.Status() == Running {
		count := buffer.Count()
		if count < targetCount {
			if id == 0 {
				pct := int64(0)
				if targetCount > targetFrom {
					pct = 100 * (count - targetFrom) / (targetCount - targetFrom)
				}
				log.Printf("[train 0] gen %d rpb %d%% [%d / %d] partials %v",
					c.network.Generation(), pct, count-targetFrom, targetCount-targetFrom, c.engine.Partials())
			}
			time.Sleep(time.Second)
			continue
		}

		log.Printf("[train %d] training generation %d with %d trajectories sampled from last %d",
			id, c.network.Generation(), sampleN, buffer.Size())

		cmodel, err := c.network.Clone()
		if err != nil {
			log.Printf("[train %d] clone failed: %v", id, err)
			targetFrom = count
			targetCount += targetIncr
			continue
		}

		buffer.SampleBatch(sampleN, obs, dists, targets)

		accepted := false
		if err := cmodel.Train(sampleN, obs, dists, targets, detectAnomaly); err != nil {
			// A failed candidate never touches the reference.
			log.Printf("[train %d] training failed: %v", id, err)
		} else {
			accepted, err = Eval(c.network, cmodel, EvalConfigFromOptions(), c.newEnv, rng)
			if err != nil {
				if errors.Is(err, ErrEvaluationAborted) {
					log.Printf("[train %d] evaluation aborted, rejecting candidate", id)
				} else {
					log.Printf("[train %d] evaluation failed: %v", id, err)
				}
				accepted = false
			}
		}

		if accepted {
			if err := c.promote(cmodel); err != nil {
				log.Printf("[train %d] promotion failed: %v", id, err)
			} else {
				log.Printf("[train %d] candidate accepted: using new generation %d", id, c.network.Generation())
				if flushBuffer {
					buffer.Clear()
				}
				count = buffer.Count()
				targetCount = count + targetIncr
				if targetCount < capacity {
					targetCount = capacity
				}
				targetFrom = count
				continue
			}
		} else {
			log.Printf("[train %d] candidate rejected: generation remains %d", id, c.network.Generation())
		}

		targetFrom = buffer.Count()
		targetCount += targetIncr
	}

	log.Printf("[train %d] stopping", id)
}

// promote persists the accepted candidate and reloads it into the
// reference handle. The write-then-read sequence is the single
// promotion point; the network's writer lock serializes competing
// consumers.
func (c *Controller) promote(cmodel *nn.Network) error {
	if err := cmodel.Write(c.modelPath); err != nil {
		return err
	}
	return c.network.Read(c.modelPath)
}
