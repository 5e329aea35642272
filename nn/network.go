// Package nn wraps the reference network behind batched inference and
// generational training.
//
// A Network owns its parameter tensors under a readers-writer lock:
// Infer runs under the read lock so producers can batch concurrently,
// while Train and Read take the write lock and exclude everything else.
// Clone serializes and deserializes the parameters so a candidate never
// shares storage with the reference.
package nn

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/chewxy/math32"
	gg "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tyrochess/tyro/config"
	"github.com/tyrochess/tyro/game"
)

var (
	// ErrInferenceFailed reports a NaN in inference inputs or outputs
	// while NaN checks are enabled.
	ErrInferenceFailed = errors.New("nn: inference failed")

	// ErrTrainingFailed reports a NaN loss during training with anomaly
	// detection requested.
	ErrTrainingFailed = errors.New("nn: training failed")
)

// Network is a handle on one parameter set plus its generation counter.
type Network struct {
	mu sync.RWMutex

	width, height, features int
	psize                   int
	filters, residuals      int

	specs   []weightSpec
	weights []*tensor.Dense

	generation uint32
}

// New builds a freshly initialized generation-0 network sized for the
// chess adapter, with topology taken from the filters/residuals options.
func New() *Network {
	return newWithDims(game.Width, game.Height, game.NumFeatures, game.PolicySize,
		config.Int("filters", 16), config.Int("residuals", 4))
}

func newWithDims(width, height, features, psize, filters, residuals int) *Network {
	n := &Network{
		width:     width,
		height:    height,
		features:  features,
		psize:     psize,
		filters:   filters,
		residuals: residuals,
		specs:     specs(width, height, features, psize, filters, residuals),
	}
	n.weights = initWeights(n.specs, rand.New(rand.NewSource(time.Now().UnixNano())))
	return n
}

// Generation returns the current generation counter.
func (n *Network) Generation() uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.generation
}

// ObsSize is the observation width this network expects.
func (n *Network) ObsSize() int { return n.width * n.height * n.features }

// PolicySize is the policy width this network produces.
func (n *Network) PolicySize() int { return n.psize }

// Infer evaluates batch observations and returns softmaxed policies and
// tanh'd values. Concurrent callers share the read lock. When NaN checks
// are enabled (debug_nan_checks option) any NaN in inputs or outputs
// yields ErrInferenceFailed.
func (n *Network) Infer(obs []float32, batch int) ([]float32, []float32, error) {
	checkNaN := config.Int("debug_nan_checks", 0) != 0
	if checkNaN && hasNaN(obs[:batch*n.ObsSize()]) {
		return nil, nil, fmt.Errorf("%w: NaN in observations", ErrInferenceFailed)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	f, err := n.buildForward(batch)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}

	vm := gg.NewTapeMachine(f.g)
	defer vm.Close()

	in := tensor.New(tensor.WithShape(batch, n.height, n.width, n.features),
		tensor.WithBacking(obs[:batch*n.ObsSize()]))
	if err := gg.Let(f.input, in); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	if err := vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}

	policy := append([]float32(nil), f.policy.Value().Data().([]float32)...)
	value := append([]float32(nil), f.value.Value().Data().([]float32)...)

	if checkNaN && (hasNaN(policy) || hasNaN(value)) {
		return nil, nil, fmt.Errorf("%w: NaN in network output", ErrInferenceFailed)
	}
	return policy, value, nil
}

// Train runs the configured number of epochs of shuffled minibatch SGD
// over samples tuples and increments the generation on success. The loss
// is the value-head MSE plus the cross-entropy of the target
// distribution against the log-policy. Exclusive with Infer.
func (n *Network) Train(samples int, obs, dists, targets []float32, detectAnomaly bool) error {
	epochs := config.Int("training_epochs", 8)
	batchSize := config.Int("training_batchsize", 16)
	lr := float64(config.Float("training_mlr", 1)) / 1000

	if batchSize > samples {
		batchSize = samples
	}
	if batchSize == 0 {
		return fmt.Errorf("%w: no samples", ErrTrainingFailed)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	f, err := n.buildForward(batchSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}

	// Cross-entropy of the visit distribution against log-policy, with an
	// epsilon inside the log to keep zero-probability entries finite.
	var dist, target, loss *gg.Node
	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("build loss: %v", r)
			}
		}()

		dist = gg.NewMatrix(f.g, tensor.Float32, gg.WithShape(batchSize, n.psize), gg.WithName("dist"))
		target = gg.NewMatrix(f.g, tensor.Float32, gg.WithShape(batchSize, 1), gg.WithName("target"))

		eps := gg.NewConstant(float32(1e-8))
		logp := gg.Must(gg.Log(gg.Must(gg.Add(gg.Must(gg.SoftMax(f.logits, 1)), eps))))
		ce := gg.Must(gg.Neg(gg.Must(gg.Mean(gg.Must(gg.Sum(gg.Must(gg.HadamardProd(dist, logp)), 1))))))
		mse := gg.Must(gg.Mean(gg.Must(gg.Square(gg.Must(gg.Sub(f.value, target))))))

		loss = gg.Must(gg.Add(ce, mse))
		_, err = gg.Grad(loss, f.params...)
		return err
	}()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}

	vm := gg.NewTapeMachine(f.g, gg.BindDualValues(f.params...))
	defer vm.Close()

	solver := gg.NewVanillaSolver(gg.WithLearnRate(lr))

	obsW := n.ObsSize()
	batchObs := make([]float32, batchSize*obsW)
	batchDist := make([]float32, batchSize*n.psize)
	batchTarget := make([]float32, batchSize)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for epoch := 0; epoch < epochs; epoch++ {
		perm := rng.Perm(samples)

		for start := 0; start+batchSize <= samples; start += batchSize {
			for i := 0; i < batchSize; i++ {
				src := perm[start+i]
				copy(batchObs[i*obsW:(i+1)*obsW], obs[src*obsW:])
				copy(batchDist[i*n.psize:(i+1)*n.psize], dists[src*n.psize:])
				batchTarget[i] = targets[src]
			}

			gg.Let(f.input, tensor.New(tensor.WithShape(batchSize, n.height, n.width, n.features), tensor.WithBacking(batchObs)))
			gg.Let(dist, tensor.New(tensor.WithShape(batchSize, n.psize), tensor.WithBacking(batchDist)))
			gg.Let(target, tensor.New(tensor.WithShape(batchSize, 1), tensor.WithBacking(batchTarget)))

			if err := vm.RunAll(); err != nil {
				return fmt.Errorf("%w: %v", ErrTrainingFailed, err)
			}

			if detectAnomaly {
				if lv, ok := loss.Value().Data().(float32); ok && math32.IsNaN(lv) {
					return fmt.Errorf("%w: NaN loss at epoch %d", ErrTrainingFailed, epoch)
				}
			}

			if err := solver.Step(gg.NodesToValueGrads(f.params)); err != nil {
				return fmt.Errorf("%w: %v", ErrTrainingFailed, err)
			}
			vm.Reset()
		}
	}

	n.generation++
	return nil
}

// archive is the persisted form: parameters plus the generation scalar.
type archive struct {
	Generation uint32
	Width      int
	Height     int
	Features   int
	PolicyLen  int
	Filters    int
	Residuals  int
	Weights    [][]float32
}

func (n *Network) encodeLocked() ([]byte, error) {
	a := archive{
		Generation: n.generation,
		Width:      n.width,
		Height:     n.height,
		Features:   n.features,
		PolicyLen:  n.psize,
		Filters:    n.filters,
		Residuals:  n.residuals,
		Weights:    make([][]float32, len(n.weights)),
	}
	for i, w := range n.weights {
		a.Weights[i] = append([]float32(nil), w.Data().([]float32)...)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, fmt.Errorf("encode network: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeArchive(data []byte) (*archive, error) {
	var a archive
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode network: %w", err)
	}
	return &a, nil
}

// Clone produces an independent handle at the same generation. The
// parameters round-trip through serialization so the clone never shares
// tensor storage with the original.
func (n *Network) Clone() (*Network, error) {
	n.mu.RLock()
	data, err := n.encodeLocked()
	n.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	a, err := decodeArchive(data)
	if err != nil {
		return nil, err
	}
	return fromArchive(a)
}

func fromArchive(a *archive) (*Network, error) {
	n := &Network{
		width:      a.Width,
		height:     a.Height,
		features:   a.Features,
		psize:      a.PolicyLen,
		filters:    a.Filters,
		residuals:  a.Residuals,
		generation: a.Generation,
		specs:      specs(a.Width, a.Height, a.Features, a.PolicyLen, a.Filters, a.Residuals),
	}
	if len(a.Weights) != len(n.specs) {
		return nil, fmt.Errorf("archive has %d tensors, want %d", len(a.Weights), len(n.specs))
	}
	n.weights = make([]*tensor.Dense, len(n.specs))
	for i, spec := range n.specs {
		if len(a.Weights[i]) != spec.shape.TotalSize() {
			return nil, fmt.Errorf("tensor %s has %d values, want %d", spec.name, len(a.Weights[i]), spec.shape.TotalSize())
		}
		n.weights[i] = tensor.New(tensor.WithShape(spec.shape...), tensor.WithBacking(a.Weights[i]))
	}
	return n, nil
}

// Write persists the parameter archive and generation to path. Runs
// under the read lock: inference may continue while a snapshot is saved.
func (n *Network) Write(path string) error {
	n.mu.RLock()
	data, err := n.encodeLocked()
	n.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename model: %w", err)
	}
	return nil
}

// Read replaces this handle's parameters and generation from path. Runs
// under the write lock: this is the promotion point, excluded against
// all inference.
func (n *Network) Read(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	a, err := decodeArchive(data)
	if err != nil {
		return err
	}

	loaded, err := fromArchive(a)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.width = loaded.width
	n.height = loaded.height
	n.features = loaded.features
	n.psize = loaded.psize
	n.filters = loaded.filters
	n.residuals = loaded.residuals
	n.specs = loaded.specs
	n.weights = loaded.weights
	n.generation = loaded.generation
	return nil
}

func hasNaN(v []float32) bool {
	for _, x := range v {
		if math32.IsNaN(x) {
			return true
		}
	}
	return false
}
