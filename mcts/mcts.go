// Package mcts implements the batched PUCT tree search.
//
// A Tree interleaves selection with external neural evaluation: Select
// descends to a leaf and either backpropagates a terminal value itself
// or fills the caller's observation buffer and waits for Expand with the
// network's policy and value. This lets many trees share one batched
// inference call.
package mcts

import (
	"errors"
	"math"
	"math/rand"

	"github.com/chewxy/math32"
)

var (
	// ErrNoSuchChild reports an Advance on an action the root has no
	// child for.
	ErrNoSuchChild = errors.New("mcts: no child for action")

	// ErrEmptyRoot reports a Pick on a root with no expanded children.
	ErrEmptyRoot = errors.New("mcts: no children to pick from")
)

// Environment is the game surface the search needs. Implementations are
// owned by a single tree and need not be safe for concurrent use.
type Environment interface {
	// Turn is the side to move: +1 or -1.
	Turn() float32
	// Ply is the number of half-moves from the root position.
	Ply() int
	Push(action int)
	Pop()
	// Actions enumerates legal moves as action ids into the policy space.
	Actions() []int
	// Terminal reports a finished game and its outcome in {-1, 0, +1}
	// relative to the +1 player.
	Terminal() (value float32, done bool)
	// Observe writes the position into dst.
	Observe(dst []float32)
	// Heuristic is a scalar evaluation of the position, positive when the
	// +1 player is ahead. Unbounded; callers clamp.
	Heuristic() float32
	Reset()
}

// Params holds the search constants, usually filled from config.
type Params struct {
	CPUCT float32

	// ForceExpandUnvisited descends into the first unvisited child
	// instead of comparing UCT among unvisited siblings.
	ForceExpandUnvisited bool

	// ScaleCPUCT divides cpuct by the number of children at each node.
	ScaleCPUCT bool

	// UnvisitedValue is the first-play urgency: the q assumed for a child
	// with no visits, in [-1, 1] before the turn sign is applied.
	UnvisitedValue float32

	// NoiseWeight mixes normalized Gamma(1,1) noise into child priors at
	// every expansion.
	NoiseWeight float32

	// Bootstrap blends the environment heuristic into expansion values:
	// v = (1-Weight)*v + Weight*clamp(heur/Window, -1, 1)*Amp.
	BootstrapWeight float32
	BootstrapWindow float32
	BootstrapAmp    float32
}

// Node is one state in the tree. turn is the player whose move produced
// this node; children's turns always negate their parent's.
type Node struct {
	visits   int
	valueSum float32
	prior    float32
	action   int
	turn     float32
	children []*Node
	parent   *Node
}

// q is the mean backed-up value, or def for an unvisited node.
func (n *Node) q(def float32) float32 {
	if n.visits > 0 {
		return n.valueSum / float32(n.visits)
	}
	return def
}

// backprop adds value (absolute, relative to the +1 player) along the
// path to the root, mapped into [0, 1] from each node's perspective.
func (n *Node) backprop(value float32) {
	for ; n != nil; n = n.parent {
		n.visits++
		n.valueSum += 0.5 + (value*n.turn)/2
	}
}

// Tree is a PUCT search tree over one Environment.
type Tree struct {
	env    Environment
	root   *Node
	cursor *Node // node awaiting expansion; nil when the next Select starts at root
	params Params
	rng    *rand.Rand
}

// NewTree builds a tree rooted at env's current position.
func NewTree(env Environment, params Params, rng *rand.Rand) *Tree {
	return &Tree{
		env:    env,
		root:   &Node{turn: -env.Turn()},
		params: params,
		rng:    rng,
	}
}

// Env exposes the underlying environment. The caller must not mutate it
// while a selection is pending.
func (t *Tree) Env() Environment { return t.env }

// Visits is the root visit count.
func (t *Tree) Visits() int { return t.root.visits }

// Root returns the root node, for diagnostics.
func (t *Tree) Root() *Node { return t.root }

// Select descends from the cursor (or root) to a leaf. If the leaf is
// terminal the value is backpropagated immediately and Select returns
// false; otherwise the observation is written to obs and the tree waits
// for Expand. The environment is pushed along the descent and unwound
// on terminal backprop or on Expand.
func (t *Tree) Select(obs []float32) bool {
	if t.cursor == nil {
		t.cursor = t.root
	}

	for {
		if len(t.cursor.children) == 0 {
			if value, done := t.env.Terminal(); done {
				t.cursor.backprop(value)
				t.unwind()
				return false
			}
			t.env.Observe(obs)
			return true
		}

		cpuct := t.params.CPUCT
		if t.params.ScaleCPUCT {
			cpuct /= float32(len(t.cursor.children))
		}

		sqrtN := math32.Sqrt(float32(t.cursor.visits))

		var best *Node
		bestUCT := float32(-1000)
		for _, c := range t.cursor.children {
			if t.params.ForceExpandUnvisited && c.visits == 0 {
				best = c
				break
			}

			uct := c.q(t.params.UnvisitedValue*c.turn) + c.prior*cpuct*sqrtN/float32(c.visits+1)
			if uct > bestUCT {
				best = c
				bestUCT = uct
			}
		}

		t.env.Push(best.action)
		t.cursor = best
	}
}

// Expand attaches one child per legal action using the given policy and
// backpropagates value from the cursor. The policy is renormalized over
// legal actions (uniform if it has no mass there) and mixed with
// normalized Gamma(1,1) noise. value arrives relative to the expanding
// player and is converted to an absolute value before backprop; unless
// disableBootstrap is set, the environment heuristic is blended in.
func (t *Tree) Expand(policy []float32, value float32, disableBootstrap bool) {
	actions := t.env.Actions()

	var ptotal float32
	for _, a := range actions {
		ptotal += policy[a]
	}

	noise := make([]float32, len(actions))
	var noiseTotal float32
	for i := range noise {
		// Gamma(1,1) variates, normalized below: a flat Dirichlet sample.
		noise[i] = float32(t.rng.ExpFloat64())
		noiseTotal += noise[i]
	}

	uniform := 1 / float32(len(actions))
	for i, a := range actions {
		p := uniform
		if ptotal > 0 {
			p = policy[a] / ptotal
		}

		child := &Node{
			action: a,
			parent: t.cursor,
			turn:   -t.cursor.turn,
			prior:  (1-t.params.NoiseWeight)*p + t.params.NoiseWeight*noise[i]/noiseTotal,
		}
		t.cursor.children = append(t.cursor.children, child)
	}

	// The network value is relative to the player who expanded; recover
	// the absolute value before mixing and backprop.
	value *= t.cursor.turn

	if !disableBootstrap && t.params.BootstrapWeight > 0 {
		heur := t.env.Heuristic() / t.params.BootstrapWindow
		heur = math32.Min(math32.Max(heur, -1), 1)
		value = (1-t.params.BootstrapWeight)*value + t.params.BootstrapWeight*heur*t.params.BootstrapAmp
	}

	t.cursor.backprop(value)
	t.unwind()
}

// unwind pops the environment back to the root and clears the cursor.
func (t *Tree) unwind() {
	for t.cursor != t.root {
		t.env.Pop()
		t.cursor = t.cursor.parent
	}
	t.cursor = nil
}

// Pick chooses an action at the root. With temperature alpha below 0.1
// it is the visit-count argmax; otherwise child i is drawn with weight
// visits^(1/alpha).
func (t *Tree) Pick(alpha float32) (int, error) {
	if len(t.root.children) == 0 {
		return 0, ErrEmptyRoot
	}

	if alpha < 0.1 {
		bestN := 0
		best := -1
		for _, c := range t.root.children {
			if c.visits > bestN {
				bestN = c.visits
				best = c.action
			}
		}
		if best < 0 {
			// No child visited yet; fall back to the first.
			best = t.root.children[0].action
		}
		return best, nil
	}

	weights := make([]float64, len(t.root.children))
	var total float64
	for i, c := range t.root.children {
		w := math.Pow(float64(c.visits), 1/float64(alpha))
		weights[i] = w
		total += w
	}

	ind := t.rng.Float64() * total
	for i, c := range t.root.children {
		ind -= weights[i]
		if ind <= 0 {
			return c.action, nil
		}
	}
	return t.root.children[len(t.root.children)-1].action, nil
}

// Advance makes action the new root, dropping all sibling subtrees, and
// pushes it into the environment.
func (t *Tree) Advance(action int) error {
	var next *Node
	for _, c := range t.root.children {
		if c.action == action {
			next = c
			break
		}
	}
	if next == nil {
		return ErrNoSuchChild
	}

	next.parent = nil
	t.root = next
	t.env.Push(action)
	return nil
}

// Snapshot writes the root visit distribution over the full action
// space into dist: dist[child.action] = child.visits / (root.visits-1).
func (t *Tree) Snapshot(dist []float32) {
	for i := range dist {
		dist[i] = 0
	}
	denom := float32(t.root.visits - 1)
	if denom <= 0 {
		return
	}
	for _, c := range t.root.children {
		dist[c.action] = float32(c.visits) / denom
	}
}

// Reset rewinds the environment and drops the whole tree.
func (t *Tree) Reset() {
	t.env.Reset()
	t.root = &Node{turn: -t.env.Turn()}
	t.cursor = nil
}
