package nn

import (
	"fmt"
	"math"
	"math/rand"

	gg "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// weightSpec names one learnable tensor and its shape.
type weightSpec struct {
	name  string
	shape tensor.Shape
}

// specs lists every learnable in forward order for the given topology:
// an initial 3x3 convolution, residual blocks of two 3x3 convolutions,
// then the policy and value heads.
func specs(width, height, features, psize, filters, residuals int) []weightSpec {
	out := []weightSpec{
		{"conv0", tensor.Shape{filters, features, 3, 3}},
	}
	for i := 0; i < residuals; i++ {
		out = append(out,
			weightSpec{fmt.Sprintf("res%d_conv1", i), tensor.Shape{filters, filters, 3, 3}},
			weightSpec{fmt.Sprintf("res%d_conv2", i), tensor.Shape{filters, filters, 3, 3}},
		)
	}
	out = append(out,
		weightSpec{"policy_conv", tensor.Shape{32, filters, 1, 1}},
		weightSpec{"policy_fc_w", tensor.Shape{32 * width * height, psize}},
		weightSpec{"policy_fc_b", tensor.Shape{1, psize}},
		weightSpec{"value_conv", tensor.Shape{3, filters, 1, 1}},
		weightSpec{"value_fc1_w", tensor.Shape{3 * width * height, 128}},
		weightSpec{"value_fc1_b", tensor.Shape{1, 128}},
		weightSpec{"value_fc2_w", tensor.Shape{128, 1}},
		weightSpec{"value_fc2_b", tensor.Shape{1, 1}},
	)
	return out
}

// initWeights allocates and He-initializes every learnable tensor.
func initWeights(ws []weightSpec, rng *rand.Rand) []*tensor.Dense {
	out := make([]*tensor.Dense, len(ws))
	for i, w := range ws {
		n := w.shape.TotalSize()
		backing := make([]float32, n)

		fanIn := 1
		for _, d := range w.shape[1:] {
			fanIn *= d
		}
		std := float32(math.Sqrt(2 / float64(fanIn)))
		for j := range backing {
			backing[j] = float32(rng.NormFloat64()) * std
		}

		out[i] = tensor.New(tensor.WithShape(w.shape...), tensor.WithBacking(backing))
	}
	return out
}

// forward holds one compiled view of the network at a fixed batch size.
type forward struct {
	g      *gg.ExprGraph
	input  *gg.Node
	policy *gg.Node // softmaxed, (batch, psize)
	logits *gg.Node // pre-softmax, for the training loss
	value  *gg.Node // tanh'd, (batch, 1)
	params gg.Nodes
}

// buildForward assembles the graph for one batch size. Weight nodes are
// backed by the stored tensors, so solver steps taken against this graph
// update the network in place.
func (n *Network) buildForward(batch int) (f *forward, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build graph: %v", r)
		}
	}()

	g := gg.NewGraph()

	wnodes := make(gg.Nodes, len(n.weights))
	for i, spec := range n.specs {
		wnodes[i] = gg.NewTensor(g, tensor.Float32, len(spec.shape),
			gg.WithShape(spec.shape...), gg.WithName(spec.name), gg.WithValue(n.weights[i]))
	}

	input := gg.NewTensor(g, tensor.Float32, 4,
		gg.WithShape(batch, n.height, n.width, n.features), gg.WithName("input"))

	// Observations arrive HWC; convolutions want CHW.
	x := gg.Must(gg.Transpose(input, 0, 3, 1, 2))

	conv := func(x, w *gg.Node, kernel, pad int) *gg.Node {
		return gg.Must(gg.Conv2d(x, w, tensor.Shape{kernel, kernel}, []int{pad, pad}, []int{1, 1}, []int{1, 1}))
	}
	fc := func(x, w, b *gg.Node) *gg.Node {
		return gg.Must(gg.BroadcastAdd(gg.Must(gg.Mul(x, w)), b, nil, []byte{0}))
	}

	wi := 0
	next := func() *gg.Node { n := wnodes[wi]; wi++; return n }

	x = gg.Must(gg.Rectify(conv(x, next(), 3, 1)))

	for i := 0; i < n.residuals; i++ {
		skip := x
		y := gg.Must(gg.Rectify(conv(x, next(), 3, 1)))
		y = conv(y, next(), 3, 1)
		x = gg.Must(gg.Rectify(gg.Must(gg.Add(skip, y))))
	}

	// Policy head.
	ph := gg.Must(gg.Rectify(conv(x, next(), 1, 0)))
	ph = gg.Must(gg.Reshape(ph, tensor.Shape{batch, 32 * n.width * n.height}))
	logits := fc(ph, next(), next())
	policy := gg.Must(gg.SoftMax(logits, 1))

	// Value head.
	vh := gg.Must(gg.Rectify(conv(x, next(), 1, 0)))
	vh = gg.Must(gg.Reshape(vh, tensor.Shape{batch, 3 * n.width * n.height}))
	vh = gg.Must(gg.Rectify(fc(vh, next(), next())))
	value := gg.Must(gg.Tanh(fc(vh, next(), next())))

	return &forward{
		g:      g,
		input:  input,
		policy: policy,
		logits: logits,
		value:  value,
		params: wnodes,
	}, nil
}
