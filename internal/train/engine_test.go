package train_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veld-ml/veld/internal/graph"
	"github.com/veld-ml/veld/internal/pareto"
	"github.com/veld-ml/veld/internal/train"
)

// scaledSumGraph builds a one-variable graph with loss = sum(c * v) so the
// gradient with respect to v is exactly c in every element.
func scaledSumGraph(t *testing.T, init []float32, c float32) (*graph.Graph, *graph.Tensor, *graph.Variable) {
	t.Helper()
	g := graph.New()
	v, err := g.NewVariable(graph.VariableConfig{
		Name:  "w",
		Shape: graph.Shape{len(init)},
		Init:  init,
	})
	require.NoError(t, err)
	loss := g.Sum(g.Scale(v.Tensor(), c))
	return g, loss, v
}

func TestStep_PlainSGDUpdate(t *testing.T) {
	g := graph.New()
	v, err := g.NewVariable(graph.VariableConfig{
		Name:  "w",
		Shape: graph.Shape{2},
		Init:  []float32{1, 1},
	})
	require.NoError(t, err)
	c, err := g.Constant([]float32{0.1, 0.1}, graph.Shape{2})
	require.NoError(t, err)
	loss := g.Sum(g.Mul(v.Tensor(), c))

	eng, err := train.New(g, []*graph.Tensor{loss}, []*graph.Variable{v}, train.Config{
		Optimizer: "sgd",
	})
	require.NoError(t, err)

	res, err := eng.Step(1)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.InDelta(t, 0.2, res.Loss, 1e-6)
	assert.Equal(t, float32(1), res.Gamma)
	assert.InDelta(t, 0.9, v.Value()[0], 1e-6)
	assert.InDelta(t, 0.9, v.Value()[1], 1e-6)
	assert.Equal(t, int64(1), eng.StepCount())
}

func TestStep_AccumulationWindow(t *testing.T) {
	g, loss, v := scaledSumGraph(t, []float32{1}, 0.2)

	eng, err := train.New(g, []*graph.Tensor{loss}, []*graph.Variable{v}, train.Config{
		Optimizer:        "sgd",
		GradAccumulation: 2,
	})
	require.NoError(t, err)

	// Step 0 buffers; the variable must not move.
	res, err := eng.Step(1)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, float32(1), v.Value()[0])

	// Step 1 applies the window sum 2·0.2 = 0.4.
	res, err = eng.Step(1)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.InDelta(t, 0.6, v.Value()[0], 1e-6)

	// The next window starts buffering again.
	res, err = eng.Step(1)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.InDelta(t, 0.6, v.Value()[0], 1e-6)
}

func TestStep_ParetoEqualHeads(t *testing.T) {
	g := graph.New()
	v, err := g.NewVariable(graph.VariableConfig{
		Name:  "w",
		Shape: graph.Shape{1},
		Init:  []float32{1},
	})
	require.NoError(t, err)
	l1 := g.Sum(g.Scale(v.Tensor(), 0.5))
	l2 := g.Sum(g.Scale(v.Tensor(), 0.5))

	eng, err := train.New(g, []*graph.Tensor{l1, l2}, []*graph.Variable{v}, train.Config{
		Optimizer: "sgd",
		MultiLoss: train.StrategyPareto,
	})
	require.NoError(t, err)

	res, err := eng.Step(1)
	require.NoError(t, err)

	// Identical head gradients blend evenly.
	assert.InDelta(t, 0.5, res.Gamma, 1e-6)
	assert.InDelta(t, 0.5, res.Loss, 1e-6)
	assert.InDelta(t, 0.5, v.Value()[0], 1e-6)
	assert.InDelta(t, 0.5, res.Diagnostics["pareto/gamma"], 1e-6)
}

func TestStep_ParetoDominantHead(t *testing.T) {
	g := graph.New()
	v, err := g.NewVariable(graph.VariableConfig{
		Name:  "w",
		Shape: graph.Shape{1},
		Init:  []float32{1},
	})
	require.NoError(t, err)
	l1 := g.Sum(g.Scale(v.Tensor(), 1))
	l2 := g.Sum(g.Scale(v.Tensor(), 0.25))

	eng, err := train.New(g, []*graph.Tensor{l1, l2}, []*graph.Variable{v}, train.Config{
		Optimizer: "sgd",
		MultiLoss: train.StrategyPareto,
	})
	require.NoError(t, err)

	res, err := eng.Step(1)
	require.NoError(t, err)

	// The first head's gradient dominates the dot products, so the
	// min-norm weight collapses onto the second head up to the floor.
	assert.InDelta(t, pareto.MinGamma, res.Gamma, 1e-6)
	assert.Len(t, res.PerHead, 2)
	assert.InDelta(t, 1, res.PerHead[0], 1e-6)
	assert.InDelta(t, 0.25, res.PerHead[1], 1e-6)
}

func TestStep_SumStrategyAddsHeads(t *testing.T) {
	g := graph.New()
	v, err := g.NewVariable(graph.VariableConfig{
		Name:  "w",
		Shape: graph.Shape{1},
		Init:  []float32{1},
	})
	require.NoError(t, err)
	l1 := g.Sum(g.Scale(v.Tensor(), 0.2))
	l2 := g.Sum(g.Scale(v.Tensor(), 0.3))

	eng, err := train.New(g, []*graph.Tensor{l1, l2}, []*graph.Variable{v}, train.Config{
		Optimizer: "sgd",
	})
	require.NoError(t, err)

	res, err := eng.Step(1)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, res.Loss, 1e-6)
	assert.Equal(t, float32(1), res.Gamma)
	assert.InDelta(t, 0.5, v.Value()[0], 1e-6)
}

func TestStep_GainLRMultiplier(t *testing.T) {
	g := graph.New()
	gain, err := g.NewVariable(graph.VariableConfig{
		Name:  "gain",
		Shape: graph.Shape{2},
		Role:  graph.RoleGain,
		Init:  []float32{1, 1},
	})
	require.NoError(t, err)
	c, err := g.Constant([]float32{1, 1}, graph.Shape{2})
	require.NoError(t, err)
	loss := g.Sum(g.Mul(gain.Tensor(), c))

	eng, err := train.New(g, []*graph.Tensor{loss}, []*graph.Variable{gain}, train.Config{
		Optimizer:        "sgd",
		GainLRMultiplier: 0.5,
	})
	require.NoError(t, err)

	_, err = eng.Step(0.1)
	require.NoError(t, err)

	// delta = 0.1 halved by the gain multiplier.
	assert.InDelta(t, 0.95, gain.Value()[0], 1e-6)
	assert.InDelta(t, 0.95, gain.Value()[1], 1e-6)
}

func TestStep_DecayThenStandardize(t *testing.T) {
	g := graph.New()
	v, err := g.NewVariable(graph.VariableConfig{
		Name:  "w",
		Shape: graph.Shape{2},
		Init:  []float32{1, -1},
	})
	require.NoError(t, err)
	c, err := g.Constant([]float32{0.1, 0.1}, graph.Shape{2})
	require.NoError(t, err)
	loss := g.Sum(g.Mul(v.Tensor(), c))

	eng, err := train.New(g, []*graph.Tensor{loss}, []*graph.Variable{v}, train.Config{
		Optimizer:             "sgd",
		WeightDecay:           0.5,
		WeightStandardization: true,
	})
	require.NoError(t, err)

	_, err = eng.Step(1)
	require.NoError(t, err)

	// grad after chain = [0.1, 0.1]; decay adds 0.5·value, giving
	// [0.6, -0.4]; the naive update [0.4, -0.6] has mean square 0.26 and
	// is rescaled to target variance 0.125.
	assert.InDelta(t, 0.27735, v.Value()[0], 1e-4)
	assert.InDelta(t, -0.41602, v.Value()[1], 1e-4)
}

func TestStep_SmallTensorSkipsDecayAndStandardization(t *testing.T) {
	g, loss, v := scaledSumGraph(t, []float32{1}, 0.2)

	eng, err := train.New(g, []*graph.Tensor{loss}, []*graph.Variable{v}, train.Config{
		Optimizer:             "sgd",
		WeightDecay:           0.5,
		WeightStandardization: true,
	})
	require.NoError(t, err)

	_, err = eng.Step(1)
	require.NoError(t, err)

	// A size-1 tensor takes the plain subtraction path.
	assert.InDelta(t, 0.8, v.Value()[0], 1e-6)
}

func TestStep_RoleFlaggedTensorSkipsDecay(t *testing.T) {
	g := graph.New()
	norm, err := g.NewVariable(graph.VariableConfig{
		Name:  "norm",
		Shape: graph.Shape{2},
		Role:  graph.RoleNormalization,
		Init:  []float32{1, 1},
	})
	require.NoError(t, err)
	c, err := g.Constant([]float32{0.1, 0.1}, graph.Shape{2})
	require.NoError(t, err)
	loss := g.Sum(g.Mul(norm.Tensor(), c))

	eng, err := train.New(g, []*graph.Tensor{loss}, []*graph.Variable{norm}, train.Config{
		Optimizer:             "sgd",
		WeightDecay:           0.5,
		WeightStandardization: true,
	})
	require.NoError(t, err)

	_, err = eng.Step(1)
	require.NoError(t, err)

	// A normalization-flagged tensor is never "large": plain subtraction,
	// no decay, no rescale.
	assert.InDelta(t, 0.9, norm.Value()[0], 1e-6)
	assert.InDelta(t, 0.9, norm.Value()[1], 1e-6)
}

func TestStep_Diagnostics(t *testing.T) {
	g := graph.New()
	v, err := g.NewVariable(graph.VariableConfig{
		Name:  "w",
		Shape: graph.Shape{1},
		Init:  []float32{1},
	})
	require.NoError(t, err)
	l1 := g.Sum(g.Scale(v.Tensor(), 0.5))
	l2 := g.Sum(g.Scale(v.Tensor(), 0.5))

	eng, err := train.New(g, []*graph.Tensor{l1, l2}, []*graph.Variable{v}, train.Config{
		Optimizer: "sgd",
		MultiLoss: train.StrategyPareto,
	})
	require.NoError(t, err)

	res, err := eng.Step(0.25)
	require.NoError(t, err)

	assert.Contains(t, res.Diagnostics, "loss")
	assert.Contains(t, res.Diagnostics, "loss/head0")
	assert.Contains(t, res.Diagnostics, "loss/head1")
	assert.Contains(t, res.Diagnostics, "pareto/gamma")
	assert.Equal(t, float32(0.25), res.Diagnostics["lr"])
}

func TestNew_ConfigErrors(t *testing.T) {
	build := func(cfg train.Config) error {
		g, loss, v := scaledSumGraph(t, []float32{1}, 0.5)
		_, err := train.New(g, []*graph.Tensor{loss}, []*graph.Variable{v}, cfg)
		return err
	}

	assert.Error(t, build(train.Config{Optimizer: "frobnicate"}))
	assert.Error(t, build(train.Config{MultiLoss: "median"}))
	assert.Error(t, build(train.Config{GradAccumulation: -1}))
	assert.Error(t, build(train.Config{WeightDecay: -0.1}))
	assert.Error(t, build(train.Config{ScaleByDepth: true}))
	assert.Error(t, build(train.Config{Optimizer: "accumulate"}))
	assert.NoError(t, build(train.Config{}))
}

func TestNew_ParetoRejectsThreeHeads(t *testing.T) {
	g := graph.New()
	v, err := g.NewVariable(graph.VariableConfig{
		Name:  "w",
		Shape: graph.Shape{1},
		Init:  []float32{1},
	})
	require.NoError(t, err)
	losses := []*graph.Tensor{
		g.Sum(g.Scale(v.Tensor(), 1)),
		g.Sum(g.Scale(v.Tensor(), 2)),
		g.Sum(g.Scale(v.Tensor(), 3)),
	}

	_, err = train.New(g, losses, []*graph.Variable{v}, train.Config{MultiLoss: train.StrategyPareto})
	assert.ErrorContains(t, err, "at most two loss heads")
}

func TestNew_RejectsNonScalarLoss(t *testing.T) {
	g := graph.New()
	v, err := g.NewVariable(graph.VariableConfig{
		Name:  "w",
		Shape: graph.Shape{2},
		Init:  []float32{1, 1},
	})
	require.NoError(t, err)
	vecLoss := g.Scale(v.Tensor(), 2)

	_, err = train.New(g, []*graph.Tensor{vecLoss}, []*graph.Variable{v}, train.Config{})
	assert.ErrorContains(t, err, "not scalar")
}

func TestNew_RejectsUnreachableVariable(t *testing.T) {
	g, loss, v := scaledSumGraph(t, []float32{1}, 0.5)
	orphan, err := g.NewVariable(graph.VariableConfig{
		Name:  "orphan",
		Shape: graph.Shape{1},
		Init:  []float32{0},
	})
	require.NoError(t, err)

	_, err = train.New(g, []*graph.Tensor{loss}, []*graph.Variable{v, orphan}, train.Config{})
	assert.ErrorContains(t, err, `"orphan" is unreachable`)
}

func TestNew_RejectsDuplicateVariable(t *testing.T) {
	g, loss, v := scaledSumGraph(t, []float32{1}, 0.5)

	_, err := train.New(g, []*graph.Tensor{loss}, []*graph.Variable{v, v}, train.Config{})
	assert.ErrorContains(t, err, "listed twice")
}

func TestNew_RejectsEmptyInputs(t *testing.T) {
	g, loss, v := scaledSumGraph(t, []float32{1}, 0.5)

	_, err := train.New(g, nil, []*graph.Variable{v}, train.Config{})
	assert.Error(t, err)

	_, err = train.New(g, []*graph.Tensor{loss}, nil, train.Config{})
	assert.Error(t, err)
}
