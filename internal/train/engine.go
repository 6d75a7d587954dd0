// Package train drives one optimization step end to end: forward
// evaluation, per-head reverse traversal, multi-loss combination, gradient
// accumulation, the update-rule chain and the regularization passes, in
// that order.
//
// The engine is deliberately free of goroutines, ambient randomness and
// global state: every effect flows through the graph or the per-variable
// buffers it owns, so the surrounding execution substrate may replicate
// the identical step across many compute units holding disjoint shards.
package train

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/veld-ml/veld/internal/backprop"
	"github.com/veld-ml/veld/internal/graph"
	"github.com/veld-ml/veld/internal/optim"
	"github.com/veld-ml/veld/internal/pareto"
)

// Multi-loss strategies.
const (
	StrategySum    = "sum"  // plain summation of head losses
	StrategyPareto = "mgda" // min-norm blending, exactly two heads
)

// Config selects the update behavior for an Engine. The zero value of a
// field means its default.
type Config struct {
	// Optimizer is the rule chain, e.g. "clip:1.0-adam". Default "adam".
	Optimizer string

	// GradAccumulation is the window size N: gradients from N raw steps
	// sum into one update. Default (0 or 1) updates every step.
	GradAccumulation int

	// MultiLoss is "sum" (default) or "mgda". "mgda" accepts at most two
	// loss heads.
	MultiLoss string

	// WeightDecay adds decoupled L2 shrinkage to large tensors when > 0.
	WeightDecay float32

	// WeightStandardization rescales large tensors to their target
	// variance after each update; ScaleByDepth additionally multiplies
	// the target variance by Depth.
	WeightStandardization bool
	ScaleByDepth          bool
	Depth                 int

	// GainLRMultiplier rescales the final delta of RoleGain variables.
	// Default 1.
	GainLRMultiplier float32

	// Moment coefficients for adam-style rules. Defaults 0.9, 0.999,
	// 1e-8.
	Beta1 float32
	Beta2 float32
	Eps   float32
}

// withDefaults fills zero-valued fields, mirroring the chain rules'
// constructor defaults.
func (c Config) withDefaults() Config {
	if c.Optimizer == "" {
		c.Optimizer = "adam"
	}
	if c.GradAccumulation == 0 {
		c.GradAccumulation = 1
	}
	if c.MultiLoss == "" {
		c.MultiLoss = StrategySum
	}
	if c.GainLRMultiplier == 0 {
		c.GainLRMultiplier = 1
	}
	if c.Beta1 == 0 {
		c.Beta1 = 0.9
	}
	if c.Beta2 == 0 {
		c.Beta2 = 0.999
	}
	if c.Eps == 0 {
		c.Eps = 1e-8
	}
	return c
}

// StepResult carries one step's scalar outputs for the training loop.
type StepResult struct {
	// Loss is the scalarized loss: the γ-blend under "mgda", the sum
	// under "sum", the single head's value otherwise.
	Loss float32

	// PerHead holds each head's raw loss value.
	PerHead []float32

	// Gamma is the blend coefficient (1 for a single head or "sum").
	Gamma float32

	// Applied is false on accumulate-only steps: gradients were buffered
	// and no variable changed.
	Applied bool

	// Diagnostics maps named scalars for logging.
	Diagnostics map[string]float32
}

// Engine owns the per-step machinery for one graph: the resolved rule
// chain, the accumulation buffers and the raw step counter.
type Engine struct {
	graph  *graph.Graph
	losses []*graph.Tensor
	vars   []*graph.Variable
	chain  []optim.Rule
	cfg    Config

	buffers map[int]*optim.AccumBuffer
	step    int64
}

// New validates the configuration and graph and builds an engine.
// Configuration errors — an unknown optimizer, a bad accumulation window,
// more than two heads under "mgda", an unreachable trainable variable —
// are fatal here, never deferred to step time.
func New(g *graph.Graph, losses []*graph.Tensor, vars []*graph.Variable, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	if len(losses) == 0 {
		return nil, errors.New("train: at least one loss head is required")
	}
	for i, loss := range losses {
		if !loss.Shape().IsScalar() {
			return nil, errors.Errorf("train: loss head %d is not scalar (shape %v)", i, loss.Shape())
		}
	}
	switch cfg.MultiLoss {
	case StrategySum:
	case StrategyPareto:
		if len(losses) > 2 {
			return nil, errors.Errorf("train: %q balancing supports at most two loss heads, got %d",
				StrategyPareto, len(losses))
		}
	default:
		return nil, errors.Errorf("train: unknown multi-loss strategy %q", cfg.MultiLoss)
	}
	if cfg.GradAccumulation < 1 {
		return nil, errors.Errorf("train: gradient accumulation window %d must be at least 1", cfg.GradAccumulation)
	}
	if cfg.WeightDecay < 0 {
		return nil, errors.Errorf("train: negative weight decay %v", cfg.WeightDecay)
	}
	if cfg.ScaleByDepth && cfg.Depth < 1 {
		return nil, errors.Errorf("train: depth scaling requires a positive depth, got %d", cfg.Depth)
	}
	if len(vars) == 0 {
		return nil, errors.New("train: no trainable variables")
	}
	seen := make(map[int]bool, len(vars))
	for _, v := range vars {
		if seen[v.Tensor().ID()] {
			return nil, errors.Errorf("train: variable %q listed twice", v.Name())
		}
		seen[v.Tensor().ID()] = true
	}

	specs, err := optim.ParseChain(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	chain, err := optim.NewChain(specs)
	if err != nil {
		return nil, err
	}

	if err := checkReachability(g, losses, vars); err != nil {
		return nil, err
	}

	return &Engine{
		graph:   g,
		losses:  losses,
		vars:    vars,
		chain:   chain,
		cfg:     cfg,
		buffers: make(map[int]*optim.AccumBuffer),
	}, nil
}

// checkReachability rejects graphs in which a trainable variable cannot
// receive a gradient from any loss head.
func checkReachability(g *graph.Graph, losses []*graph.Tensor, vars []*graph.Variable) error {
	ops := g.Operations()
	reachable := make(map[int]struct{})
	for _, loss := range losses {
		down := backprop.Downstream(ops, vars)
		for id := range backprop.Reachable(ops, loss, down) {
			reachable[id] = struct{}{}
		}
	}
	for _, v := range vars {
		if _, ok := reachable[v.Tensor().ID()]; !ok {
			return errors.Errorf("train: trainable variable %q is unreachable from every loss head", v.Name())
		}
	}
	return nil
}

// Step runs one raw training step under the externally scheduled learning
// rate and returns the step's scalar outputs. On accumulate steps of the
// window, gradients are buffered and no variable changes; on apply steps
// the buffered window sum flows through the rule chain and the
// regularization passes into the stored values.
//
// Any mid-step failure abandons the step and propagates; the caller owns
// restart and checkpoint-resume.
func (e *Engine) Step(lr float32) (*StepResult, error) {
	e.graph.Forward()

	perHead := make([]float32, len(e.losses))
	headGrads := make([]map[int][]float32, len(e.losses))
	ops := e.graph.Operations()
	for i, loss := range e.losses {
		perHead[i] = loss.Scalar()
		down := backprop.Downstream(ops, e.vars)
		grads, err := backprop.Backward(ops, loss, e.vars, down)
		if err != nil {
			return nil, errors.Wrapf(err, "train: loss head %d", i)
		}
		headGrads[i] = grads
	}

	combined, loss, gamma := e.combine(perHead, headGrads)

	indicator := optim.StepScalars(e.step, e.cfg.GradAccumulation)
	applied := indicator == 1
	updated := make(map[int]bool, len(e.vars))

	for _, v := range e.vars {
		grad := combined[v.Tensor().ID()]
		if grad == nil {
			continue // outside this step's gradient cone: no update call
		}
		if e.cfg.GradAccumulation > 1 {
			buf := e.buffer(v)
			if !applied {
				buf.Add(grad)
				continue
			}
			grad = buf.Flush(grad)
		}
		if updated[v.Tensor().ID()] {
			panic(fmt.Sprintf("train: variable %q updated twice in one step", v.Name()))
		}
		updated[v.Tensor().ID()] = true
		e.update(v, grad, lr, indicator)
	}

	e.step++
	res := &StepResult{
		Loss:    loss,
		PerHead: perHead,
		Gamma:   gamma,
		Applied: applied,
		Diagnostics: map[string]float32{
			"loss": loss,
			"lr":   lr,
		},
	}
	for i, l := range perHead {
		res.Diagnostics[fmt.Sprintf("loss/head%d", i)] = l
	}
	if e.cfg.MultiLoss == StrategyPareto && len(e.losses) == 2 {
		res.Diagnostics["pareto/gamma"] = gamma
	}
	return res, nil
}

// combine reduces the per-head gradients to one gradient per variable and
// the scalarized loss.
func (e *Engine) combine(perHead []float32, headGrads []map[int][]float32) (map[int][]float32, float32, float32) {
	if len(e.losses) == 1 {
		return headGrads[0], perHead[0], 1
	}
	if e.cfg.MultiLoss == StrategyPareto {
		var acc pareto.Accumulator
		for _, v := range e.vars {
			id := v.Tensor().ID()
			acc.Add(headGrads[0][id], headGrads[1][id])
		}
		gamma := acc.Gamma()
		combined := make(map[int][]float32, len(e.vars))
		for _, v := range e.vars {
			id := v.Tensor().ID()
			if blended := pareto.Blend(gamma, headGrads[0][id], headGrads[1][id]); blended != nil {
				combined[id] = blended
			}
		}
		return combined, gamma*perHead[0] + (1-gamma)*perHead[1], gamma
	}

	// Plain summation across any number of heads.
	combined := make(map[int][]float32, len(e.vars))
	var total float32
	for _, l := range perHead {
		total += l
	}
	for _, grads := range headGrads {
		for id, g := range grads {
			if acc, ok := combined[id]; ok {
				for i, gv := range g {
					acc[i] += gv
				}
			} else {
				cp := make([]float32, len(g))
				copy(cp, g)
				combined[id] = cp
			}
		}
	}
	return combined, total, 1
}

// update runs one variable's gradient through the chain and the
// regularization passes, then assigns.
func (e *Engine) update(v *graph.Variable, grad []float32, lr, indicator float32) {
	ctx := &optim.Context{
		Var:       v,
		Grad:      grad,
		LR:        lr,
		Step:      e.step,
		Indicator: indicator,
		Beta1:     e.cfg.Beta1,
		Beta2:     e.cfg.Beta2,
		Eps:       e.cfg.Eps,
	}
	for _, rule := range e.chain {
		rule.Apply(ctx)
	}
	if v.Role() == graph.RoleGain {
		for i := range ctx.Grad {
			ctx.Grad[i] *= e.cfg.GainLRMultiplier
		}
	}

	large := v.Large()
	if large && e.cfg.WeightDecay > 0 {
		optim.Decay(ctx, e.cfg.WeightDecay)
	}
	if large && e.cfg.WeightStandardization {
		variance := optim.TargetVariance(v.FanIn(), v.Size(), e.cfg.Depth, e.cfg.ScaleByDepth)
		optim.Standardize(v, ctx.Grad, variance, e.cfg.Eps)
		return
	}
	optim.ApplySub(v, ctx.Grad)
}

// buffer returns the variable's accumulation buffer, creating the owning
// record on first use (the buffer's storage itself is lazy).
func (e *Engine) buffer(v *graph.Variable) *optim.AccumBuffer {
	buf, ok := e.buffers[v.Tensor().ID()]
	if !ok {
		buf = &optim.AccumBuffer{}
		e.buffers[v.Tensor().ID()] = buf
	}
	return buf
}

// StepCount returns the number of raw steps taken so far.
func (e *Engine) StepCount() int64 { return e.step }
