package optim

import (
	"math"

	"github.com/pkg/errors"
)

// adam keeps first and second moment estimates per variable and emits the
// bias-corrected, lr-scaled update:
//
//	m = β1'·m + (1−β1')·g
//	v = β2'·v + (1−β2')·g²
//	delta = lr · (m / (1−β1^t)) / (sqrt(v / (1−β2^t)) + eps)
//
// β1', β2' are the indicator-softened coefficients, so moment state is
// carried through unchanged on accumulate steps; the apply-step count t
// advances by the indicator, keeping bias correction in lockstep.
type adam struct {
	m     state
	v     state
	steps map[int]float64 // apply-step count per variable
}

func newAdam(args []string) (Rule, error) {
	if len(args) != 0 {
		return nil, errors.Errorf("adam takes no arguments, got %v", args)
	}
	return &adam{m: make(state), v: make(state), steps: make(map[int]float64)}, nil
}

func (a *adam) Name() string { return "adam" }

func (a *adam) Apply(ctx *Context) {
	id := ctx.Var.Tensor().ID()
	a.steps[id] += float64(ctx.Indicator)
	t := a.steps[id]

	m := a.m.slot(ctx.Var)
	v := a.v.slot(ctx.Var)
	beta1 := soften(ctx.Beta1, ctx.Indicator)
	beta2 := soften(ctx.Beta2, ctx.Indicator)
	c1, c2 := biasCorrection(ctx.Beta1, ctx.Beta2, t)

	for i, g := range ctx.Grad {
		m[i] = beta1*m[i] + (1-beta1)*g
		v[i] = beta2*v[i] + (1-beta2)*g*g
		mHat := m[i] / c1
		vHat := v[i] / c2
		ctx.Grad[i] = ctx.LR * mHat / (float32(math.Sqrt(float64(vHat))) + ctx.Eps)
	}
}

// soften gates a moment coefficient by the apply-step indicator:
// β' = 1 + ind·(β−1). Indicator 0 gives β' = 1 and complement 0, freezing
// the moment without a branch.
func soften(beta, indicator float32) float32 {
	return 1 + indicator*(beta-1)
}

// biasCorrection returns (1−β1^t, 1−β2^t). Before the first apply step t
// is zero and the factors degenerate; they are epsilon-guarded because an
// accumulate-only step can legitimately run the chain math with frozen
// state.
func biasCorrection(beta1, beta2 float32, t float64) (float32, float32) {
	c1 := 1 - math.Pow(float64(beta1), t)
	c2 := 1 - math.Pow(float64(beta2), t)
	const floor = 1e-8
	return float32(math.Max(c1, floor)), float32(math.Max(c2, floor))
}
