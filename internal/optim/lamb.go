package optim

import (
	"math"

	"github.com/pkg/errors"
)

// lamb is the layer-wise adaptive variant: an adam-style normalized update
// rescaled by the trust ratio ‖w‖ / ‖update‖, so every layer moves a
// distance proportional to its own weight norm regardless of gradient
// scale.
//
//	m = β1'·m + (1−β1')·g
//	v = β2'·v + (1−β2')·g²
//	u = (m/(1−β1^t)) / (sqrt(v/(1−β2^t)) + eps)
//	delta = lr · (‖w‖/‖u‖) · u
//
// Both norms are epsilon-guarded; a zero weight or zero update leaves the
// trust ratio at 1 rather than erroring mid-training.
type lamb struct {
	m     state
	v     state
	steps map[int]float64
}

func newLAMB(args []string) (Rule, error) {
	if len(args) != 0 {
		return nil, errors.Errorf("lamb takes no arguments, got %v", args)
	}
	return &lamb{m: make(state), v: make(state), steps: make(map[int]float64)}, nil
}

func (l *lamb) Name() string { return "lamb" }

func (l *lamb) Apply(ctx *Context) {
	id := ctx.Var.Tensor().ID()
	l.steps[id] += float64(ctx.Indicator)
	t := l.steps[id]

	m := l.m.slot(ctx.Var)
	v := l.v.slot(ctx.Var)
	beta1 := soften(ctx.Beta1, ctx.Indicator)
	beta2 := soften(ctx.Beta2, ctx.Indicator)
	c1, c2 := biasCorrection(ctx.Beta1, ctx.Beta2, t)

	weights := ctx.Var.Value()
	var weightSq, updateSq float64
	for i, g := range ctx.Grad {
		m[i] = beta1*m[i] + (1-beta1)*g
		v[i] = beta2*v[i] + (1-beta2)*g*g
		mHat := m[i] / c1
		vHat := v[i] / c2
		u := mHat / (float32(math.Sqrt(float64(vHat))) + ctx.Eps)
		ctx.Grad[i] = u
		weightSq += float64(weights[i]) * float64(weights[i])
		updateSq += float64(u) * float64(u)
	}

	trust := 1.0
	if weightSq > 0 && updateSq > 0 {
		trust = math.Sqrt(weightSq) / math.Sqrt(updateSq)
	}
	scale := ctx.LR * float32(trust)
	for i := range ctx.Grad {
		ctx.Grad[i] *= scale
	}
}
