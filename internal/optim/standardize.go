package optim

import (
	"math"

	"github.com/veld-ml/veld/internal/graph"
)

// Decay folds decoupled L2 weight decay into the gradient after the rule
// chain has run:
//
//	grad += wd · value · lr
//
// The learning-rate factor keeps the shrinkage on the schedule's scale
// even though the chained rules have already consumed lr. Callers apply
// this only to large tensors.
func Decay(ctx *Context, weightDecay float32) {
	value := ctx.Var.Value()
	for i := range ctx.Grad {
		ctx.Grad[i] += weightDecay * value[i] * ctx.LR
	}
}

// TargetVariance is the closed-form variance of an orthogonal-initialized
// tensor with the given fan-in and total size:
//
//	maxFan = max(fanIn, size/fanIn)
//	var    = (1 − 1/maxFan)/size² + 1/maxFan − 2/size + 1/maxFan
//
// With depth scaling enabled the variance is multiplied by the block
// count. Zero fan-in or size degenerate to a harmless variance of 1
// instead of erroring.
func TargetVariance(fanIn, size, depth int, scaleByDepth bool) float64 {
	if fanIn <= 0 || size <= 0 {
		return 1
	}
	maxFan := float64(fanIn)
	if other := float64(size) / float64(fanIn); other > maxFan {
		maxFan = other
	}
	fSize := float64(size)
	variance := (1-1/maxFan)/(fSize*fSize) + 1/maxFan - 2/fSize + 1/maxFan
	if scaleByDepth && depth > 0 {
		variance *= float64(depth)
	}
	return variance
}

// Standardize computes the naive update v' = v − grad, rescales it to the
// target variance with an epsilon-guarded reciprocal square root, and
// assigns the result:
//
//	v' ← v' · rsqrt(mean(v'²) + eps) · sqrt(variance)
//
// This keeps parameter variance stationary across long-running training
// instead of letting repeated subtraction drift it. Must run after weight
// decay has been folded into grad; the order is load-bearing.
func Standardize(v *graph.Variable, grad []float32, variance float64, eps float32) {
	value := v.Value()
	var meanSq float64
	for i, g := range grad {
		updated := value[i] - g
		value[i] = updated
		meanSq += float64(updated) * float64(updated)
	}
	meanSq /= float64(len(value))
	scale := float32(math.Sqrt(variance) / math.Sqrt(meanSq+float64(eps)))
	for i := range value {
		value[i] *= scale
	}
}

// ApplySub is the plain final step for tensors that do not standardize:
// subtract the finished gradient from the stored value in place.
func ApplySub(v *graph.Variable, grad []float32) {
	value := v.Value()
	for i, g := range grad {
		value[i] -= g
	}
}
