package optim

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// clip rescales the gradient so its global L2 norm never exceeds the
// configured threshold. Gradients at or below the threshold pass through
// untouched. Stateless.
type clip struct {
	threshold float32
}

func newClip(args []string) (Rule, error) {
	threshold := float32(1.0)
	if len(args) > 1 {
		return nil, errors.Errorf("clip takes at most one argument, got %v", args)
	}
	if len(args) == 1 {
		parsed, err := strconv.ParseFloat(args[0], 32)
		if err != nil {
			return nil, errors.Wrapf(err, "clip threshold %q", args[0])
		}
		if parsed <= 0 {
			return nil, errors.Errorf("clip threshold %v must be positive", parsed)
		}
		threshold = float32(parsed)
	}
	return clip{threshold: threshold}, nil
}

func (clip) Name() string { return "clip" }

func (c clip) Apply(ctx *Context) {
	var sq float64
	for _, g := range ctx.Grad {
		sq += float64(g) * float64(g)
	}
	norm := math.Sqrt(sq)
	if norm <= float64(c.threshold) {
		return
	}
	scale := c.threshold / float32(norm)
	for i := range ctx.Grad {
		ctx.Grad[i] *= scale
	}
}
