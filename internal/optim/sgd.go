package optim

import (
	"strconv"

	"github.com/pkg/errors"
)

// sgd scales the gradient by the learning rate:
//
//	delta = lr * grad
type sgd struct{}

func newSGD(args []string) (Rule, error) {
	if len(args) != 0 {
		return nil, errors.Errorf("sgd takes no arguments, got %v", args)
	}
	return sgd{}, nil
}

func (sgd) Name() string { return "sgd" }

func (sgd) Apply(ctx *Context) {
	for i := range ctx.Grad {
		ctx.Grad[i] *= ctx.LR
	}
}

// momentum keeps a per-variable velocity and emits lr-scaled velocity:
//
//	vel = β'·vel + (1−β')·grad
//	delta = lr * vel
//
// β' is the softened coefficient from the context, so on accumulate steps
// (indicator 0) the velocity is carried through unchanged and the emitted
// delta reproduces the previous velocity.
type momentum struct {
	beta float32
	vel  state
}

func newMomentum(args []string) (Rule, error) {
	beta := float32(0.9)
	if len(args) > 1 {
		return nil, errors.Errorf("momentum takes at most one argument, got %v", args)
	}
	if len(args) == 1 {
		parsed, err := strconv.ParseFloat(args[0], 32)
		if err != nil {
			return nil, errors.Wrapf(err, "momentum coefficient %q", args[0])
		}
		if parsed < 0 || parsed >= 1 {
			return nil, errors.Errorf("momentum coefficient %v outside [0, 1)", parsed)
		}
		beta = float32(parsed)
	}
	return &momentum{beta: beta, vel: make(state)}, nil
}

func (m *momentum) Name() string { return "momentum" }

func (m *momentum) Apply(ctx *Context) {
	beta := soften(m.beta, ctx.Indicator)
	vel := m.vel.slot(ctx.Var)
	for i, g := range ctx.Grad {
		vel[i] = beta*vel[i] + (1-beta)*g
		ctx.Grad[i] = ctx.LR * vel[i]
	}
}
