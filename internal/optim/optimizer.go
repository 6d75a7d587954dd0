// Package optim implements the stateful update-rule chain that turns a
// finalized gradient into the delta subtracted from a variable, plus the
// gradient-accumulation buffer and the regularization passes around it.
//
// A chain is configured as a string like "clip:1.0-adam": rule kinds
// separated by '-', each optionally carrying ':'-prefixed arguments. The
// string is parsed once at configuration time into tagged RuleSpec records
// and resolved into a slice of Rule strategy objects; nothing on the hot
// path dispatches on strings.
package optim

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/veld-ml/veld/internal/graph"
)

// ReservedAccumulate is the chain kind reserved for "apply the
// accumulation buffer". It is dispatched by the engine, never by a rule,
// and no rule may register or appear under it. The check is by name, not
// position.
const ReservedAccumulate = "accumulate"

// Context is the transient per-(variable, step) record handed through the
// rule chain. Grad is consumed and replaced by each rule in turn.
type Context struct {
	Var  *graph.Variable
	Grad []float32

	LR   float32
	Step int64 // raw step counter, 0-based

	// Indicator is 1.0 on apply steps of the accumulation window, else
	// 0.0. Moment-bearing rules multiply their advance coefficients by it
	// and the complements by 1−Indicator, so moment state advances once
	// per window without branching. Beta1 and Beta2 are the configured
	// (unsoftened) coefficients.
	Indicator float32
	Beta1     float32
	Beta2     float32
	Eps       float32
}

// Rule is one element of the update chain. Apply consumes ctx.Grad and
// replaces it; rules may own persistent per-variable state keyed by the
// variable's tensor id.
type Rule interface {
	Name() string
	Apply(ctx *Context)
}

// RuleSpec is one parsed chain element: a kind tag plus its raw arguments.
type RuleSpec struct {
	Kind string
	Args []string
}

// builder resolves a RuleSpec into a Rule, validating arguments once.
type builder func(args []string) (Rule, error)

// registry of known rule kinds, populated here so the reserved-name
// collision is a single visible check.
var registry = map[string]builder{
	"sgd":      newSGD,
	"momentum": newMomentum,
	"adam":     newAdam,
	"lamb":     newLAMB,
	"clip":     newClip,
}

// ParseChain splits a chain string like "clip:1.0-adam" into RuleSpecs.
// Unknown kinds are resolved later by NewChain; the reserved accumulation
// kind is rejected here so it can never alias a real rule.
func ParseChain(spec string) ([]RuleSpec, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errors.New("optim: empty optimizer chain")
	}
	parts := strings.Split(spec, "-")
	out := make([]RuleSpec, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(part, ":")
		kind := strings.TrimSpace(fields[0])
		if kind == "" {
			return nil, errors.Errorf("optim: empty rule kind in chain %q", spec)
		}
		if kind == ReservedAccumulate {
			return nil, errors.Errorf("optim: %q is reserved for the accumulation window and cannot appear in a chain", ReservedAccumulate)
		}
		out = append(out, RuleSpec{Kind: kind, Args: fields[1:]})
	}
	return out, nil
}

// NewChain resolves parsed specs into rule instances. An unknown kind is a
// fatal configuration error.
func NewChain(specs []RuleSpec) ([]Rule, error) {
	if _, clash := registry[ReservedAccumulate]; clash {
		panic("optim: a rule is registered under the reserved accumulation name")
	}
	chain := make([]Rule, 0, len(specs))
	for _, s := range specs {
		build, ok := registry[s.Kind]
		if !ok {
			return nil, errors.Errorf("optim: unknown optimizer %q in chain", s.Kind)
		}
		rule, err := build(s.Args)
		if err != nil {
			return nil, errors.Wrapf(err, "optim: building %q", s.Kind)
		}
		chain = append(chain, rule)
	}
	return chain, nil
}

// state is lazily allocated per-variable rule state: one persistent
// buffer per (variable, owning rule), shaped like the variable.
type state map[int][]float32

// slot returns the buffer for a variable, allocating zeros on first use.
func (s state) slot(v *graph.Variable) []float32 {
	buf, ok := s[v.Tensor().ID()]
	if !ok {
		buf = make([]float32, v.Size())
		s[v.Tensor().ID()] = buf
	}
	return buf
}
