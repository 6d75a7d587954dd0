package backprop

import (
	"github.com/pkg/errors"

	"github.com/veld-ml/veld/internal/graph"
)

// gradEntry is one arena record: the gradient accumulated so far for a
// tensor and the number of contributors still outstanding. An entry is
// read only after pending reaches zero and is removed at that exact point
// (variables) or when its producing operation consumes it (interior
// tensors) — never before completion, never after removal.
type gradEntry struct {
	pending int
	grad    []float32
}

// arena maps tensor id to its in-flight gradient record. Integer ids over
// a plain map give explicit removal instead of implicit shared ownership.
type arena map[int]*gradEntry

// Backward traverses ops in reverse order and returns the complete
// gradient for every trainable variable reachable from the loss, keyed by
// the variable's tensor id. Variables outside the loss's gradient cone do
// not appear in the result.
//
// The loss must be scalar; its seed gradient is 1.0.
func Backward(ops []*graph.Operation, loss *graph.Tensor, trainables []*graph.Variable, down map[int]struct{}) (map[int][]float32, error) {
	if !loss.Shape().IsScalar() {
		return nil, errors.Errorf("backprop: loss must be scalar, got shape %v", loss.Shape())
	}
	grads, spill := backward(ops, loss, trainables, down)
	if len(spill) != 0 {
		// Completed interior entries are consumed by their producers in
		// the same walk; anything left over is a traversal bug.
		return nil, errors.Errorf("backprop: %d gradient entries left in arena after traversal", len(spill))
	}
	return grads, nil
}

// backward is the traversal body. It returns the finalized variable
// gradients and whatever is left in the arena (empty on a correct walk);
// the split keeps the eviction invariant testable.
func backward(ops []*graph.Operation, loss *graph.Tensor, trainables []*graph.Variable, down map[int]struct{}) (map[int][]float32, arena) {
	// Reverse prepass: which ops contribute to this head, and how many
	// contributions each downstream tensor should expect. Exact counts
	// let the main pass treat a missing entry as "no contribution" and
	// evict entries the moment they complete.
	live := make([]bool, len(ops))
	needed := map[int]struct{}{loss.ID(): {}}
	expect := make(map[int]int)
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if !liveOp(op, needed, down) {
			continue
		}
		live[i] = true
		for _, in := range op.Inputs() {
			if _, ok := down[in.ID()]; ok {
				needed[in.ID()] = struct{}{}
				expect[in.ID()]++
			}
		}
	}

	varByTensor := make(map[int]*graph.Variable, len(trainables))
	for _, v := range trainables {
		varByTensor[v.Tensor().ID()] = v
	}

	entries := make(arena)
	entries[loss.ID()] = &gradEntry{pending: 0, grad: []float32{1.0}}
	finalized := make(map[int][]float32)

	for i := len(ops) - 1; i >= 0; i-- {
		if !live[i] {
			continue
		}
		op := ops[i]

		// Collect gradients recorded for the outputs. A missing entry is
		// no contribution, not zero: the rule receives nil in that slot.
		outGrads := make([][]float32, len(op.Outputs()))
		any := false
		for j, out := range op.Outputs() {
			e, ok := entries[out.ID()]
			if !ok {
				continue
			}
			if e.pending != 0 {
				panic("backprop: gradient for " + op.Name() + " output read before completion")
			}
			outGrads[j] = e.grad
			delete(entries, out.ID()) // producer consumes: evict
			any = true
		}
		if !any {
			continue
		}

		inGrads := op.Gradient(outGrads)
		for j, in := range op.Inputs() {
			if _, ok := down[in.ID()]; !ok {
				continue
			}
			e, ok := entries[in.ID()]
			if !ok {
				e = &gradEntry{pending: expect[in.ID()], grad: make([]float32, in.Size())}
				entries[in.ID()] = e
			}
			if gj := inGrads[j]; gj != nil {
				for k, gv := range gj {
					e.grad[k] += gv
				}
			}
			e.pending--
			if e.pending == 0 {
				if v, isVar := varByTensor[in.ID()]; isVar {
					finalized[v.Tensor().ID()] = e.grad
					delete(entries, in.ID())
				}
			}
		}
	}
	return finalized, entries
}
