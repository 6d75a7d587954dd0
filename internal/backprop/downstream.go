// Package backprop walks a dataflow graph backward from a scalar loss and
// produces one complete gradient per trainable variable.
//
// The walk is a single logically sequential pass: a forward reachability
// scan prunes operations that cannot influence the loss from a trainable
// variable, a reverse prepass sizes per-tensor contribution counts, and the
// reverse traversal itself accumulates gradients in an arena keyed by
// tensor id, evicting each entry the moment its last contributor arrives.
// Peak memory is bounded by the number of live, not-yet-finalized tensors.
package backprop

import "github.com/veld-ml/veld/internal/graph"

// Downstream computes the set of tensor ids forward-reachable from the
// trainable variables through gradient-capable operations. An operation's
// outputs join the set iff the operation has a gradient rule and at least
// one input is already in the set.
//
// The set must be recomputed per loss head unless heads provably share the
// identical variable set and graph prefix.
func Downstream(ops []*graph.Operation, trainables []*graph.Variable) map[int]struct{} {
	down := make(map[int]struct{}, len(trainables))
	for _, v := range trainables {
		down[v.Tensor().ID()] = struct{}{}
	}
	for _, op := range ops {
		if !op.HasGradient() {
			continue
		}
		if !anyIn(op.Inputs(), down) {
			continue
		}
		for _, out := range op.Outputs() {
			down[out.ID()] = struct{}{}
		}
	}
	return down
}

// Reachable returns the tensor ids that lie on some gradient path between
// the loss and the downstream set: the loss itself plus every downstream
// input of an operation whose output is already reachable. A trainable
// variable absent from this set receives no gradient from this loss head.
func Reachable(ops []*graph.Operation, loss *graph.Tensor, down map[int]struct{}) map[int]struct{} {
	needed := map[int]struct{}{loss.ID(): {}}
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if !liveOp(op, needed, down) {
			continue
		}
		for _, in := range op.Inputs() {
			if _, ok := down[in.ID()]; ok {
				needed[in.ID()] = struct{}{}
			}
		}
	}
	return needed
}

// liveOp reports whether an operation will contribute gradients during the
// reverse traversal of this loss head: it must be gradient-capable, some
// output gradient must be wanted, and some input must be downstream.
func liveOp(op *graph.Operation, needed, down map[int]struct{}) bool {
	if !op.HasGradient() {
		return false
	}
	if !anyIn(op.Outputs(), needed) {
		return false
	}
	return anyIn(op.Inputs(), down)
}

func anyIn(ts []*graph.Tensor, set map[int]struct{}) bool {
	for _, t := range ts {
		if _, ok := set[t.ID()]; ok {
			return true
		}
	}
	return false
}
