// Package graph holds the dataflow-graph contract between the
// model-construction layer and the training core: operations, the tensors
// they connect, and trainable variables with their structural roles.
//
// The graph is built once, validated at construction time, and then
// re-evaluated eagerly each step via Forward. Gradient rules are pure
// functions from output-gradients to input-gradients; everything a rule
// needs is expressed through the graph, so the surrounding execution
// substrate may replicate the identical traversal across compute units.
package graph

import (
	"github.com/pkg/errors"
)

// GradFunc is an operation's reverse-mode derivative: given one gradient
// per output (nil where no gradient flowed), it returns one gradient per
// input. It must be pure and must not touch state outside the graph.
type GradFunc func(outGrads [][]float32) [][]float32

// Operation is a graph node: ordered input and output tensors, a forward
// function, and (if gradient-capable) a gradient rule. Operations are
// immutable once built and owned by their graph.
type Operation struct {
	id       int
	name     string
	inputs   []*Tensor
	outputs  []*Tensor
	forward  func()
	gradient GradFunc
}

// Name returns the operation's display name (e.g. "mul", "sum").
func (op *Operation) Name() string { return op.name }

// Inputs returns the ordered input tensors.
func (op *Operation) Inputs() []*Tensor { return op.inputs }

// Outputs returns the ordered output tensors.
func (op *Operation) Outputs() []*Tensor { return op.outputs }

// HasGradient reports whether the operation participates in
// backpropagation. Operations without a gradient rule block gradient flow.
func (op *Operation) HasGradient() bool { return op.gradient != nil }

// Gradient invokes the operation's gradient rule.
// Panics if the operation is not gradient-capable.
func (op *Operation) Gradient(outGrads [][]float32) [][]float32 {
	if op.gradient == nil {
		panic("graph: Gradient called on non-differentiable operation " + op.name)
	}
	return op.gradient(outGrads)
}

// Tensor is a graph edge: produced by exactly one operation or a leaf
// (constant, placeholder, or variable). Its value slot is written once per
// forward evaluation and treated as immutable for the rest of the step.
type Tensor struct {
	id    int
	shape Shape
	op    *Operation // producer; nil for leaves
	value []float32
	graph *Graph
}

// ID returns the tensor's graph-unique integer id.
func (t *Tensor) ID() int { return t.id }

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape { return t.shape }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Op returns the producing operation, or nil for leaves.
func (t *Tensor) Op() *Operation { return t.op }

// Value returns the tensor's current value slice.
func (t *Tensor) Value() []float32 { return t.value }

// Scalar returns the single element of a scalar tensor.
func (t *Tensor) Scalar() float32 {
	if !t.shape.IsScalar() {
		panic("graph: Scalar on non-scalar tensor " + t.shape.String())
	}
	return t.value[0]
}

// Graph owns operations and tensors in construction order.
type Graph struct {
	ops     []*Operation
	tensors []*Tensor
	vars    []*Variable
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{}
}

// Operations returns all operations in construction order.
func (g *Graph) Operations() []*Operation { return g.ops }

// Variables returns all variables in construction order.
func (g *Graph) Variables() []*Variable { return g.vars }

// Forward re-evaluates every operation in construction order from the
// current leaf values. One graph serves arbitrarily many steps; variable
// updates between steps are picked up here.
func (g *Graph) Forward() {
	for _, op := range g.ops {
		op.forward()
	}
}

// newTensor allocates a tensor and its value slot.
func (g *Graph) newTensor(shape Shape, op *Operation) *Tensor {
	t := &Tensor{
		id:    len(g.tensors),
		shape: shape.Clone(),
		op:    op,
		value: make([]float32, shape.Size()),
		graph: g,
	}
	g.tensors = append(g.tensors, t)
	return t
}

// checkOwned verifies every input belongs to this graph. An operation
// referencing a foreign tensor is a malformed graph.
func (g *Graph) checkOwned(name string, inputs ...*Tensor) {
	for _, in := range inputs {
		if in.graph != g {
			panic(errors.Errorf("graph: op %q references tensor from another graph", name).Error())
		}
	}
}

// addOp registers an operation with a single output of the given shape.
func (g *Graph) addOp(name string, shape Shape, inputs []*Tensor, forward func(out []float32), gradient GradFunc) *Tensor {
	g.checkOwned(name, inputs...)
	op := &Operation{
		id:       len(g.ops),
		name:     name,
		inputs:   inputs,
		gradient: gradient,
	}
	out := g.newTensor(shape, op)
	op.outputs = []*Tensor{out}
	op.forward = func() { forward(out.value) }
	g.ops = append(g.ops, op)
	op.forward() // values are available as the graph is built
	return out
}

// Constant creates a leaf tensor with a fixed value.
func (g *Graph) Constant(data []float32, shape Shape) (*Tensor, error) {
	if len(data) != shape.Size() {
		return nil, errors.Errorf("graph: constant data length %d does not match shape %v (size %d)",
			len(data), shape, shape.Size())
	}
	t := g.newTensor(shape, nil)
	copy(t.value, data)
	return t, nil
}

// Scalar creates a leaf tensor holding a single constant.
func (g *Graph) Scalar(value float32) *Tensor {
	t := g.newTensor(Shape{}, nil)
	t.value[0] = value
	return t
}

// Placeholder creates a leaf tensor fed externally via Feed.
func (g *Graph) Placeholder(shape Shape) *Tensor {
	return g.newTensor(shape, nil)
}

// Feed writes data into a leaf tensor before the next Forward.
func (g *Graph) Feed(t *Tensor, data []float32) error {
	if t.op != nil {
		return errors.New("graph: Feed target has a producer; only leaves can be fed")
	}
	if len(data) != t.Size() {
		return errors.Errorf("graph: feed length %d does not match tensor size %d", len(data), t.Size())
	}
	copy(t.value, data)
	return nil
}
