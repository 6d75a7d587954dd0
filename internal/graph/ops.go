package graph

// Primitive operations. This core does not build model architectures; the
// set below is what loss heads and tests need. Each constructor runs its
// forward immediately so values are available as the graph is built, and
// Forward re-runs everything for later steps.
//
// Gradient rules read input values at call time, so they stay correct
// across re-evaluations of the same graph.

// checkSameShape panics on element-wise shape mismatch. Shape errors are
// construction bugs, not runtime conditions.
func checkSameShape(name string, a, b *Tensor) {
	if !a.shape.Equal(b.shape) {
		panic("graph: " + name + " shape mismatch " + a.shape.String() + " vs " + b.shape.String())
	}
}

// Add returns a + b element-wise.
func (g *Graph) Add(a, b *Tensor) *Tensor {
	checkSameShape("add", a, b)
	out := g.addOp("add", a.shape, []*Tensor{a, b},
		func(dst []float32) {
			for i := range dst {
				dst[i] = a.value[i] + b.value[i]
			}
		},
		func(outGrads [][]float32) [][]float32 {
			dy := outGrads[0]
			da := make([]float32, len(dy))
			db := make([]float32, len(dy))
			copy(da, dy)
			copy(db, dy)
			return [][]float32{da, db}
		})
	return out
}

// Sub returns a - b element-wise.
func (g *Graph) Sub(a, b *Tensor) *Tensor {
	checkSameShape("sub", a, b)
	out := g.addOp("sub", a.shape, []*Tensor{a, b},
		func(dst []float32) {
			for i := range dst {
				dst[i] = a.value[i] - b.value[i]
			}
		},
		func(outGrads [][]float32) [][]float32 {
			dy := outGrads[0]
			da := make([]float32, len(dy))
			db := make([]float32, len(dy))
			for i, gv := range dy {
				da[i] = gv
				db[i] = -gv
			}
			return [][]float32{da, db}
		})
	return out
}

// Mul returns a * b element-wise.
func (g *Graph) Mul(a, b *Tensor) *Tensor {
	checkSameShape("mul", a, b)
	out := g.addOp("mul", a.shape, []*Tensor{a, b},
		func(dst []float32) {
			for i := range dst {
				dst[i] = a.value[i] * b.value[i]
			}
		},
		func(outGrads [][]float32) [][]float32 {
			dy := outGrads[0]
			da := make([]float32, len(dy))
			db := make([]float32, len(dy))
			for i, gv := range dy {
				da[i] = gv * b.value[i]
				db[i] = gv * a.value[i]
			}
			return [][]float32{da, db}
		})
	return out
}

// Scale returns c * x for a compile-time scalar c.
func (g *Graph) Scale(x *Tensor, c float32) *Tensor {
	out := g.addOp("scale", x.shape, []*Tensor{x},
		func(dst []float32) {
			for i := range dst {
				dst[i] = c * x.value[i]
			}
		},
		func(outGrads [][]float32) [][]float32 {
			dy := outGrads[0]
			dx := make([]float32, len(dy))
			for i, gv := range dy {
				dx[i] = c * gv
			}
			return [][]float32{dx}
		})
	return out
}

// Sum reduces x to a scalar.
func (g *Graph) Sum(x *Tensor) *Tensor {
	out := g.addOp("sum", Shape{}, []*Tensor{x},
		func(dst []float32) {
			var acc float32
			for _, v := range x.value {
				acc += v
			}
			dst[0] = acc
		},
		func(outGrads [][]float32) [][]float32 {
			dy := outGrads[0][0]
			dx := make([]float32, x.Size())
			for i := range dx {
				dx[i] = dy
			}
			return [][]float32{dx}
		})
	return out
}

// StopGradient copies x through a non-differentiable operation, blocking
// all gradient flow into x.
func (g *Graph) StopGradient(x *Tensor) *Tensor {
	out := g.addOp("stop_gradient", x.shape, []*Tensor{x},
		func(dst []float32) {
			copy(dst, x.value)
		},
		nil)
	return out
}
