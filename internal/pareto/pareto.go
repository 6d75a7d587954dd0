// Package pareto implements min-norm (MGDA) balancing of exactly two loss
// heads. During the two independent backward traversals it accumulates the
// three gradient inner products g1·g1, g1·g2 and g2·g2 over all trainable
// variables; once both heads are known, Gamma yields the blend coefficient
// for the scalarized loss γ·l1 + (1−γ)·l2 in closed form.
package pareto

import "math"

// MinGamma bounds γ away from 0 and 1 so neither head is ever silenced
// entirely.
const MinGamma = 0.001

// Accumulator holds the running inner products of two heads' gradients.
// Sums are carried in float64; per-variable gradients are float32 and the
// dot products are numerically the whole point.
type Accumulator struct {
	v11 float64 // g1·g1
	v12 float64 // g1·g2
	v22 float64 // g2·g2
}

// Add folds one variable's pair of gradients into the running sums. A nil
// side means the variable is unreachable from that head and contributes
// zero to every product involving it.
func (a *Accumulator) Add(g1, g2 []float32) {
	for i := range g1 {
		a.v11 += float64(g1[i]) * float64(g1[i])
	}
	for i := range g2 {
		a.v22 += float64(g2[i]) * float64(g2[i])
	}
	if g1 == nil || g2 == nil {
		return
	}
	for i := range g1 {
		a.v12 += float64(g1[i]) * float64(g2[i])
	}
}

// Dots returns the accumulated (g1·g1, g1·g2, g2·g2).
func (a *Accumulator) Dots() (v11, v12, v22 float64) {
	return a.v11, a.v12, a.v22
}

// Gamma computes the min-norm blend coefficient in [MinGamma, 1-MinGamma]:
//
//	g1·g2 ≥ g1·g1           → 1−ε   (head 2's gradient dominates; min-norm
//	                                  sits at head 1's smaller gradient)
//	g1·g2 ≥ g2·g2           → ε
//	otherwise               → clamp((g2·g2 − g1·g2) / ‖g1−g2‖², ε, 1−ε)
//
// By Cauchy-Schwarz both dominance conditions can only hold together when
// the two gradients coincide; every blend is then equivalent and γ is the
// symmetric 0.5. The interior denominator is ‖g1−g2‖² and can itself
// degenerate; the division is epsilon-guarded rather than an error
// because near-identical head gradients occur legitimately mid-training.
func (a *Accumulator) Gamma() float32 {
	switch {
	case a.v12 >= a.v11 && a.v12 >= a.v22:
		return 0.5
	case a.v12 >= a.v11:
		return 1 - MinGamma
	case a.v12 >= a.v22:
		return MinGamma
	default:
		den := a.v11 + a.v22 - 2*a.v12
		gamma := (a.v22 - a.v12) / math.Max(den, 1e-12)
		return float32(clamp(gamma, MinGamma, 1-MinGamma))
	}
}

// Blend returns γ·g1 + (1−γ)·g2 for one variable. A nil side is treated
// as zero; both nil yields nil (the variable gets no update).
func Blend(gamma float32, g1, g2 []float32) []float32 {
	if g1 == nil && g2 == nil {
		return nil
	}
	n := len(g1)
	if g1 == nil {
		n = len(g2)
	}
	out := make([]float32, n)
	if g1 != nil {
		for i, v := range g1 {
			out[i] += gamma * v
		}
	}
	if g2 != nil {
		for i, v := range g2 {
			out[i] += (1 - gamma) * v
		}
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
