package graph

import (
	"github.com/pkg/errors"
)

// Role is a variable's structural role, fixed at construction. The
// optimizer keys regularization decisions off these flags; roles are never
// recovered from display names at runtime.
type Role uint8

// Structural roles.
//   - RoleNone: ordinary weight matrix/kernel
//   - RoleNormalization: norm scale/shift
//   - RoleEmbedding: input/position/output embedding table
//   - RoleIOProjection: projection in or out of the model core
//   - RoleGain: scalar residual gain
const (
	RoleNone Role = iota
	RoleNormalization
	RoleEmbedding
	RoleIOProjection
	RoleGain
)

// String returns a human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleNormalization:
		return "normalization"
	case RoleEmbedding:
		return "embedding"
	case RoleIOProjection:
		return "io-projection"
	case RoleGain:
		return "gain"
	default:
		return "unknown"
	}
}

// VariableConfig describes a trainable variable at construction time.
type VariableConfig struct {
	Name  string
	Shape Shape
	Role  Role
	Init  []float32 // initial value; zeros when nil
	FanIn int       // product of input-side dimension sizes; 0 = all but last dim
}

// Variable is a persistent parameter tensor with identity, a structural
// role and a stored value. The tensor's value slot aliases the stored
// value, so Forward always reads the variable's current state.
type Variable struct {
	name   string
	tensor *Tensor
	role   Role
	fanIn  int
}

// NewVariable registers a trainable variable on the graph.
func (g *Graph) NewVariable(cfg VariableConfig) (*Variable, error) {
	if cfg.Name == "" {
		return nil, errors.New("graph: variable needs a name")
	}
	if cfg.Init != nil && len(cfg.Init) != cfg.Shape.Size() {
		return nil, errors.Errorf("graph: variable %q init length %d does not match shape %v (size %d)",
			cfg.Name, len(cfg.Init), cfg.Shape, cfg.Shape.Size())
	}
	fanIn := cfg.FanIn
	if fanIn == 0 {
		fanIn = 1
		for i := 0; i+1 < len(cfg.Shape); i++ {
			fanIn *= cfg.Shape[i]
		}
	}
	if fanIn < 1 || cfg.Shape.Size()%fanIn != 0 {
		return nil, errors.Errorf("graph: variable %q fan-in %d does not divide size %d",
			cfg.Name, fanIn, cfg.Shape.Size())
	}
	t := g.newTensor(cfg.Shape, nil)
	if cfg.Init != nil {
		copy(t.value, cfg.Init)
	}
	v := &Variable{
		name:   cfg.Name,
		tensor: t,
		role:   cfg.Role,
		fanIn:  fanIn,
	}
	g.vars = append(g.vars, v)
	return v, nil
}

// Name returns the variable's display name.
func (v *Variable) Name() string { return v.name }

// Tensor returns the variable's leaf tensor.
func (v *Variable) Tensor() *Tensor { return v.tensor }

// Role returns the structural role assigned at construction.
func (v *Variable) Role() Role { return v.role }

// FanIn returns the product of input-side dimension sizes.
func (v *Variable) FanIn() int { return v.fanIn }

// Shape returns the variable's shape.
func (v *Variable) Shape() Shape { return v.tensor.shape }

// Size returns the number of elements.
func (v *Variable) Size() int { return v.tensor.Size() }

// Value returns the stored value. Mutating it mutates the variable.
func (v *Variable) Value() []float32 { return v.tensor.value }

// Large reports whether the variable qualifies for weight decay and
// weight standardization: non-scalar and free of any structural role.
func (v *Variable) Large() bool {
	return v.Size() > 1 && v.role == RoleNone
}
