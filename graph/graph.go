// Copyright 2025 Veld ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package graph

import (
	"github.com/veld-ml/veld/internal/graph"
)

// Type aliases for the public API.

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} is a 3D tensor with dimensions 2×3×4.
type Shape = graph.Shape

// Graph owns operations and tensors in construction order.
type Graph = graph.Graph

// Tensor is a graph edge: produced by exactly one operation or a leaf.
type Tensor = graph.Tensor

// Operation is a graph node with an optional pure gradient rule.
type Operation = graph.Operation

// GradFunc is an operation's reverse-mode derivative function.
type GradFunc = graph.GradFunc

// Variable is a persistent parameter tensor with a structural role.
type Variable = graph.Variable

// VariableConfig describes a trainable variable at construction time.
type VariableConfig = graph.VariableConfig

// Role is a variable's structural role, fixed at construction.
type Role = graph.Role

// Structural role constants.
const (
	RoleNone          Role = graph.RoleNone
	RoleNormalization Role = graph.RoleNormalization
	RoleEmbedding     Role = graph.RoleEmbedding
	RoleIOProjection  Role = graph.RoleIOProjection
	RoleGain          Role = graph.RoleGain
)

// New creates an empty graph.
func New() *Graph {
	return graph.New()
}
