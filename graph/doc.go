// Copyright 2025 Veld ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph is the public API for building the dataflow graph the
// training core traverses: operations, tensors and trainable variables.
//
// # Overview
//
// This package contains:
//   - Graph: owns operations and tensors in construction order
//   - Tensor: a graph edge with shape and a per-step value
//   - Operation: a node with an optional pure gradient rule
//   - Variable: a persistent parameter with an explicit structural Role
//
// # Basic Usage
//
//	g := graph.New()
//
//	w, err := g.NewVariable(graph.VariableConfig{
//	    Name:  "proj/kernel",
//	    Shape: graph.Shape{64, 256},
//	    Init:  kernelInit,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c, _ := g.Constant(coeffs, graph.Shape{64, 256})
//	loss := g.Sum(g.Mul(w.Tensor(), c))
//
// # Structural Roles
//
// Regularization decisions key off a Role fixed at construction — never
// recovered from a variable's display name:
//
//	gain, _ := g.NewVariable(graph.VariableConfig{
//	    Name:  "block0/gain",
//	    Shape: graph.Shape{},
//	    Role:  graph.RoleGain,
//	})
//
// Variables without a role ("large" tensors) are the ones weight decay
// and weight standardization act on.
package graph
