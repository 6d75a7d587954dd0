// Copyright 2025 Veld ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package train

import (
	"github.com/veld-ml/veld/internal/graph"
	"github.com/veld-ml/veld/internal/train"
)

// Type aliases for the public API.

// Engine owns the per-step machinery for one graph.
type Engine = train.Engine

// Config selects the update behavior for an Engine.
type Config = train.Config

// StepResult carries one step's scalar outputs for the training loop.
type StepResult = train.StepResult

// Multi-loss strategies.
const (
	StrategySum    = train.StrategySum
	StrategyPareto = train.StrategyPareto
)

// New validates the configuration and graph and builds an engine.
func New(g *graph.Graph, losses []*graph.Tensor, vars []*graph.Variable, cfg Config) (*Engine, error) {
	return train.New(g, losses, vars, cfg)
}
