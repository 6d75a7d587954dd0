// Copyright 2025 Veld ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/veld-ml/veld/internal/optim"
)

// Type aliases for the public API.

// Rule is one element of the update chain.
type Rule = optim.Rule

// RuleSpec is one parsed chain element: a kind tag plus raw arguments.
type RuleSpec = optim.RuleSpec

// Context is the per-(variable, step) record handed through the chain.
type Context = optim.Context

// AccumBuffer sums one variable's gradients across an accumulation window.
type AccumBuffer = optim.AccumBuffer

// ReservedAccumulate is the chain kind reserved for buffer application.
const ReservedAccumulate = optim.ReservedAccumulate

// ParseChain splits a chain string like "clip:1.0-adam" into RuleSpecs.
func ParseChain(spec string) ([]RuleSpec, error) {
	return optim.ParseChain(spec)
}

// NewChain resolves parsed specs into rule instances.
func NewChain(specs []RuleSpec) ([]Rule, error) {
	return optim.NewChain(specs)
}

// StepScalars derives the apply-step indicator for a raw step over the
// given accumulation window.
func StepScalars(step int64, window int) float32 {
	return optim.StepScalars(step, window)
}
