// Copyright 2025 Veld ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim is the public API for the update-rule chain and the
// gradient-accumulation machinery.
//
// # Overview
//
// This package contains:
//   - Rule: one element of an ordered, stateful optimizer chain
//   - ParseChain / NewChain: chain-string parsing and resolution
//   - Context: the per-(variable, step) record rules consume
//   - AccumBuffer: per-variable gradient accumulation over a window
//
// # Chain Strings
//
// A chain is configured as rule kinds separated by '-', each with
// optional ':'-prefixed arguments:
//
//	specs, err := optim.ParseChain("clip:1.0-adam")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	chain, err := optim.NewChain(specs)
//
// Known kinds: sgd, momentum[:β], adam, lamb, clip[:threshold]. The name
// "accumulate" is reserved for the accumulation window and is rejected in
// chains.
//
// # Accumulation Windows
//
// With a window of N, steps 0..N−2 buffer gradients and step N−1 applies
// the window sum. Moment-bearing rules gate their state on the apply-step
// indicator, so moments advance once per window:
//
//	indicator := optim.StepScalars(step, window)
package optim
