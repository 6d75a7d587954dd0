// Copyright 2025 Veld ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train is the public API for the per-step training engine: one
// Step call walks the graph backward for every loss head, balances the
// heads, and applies the chained update rules to each trainable variable.
//
// # Basic Usage
//
//	engine, err := train.New(g, []*graph.Tensor{loss}, g.Variables(), train.Config{
//	    Optimizer:        "clip:1.0-adam",
//	    GradAccumulation: 4,
//	    WeightDecay:      0.01,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for step := range steps {
//	    res, err := engine.Step(schedule(step))
//	    if err != nil {
//	        return err
//	    }
//	    log.Printf("loss=%.4f diagnostics=%v", res.Loss, res.Diagnostics)
//	}
//
// # Multi-Objective Balancing
//
// With Config.MultiLoss set to "mgda" and exactly two loss heads, the
// engine computes the min-norm blend coefficient γ from the heads'
// gradient inner products and scalarizes the loss as γ·l1 + (1−γ)·l2.
// More than two heads under "mgda" is a construction-time error; "sum"
// handles any head count.
//
// The learning rate is supplied by the caller on every Step; scheduling
// lives outside the engine.
package train
