// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package packvec rewrites straight-line scalar code into SIMD
// packs: it discovers groups of isomorphic instructions inside
// basic blocks and selects the covering set of vector packs
// that minimizes the target cost model's estimate.
package packvec

import (
	"fmt"
	"sync"

	"github.com/packvec/packvec/ir"
	"github.com/packvec/packvec/mcts"
	"github.com/packvec/packvec/pack"
)

// Optimize selects packs for one block, dispatching on the
// configured engine: MCTS when Options.UseMCTS is set (policy
// may be nil), otherwise the bottom-up improver.
func Optimize(pkr *pack.Packer, blk *ir.Block, policy mcts.Policy) (*pack.Plan, error) {
	if pkr.Options().UseMCTS {
		return mcts.Optimize(pkr, blk, policy)
	}
	return pkr.Optimize(blk)
}

// OptimizeFunction optimizes every block of pkr's function in
// order and returns the per-block plans.
func OptimizeFunction(pkr *pack.Packer, policy mcts.Policy) (map[*ir.Block]*pack.Plan, error) {
	plans := make(map[*ir.Block]*pack.Plan)
	for _, blk := range pkr.Func().Blocks() {
		plan, err := Optimize(pkr, blk, policy)
		if err != nil {
			return nil, err
		}
		plans[blk] = plan
	}
	return plans, nil
}

// OptimizeFunctions runs the full pipeline over several
// functions on a fixed pool of workers. Each worker builds a
// private Packer per function (analyses included), so no
// mutable state is shared across workers. mkAnalyses must
// return oracles safe for use on the calling goroutine.
func OptimizeFunctions(fns []*ir.Function, table *pack.InstTable, opts pack.Options,
	mkAnalyses func(*ir.Function) pack.Analyses, workers int) (map[*ir.Block]*pack.Plan, error) {
	if workers < 1 {
		workers = 1
	}
	var (
		mu       sync.Mutex
		firstErr error
		plans    = make(map[*ir.Block]*pack.Plan)
		work     = make(chan *ir.Function)
		wg       sync.WaitGroup
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for fn := range work {
				pkr, err := pack.NewPacker(fn, table, opts, mkAnalyses(fn))
				var local map[*ir.Block]*pack.Plan
				if err == nil {
					local, err = OptimizeFunction(pkr, nil)
				}
				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = fmt.Errorf("packvec: %s: %w", fn.Name, err)
				}
				for blk, plan := range local {
					plans[blk] = plan
				}
				mu.Unlock()
			}
		}()
	}
	for _, fn := range fns {
		work <- fn
	}
	close(work)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return plans, nil
}
