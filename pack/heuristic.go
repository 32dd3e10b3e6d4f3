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

package pack

import (
	"github.com/packvec/packvec/ir"
)

// Abstract lane-movement charges used by the bottom-up
// heuristic. These intentionally stay coarse: the heuristic
// ranks alternative productions, it does not price the final
// plan (the cost model does).
const (
	costSplat   = 1.0
	costInsert  = 2.0
	costPermute = 0.5
	costShuffle = 0.5
)

// Solution is the heuristic's answer for one operand pack: the
// estimated cost and the packs (if any) that achieve it.
type Solution struct {
	Cost  float64
	Packs []*VectorPack
}

func (s *Solution) update(other Solution) {
	if other.Cost < s.Cost {
		*s = other
	}
}

// Heuristic estimates, bottom-up with memoization, the cheapest
// way to materialize operand packs and scalar values.
type Heuristic struct {
	bs     *blockState
	cands  *CandidateSet
	memo   map[*OperandPack]Solution
	scalar map[*ir.Instruction]float64
	open   map[*OperandPack]bool // cycle guard for phi-carried recursion
}

func newHeuristic(bs *blockState, cands *CandidateSet) *Heuristic {
	return &Heuristic{
		bs:     bs,
		cands:  cands,
		memo:   make(map[*OperandPack]Solution),
		scalar: make(map[*ir.Instruction]float64),
		open:   make(map[*OperandPack]bool),
	}
}

// Solve returns the minimum estimated cost of producing op.
// Adding candidate packs to the pool never increases the result.
func (h *Heuristic) Solve(op *OperandPack) Solution {
	if sol, ok := h.memo[op]; ok {
		return sol
	}

	// build by inserting each distinct lane
	base := 0.0
	inserted := make(map[ir.Value]bool)
	for _, v := range op.Values() {
		if v == nil || ir.IsConst(v) || inserted[v] {
			continue
		}
		inserted[v] = true
		base += h.Value(v) + costInsert
	}
	sol := Solution{Cost: base}
	if base == 0 || h.open[op] {
		// all-constant packs cost nothing; a cyclic demand
		// (phi-carried) falls back to explicit insertion
		if !h.open[op] {
			h.memo[op] = sol
		}
		return sol
	}
	h.open[op] = true
	defer delete(h.open, op)

	// build by broadcasting a single value
	if v, ok := op.Splat(); ok {
		sol.update(Solution{Cost: h.Value(v) + costSplat})
	}

	// build with a pack producing the deduplicated lanes
	deduped := h.bs.ctx.Dedup(op)
	extra := 0.0
	if deduped != op {
		extra = costShuffle
	}
	pi := h.bs.producers(deduped)
	for _, vp := range pi.Packs() {
		sol.update(Solution{Cost: h.Pack(vp) + extra, Packs: []*VectorPack{vp}})
	}

	// build out of an overlapping candidate load pack
	if h.cands != nil {
		visited := make(map[*VectorPack]bool)
		pi.Elements().Each(func(id int) {
			for _, vp := range h.cands.Inst2Packs[id] {
				if visited[vp] || vp.Kind() != Load {
					continue
				}
				visited[vp] = true
				vals := vp.OrderedValues()
				if len(vals) == pi.Elements().Count() && isPermutation(vals, op.Values()) {
					sol.update(Solution{Cost: h.Pack(vp) + costPermute + extra, Packs: []*VectorPack{vp}})
				} else {
					inter := pi.Elements().Clone()
					inter.And(vp.Elements())
					if n := inter.Count(); n > 0 {
						scale := float64(pi.Elements().Count()) / float64(n)
						sol.update(Solution{Cost: h.Pack(vp)*scale + costShuffle + extra, Packs: []*VectorPack{vp}})
					}
				}
			}
		})
	}

	h.memo[op] = sol
	return sol
}

// Pack estimates the full cost of computing vp: its producing
// cost plus the cost of materializing each operand pack.
func (h *Heuristic) Pack(vp *VectorPack) float64 {
	cost := vp.ProducingCost()
	for _, op := range vp.OperandPacks() {
		cost += h.Solve(op).Cost
	}
	return cost
}

// Value estimates the scalar cost of producing v: its own cost
// plus, recursively, its in-block operands. Values defined
// outside the block cost nothing here.
func (h *Heuristic) Value(v ir.Value) float64 {
	if v == nil {
		return 0
	}
	inst, ok := v.(*ir.Instruction)
	if !ok || inst.Block() != h.bs.blk {
		return 0
	}
	if c, ok := h.scalar[inst]; ok {
		return c
	}
	h.scalar[inst] = 0 // cut phi-carried cycles
	cost := h.bs.ctx.costs.ScalarCost(inst)
	if inst.Op != ir.OpPhi {
		for _, opnd := range inst.Operands() {
			cost += h.Value(opnd)
		}
	}
	h.scalar[inst] = cost
	return cost
}
