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
	"golang.org/x/exp/slices"

	"github.com/packvec/packvec/ir"
)

// runBottomUp grows plan p from operand pack op: the heuristic
// proposes a production for each pending operand pack, and the
// proposal replaces the plan's current producers when it covers
// a strict superset of their elements (or unconditionally when
// override is set).
func (bs *blockState) runBottomUp(op *OperandPack, p *Plan, h *Heuristic, override bool) {
	worklist := []*OperandPack{op}
	for len(worklist) > 0 {
		op := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		newPacks := h.Solve(op).Packs
		if len(newPacks) == 0 {
			continue
		}
		elements := bs.ctx.NewBitset()
		var oldPacks []*VectorPack
		already := true
		for _, vp := range newPacks {
			elements.Or(vp.Elements())
			for _, inst := range vp.Replaced() {
				prev := p.Producer(inst)
				if prev != vp {
					already = false
				}
				if prev != nil && !slices.Contains(oldPacks, prev) {
					oldPacks = append(oldPacks, prev)
				}
			}
		}
		if already {
			continue
		}
		if !override {
			// only replace producers whose combined coverage
			// the proposal strictly contains
			n := elements.Count()
			grown := elements.Clone()
			old := bs.ctx.NewBitset()
			feasible := true
			for _, vp := range oldPacks {
				grown.Or(vp.Elements())
				old.Or(vp.Elements())
				if grown.Count() > n {
					feasible = false
					break
				}
			}
			if !feasible || old.Count() == n {
				continue
			}
		}
		for _, vp := range oldPacks {
			p.Remove(vp)
		}
		for _, vp := range newPacks {
			if conflicts(p, vp) {
				continue
			}
			p.Add(vp)
			worklist = append(worklist, vp.OperandPacks()...)
		}
	}
}

// conflicts reports whether some element of vp already has a
// producer in p (vp itself included: a committed pack must not
// be re-added).
func conflicts(p *Plan, vp *VectorPack) bool {
	for _, inst := range vp.Replaced() {
		if p.Producer(inst) != nil {
			return true
		}
	}
	return false
}

// improvePlan runs the bottom-up improver to a local optimum:
// seed every maximal store chain, grow each seed with the
// heuristic, and additionally try odd/even decompositions of
// demanded operand packs and concatenations of committed packs.
// Seeds are tried in order of their evaluated saving, best first.
func (bs *blockState) improvePlan(p *Plan) {
	seeds := bs.seedStorePacks()
	h := newHeuristic(bs, bs.candidates())

	// score each seed: estimated vector production cost minus
	// the scalar cost of everything the seed covers; the most
	// negative (highest-saving) seeds commit first
	saving := make(map[*VectorPack]float64, len(seeds))
	for _, vp := range seeds {
		scalar := 0.0
		for _, v := range vp.OrderedValues() {
			scalar += h.Value(v)
		}
		saving[vp] = h.Pack(vp) - scalar
	}
	slices.SortStableFunc(seeds, func(a, b *VectorPack) bool {
		return saving[a] < saving[b]
	})

	improve := func(base *Plan, ops []*OperandPack, override bool) bool {
		trial := base.Clone()
		for _, op := range ops {
			bs.runBottomUp(op, trial, h, override)
		}
		if trial.Cost() < p.Cost() {
			*p = *trial
			return true
		}
		return false
	}

	// try every odd/even decomposition depth of ops on base
	improveSplits := func(base *Plan, op *OperandPack) bool {
		odd, even := bs.ctx.Odd(op), bs.ctx.Even(op)
		oo, oe := bs.ctx.Odd(odd), bs.ctx.Even(odd)
		eo, ee := bs.ctx.Odd(even), bs.ctx.Even(even)
		return improve(base, []*OperandPack{op}, false) ||
			improve(base, []*OperandPack{op}, true) ||
			improve(base, []*OperandPack{even, odd}, false) ||
			improve(base, []*OperandPack{even, odd}, true) ||
			improve(base, []*OperandPack{oo, oe, eo, ee}, false) ||
			improve(base, []*OperandPack{oo, oe, eo, ee}, true)
	}

	for {
		optimized := false
		for _, seed := range seeds {
			trial := p.Clone()
			for _, inst := range seed.Replaced() {
				if vp := trial.Producer(inst); vp != nil {
					trial.Remove(vp)
				}
			}
			trial.Add(seed)
			if len(seed.OperandPacks()) == 0 {
				continue
			}
			if improveSplits(trial, seed.OperandPacks()[0]) {
				optimized = true
				break
			}
		}
		if optimized {
			continue
		}
		for _, op := range p.demanded() {
			if improveSplits(p, op) {
				optimized = true
				break
			}
		}
		if optimized {
			continue
		}
		if bs.tryConcat(p, improve) {
			continue
		}
		return
	}
}

// tryConcat attempts to replace two committed packs with one
// production of their concatenated lanes.
func (bs *blockState) tryConcat(p *Plan, improve func(*Plan, []*OperandPack, bool) bool) bool {
	packs := p.Packs()
	for _, a := range packs {
		for _, b := range packs {
			if a == b ||
				a.Depended().AnyCommon(b.Elements()) ||
				b.Depended().AnyCommon(a.Elements()) {
				continue
			}
			concat := make([]ir.Value, 0, len(a.OrderedValues())+len(b.OrderedValues()))
			concat = append(concat, a.OrderedValues()...)
			concat = append(concat, b.OrderedValues()...)
			op := bs.ctx.Canonical(concat, a.Type().Elem)
			if pi := bs.producers(op); !pi.Feasible() || len(pi.Packs()) == 0 {
				continue
			}
			trial := p.Clone()
			trial.Remove(a)
			trial.Remove(b)
			if improve(trial, []*OperandPack{op}, false) ||
				improve(trial, []*OperandPack{op}, true) {
				return true
			}
		}
	}
	return false
}

// demanded returns the plan's pending operand packs in
// canonical order.
func (p *Plan) demanded() []*OperandPack {
	out := make([]*OperandPack, 0, len(p.demand))
	for op := range p.demand {
		out = append(out, op)
	}
	slices.SortFunc(out, func(a, b *OperandPack) bool { return a.id < b.id })
	return out
}
