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
	"github.com/packvec/packvec/bitvec"
	"github.com/packvec/packvec/heap"
	"github.com/packvec/packvec/ir"
)

// seedLanes are the lane counts tried for seed memory packs.
var seedLanes = []int{2, 4, 8, 16, 32}

// CandidateSet is the per-block pool of enumerated packs, with
// a per-instruction reverse index.
type CandidateSet struct {
	Packs      []*VectorPack
	Inst2Packs [][]*VectorPack
}

// candidates lazily enumerates the block's candidate pool: all
// maximal load chains of every seed lane count, bounded by
// Options.EnumCap (cheapest producing cost kept).
func (bs *blockState) candidates() *CandidateSet {
	if bs.cands != nil {
		return bs.cands
	}
	byCost := func(a, b *VectorPack) bool { return a.ProducingCost() < b.ProducingCost() }
	var pool []*VectorPack
	for _, inst := range bs.blk.Instructions() {
		if inst.Op != ir.OpLoad {
			continue
		}
		for _, vl := range seedLanes {
			if vl > bs.pkr.opts.MaxNumLanes {
				break
			}
			for _, vp := range bs.seedMemPacks(bs.loadDAG, inst, vl) {
				heap.Bounded(&pool, vp, bs.pkr.opts.EnumCap, byCost)
			}
		}
	}
	cs := &CandidateSet{
		Packs:      pool,
		Inst2Packs: make([][]*VectorPack, bs.ctx.NumValues()),
	}
	for _, vp := range cs.Packs {
		vp.Elements().Each(func(id int) {
			cs.Inst2Packs[id] = append(cs.Inst2Packs[id], vp)
		})
	}
	bs.cands = cs
	return cs
}

// seedMemPacks depth-first enumerates chains of length vl in
// dag starting at access, keeping only chains whose elements
// are pairwise independent.
func (bs *blockState) seedMemPacks(dag *AccessDAG, access *ir.Instruction, vl int) []*VectorPack {
	var seeds []*VectorPack
	isStore := access.Op == ir.OpStore

	elements := bs.ctx.NewBitset()
	depended := bs.ctx.NewBitset()
	elements.Set(bs.ctx.ID(access))
	depended.Or(bs.deps.Depended(access))

	var enumerate func(chain []*ir.Instruction, elements, depended bitvec.Vector)
	enumerate = func(chain []*ir.Instruction, elements, depended bitvec.Vector) {
		if len(chain) == vl {
			var vp *VectorPack
			if isStore {
				vp = bs.ctx.CreateStorePack(chain, elements, depended)
			} else {
				vp = bs.ctx.CreateLoadPack(chain, elements, depended)
			}
			if vp != nil {
				seeds = append(seeds, vp)
			}
			return
		}
		for _, next := range dag.Next(chain[len(chain)-1]) {
			if !checkIndependence(bs.deps, bs.ctx, next, elements, depended) {
				continue
			}
			if !bs.pkr.withinDist(chain[0], next) {
				continue
			}
			ext := append(append([]*ir.Instruction(nil), chain...), next)
			elemExt := elements.Clone()
			depExt := depended.Clone()
			elemExt.Set(bs.ctx.ID(next))
			depExt.Or(bs.deps.Depended(next))
			enumerate(ext, elemExt, depExt)
		}
	}
	enumerate([]*ir.Instruction{access}, elements, depended)
	return seeds
}

// seedStorePacks enumerates every store chain seed of the block.
func (bs *blockState) seedStorePacks() []*VectorPack {
	var seeds []*VectorPack
	for _, inst := range bs.blk.Instructions() {
		if inst.Op != ir.OpStore {
			continue
		}
		for _, vl := range seedLanes {
			if vl > bs.pkr.opts.MaxNumLanes {
				break
			}
			seeds = append(seeds, bs.seedMemPacks(bs.storeDAG, inst, vl)...)
		}
	}
	return seeds
}

// producerInfo caches what can produce a given operand pack.
type producerInfo struct {
	packs    []*VectorPack
	elements bitvec.Vector
	feasible bool // lanes all in-block and pairwise independent
}

func (pi *producerInfo) Feasible() bool         { return pi.feasible }
func (pi *producerInfo) Packs() []*VectorPack   { return pi.packs }
func (pi *producerInfo) Elements() bitvec.Vector { return pi.elements }

// producers computes (and caches) the packs able to produce op.
// Sparse load packs are additionally offered coalesced with
// previously discovered sparse packs when that improves lane
// utilization.
func (bs *blockState) producers(op *OperandPack) *producerInfo {
	if pi, ok := bs.prodInfo[op]; ok {
		return pi
	}
	pi := &producerInfo{elements: bs.ctx.NewBitset()}
	pi.packs, pi.feasible = bs.extendWithDef(op, pi.elements)
	for _, vp := range pi.packs {
		if vp.Kind() != Load || !sparse(vp) {
			continue
		}
		for _, other := range bs.sparseLoads {
			if merged := bs.coalesce(vp, other); merged != nil {
				pi.packs = append(pi.packs, merged)
			}
		}
		bs.sparseLoads = append(bs.sparseLoads, vp)
	}
	bs.prodInfo[op] = pi
	return pi
}

func sparse(vp *VectorPack) bool {
	for _, inst := range vp.Insts() {
		if inst == nil {
			return true
		}
	}
	return false
}

// extendWithDef finds the packs that produce op's lanes exactly:
// a reordered load chain when every lane is a load, a phi pack
// when every lane is a phi, or one General pack per binding
// whose lane operations match op's lanes (first match per lane).
// elements accumulates the ids of op's in-block lanes. The
// boolean result reports lane independence.
func (bs *blockState) extendWithDef(op *OperandPack, elements bitvec.Vector) ([]*VectorPack, bool) {
	ctx := bs.ctx
	depended := ctx.NewBitset()

	// the lanes must be distinct, in-block, and independent
	insts := make([]*ir.Instruction, 0, op.Len())
	for _, v := range op.Values() {
		if v == nil {
			continue
		}
		inst, ok := v.(*ir.Instruction)
		if !ok || inst.Block() != bs.blk {
			return nil, false
		}
		if !checkIndependence(bs.deps, ctx, inst, elements, depended) ||
			depended.Test(ctx.ID(inst)) {
			return nil, false
		}
		if len(insts) > 0 && !bs.pkr.withinDist(insts[0], inst) {
			return nil, false
		}
		elements.Set(ctx.ID(inst))
		depended.Or(bs.deps.Depended(inst))
		insts = append(insts, inst)
	}
	if len(insts) == 0 {
		return nil, false
	}
	if len(insts) == 1 {
		// no singleton packs
		return nil, true
	}

	if allOp(insts, ir.OpLoad) {
		chain, ok := bs.reorderLoads(insts)
		if !ok {
			return nil, true
		}
		chainElems := ctx.NewBitset()
		for _, l := range chain {
			if l != nil {
				chainElems.Set(ctx.ID(l))
			}
		}
		if vp := ctx.CreateLoadPack(chain, chainElems, depended); vp != nil {
			return []*VectorPack{vp}, true
		}
		return nil, true
	}

	if allOp(insts, ir.OpPhi) {
		ty := insts[0].Ty
		for _, phi := range insts[1:] {
			if phi.Ty != ty {
				return nil, true
			}
		}
		return []*VectorPack{ctx.CreatePhiPack(insts)}, true
	}

	// stores produce nothing; phis and loads are handled above
	var out []*VectorPack
	for _, binding := range bs.bindings {
		laneOps := binding.LaneOps()
		if len(laneOps) != op.Len() {
			continue
		}
		matches := make([]*Match, op.Len())
		packElems := ctx.NewBitset()
		packDeps := ctx.NewBitset()
		ok := true
		for lane, v := range op.Values() {
			if v == nil {
				continue
			}
			ms := bs.mm.MatchesForOutput(laneOps[lane].Op, v)
			if len(ms) == 0 {
				ok = false
				break
			}
			m := &ms[0]
			outInst := m.Output.(*ir.Instruction)
			if !checkIndependence(bs.deps, ctx, outInst, packElems, packDeps) {
				ok = false
				break
			}
			packElems.Set(ctx.ID(outInst))
			packDeps.Or(bs.deps.Depended(outInst))
			matches[lane] = m
		}
		if !ok {
			continue
		}
		if vp := ctx.CreateVectorPack(matches, packElems, packDeps, binding); vp != nil {
			out = append(out, vp)
		}
	}
	return out, true
}

// reorderLoads searches for an ordering of loads that makes a
// consecutive chain, walking the load DAG from each candidate
// head. Loads not in the set may fill interior gaps as
// don't-care lanes. Returns the chain (nil entries are gaps).
func (bs *blockState) reorderLoads(loads []*ir.Instruction) ([]*ir.Instruction, bool) {
	want := make(map[*ir.Instruction]bool, len(loads))
	for _, l := range loads {
		want[l] = true
	}
	limit := 2 * len(loads)
	for _, head := range loads {
		chain := []*ir.Instruction{head}
		remain := len(loads) - 1
		cur := head
		for remain > 0 && len(chain) < limit {
			var next *ir.Instruction
			inSet := false
			for _, n := range bs.loadDAG.Next(cur) {
				if want[n] && !inChain(chain, n) {
					next, inSet = n, true
					break
				}
				if next == nil && !inChain(chain, n) {
					next = n
				}
			}
			if next == nil {
				break
			}
			if inSet {
				chain = append(chain, next)
				remain--
			} else {
				chain = append(chain, nil)
			}
			cur = next
		}
		if remain == 0 {
			return chain, true
		}
	}
	return nil, false
}

func inChain(chain []*ir.Instruction, l *ir.Instruction) bool {
	for _, c := range chain {
		if c == l {
			return true
		}
	}
	return false
}

// Extensions enumerates the packs that could produce any of
// the frontier's unresolved operand packs and are viable to
// commit now: elements free, every lane's users frozen, and
// not conflicting with values the frontier already packed.
func (bs *blockState) Extensions(frt *Frontier) []*VectorPack {
	var out []*VectorPack
	for _, op := range frt.Unresolved() {
		pi := bs.producers(op)
		for _, vp := range pi.packs {
			if bs.viable(frt, vp) {
				out = append(out, vp)
			}
		}
	}
	return out
}

// viable reports whether vp can be committed on frt: elements
// still free, every lane's users frozen, and no mutual
// dependence with an already committed pack (one-directional
// dependence is schedulable; a cycle is not).
func (bs *blockState) viable(frt *Frontier, vp *VectorPack) bool {
	if !frt.Free().Contains(vp.Elements()) {
		return false
	}
	for _, inst := range vp.Replaced() {
		if !frt.Usable().Test(bs.ctx.ID(inst)) && !frt.allUsersFrozen(inst) {
			return false
		}
	}
	for _, prev := range frt.Commits() {
		if prev.Depended().AnyCommon(vp.Elements()) &&
			vp.Depended().AnyCommon(prev.Elements()) {
			return false
		}
	}
	return true
}

// coalesce tries to merge two sparse load packs over one chain;
// the merge is kept only if lane utilization strictly improves,
// with ties broken by fewer total lanes.
func (bs *blockState) coalesce(a, b *VectorPack) *VectorPack {
	if a.Kind() != Load || b.Kind() != Load {
		return nil
	}
	if a.Depended().AnyCommon(b.Elements()) || b.Depended().AnyCommon(a.Elements()) {
		return nil
	}
	var union []*ir.Instruction
	for _, vp := range []*VectorPack{a, b} {
		for _, inst := range vp.Insts() {
			if inst != nil {
				union = append(union, inst)
			}
		}
	}
	chain, ok := bs.reorderLoads(union)
	if !ok {
		return nil
	}
	util := func(insts []*ir.Instruction) float64 {
		n := 0
		for _, i := range insts {
			if i != nil {
				n++
			}
		}
		return float64(n) / float64(len(insts))
	}
	merged := util(chain)
	best := util(a.Insts())
	if u := util(b.Insts()); u > best {
		best = u
	}
	if merged < best {
		return nil
	}
	if merged == best && len(chain) >= len(a.Insts())+len(b.Insts()) {
		return nil
	}
	elements := a.Elements().Clone()
	elements.Or(b.Elements())
	depended := a.Depended().Clone()
	depended.Or(b.Depended())
	return bs.ctx.CreateLoadPack(chain, elements, depended)
}

// phiGroups packs the block's free phis grouped by type, up to
// the lane bound, provided at least one member is demanded.
// Phis within one block are always mutually independent.
func (bs *blockState) phiGroups(frt *Frontier) []*VectorPack {
	groups := make(map[ir.Type][]*ir.Instruction)
	var order []ir.Type
	for _, inst := range bs.blk.Instructions() {
		if inst.Op != ir.OpPhi || !frt.Free().Test(bs.ctx.ID(inst)) {
			continue
		}
		if _, ok := groups[inst.Ty]; !ok {
			order = append(order, inst.Ty)
		}
		groups[inst.Ty] = append(groups[inst.Ty], inst)
	}
	var out []*VectorPack
	for _, ty := range order {
		phis := groups[ty]
		if len(phis) < 2 {
			continue
		}
		if len(phis) > bs.pkr.opts.MaxNumLanes {
			phis = phis[:bs.pkr.opts.MaxNumLanes]
		}
		demanded := false
		for _, phi := range phis {
			if frt.UnresolvedScalars().Test(bs.ctx.ID(phi)) {
				demanded = true
				break
			}
		}
		if demanded {
			out = append(out, bs.ctx.CreatePhiPack(phis))
		}
	}
	return out
}

func allOp(insts []*ir.Instruction, op ir.Opcode) bool {
	for _, i := range insts {
		if i.Op != op {
			return false
		}
	}
	return true
}
