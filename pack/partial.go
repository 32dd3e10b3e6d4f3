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

	"github.com/packvec/packvec/bitvec"
	"github.com/packvec/packvec/ir"
)

// PartialPack is the in-progress fill of one pack-to-be: its
// kind and producer, the lanes chosen so far, and the running
// element and dependency bitsets. Lanes fill in order; the
// element count always equals the current lane id.
type PartialPack struct {
	bs       *blockState
	kind     Kind
	producer InstBinding // General only
	vl       int
	lanes    []*ir.Instruction
	matches  []*Match
	elements bitvec.Vector
	depended bitvec.Vector
}

// Kind returns the kind of pack being built.
func (pp *PartialPack) Kind() Kind { return pp.kind }

// Producer returns the binding of a General partial pack.
func (pp *PartialPack) Producer() InstBinding { return pp.producer }

// LaneID returns the next lane to fill.
func (pp *PartialPack) LaneID() int { return len(pp.lanes) }

// Lanes returns the lane count of the finished pack.
func (pp *PartialPack) Lanes() int { return pp.vl }

// Complete reports whether every lane is filled.
func (pp *PartialPack) Complete() bool { return len(pp.lanes) == pp.vl }

// Label names the partial pack for display and featurization.
func (pp *PartialPack) Label() string {
	if pp.producer != nil {
		return pp.producer.Name()
	}
	return pp.kind.String()
}

// Candidates returns the usable instructions that can fill the
// next lane while leaving the pack completable on frt.
func (pp *PartialPack) Candidates(frt *Frontier) []*ir.Instruction {
	var out []*ir.Instruction
	for _, inst := range pp.laneChoices(frt) {
		if pp.Fill(inst).completable(frt) {
			out = append(out, inst)
		}
	}
	return out
}

// laneChoices enumerates the raw next-lane choices: consecutive
// successors for memory packs, matching usable outputs for
// General packs.
func (pp *PartialPack) laneChoices(frt *Frontier) []*ir.Instruction {
	bs := pp.bs
	usable := func(inst *ir.Instruction) bool {
		id := bs.ctx.ID(inst)
		return frt.Free().Test(id) && frt.Usable().Test(id) &&
			checkIndependence(bs.deps, bs.ctx, inst, pp.elements, pp.depended) &&
			(len(pp.lanes) == 0 || bs.pkr.withinDist(pp.lanes[0], inst))
	}
	var out []*ir.Instruction
	switch pp.kind {
	case Load, Store:
		dag := bs.loadDAG
		op := ir.OpLoad
		if pp.kind == Store {
			dag = bs.storeDAG
			op = ir.OpStore
		}
		if len(pp.lanes) == 0 {
			for _, inst := range bs.blk.Instructions() {
				if inst.Op == op && usable(inst) {
					out = append(out, inst)
				}
			}
			return out
		}
		for _, next := range dag.Next(pp.lanes[len(pp.lanes)-1]) {
			if usable(next) {
				out = append(out, next)
			}
		}
	case General:
		laneOp := pp.producer.LaneOps()[len(pp.lanes)].Op
		ms := bs.mm.Matches(laneOp)
		for i := range ms {
			inst, ok := ms[i].Output.(*ir.Instruction)
			if ok && usable(inst) {
				out = append(out, inst)
			}
		}
	case Phi:
		want := ir.Type{}
		if len(pp.lanes) > 0 {
			want = pp.lanes[0].Ty
		}
		for _, inst := range bs.blk.Instructions() {
			if inst.Op == ir.OpPhi && usable(inst) &&
				(len(pp.lanes) == 0 || inst.Ty == want) {
				out = append(out, inst)
			}
		}
	}
	return out
}

// Fill returns a copy of pp with inst placed in the next lane.
func (pp *PartialPack) Fill(inst *ir.Instruction) *PartialPack {
	next := &PartialPack{
		bs:       pp.bs,
		kind:     pp.kind,
		producer: pp.producer,
		vl:       pp.vl,
		lanes:    append(slices.Clone(pp.lanes), inst),
		elements: pp.elements.Clone(),
		depended: pp.depended.Clone(),
	}
	next.elements.Set(pp.bs.ctx.ID(inst))
	next.depended.Or(pp.bs.deps.Depended(inst))
	if pp.kind == General {
		laneOp := pp.producer.LaneOps()[len(pp.lanes)].Op
		ms := pp.bs.mm.MatchesForOutput(laneOp, inst)
		next.matches = append(slices.Clone(pp.matches), &ms[0])
	}
	return next
}

// completable reports, by backtracking, whether some ordering
// of fills finishes the pack on frt.
func (pp *PartialPack) completable(frt *Frontier) bool {
	if pp.Complete() {
		return true
	}
	for _, inst := range pp.laneChoices(frt) {
		if pp.Fill(inst).completable(frt) {
			return true
		}
	}
	return false
}

// Build constructs the finished pack. pp must be complete.
func (pp *PartialPack) Build() *VectorPack {
	if !pp.Complete() {
		panic("pack: building an incomplete partial pack")
	}
	bs := pp.bs
	switch pp.kind {
	case Load:
		return bs.ctx.CreateLoadPack(pp.lanes, pp.elements, pp.depended)
	case Store:
		return bs.ctx.CreateStorePack(pp.lanes, pp.elements, pp.depended)
	case Phi:
		return bs.ctx.CreatePhiPack(pp.lanes)
	default:
		return bs.ctx.CreateVectorPack(pp.matches, pp.elements, pp.depended, pp.producer)
	}
}

// PartialTemplates enumerates the empty partial packs worth
// starting on frt: load and store chains of each feasible lane
// count, phi groups, and each binding instantiable in blk,
// where feasible means some ordering of fills completes the
// pack (decided by backtracking).
func (p *Packer) PartialTemplates(blk *ir.Block, frt *Frontier) []*PartialPack {
	bs := p.state(blk)
	var out []*PartialPack
	add := func(pp *PartialPack) {
		if pp.completable(frt) {
			out = append(out, pp)
		}
	}
	newPartial := func(kind Kind, producer InstBinding, vl int) *PartialPack {
		return &PartialPack{
			bs:       bs,
			kind:     kind,
			producer: producer,
			vl:       vl,
			elements: bs.ctx.NewBitset(),
			depended: bs.ctx.NewBitset(),
		}
	}
	for _, vl := range seedLanes {
		if vl > p.opts.MaxNumLanes {
			break
		}
		if !bs.loadDAG.Empty() {
			add(newPartial(Load, nil, vl))
		}
		if !bs.storeDAG.Empty() {
			add(newPartial(Store, nil, vl))
		}
		add(newPartial(Phi, nil, vl))
	}
	for _, binding := range bs.bindings {
		add(newPartial(General, binding, len(binding.LaneOps())))
	}
	return out
}

// Extensions enumerates viable extension packs of frt's
// unresolved operand packs, plus viable phi groups.
func (p *Packer) Extensions(blk *ir.Block, frt *Frontier) []*VectorPack {
	bs := p.state(blk)
	out := bs.Extensions(frt)
	for _, vp := range bs.phiGroups(frt) {
		if bs.viable(frt, vp) {
			out = append(out, vp)
		}
	}
	return out
}

// Viable reports whether vp can be committed on frt.
func (p *Packer) Viable(blk *ir.Block, frt *Frontier, vp *VectorPack) bool {
	return p.state(blk).viable(frt, vp)
}

// NewFrontierFor returns the starting frontier of blk.
func (p *Packer) NewFrontierFor(blk *ir.Block) *Frontier {
	return NewFrontier(p.state(blk).ctx)
}
