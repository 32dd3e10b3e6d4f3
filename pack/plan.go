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
	"math"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/packvec/packvec/ir"
)

// Plan is a committed set of vector packs for one block, with a
// cost that is maintained across mutations using the same
// gather/extract/insert rules as Frontier transitions: the cost
// of executing the block under the plan (packed instructions as
// vectors, everything else scalar, plus the data movement
// between the two worlds).
type Plan struct {
	ctx      *Context
	packs    []*VectorPack
	baseline float64 // all-scalar cost of the block

	producers map[int]*VectorPack // replaced inst id -> pack
	demand    map[*OperandPack]int

	sumScalar    float64
	sumProducing float64
	matCosts     map[*OperandPack]float64
	extracts     map[*VectorPack]float64
}

// NewPlan returns the empty (all-scalar) plan of ctx's block.
func NewPlan(ctx *Context) *Plan {
	p := &Plan{
		ctx:       ctx,
		producers: make(map[int]*VectorPack),
		demand:    make(map[*OperandPack]int),
		matCosts:  make(map[*OperandPack]float64),
		extracts:  make(map[*VectorPack]float64),
	}
	for _, inst := range ctx.Block().Instructions() {
		p.sumScalar += ctx.costs.ScalarCost(inst)
	}
	p.baseline = p.sumScalar
	return p
}

// Clone returns an independent copy of the plan.
func (p *Plan) Clone() *Plan {
	return &Plan{
		ctx:          p.ctx,
		packs:        slices.Clone(p.packs),
		baseline:     p.baseline,
		producers:    maps.Clone(p.producers),
		demand:       maps.Clone(p.demand),
		sumScalar:    p.sumScalar,
		sumProducing: p.sumProducing,
		matCosts:     maps.Clone(p.matCosts),
		extracts:     maps.Clone(p.extracts),
	}
}

// Context returns the owning pack context.
func (p *Plan) Context() *Context { return p.ctx }

// Packs returns the committed packs in insertion order.
func (p *Plan) Packs() []*VectorPack { return p.packs }

// Producer returns the pack that replaces v, or nil.
func (p *Plan) Producer(v ir.Value) *VectorPack {
	inst, ok := v.(*ir.Instruction)
	if !ok || inst.Block() != p.ctx.Block() {
		return nil
	}
	return p.producers[p.ctx.ID(inst)]
}

// Cost returns the plan's cost relative to leaving the whole
// block scalar: the empty plan costs 0, and a profitable plan
// is strictly negative.
func (p *Plan) Cost() float64 {
	cost := p.sumScalar + p.sumProducing - p.baseline
	for _, c := range p.matCosts {
		cost += c
	}
	for _, c := range p.extracts {
		cost += c
	}
	return cost
}

// Add commits vp. Every element must be unproduced; adding a
// pack over an element that already has a producer panics.
func (p *Plan) Add(vp *VectorPack) {
	for _, inst := range vp.Replaced() {
		if p.producers[p.ctx.ID(inst)] != nil {
			panic("pack: element already has a producer")
		}
	}
	p.packs = append(p.packs, vp)
	p.sumProducing += vp.ProducingCost()
	for _, inst := range vp.Replaced() {
		p.producers[p.ctx.ID(inst)] = vp
		p.sumScalar -= p.ctx.costs.ScalarCost(inst)
	}
	for _, op := range vp.OperandPacks() {
		p.demand[op]++
	}
	p.refresh()
}

// Remove reverts a previous Add of vp.
func (p *Plan) Remove(vp *VectorPack) {
	i := slices.Index(p.packs, vp)
	if i < 0 {
		panic("pack: removing a pack not in the plan")
	}
	p.packs = slices.Delete(p.packs, i, i+1)
	p.sumProducing -= vp.ProducingCost()
	for _, inst := range vp.Replaced() {
		delete(p.producers, p.ctx.ID(inst))
		p.sumScalar += p.ctx.costs.ScalarCost(inst)
	}
	for _, op := range vp.OperandPacks() {
		if p.demand[op]--; p.demand[op] == 0 {
			delete(p.demand, op)
		}
	}
	p.refresh()
}

// refresh recomputes the data-movement components (operand
// materialization and extracts) under the current producers.
func (p *Plan) refresh() {
	maps.Clear(p.matCosts)
	for op := range p.demand {
		p.matCosts[op] = p.materializeCost(op)
	}
	maps.Clear(p.extracts)
	for _, vp := range p.packs {
		p.extracts[vp] = p.extractCost(vp)
	}
}

// materializeCost prices building op as one vector register
// under the current producers: free for constants, broadcast
// for splats, gathers out of producing packs, inserts for
// everything scalar.
func (p *Plan) materializeCost(op *OperandPack) float64 {
	ctx := p.ctx
	if op.AllConst() {
		return 0
	}
	if _, ok := op.Splat(); ok {
		return ctx.costs.ShuffleCost(ir.ShuffleBroadcast, op.Type())
	}
	cost := 0.0
	credited := make(map[*VectorPack]bool)
	for lane, v := range op.Values() {
		if v == nil || ir.IsConst(v) {
			continue
		}
		if vp := p.Producer(v); vp != nil {
			if !credited[vp] {
				credited[vp] = true
				cost += p.gatherCost(vp, op)
			}
			continue
		}
		cost += ctx.costs.VecInstrCost(ir.VecInsert, op.Type(), lane)
	}
	return cost
}

func (p *Plan) gatherCost(vp *VectorPack, op *OperandPack) float64 {
	if slices.Equal(vp.OrderedValues(), op.Values()) {
		return 0
	}
	if isPermutation(vp.OrderedValues(), op.Values()) {
		return p.ctx.costs.ShuffleCost(ir.ShufflePermute, op.Type())
	}
	return p.ctx.costs.ShuffleCost(ir.ShuffleTwoSrc, op.Type())
}

// extractCost prices moving vp's lanes back to scalar for the
// consumers the plan leaves scalar (in-block unpacked users and
// every out-of-block user).
func (p *Plan) extractCost(vp *VectorPack) float64 {
	cost := 0.0
	ty := vp.Type()
	for lane, v := range vp.OrderedValues() {
		inst, ok := v.(*ir.Instruction)
		if !ok || inst.Type().Elem == ir.Void {
			continue
		}
		for _, u := range inst.Users() {
			if u.Block() != p.ctx.Block() || p.Producer(u) == nil {
				cost += p.ctx.costs.VecInstrCost(ir.VecExtract, ty, lane)
				break
			}
		}
	}
	return cost
}

// VerifyCost rebuilds the cost from scratch and compares it to
// the incrementally maintained one.
func (p *Plan) VerifyCost() bool {
	scratch := 0.0
	for _, inst := range p.ctx.Block().Instructions() {
		if p.producers[p.ctx.ID(inst)] == nil {
			scratch += p.ctx.costs.ScalarCost(inst)
		}
	}
	for _, vp := range p.packs {
		scratch += vp.ProducingCost()
		scratch += p.extractCost(vp)
	}
	for op := range p.demand {
		scratch += p.materializeCost(op)
	}
	return math.Abs(scratch-p.baseline-p.Cost()) < 1e-6
}
