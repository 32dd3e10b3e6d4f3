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
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/packvec/packvec/bitvec"
	"github.com/packvec/packvec/ir"
)

// Kind tags the variant of a VectorPack.
type Kind uint8

const (
	Load Kind = iota
	Store
	Phi
	General
)

func (k Kind) String() string {
	switch k {
	case Load:
		return "load"
	case Store:
		return "store"
	case Phi:
		return "phi"
	case General:
		return "general"
	}
	return "?"
}

// VectorPack is a group of isomorphic scalar values chosen to be
// computed by one SIMD instruction. Packs are immutable after
// creation and interned by their Context: equal packs share one
// pointer.
type VectorPack struct {
	kind     Kind
	producer InstBinding // General only
	matches  []*Match    // General: one per lane, nil = don't care
	insts    []*ir.Instruction // Load/Store/Phi lanes, nil = don't care

	ctx           *Context
	elements      bitvec.Vector
	depended      bitvec.Vector
	cost          float64
	producingCost float64
	operandPacks  []*OperandPack
	ordered       []ir.Value
	replaced      []*ir.Instruction
}

func (p *VectorPack) Kind() Kind                  { return p.kind }
func (p *VectorPack) Producer() InstBinding       { return p.producer }
func (p *VectorPack) Matches() []*Match           { return p.matches }
func (p *VectorPack) Context() *Context           { return p.ctx }
func (p *VectorPack) Elements() bitvec.Vector     { return p.elements }
func (p *VectorPack) Depended() bitvec.Vector     { return p.depended }
func (p *VectorPack) Cost() float64               { return p.cost }
func (p *VectorPack) ProducingCost() float64      { return p.producingCost }
func (p *VectorPack) OperandPacks() []*OperandPack { return p.operandPacks }

// OrderedValues returns the lane values in lane order;
// nil entries are don't-care lanes.
func (p *VectorPack) OrderedValues() []ir.Value { return p.ordered }

// Replaced returns the block instructions this pack replaces,
// in block order: the lane values plus, for General packs, the
// interior instructions of each match.
func (p *VectorPack) Replaced() []*ir.Instruction { return p.replaced }

// Insts returns the lane instructions of a Load, Store or Phi pack.
func (p *VectorPack) Insts() []*ir.Instruction { return p.insts }

// Type returns the vector type the pack produces.
func (p *VectorPack) Type() ir.Type {
	lanes := p.elements.Count()
	for _, v := range p.ordered {
		if v != nil {
			return ir.V(v.Type().Elem, lanes)
		}
	}
	return ir.Type{}
}

func (p *VectorPack) String() string {
	var sb strings.Builder
	name := ""
	if p.producer != nil {
		name = p.producer.Name()
	}
	fmt.Fprintf(&sb, "pack<%s %s>(", p.kind, name)
	for i, v := range p.ordered {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if v == nil {
			sb.WriteString("undef")
		} else {
			sb.WriteString(v.String())
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

func (c *Context) packKey(kind Kind, producer InstBinding, vals []ir.Value) string {
	name := ""
	if producer != nil {
		name = producer.Name()
	}
	return fmt.Sprintf("%d/%s/%s", kind, name, c.key(vals))
}

func (c *Context) intern(p *VectorPack) *VectorPack {
	k := c.packKey(p.kind, p.producer, p.ordered)
	if prev, ok := c.packs[k]; ok {
		return prev
	}
	c.packs[k] = p
	return p
}

// CreateLoadPack builds the pack of the given loads (nil entries
// are don't-care lanes). Adjacent non-nil entries must be
// consecutive in the load DAG; elements and depended are the
// precomputed lane and dependency bitsets. Returns nil if the
// cost model cannot price the vector load.
func (c *Context) CreateLoadPack(loads []*ir.Instruction, elements, depended bitvec.Vector) *VectorPack {
	lead := firstInst(loads)
	ty := ir.V(lead.AccessType().Elem, len(loads))
	cost := c.costs.MemOpCost(ir.OpLoad, ty, 0)
	if !ir.KnownCost(cost) {
		return nil
	}
	p := &VectorPack{
		kind:     Load,
		insts:    slices.Clone(loads),
		ctx:      c,
		elements: elements.Clone(),
		depended: depended.Clone(),
		cost:     cost,
	}
	p.producingCost = p.cost
	p.finish()
	return c.intern(p)
}

// CreateStorePack builds the pack of the given stores.
// Returns nil if the cost model cannot price the vector store.
func (c *Context) CreateStorePack(stores []*ir.Instruction, elements, depended bitvec.Vector) *VectorPack {
	lead := firstInst(stores)
	ty := ir.V(lead.AccessType().Elem, len(stores))
	cost := c.costs.MemOpCost(ir.OpStore, ty, 0)
	if !ir.KnownCost(cost) {
		return nil
	}
	p := &VectorPack{
		kind:     Store,
		insts:    slices.Clone(stores),
		ctx:      c,
		elements: elements.Clone(),
		depended: depended.Clone(),
		cost:     cost,
	}
	p.producingCost = p.cost
	p.finish()
	return c.intern(p)
}

// CreatePhiPack builds the pack of the given phis, which must
// share one type. Phis within a block are always independent.
func (c *Context) CreatePhiPack(phis []*ir.Instruction) *VectorPack {
	for _, phi := range phis[1:] {
		if phi.Ty != phis[0].Ty {
			panic("pack: phi pack with mixed types")
		}
	}
	elements := c.NewBitset()
	depended := c.NewBitset()
	for _, phi := range phis {
		elements.Set(c.ID(phi))
	}
	p := &VectorPack{
		kind:     Phi,
		insts:    slices.Clone(phis),
		ctx:      c,
		elements: elements.Clone(),
		depended: depended.Clone(),
		cost:     0,
	}
	p.finish()
	return c.intern(p)
}

// CreateVectorPack builds a General pack: producer runs matches
// lane by lane (nil = don't care). Returns nil if the cost model
// cannot price the producer.
func (c *Context) CreateVectorPack(matches []*Match, elements, depended bitvec.Vector, producer InstBinding) *VectorPack {
	cost := producer.Cost(c.costs)
	if !ir.KnownCost(cost) {
		return nil
	}
	p := &VectorPack{
		kind:     General,
		producer: producer,
		matches:  slices.Clone(matches),
		ctx:      c,
		elements: elements.Clone(),
		depended: depended.Clone(),
		cost:     cost,
	}
	p.producingCost = p.cost
	p.finish()
	return c.intern(p)
}

// finish derives ordered values, operand packs and the replaced
// instruction list from the variant fields.
func (p *VectorPack) finish() {
	p.computeOrderedValues()
	p.computeOperandPacks()
	p.computeReplaced()
	if p.elements.Count() != countNonNil(p.ordered) {
		panic("pack: element count does not match lanes")
	}
}

func (p *VectorPack) computeOrderedValues() {
	switch p.kind {
	case General:
		for _, m := range p.matches {
			if m != nil {
				p.ordered = append(p.ordered, m.Output)
			} else {
				p.ordered = append(p.ordered, nil)
			}
		}
	default:
		for _, inst := range p.insts {
			if inst != nil {
				p.ordered = append(p.ordered, inst)
			} else {
				p.ordered = append(p.ordered, nil)
			}
		}
	}
}

func (p *VectorPack) computeOperandPacks() {
	c := p.ctx
	switch p.kind {
	case Load:
		// only a scalar pointer; nothing to pack first
	case Store:
		vals := make([]ir.Value, len(p.insts))
		for i, st := range p.insts {
			if st != nil {
				vals[i] = st.Stored()
			}
		}
		p.operandPacks = []*OperandPack{c.Canonical(vals, firstInst(p.insts).AccessType().Elem)}
	case Phi:
		first := p.insts[0]
		for _, blk := range first.Incoming {
			vals := make([]ir.Value, len(p.insts))
			for i, phi := range p.insts {
				vals[i] = phi.IncomingFor(blk)
			}
			p.operandPacks = append(p.operandPacks, c.Canonical(vals, first.Ty.Elem))
		}
	case General:
		p.operandPacks = laneBind(c, p.producer, p.matches)
	}
}

// laneBind derives one operand pack per vector input of the
// producer signature: each lane's bound slices contribute the
// lane's matched inputs at their slice offsets; contributions
// are sorted by offset and padded with don't-cares up to the
// input's lane count.
func laneBind(c *Context, producer InstBinding, matches []*Match) []*OperandPack {
	sig := producer.Signature()
	laneOps := producer.LaneOps()
	out := make([]*OperandPack, len(sig.InputBits))
	for input := range sig.InputBits {
		type contrib struct {
			lo int
			v  ir.Value
		}
		var contribs []contrib
		sliceBits := 0
		for lane, bound := range laneOps {
			for k, slice := range bound.Slices {
				if slice.Input != input {
					continue
				}
				if sliceBits == 0 {
					sliceBits = slice.Hi - slice.Lo
				}
				if matches[lane] == nil {
					continue
				}
				contribs = append(contribs, contrib{lo: slice.Lo, v: matches[lane].Inputs[k]})
			}
		}
		slices.SortStableFunc(contribs, func(a, b contrib) bool { return a.lo < b.lo })
		lanes := len(laneOps)
		if sliceBits > 0 {
			lanes = sig.InputBits[input] / sliceBits
		}
		vals := make([]ir.Value, lanes)
		for i, cb := range contribs {
			vals[i] = cb.v
		}
		elem := ir.Void
		for _, m := range matches {
			if m != nil {
				elem = m.Output.Type().Elem
				break
			}
		}
		out[input] = c.Canonical(vals, elem)
	}
	return out
}

func (p *VectorPack) computeReplaced() {
	set := make(map[*ir.Instruction]bool)
	if p.kind == General {
		for _, m := range p.matches {
			if m != nil {
				intermediates(p.ctx, m, set)
			}
		}
	} else {
		for _, inst := range p.insts {
			if inst != nil {
				set[inst] = true
			}
		}
	}
	p.replaced = make([]*ir.Instruction, 0, len(set))
	for inst := range set {
		p.replaced = append(p.replaced, inst)
	}
	slices.SortFunc(p.replaced, func(a, b *ir.Instruction) bool {
		return a.Index() < b.Index()
	})
}

func firstInst(insts []*ir.Instruction) *ir.Instruction {
	for _, i := range insts {
		if i != nil {
			return i
		}
	}
	panic("pack: all lanes are don't-care")
}

func countNonNil(vals []ir.Value) int {
	n := 0
	for _, v := range vals {
		if v != nil {
			n++
		}
	}
	return n
}
