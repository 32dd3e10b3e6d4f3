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
	"sort"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/packvec/packvec/bitvec"
	"github.com/packvec/packvec/ir"
)

// Frontier is a partial decision state of the backward search
// over one block: which instructions are still undecided (free),
// which free instructions are demanded as scalars by already
// frozen consumers (unresolvedScalars), which instructions may
// be decided next (usable: every in-block user frozen, plus all
// phis), and which operand packs still await production.
//
// Frontiers advance copy-on-write: Advance* methods return a new
// Frontier plus the incremental cost of the step; the receiver
// is never mutated.
type Frontier struct {
	ctx *Context

	cursor            int // block position of the backward cursor
	free              bitvec.Vector
	unresolvedScalars bitvec.Vector
	usable            bitvec.Vector

	// unresolved operand packs, sorted by interning order so
	// that equal frontiers compare lane-for-lane
	unresolved []*OperandPack

	// producers maps value id -> committed pack, for crediting
	// exact re-use when a later operand pack demands lanes that
	// were frozen by an earlier pack commit
	producers map[int]*VectorPack
	commits   []*VectorPack
}

// NewFrontier builds the starting frontier of ctx's block:
// everything free, stores and values with out-of-block users
// demanded as scalars, instructions without remaining in-block
// users (plus all phis) usable.
func NewFrontier(ctx *Context) *Frontier {
	blk := ctx.Block()
	f := &Frontier{
		ctx:               ctx,
		cursor:            blk.Len() - 1,
		free:              ctx.NewBitset(),
		unresolvedScalars: ctx.NewBitset(),
		usable:            ctx.NewBitset(),
		producers:         make(map[int]*VectorPack),
	}
	for _, inst := range blk.Instructions() {
		id := ctx.ID(inst)
		f.free.Set(id)
		if inst.Op == ir.OpStore || hasForeignUser(inst) {
			// stores are implicitly live out
			f.unresolvedScalars.Set(id)
		}
	}
	for _, inst := range blk.Instructions() {
		if f.allUsersFrozen(inst) || inst.Op == ir.OpPhi {
			f.usable.Set(ctx.ID(inst))
		}
	}
	return f
}

func hasForeignUser(inst *ir.Instruction) bool {
	for _, u := range inst.Users() {
		if u.Block() != inst.Block() {
			return true
		}
	}
	return false
}

// allUsersFrozen reports whether no in-block user of inst
// remains free.
func (f *Frontier) allUsersFrozen(inst *ir.Instruction) bool {
	for _, u := range inst.Users() {
		if u.Block() != inst.Block() {
			continue
		}
		if f.free.Test(f.ctx.ID(u)) {
			return false
		}
	}
	return true
}

// Context returns the owning pack context.
func (f *Frontier) Context() *Context { return f.ctx }

// Free returns the undecided-instruction bitset.
func (f *Frontier) Free() bitvec.Vector { return f.free }

// UnresolvedScalars returns the scalar-demand bitset.
func (f *Frontier) UnresolvedScalars() bitvec.Vector { return f.unresolvedScalars }

// Usable returns the set of instructions that may be decided next.
func (f *Frontier) Usable() bitvec.Vector { return f.usable }

// Unresolved returns the pending operand packs, sorted canonically.
func (f *Frontier) Unresolved() []*OperandPack { return f.unresolved }

// Producer returns the pack that froze the value with the given
// id, if any.
func (f *Frontier) Producer(id int) *VectorPack { return f.producers[id] }

// Commits returns the packs committed so far, in commit order.
func (f *Frontier) Commits() []*VectorPack { return f.commits }

// Terminal reports whether nothing remains demanded: no scalar
// demand and no pending operand packs.
func (f *Frontier) Terminal() bool {
	return f.unresolvedScalars.Empty() && len(f.unresolved) == 0
}

// UsableInsts returns the usable instructions in reverse block
// order (the order the backward search visits them).
func (f *Frontier) UsableInsts() []*ir.Instruction {
	var out []*ir.Instruction
	f.usable.Each(func(id int) {
		inst, ok := f.ctx.Value(id).(*ir.Instruction)
		if ok && f.free.Test(id) {
			out = append(out, inst)
		}
	})
	slices.SortFunc(out, func(a, b *ir.Instruction) bool {
		return a.Index() > b.Index()
	})
	return out
}

func (f *Frontier) clone() *Frontier {
	return &Frontier{
		ctx:               f.ctx,
		cursor:            f.cursor,
		free:              f.free.Clone(),
		unresolvedScalars: f.unresolvedScalars.Clone(),
		usable:            f.usable.Clone(),
		unresolved:        slices.Clone(f.unresolved),
		producers:         maps.Clone(f.producers),
		commits:           slices.Clone(f.commits),
	}
}

// AdvanceInst returns the frontier after deciding that inst
// stays scalar, plus the incremental cost of that decision.
func (f *Frontier) AdvanceInst(inst *ir.Instruction) (*Frontier, float64) {
	next := f.clone()
	cost := next.advanceInst(inst)
	return next, cost
}

// AdvancePack returns the frontier after committing vp, plus the
// incremental cost.
func (f *Frontier) AdvancePack(vp *VectorPack) (*Frontier, float64) {
	next := f.clone()
	cost := next.advancePack(vp)
	return next, cost
}

// AdvanceShuffle returns the frontier after replacing the
// unresolved operand pack op with the shuffled inputs, paying
// one shuffle.
func (f *Frontier) AdvanceShuffle(op *OperandPack, inputs []*OperandPack) (*Frontier, float64) {
	next := f.clone()
	cost := next.ctx.costs.ShuffleCost(ir.ShuffleTwoSrc, op.Type())
	next.removeUnresolved(op)
	for _, in := range inputs {
		cost += next.demandOperand(in)
	}
	return next, cost
}

func (f *Frontier) advanceInst(inst *ir.Instruction) float64 {
	ctx := f.ctx
	id := ctx.ID(inst)
	if !f.free.Test(id) {
		panic("pack: scalarizing a frozen instruction")
	}
	f.free.Clear(id)
	f.unresolvedScalars.Clear(id)
	f.usable.Clear(id)
	f.refreshUsability(inst)
	f.advanceCursor()

	cost := ctx.costs.ScalarCost(inst)

	// settle unresolved operand packs that contain inst
	kept := f.unresolved[:0]
	for _, op := range f.unresolved {
		if !laneOf(op, inst) {
			kept = append(kept, op)
			continue
		}
		if v, ok := op.Splat(); ok && v == inst {
			cost += ctx.costs.ShuffleCost(ir.ShuffleBroadcast, op.Type())
			continue // resolved
		}
		for lane, val := range op.Values() {
			if val == inst {
				cost += ctx.costs.VecInstrCost(ir.VecInsert, op.Type(), lane)
			}
		}
		if !f.operandResolved(op) {
			kept = append(kept, op)
		}
	}
	f.unresolved = kept

	// operands of a scalar instruction are demanded as scalars;
	// this includes a phi's loop-carried in-block inputs, which
	// must still be computed every iteration
	for _, opnd := range inst.Operands() {
		def, ok := opnd.(*ir.Instruction)
		if !ok || def.Block() != ctx.Block() || def == inst {
			continue
		}
		if f.free.Test(ctx.ID(def)) {
			f.unresolvedScalars.Set(ctx.ID(def))
		}
	}
	return cost
}

func (f *Frontier) advancePack(vp *VectorPack) float64 {
	ctx := f.ctx
	if !f.free.Contains(vp.Elements()) {
		panic("pack: committing a pack with frozen elements")
	}
	cost := vp.ProducingCost()

	// lanes demanded as scalars by frozen consumers must be
	// extracted out of the vector
	vecTy := vp.Type()
	for lane, v := range vp.OrderedValues() {
		if v == nil {
			continue
		}
		if inst, ok := v.(*ir.Instruction); ok && inst.Type().Elem != ir.Void {
			if f.unresolvedScalars.Test(ctx.ID(inst)) {
				cost += ctx.costs.VecInstrCost(ir.VecExtract, vecTy, lane)
			}
		}
	}

	// freeze everything the pack replaces
	for _, inst := range vp.Replaced() {
		id := ctx.ID(inst)
		f.free.Clear(id)
		f.unresolvedScalars.Clear(id)
		f.usable.Clear(id)
	}
	for _, v := range vp.OrderedValues() {
		if v != nil {
			f.producers[ctx.ID(v)] = vp
		}
	}
	f.commits = append(f.commits, vp)
	for _, inst := range vp.Replaced() {
		f.refreshUsability(inst)
	}
	f.advanceCursor()

	// settle unresolved packs the new pack (partially) produces
	kept := f.unresolved[:0]
	for _, op := range f.unresolved {
		if !producesAny(vp, op) {
			kept = append(kept, op)
			continue
		}
		cost += f.gatherCost(vp, op)
		if !f.operandResolved(op) {
			kept = append(kept, op)
		}
	}
	f.unresolved = kept

	// demand the new pack's own operands
	for _, op := range vp.OperandPacks() {
		cost += f.demandOperand(op)
	}
	return cost
}

// demandOperand accounts for a newly demanded operand pack:
// immediately payable lanes (foreign values, already frozen
// scalars, broadcasts, exact pack re-use) are paid now; if any
// lane remains free the pack joins the unresolved list.
func (f *Frontier) demandOperand(op *OperandPack) float64 {
	ctx := f.ctx
	if op.AllConst() {
		return 0
	}
	if v, ok := op.Splat(); ok {
		if inst, ok2 := v.(*ir.Instruction); !ok2 || inst.Block() != ctx.Block() || !f.free.Test(ctx.ID(inst)) {
			// splat of a value the search will not decide
			return ctx.costs.ShuffleCost(ir.ShuffleBroadcast, op.Type())
		}
	}
	cost := 0.0
	anyFree := false
	credited := make(map[*VectorPack]bool)
	for lane, v := range op.Values() {
		if v == nil || ir.IsConst(v) {
			continue
		}
		inst, ok := v.(*ir.Instruction)
		if !ok || inst.Block() != ctx.Block() {
			// produced outside the search; insert it
			cost += ctx.costs.VecInstrCost(ir.VecInsert, op.Type(), lane)
			continue
		}
		id := ctx.ID(inst)
		if f.free.Test(id) {
			anyFree = true
			continue
		}
		if vp := f.producers[id]; vp != nil {
			if !credited[vp] {
				credited[vp] = true
				cost += f.gatherCost(vp, op)
			}
			continue
		}
		// frozen as scalar before this demand appeared
		cost += ctx.costs.VecInstrCost(ir.VecInsert, op.Type(), lane)
	}
	if anyFree {
		f.addUnresolved(op)
	}
	return cost
}

// gatherCost prices obtaining op's lanes out of the committed
// pack vp: free when the lane orders coincide, a single-source
// permute when vp holds exactly op's values in another order,
// and a generic two-source shuffle otherwise.
func (f *Frontier) gatherCost(vp *VectorPack, op *OperandPack) float64 {
	vals := vp.OrderedValues()
	if slices.Equal(vals, op.Values()) {
		return 0
	}
	if isPermutation(vals, op.Values()) {
		return f.ctx.costs.ShuffleCost(ir.ShufflePermute, op.Type())
	}
	return f.ctx.costs.ShuffleCost(ir.ShuffleTwoSrc, op.Type())
}

// operandResolved reports whether no lane of op remains free.
func (f *Frontier) operandResolved(op *OperandPack) bool {
	for _, v := range op.Values() {
		inst, ok := v.(*ir.Instruction)
		if !ok || inst.Block() != f.ctx.Block() {
			continue
		}
		if f.free.Test(f.ctx.ID(inst)) {
			return false
		}
	}
	return true
}

// refreshUsability re-evaluates the usable bit of the free
// in-block operands of a just-frozen instruction.
func (f *Frontier) refreshUsability(frozen *ir.Instruction) {
	for _, opnd := range frozen.Operands() {
		def, ok := opnd.(*ir.Instruction)
		if !ok || def.Block() != f.ctx.Block() {
			continue
		}
		id := f.ctx.ID(def)
		if f.free.Test(id) && f.allUsersFrozen(def) {
			f.usable.Set(id)
		}
	}
}

func (f *Frontier) advanceCursor() {
	for f.cursor >= 0 && !f.free.Test(f.cursor) {
		f.cursor--
	}
}

func (f *Frontier) addUnresolved(op *OperandPack) {
	i := sort.Search(len(f.unresolved), func(i int) bool {
		return f.unresolved[i].id >= op.id
	})
	if i < len(f.unresolved) && f.unresolved[i] == op {
		return
	}
	f.unresolved = slices.Insert(f.unresolved, i, op)
}

func (f *Frontier) removeUnresolved(op *OperandPack) {
	i := sort.Search(len(f.unresolved), func(i int) bool {
		return f.unresolved[i].id >= op.id
	})
	if i < len(f.unresolved) && f.unresolved[i] == op {
		f.unresolved = slices.Delete(f.unresolved, i, i+1)
	}
}

func laneOf(op *OperandPack, inst *ir.Instruction) bool {
	for _, v := range op.Values() {
		if v == inst {
			return true
		}
	}
	return false
}

// producesAny reports whether vp produces at least one lane of op.
func producesAny(vp *VectorPack, op *OperandPack) bool {
	for _, v := range op.Values() {
		if v == nil {
			continue
		}
		if inst, ok := v.(*ir.Instruction); ok {
			if vp.Elements().Test(vp.ctx.ID(inst)) {
				return true
			}
		}
	}
	return false
}

// isPermutation reports whether a and b hold the same non-nil
// values (as multisets) at equal length.
func isPermutation(a, b []ir.Value) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[ir.Value]int, len(a))
	for _, v := range a {
		if v != nil {
			count[v]++
		}
	}
	for _, v := range b {
		if v != nil {
			count[v]--
		}
	}
	for _, n := range count {
		if n != 0 {
			return false
		}
	}
	return true
}

// Encode appends the canonical byte encoding of f's decision
// state: cursor, free, unresolved scalars, and the interning
// IDs of the unresolved packs. Equal encodings mean equal
// frontiers; used as the DP solver's memo key.
func (f *Frontier) Encode(dst []byte) []byte {
	dst = append(dst, byte(f.cursor), byte(f.cursor>>8), byte(f.cursor>>16), byte(f.cursor>>24))
	dst = f.free.AppendWords(dst)
	dst = f.unresolvedScalars.AppendWords(dst)
	for _, op := range f.unresolved {
		dst = append(dst, byte(op.id), byte(op.id>>8), byte(op.id>>16), byte(op.id>>24))
	}
	return dst
}
