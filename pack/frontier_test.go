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
	"testing"

	"github.com/packvec/packvec/bitvec"
	"github.com/packvec/packvec/ir"
)

func TestFrontierStart(t *testing.T) {
	_, blk := buildStoreAdds()
	ctx := NewContext(blk, ir.UnitCosts{})
	frt := NewFrontier(ctx)

	if frt.Free().Count() != blk.Len() {
		t.Fatal("everything must start free")
	}
	for _, inst := range blk.Instructions() {
		id := ctx.ID(inst)
		switch inst.Op {
		case ir.OpStore:
			if !frt.UnresolvedScalars().Test(id) {
				t.Fatal("stores are implicitly live out")
			}
			if !frt.Usable().Test(id) {
				t.Fatal("stores have no users and must be usable")
			}
		default:
			if frt.UnresolvedScalars().Test(id) {
				t.Fatal("values with only in-block users must start unresolved-free")
			}
			if frt.Usable().Test(id) {
				t.Fatal("values with free users must not be usable")
			}
		}
	}
	if frt.Terminal() {
		t.Fatal("a block with stores cannot start terminal")
	}
}

func TestFrontierAdvanceInst(t *testing.T) {
	_, blk := buildStoreAdds()
	ctx := NewContext(blk, ir.UnitCosts{})
	frt := NewFrontier(ctx)

	st := blk.Inst(3) // first store
	add := blk.Inst(2)
	next, cost := frt.AdvanceInst(st)

	if cost != 1 {
		t.Fatalf("scalarizing a store cost %v, want 1", cost)
	}
	// copy-on-write: the source frontier is untouched
	if !frt.Free().Test(ctx.ID(st)) {
		t.Fatal("AdvanceInst mutated its receiver")
	}
	if next.Free().Test(ctx.ID(st)) {
		t.Fatal("store still free after freezing")
	}
	if !next.UnresolvedScalars().Test(ctx.ID(add)) {
		t.Fatal("the stored value is now demanded as a scalar")
	}
	if !next.Usable().Test(ctx.ID(add)) {
		t.Fatal("the add's only user froze, so it must be usable")
	}
}

func TestFrontierAdvancePack(t *testing.T) {
	_, blk := buildStoreAdds()
	pkr := newTestPacker(t, blk.Func())
	bs := pkr.state(blk)
	frt := NewFrontier(bs.ctx)

	var seed *VectorPack
	for _, vp := range bs.seedStorePacks() {
		if vp.Elements().Count() == 4 {
			seed = vp
			break
		}
	}
	if seed == nil {
		t.Fatal("no 4-lane store seed")
	}
	next, cost := frt.AdvancePack(seed)

	// producing cost 1; no extracts (stores produce nothing)
	if cost != 1 {
		t.Fatalf("committing the store pack cost %v, want 1", cost)
	}
	// property: new free = old free minus replaced
	wantFree := frt.Free().Clone()
	for _, inst := range seed.Replaced() {
		wantFree.Clear(bs.ctx.ID(inst))
	}
	if !next.Free().Equal(wantFree) {
		t.Fatal("free set must shrink by exactly the replaced instructions")
	}
	if len(next.Unresolved()) != 1 {
		t.Fatalf("unresolved packs = %d, want 1 (the stored adds)", len(next.Unresolved()))
	}
	if !next.Free().Contains(next.Unresolved()[0].elementsOf(bs.ctx)) {
		t.Fatal("unresolved pack elements must stay within free")
	}
	if next.Terminal() {
		t.Fatal("pending operand pack must block terminality")
	}
}

// elementsOf is a test helper collecting the in-block lane ids.
func (o *OperandPack) elementsOf(ctx *Context) bitvec.Vector {
	bits := ctx.NewBitset()
	for _, v := range o.Values() {
		if inst, ok := v.(*ir.Instruction); ok && inst.Block() == ctx.Block() {
			bits.Set(ctx.ID(inst))
		}
	}
	return bits
}

func TestFrontierFullWalk(t *testing.T) {
	_, blk := buildStoreAdds()
	pkr := newTestPacker(t, blk.Func())
	bs := pkr.state(blk)
	frt := NewFrontier(bs.ctx)
	total := 0.0

	var store4 *VectorPack
	for _, vp := range bs.seedStorePacks() {
		if vp.Elements().Count() == 4 {
			store4 = vp
			break
		}
	}
	cur, c := frt.AdvancePack(store4)
	total += c
	for !cur.Terminal() {
		exts := bs.Extensions(cur)
		if len(exts) == 0 {
			t.Fatal("walk stuck: no extensions for pending packs")
		}
		cur, c = cur.AdvancePack(exts[0])
		total += c
	}
	// store 1 + fadd 1 + two loads 2; everything gathers exactly
	if total != 4 {
		t.Fatalf("fully vectorized walk cost %v, want 4", total)
	}
	if cur.Free().Count() != 0 {
		t.Fatal("every instruction must be decided at the end")
	}
}

func TestFrontierSplatBroadcast(t *testing.T) {
	_, blk := buildGatherAdds()
	pkr := newTestPacker(t, blk.Func())
	bs := pkr.state(blk)
	frt := NewFrontier(bs.ctx)

	var store4 *VectorPack
	for _, vp := range bs.seedStorePacks() {
		if vp.Elements().Count() == 4 {
			store4 = vp
		}
	}
	cur, _ := frt.AdvancePack(store4)
	exts := bs.Extensions(cur)
	if len(exts) == 0 {
		t.Fatal("no fadd extension")
	}
	// committing the fadd pack pays: producing 1, four inserts
	// for the scattered loads' lanes later (they stay free now),
	// and one broadcast for the splat argument
	_, cost := cur.AdvancePack(exts[0])
	if cost != 2 {
		t.Fatalf("fadd commit cost %v, want producing 1 + broadcast 1", cost)
	}
}
