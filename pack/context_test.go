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

	"github.com/packvec/packvec/ir"
)

func TestValueIndex(t *testing.T) {
	fn := ir.NewFunction("f")
	blk := fn.NewBlock("entry")
	b := ir.NewBuilder(blk)
	x := &ir.Arg{Name: "x", Ty: ir.S(ir.I32)}
	a := b.Binary(ir.OpAdd, x, x, "a")
	c := b.Binary(ir.OpMul, a, x, "c")

	ctx := NewContext(blk, ir.UnitCosts{})
	if ctx.ID(a) != a.Index() || ctx.ID(c) != c.Index() {
		t.Fatal("instruction ids must coincide with block positions")
	}
	if ctx.ID(a) == ctx.ID(x) || ctx.ID(x) >= ctx.NumValues() {
		t.Fatal("foreign operand indexed badly")
	}
	if ctx.Value(ctx.ID(x)) != x {
		t.Fatal("Value is not the inverse of ID")
	}
	if ctx.NewBitset().Len() != ctx.NumValues() {
		t.Fatal("bitset width must equal the value count")
	}
}

func TestCanonicalInterning(t *testing.T) {
	fn, blk := buildStoreAdds()
	_ = fn
	ctx := NewContext(blk, ir.UnitCosts{})
	insts := blk.Instructions()
	seq := []ir.Value{insts[0], insts[1], nil, insts[2]}

	op1 := ctx.Canonical(seq, ir.F32)
	op2 := ctx.Canonical(append([]ir.Value(nil), seq...), ir.F32)
	if op1 != op2 {
		t.Fatal("identical sequences must intern to one pointer")
	}
	op3 := ctx.Canonical([]ir.Value{insts[1], insts[0], nil, insts[2]}, ir.F32)
	if op3 == op1 {
		t.Fatal("distinct sequences must not share a pointer")
	}
	if op1.Type() != ir.V(ir.F32, 4) {
		t.Fatalf("operand type = %s, want <4 x f32>", op1.Type())
	}
}

func TestDedupOddEven(t *testing.T) {
	fn, blk := buildStoreAdds()
	_ = fn
	ctx := NewContext(blk, ir.UnitCosts{})
	insts := blk.Instructions()
	a, b, c := insts[0], insts[1], insts[2]

	op := ctx.Canonical([]ir.Value{a, b, a, c}, ir.F32)
	dd := ctx.Dedup(op)
	if dd == op || dd.Len() != 3 {
		t.Fatalf("dedup kept %d lanes, want 3", dd.Len())
	}
	if vals := dd.Values(); vals[0] != a || vals[1] != b || vals[2] != c {
		t.Fatal("dedup must keep first occurrences in order")
	}
	nodup := ctx.Canonical([]ir.Value{a, b, c}, ir.F32)
	if ctx.Dedup(nodup) != nodup {
		t.Fatal("dedup of a duplicate-free pack must be identity")
	}

	odd := ctx.Odd(op)
	even := ctx.Even(op)
	if odd.Len() != 2 || odd.Values()[0] != b || odd.Values()[1] != c {
		t.Fatal("odd lanes wrong")
	}
	if even.Len() != 2 || even.Values()[0] != a || even.Values()[1] != a {
		t.Fatal("even lanes wrong")
	}
}

func TestSplatDetection(t *testing.T) {
	fn, blk := buildStoreAdds()
	_ = fn
	// the block must reference the constant for it to be indexed
	k := ir.ConstFloat(ir.F32, 2)
	ir.NewBuilder(blk).Binary(ir.OpFMul, k, k, "")
	ctx := NewContext(blk, ir.UnitCosts{})
	a, b := blk.Inst(0), blk.Inst(1)

	if v, ok := ctx.Canonical([]ir.Value{a, a, nil, a}, ir.F32).Splat(); !ok || v != a {
		t.Fatal("splat with don't-cares not detected")
	}
	if _, ok := ctx.Canonical([]ir.Value{a, b}, ir.F32).Splat(); ok {
		t.Fatal("mixed lanes reported as splat")
	}
	if !ctx.Canonical([]ir.Value{k, k}, ir.F32).AllConst() {
		t.Fatal("constant pack not detected")
	}
}
