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

package ir

import "testing"

func TestBuilderUsers(t *testing.T) {
	fn := NewFunction("f")
	blk := fn.NewBlock("entry")
	b := NewBuilder(blk)
	x := &Arg{Name: "x", Ty: S(F32)}
	l := b.Load(F32, &Addr{Base: "a", Elem: F32}, "l")
	add := b.Binary(OpFAdd, l, x, "add")
	st := b.Store(add, &Addr{Base: "p", Elem: F32})

	if blk.Len() != 3 {
		t.Fatalf("block has %d instructions, want 3", blk.Len())
	}
	if len(l.Users()) != 1 || l.Users()[0] != add {
		t.Fatal("load users wrong")
	}
	if len(add.Users()) != 1 || add.Users()[0] != st {
		t.Fatal("add users wrong")
	}
	if !l.ComesBefore(add) || !add.ComesBefore(st) {
		t.Fatal("ordering wrong")
	}
	if add.Type() != S(F32) || st.Type().Elem != Void {
		t.Fatal("result types wrong")
	}
	if st.Stored() != add || st.AccessType() != S(F32) {
		t.Fatal("store accessors wrong")
	}
}

func TestStaticAddrsConsecutive(t *testing.T) {
	fn := NewFunction("f")
	b := NewBuilder(fn.NewBlock("entry"))
	l0 := b.Load(F32, &Addr{Base: "a", Offset: 0, Elem: F32}, "l0")
	l1 := b.Load(F32, &Addr{Base: "a", Offset: 4, Elem: F32}, "l1")
	l2 := b.Load(F32, &Addr{Base: "a", Offset: 12, Elem: F32}, "l2")
	lb := b.Load(F32, &Addr{Base: "b", Offset: 4, Elem: F32}, "lb")
	ld := b.Load(F64, &Addr{Base: "a", Offset: 4, Elem: F64}, "ld")

	var o StaticAddrs
	if !o.IsConsecutive(l0, l1) {
		t.Fatal("l0 -> l1 should be consecutive")
	}
	if o.IsConsecutive(l1, l0) {
		t.Fatal("adjacency is not symmetric")
	}
	if o.IsConsecutive(l1, l2) {
		t.Fatal("gap of 8 bytes is not consecutive")
	}
	if o.IsConsecutive(l0, lb) {
		t.Fatal("distinct bases are never consecutive")
	}
	if o.IsConsecutive(l0, ld) {
		t.Fatal("mixed element types are never consecutive")
	}
}

func TestStaticAddrsAlias(t *testing.T) {
	fn := NewFunction("f")
	b := NewBuilder(fn.NewBlock("entry"))
	x := &Arg{Name: "x", Ty: S(F32)}
	s0 := b.Store(x, &Addr{Base: "p", Offset: 0, Elem: F32})
	s1 := b.Store(x, &Addr{Base: "p", Offset: 4, Elem: F32})
	s2 := b.Store(x, &Addr{Base: "q", Offset: 0, Elem: F32})
	l0 := b.Load(F32, &Addr{Base: "p", Offset: 0, Elem: F32}, "l0")

	var o StaticAddrs
	if o.Alias(s0, s1) != NoAlias {
		t.Fatal("disjoint ranges must not alias")
	}
	if o.Alias(s0, s2) != NoAlias {
		t.Fatal("distinct bases must not alias")
	}
	if o.Alias(s0, l0) != MustAlias {
		t.Fatal("same range must alias")
	}
}

func TestPhiPatch(t *testing.T) {
	fn := NewFunction("f")
	entry := fn.NewBlock("entry")
	loop := fn.NewBlock("loop")
	b := NewBuilder(loop)
	zero := ConstFloat(F32, 0)
	phi := b.Phi(S(F32), []Value{zero, zero}, []*Block{entry, loop}, "acc")
	next := b.Binary(OpFAdd, phi, &Arg{Name: "d", Ty: S(F32)}, "next")
	PatchPhi(phi, loop, next)

	if phi.IncomingFor(loop) != next || phi.IncomingFor(entry) != zero {
		t.Fatal("incoming edges wrong after patch")
	}
	found := false
	for _, u := range next.Users() {
		if u == phi {
			found = true
		}
	}
	if !found {
		t.Fatal("patch did not register the phi as a user")
	}
}

func TestCostModelSentinel(t *testing.T) {
	if KnownCost(CostUnknown) {
		t.Fatal("sentinel must not be a known cost")
	}
	if !KnownCost(1.5) || !KnownCost(0) {
		t.Fatal("finite costs must be known")
	}
	var cm UnitCosts
	if cm.ArithCost(OpFDiv, S(F32)) <= cm.ArithCost(OpFAdd, S(F32)) {
		t.Fatal("divisions should cost more than adds")
	}
}
