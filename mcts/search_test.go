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

package mcts

import (
	"testing"

	"github.com/packvec/packvec/ir"
	"github.com/packvec/packvec/pack"
)

func testAnalyses() pack.Analyses {
	return pack.Analyses{
		Aliases:     ir.StaticAddrs{},
		Consecutive: ir.StaticAddrs{},
		Costs:       ir.UnitCosts{},
	}
}

func newPacker(t *testing.T, fn *ir.Function, opts pack.Options) *pack.Packer {
	t.Helper()
	pkr, err := pack.NewPacker(fn, pack.NewInstTable(), opts, testAnalyses())
	if err != nil {
		t.Fatal(err)
	}
	return pkr
}

func addr(base string, i int64, elem ir.Scalar) *ir.Addr {
	return &ir.Addr{Base: base, Offset: i * int64(elem.Size()), Elem: elem}
}

func storeAddsFunc() *ir.Function {
	fn := ir.NewFunction("kernel")
	blk := fn.NewBlock("entry")
	b := ir.NewBuilder(blk)
	for i := int64(0); i < 4; i++ {
		la := b.Load(ir.F32, addr("a", i, ir.F32), "")
		lb := b.Load(ir.F32, addr("b", i, ir.F32), "")
		b.Store(b.Binary(ir.OpFAdd, la, lb, ""), addr("p", i, ir.F32))
	}
	return fn
}

func TestSearchVectorizes(t *testing.T) {
	opts := pack.DefaultOptions()
	opts.NumSimulations = 300
	opts.UseMCTS = true
	fn := storeAddsFunc()
	pkr := newPacker(t, fn, opts)
	blk := fn.Blocks()[0]

	plan, err := Optimize(pkr, blk, nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Cost() >= 0 {
		t.Fatalf("mcts plan cost = %v, want below scalar baseline", plan.Cost())
	}
	var hasStore, hasAdd bool
	for _, vp := range plan.Packs() {
		switch vp.Kind() {
		case pack.Store:
			hasStore = true
		case pack.General:
			hasAdd = true
		}
	}
	if !hasStore || !hasAdd {
		t.Fatal("best rollout must commit the store and fadd packs")
	}
}

// Root visit counts account for every simulation, and each
// transition's visits equal the visits of its subtree.
func TestVisitAccounting(t *testing.T) {
	opts := pack.DefaultOptions()
	opts.UseMCTS = true
	fn := storeAddsFunc()
	pkr := newPacker(t, fn, opts)
	blk := fn.Blocks()[0]

	s := NewSearch(pkr, blk, nil)
	root := NewNode(pkr.NewFrontierFor(blk), nil)
	const n = 50
	s.Run(root, n)

	if root.Visits() != n {
		t.Fatalf("root visits = %d, want %d", root.Visits(), n)
	}
	var check func(nd *Node)
	check = func(nd *Node) {
		for _, tr := range nd.Transitions() {
			if tr.Next() != nil && tr.Next().Visits() != tr.Visits() {
				t.Fatalf("transition visits %d != subtree visits %d",
					tr.Visits(), tr.Next().Visits())
			}
			if tr.Next() != nil {
				check(tr.Next())
			}
		}
	}
	check(root)
}

// A frontier whose expansion yields exactly one child is a
// forced move: Run performs one iteration no matter the budget.
func TestForcedMove(t *testing.T) {
	fn := ir.NewFunction("forced")
	blk := fn.NewBlock("entry")
	b := ir.NewBuilder(blk)
	b.Store(&ir.Arg{Name: "x", Ty: ir.S(ir.F32)}, addr("p", 0, ir.F32))

	opts := pack.DefaultOptions()
	opts.UseMCTS = true
	pkr := newPacker(t, fn, opts)

	s := NewSearch(pkr, blk, nil)
	root := NewNode(pkr.NewFrontierFor(blk), nil)
	s.Run(root, 1000)

	if len(root.Transitions()) != 1 {
		t.Fatalf("expected exactly one child, got %d", len(root.Transitions()))
	}
	if root.Visits() != 1 {
		t.Fatalf("forced move ran %d iterations, want 1", root.Visits())
	}
}

// Loop-carried phis: four accumulators multiplied by a loop
// invariant each iteration, one live out. The phi pack plus the
// fmul pack beat the scalar baseline.
func TestPhiPack(t *testing.T) {
	fn := ir.NewFunction("loop")
	entry := fn.NewBlock("entry")
	body := fn.NewBlock("body")
	exit := fn.NewBlock("exit")

	b := ir.NewBuilder(body)
	k := &ir.Arg{Name: "k", Ty: ir.S(ir.F32)}
	zero := ir.ConstFloat(ir.F32, 0)
	var phis []*ir.Instruction
	for i := 0; i < 4; i++ {
		phis = append(phis, b.Phi(ir.S(ir.F32), []ir.Value{zero, zero},
			[]*ir.Block{entry, body}, ""))
	}
	for _, phi := range phis {
		ir.PatchPhi(phi, body, b.Binary(ir.OpFMul, phi, k, ""))
	}
	// one accumulator is live out of the loop
	ir.NewBuilder(exit).Store(phis[0], addr("out", 0, ir.F32))

	opts := pack.DefaultOptions()
	opts.NumSimulations = 300
	opts.UseMCTS = true
	pkr := newPacker(t, fn, opts)

	plan, err := Optimize(pkr, body, nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Cost() >= 0 {
		t.Fatalf("plan cost = %v, want below the scalar baseline", plan.Cost())
	}
	var hasPhi, hasMul bool
	for _, vp := range plan.Packs() {
		switch vp.Kind() {
		case pack.Phi:
			hasPhi = true
		case pack.General:
			hasMul = true
		}
	}
	if !hasPhi || !hasMul {
		t.Fatal("expected one phi pack and one fmul pack")
	}
}

// Terminal root: nothing demanded, every iteration is trivial,
// empty plan.
func TestSearchNothingToDo(t *testing.T) {
	fn := ir.NewFunction("empty")
	blk := fn.NewBlock("entry")
	b := ir.NewBuilder(blk)
	a := &ir.Arg{Name: "a", Ty: ir.S(ir.I32)}
	b.Binary(ir.OpAdd, a, a, "x")

	opts := pack.DefaultOptions()
	opts.UseMCTS = true
	pkr := newPacker(t, fn, opts)
	plan, err := Optimize(pkr, blk, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Packs()) != 0 || plan.Cost() != 0 {
		t.Fatal("expected the empty plan")
	}
}
