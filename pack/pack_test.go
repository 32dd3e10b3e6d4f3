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

func testAnalyses() Analyses {
	return Analyses{
		Aliases:     ir.StaticAddrs{},
		Consecutive: ir.StaticAddrs{},
		Costs:       ir.UnitCosts{},
	}
}

func newTestPacker(t *testing.T, fn *ir.Function) *Packer {
	t.Helper()
	pkr, err := NewPacker(fn, NewInstTable(), DefaultOptions(), testAnalyses())
	if err != nil {
		t.Fatalf("NewPacker: %v", err)
	}
	return pkr
}

func addr(base string, i int64, elem ir.Scalar) *ir.Addr {
	return &ir.Addr{Base: base, Offset: i * int64(elem.Size()), Elem: elem}
}

// buildStoreAdds builds the four-consecutive-stores-of-adds
// block: store float (a[i]+b[i]) at p[i] for i in 0..3.
func buildStoreAdds() (*ir.Function, *ir.Block) {
	fn := ir.NewFunction("kernel")
	blk := fn.NewBlock("entry")
	b := ir.NewBuilder(blk)
	for i := int64(0); i < 4; i++ {
		la := b.Load(ir.F32, addr("a", i, ir.F32), "")
		lb := b.Load(ir.F32, addr("b", i, ir.F32), "")
		sum := b.Binary(ir.OpFAdd, la, lb, "")
		b.Store(sum, addr("p", i, ir.F32))
	}
	return fn, blk
}

// buildGatherAdds builds four adds of non-adjacent loads with a
// shared scalar operand, stored consecutively.
func buildGatherAdds() (*ir.Function, *ir.Block) {
	fn := ir.NewFunction("gather")
	blk := fn.NewBlock("entry")
	b := ir.NewBuilder(blk)
	x := &ir.Arg{Name: "x", Ty: ir.S(ir.F32)}
	for i := int64(0); i < 4; i++ {
		l := b.Load(ir.F32, addr("a", 3*i, ir.F32), "")
		sum := b.Binary(ir.OpFAdd, l, x, "")
		b.Store(sum, addr("p", i, ir.F32))
	}
	return fn, blk
}

func findKind(packs []*VectorPack, k Kind) *VectorPack {
	for _, vp := range packs {
		if vp.Kind() == k {
			return vp
		}
	}
	return nil
}
