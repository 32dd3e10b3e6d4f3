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

func TestInstTableLanes(t *testing.T) {
	table := NewInstTable()
	if len(table.Bindings()) == 0 {
		t.Fatal("empty catalog")
	}
	for _, b := range table.Bindings() {
		sig := b.Signature()
		laneOps := b.LaneOps()
		if len(laneOps) < 2 {
			t.Fatalf("%s: one-lane binding in the catalog", b.Name())
		}
		op := laneOps[0].Op.(*BinaryOperation)
		if sig.OutputBits != op.Bits*len(laneOps) {
			t.Fatalf("%s: output %d bits != %d lanes x %d",
				b.Name(), sig.OutputBits, len(laneOps), op.Bits)
		}
		for lane, bound := range laneOps {
			if len(bound.Slices) != 2 {
				t.Fatalf("%s: binary lane with %d slices", b.Name(), len(bound.Slices))
			}
			for _, sl := range bound.Slices {
				if sl.Lo != lane*op.Bits || sl.Hi != (lane+1)*op.Bits {
					t.Fatalf("%s: lane %d slice [%d,%d)", b.Name(), lane, sl.Lo, sl.Hi)
				}
			}
		}
		if c := b.Cost(ir.UnitCosts{}); !ir.KnownCost(c) || c <= 0 {
			t.Fatalf("%s: cost %v", b.Name(), c)
		}
	}
	// floats only at 32 and 64 bits
	for _, b := range table.Bindings() {
		op := b.LaneOps()[0].Op.(*BinaryOperation)
		if op.Op.Float() && op.Bits != 32 && op.Bits != 64 {
			t.Fatalf("%s: float binding at %d bits", b.Name(), op.Bits)
		}
	}
}

// gated is a binding only legal with a target feature.
type gated struct {
	*VecBinding
	feats []string
}

func (g *gated) RequiredFeatures() []string { return g.feats }

func TestSupportedFiltersFeatures(t *testing.T) {
	table := NewInstTable()
	base := len(table.Bindings())
	bop := &BinaryOperation{Op: ir.OpAdd, Bits: 32}
	table.Add(&gated{NewVecBinding(bop, 256), []string{"avx2"}})

	plain := ir.NewFunction("plain")
	if got := len(table.Supported(plain)); got != base {
		t.Fatalf("plain function sees %d bindings, want %d", got, base)
	}
	wide := ir.NewFunction("wide", "avx2")
	if got := len(table.Supported(wide)); got != base+1 {
		t.Fatalf("avx2 function sees %d bindings, want %d", got, base+1)
	}
}

func TestDetectFeatures(t *testing.T) {
	feats := DetectFeatures()
	seen := map[string]bool{}
	for _, f := range feats {
		if seen[f] {
			t.Fatalf("duplicate feature %q", f)
		}
		seen[f] = true
	}
	// avx512 implies the avx tiers below it on any real machine
	if seen["avx512"] && (!seen["avx2"] || !seen["avx"]) {
		t.Fatal("inconsistent feature tiers")
	}
}
