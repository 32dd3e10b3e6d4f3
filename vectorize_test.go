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

package packvec

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/packvec/packvec/ir"
	"github.com/packvec/packvec/mcts"
	"github.com/packvec/packvec/pack"
	"github.com/packvec/packvec/trace"
)

func kernel(name string) *ir.Function {
	fn := ir.NewFunction(name)
	blk := fn.NewBlock("entry")
	b := ir.NewBuilder(blk)
	for i := int64(0); i < 4; i++ {
		la := b.Load(ir.F32, &ir.Addr{Base: "a", Offset: 4 * i, Elem: ir.F32}, "")
		lb := b.Load(ir.F32, &ir.Addr{Base: "b", Offset: 4 * i, Elem: ir.F32}, "")
		b.Store(b.Binary(ir.OpFAdd, la, lb, ""), &ir.Addr{Base: "p", Offset: 4 * i, Elem: ir.F32})
	}
	return fn
}

func TestOptimizeDispatch(t *testing.T) {
	for _, useMCTS := range []bool{false, true} {
		opts := pack.DefaultOptions()
		opts.UseMCTS = useMCTS
		opts.NumSimulations = 200
		fn := kernel("k")
		pkr, err := pack.NewPacker(fn, pack.NewInstTable(), opts, pack.Analyses{
			Aliases:     ir.StaticAddrs{},
			Consecutive: ir.StaticAddrs{},
			Costs:       ir.UnitCosts{},
		})
		if err != nil {
			t.Fatal(err)
		}
		plan, err := Optimize(pkr, fn.Blocks()[0], nil)
		if err != nil {
			t.Fatal(err)
		}
		if plan.Cost() >= 0 {
			t.Fatalf("use_mcts=%v: cost %v not below scalar", useMCTS, plan.Cost())
		}
	}
}

// A search wired to a trace writer archives every walked
// decision, and the archive reads back intact.
func TestSearchRecordsTrace(t *testing.T) {
	var buf bytes.Buffer
	w, err := trace.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}

	opts := pack.DefaultOptions()
	opts.UseMCTS = true
	fn := kernel("traced")
	pkr, err := pack.NewPacker(fn, pack.NewInstTable(), opts, pack.Analyses{
		Aliases:     ir.StaticAddrs{},
		Consecutive: ir.StaticAddrs{},
		Costs:       ir.UnitCosts{},
	})
	if err != nil {
		t.Fatal(err)
	}
	blk := fn.Blocks()[0]
	s := mcts.NewSearch(pkr, blk, nil)
	s.SetRecorder(w)
	s.Run(mcts.NewNode(pkr.NewFrontierFor(blk), nil), 50)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := trace.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	count := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if rec.Transition == "" || len(rec.Frontier) == 0 {
			t.Fatal("empty trace record")
		}
		count++
	}
	if count == 0 {
		t.Fatal("the search recorded nothing")
	}
}

func TestOptimizeFunctionsPool(t *testing.T) {
	var fns []*ir.Function
	for i := 0; i < 8; i++ {
		fns = append(fns, kernel(fmt.Sprintf("k%d", i)))
	}
	mk := func(*ir.Function) pack.Analyses {
		return pack.Analyses{
			Aliases:     ir.StaticAddrs{},
			Consecutive: ir.StaticAddrs{},
			Costs:       ir.UnitCosts{},
		}
	}
	plans, err := OptimizeFunctions(fns, pack.NewInstTable(), pack.DefaultOptions(), mk, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != len(fns) {
		t.Fatalf("got %d plans, want %d", len(plans), len(fns))
	}
	for _, fn := range fns {
		plan := plans[fn.Blocks()[0]]
		if plan == nil || plan.Cost() >= 0 {
			t.Fatalf("%s: missing or unprofitable plan", fn.Name)
		}
	}
}
