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
	"github.com/packvec/packvec/bitvec"
	"github.com/packvec/packvec/ir"
)

// Dependence tracks transitive dependencies between the
// instructions of one basic block. For each instruction I,
// Depended(I) is the set of instructions I transitively reads,
// plus prior memory accesses whose effects conflict with I's.
// The sets are reflexive-free and transitively closed.
type Dependence struct {
	ctx         *Context
	depended    []bitvec.Vector // by instruction index
	independent []bitvec.Vector
}

// NewDependence runs the dependence analysis over ctx's block
// using the given alias oracle. Pure; never fails.
func NewDependence(aliases ir.AliasOracle, ctx *Context) *Dependence {
	insts := ctx.Block().Instructions()
	d := &Dependence{
		ctx:       ctx,
		depended:    make([]bitvec.Vector, len(insts)),
		independent: make([]bitvec.Vector, len(insts)),
	}
	var mem []*ir.Instruction
	for i, inst := range insts {
		dep := ctx.NewBitset()
		if inst.Op != ir.OpPhi {
			// phi operands flow in on control edges and carry
			// no intra-iteration dependence
			for _, op := range inst.Operands() {
				def, ok := op.(*ir.Instruction)
				if !ok || def.Block() != ctx.Block() || def == inst {
					continue
				}
				dep.Set(ctx.ID(def))
				dep.Or(d.depended[def.Index()])
			}
		}
		if inst.Op.MemAccess() {
			for _, prior := range mem {
				// two reads never conflict
				if inst.Op == ir.OpLoad && prior.Op == ir.OpLoad {
					continue
				}
				if aliases.Alias(prior, inst) == ir.NoAlias {
					continue
				}
				dep.Set(ctx.ID(prior))
				dep.Or(d.depended[prior.Index()])
			}
			mem = append(mem, inst)
		}
		d.depended[i] = dep
	}
	for i, inst := range insts {
		ind := ctx.NewBitset()
		for j, other := range insts {
			if j == i {
				continue
			}
			if d.depended[i].Test(ctx.ID(other)) || d.depended[j].Test(ctx.ID(inst)) {
				continue
			}
			ind.Set(ctx.ID(other))
		}
		d.independent[i] = ind
	}
	return d
}

// Depended returns the transitive dependency set of i.
func (d *Dependence) Depended(i *ir.Instruction) bitvec.Vector {
	return d.depended[i.Index()]
}

// Independent returns the set of instructions that may be
// co-scheduled with i in one pack.
func (d *Dependence) Independent(i *ir.Instruction) bitvec.Vector {
	return d.independent[i.Index()]
}

// checkIndependence reports whether inst can join a pack that
// already covers elements with dependency union depended.
func checkIndependence(d *Dependence, ctx *Context, inst *ir.Instruction,
	elements, depended bitvec.Vector) bool {
	id := ctx.ID(inst)
	return !elements.Test(id) &&
		!depended.Test(id) &&
		!d.Depended(inst).AnyCommon(elements)
}
