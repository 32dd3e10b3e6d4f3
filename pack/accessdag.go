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
	"github.com/packvec/packvec/ir"
)

// AccessDAG records which memory accesses immediately follow
// which in address order: an edge a -> b means b accesses the
// element one past a, with the same scalar element type.
// The relation is irreflexive; a node may have several
// successors when distinct accesses read the same address.
type AccessDAG struct {
	next map[*ir.Instruction][]*ir.Instruction
}

// NewAccessDAG builds the DAG over accesses (all loads or all
// stores of one block) with a quadratic scan over same-type
// pairs, asking the consecutive-access oracle for adjacency.
func NewAccessDAG(accesses []*ir.Instruction, consec ir.ConsecutiveOracle) *AccessDAG {
	dag := &AccessDAG{next: make(map[*ir.Instruction][]*ir.Instruction)}
	for _, a := range accesses {
		ty := a.AccessType()
		if ty.Vector() || ty.Elem == ir.Void {
			continue
		}
		for _, b := range accesses {
			if a == b || b.AccessType() != ty {
				continue
			}
			if consec.IsConsecutive(a, b) && !contains(dag.next[a], b) {
				dag.next[a] = append(dag.next[a], b)
			}
		}
	}
	return dag
}

// Next returns the accesses immediately following a.
func (d *AccessDAG) Next(a *ir.Instruction) []*ir.Instruction { return d.next[a] }

// Empty returns true when the DAG has no edges.
func (d *AccessDAG) Empty() bool { return len(d.next) == 0 }

func contains(xs []*ir.Instruction, x *ir.Instruction) bool {
	for _, y := range xs {
		if y == x {
			return true
		}
	}
	return false
}
