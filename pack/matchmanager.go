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

	"github.com/packvec/packvec/ir"
)

// MatchManager caches, for every operation referenced by the
// supported bindings, all of its matches against the values of
// one basic block. Matches are sorted by the position of their
// output so per-output lookup is a binary search.
type MatchManager struct {
	ctx     *Context
	matches map[Operation][]Match
}

// NewMatchManager matches every lane operation of insts against
// every instruction of ctx's block. The same (operation, output)
// pair is recorded at most once.
func NewMatchManager(insts []InstBinding, ctx *Context) *MatchManager {
	mm := &MatchManager{ctx: ctx, matches: make(map[Operation][]Match)}
	seen := make(map[Operation]map[ir.Value]bool)
	for _, binding := range insts {
		for _, lane := range binding.LaneOps() {
			if _, ok := mm.matches[lane.Op]; !ok {
				mm.matches[lane.Op] = nil
				seen[lane.Op] = make(map[ir.Value]bool)
			}
		}
	}
	for _, inst := range ctx.Block().Instructions() {
		for op, dedup := range seen {
			if dedup[inst] {
				continue
			}
			if m, ok := op.Match(inst); ok {
				dedup[inst] = true
				mm.matches[op] = append(mm.matches[op], m)
			}
		}
	}
	for op := range mm.matches {
		ms := mm.matches[op]
		sort.SliceStable(ms, func(i, j int) bool {
			return ctx.ID(ms[i].Output) < ctx.ID(ms[j].Output)
		})
	}
	return mm
}

// Matches returns all matches of op in block order of output.
func (mm *MatchManager) Matches(op Operation) []Match {
	return mm.matches[op]
}

// MatchesForOutput returns the matches of op whose output is out.
func (mm *MatchManager) MatchesForOutput(op Operation, out ir.Value) []Match {
	ms := mm.matches[op]
	id := mm.ctx.ID(out)
	lo := sort.Search(len(ms), func(i int) bool { return mm.ctx.ID(ms[i].Output) >= id })
	hi := lo
	for hi < len(ms) && ms[hi].Output == out {
		hi++
	}
	return ms[lo:hi]
}

// intermediates collects the in-block instructions a match
// replaces: the output plus any interior instructions between
// the match's inputs and its output.
func intermediates(ctx *Context, m *Match, out map[*ir.Instruction]bool) {
	inst, ok := m.Output.(*ir.Instruction)
	if !ok || inst.Block() != ctx.Block() {
		return
	}
	inputs := make(map[ir.Value]bool, len(m.Inputs))
	for _, in := range m.Inputs {
		inputs[in] = true
	}
	var visit func(i *ir.Instruction)
	visit = func(i *ir.Instruction) {
		if out[i] {
			return
		}
		out[i] = true
		for _, op := range i.Operands() {
			def, ok := op.(*ir.Instruction)
			if !ok || def.Block() != ctx.Block() || inputs[op] {
				continue
			}
			visit(def)
		}
	}
	visit(inst)
}
