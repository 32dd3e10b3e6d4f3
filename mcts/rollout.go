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
	"github.com/packvec/packvec/pack"
)

// rollout plays a uniform random simulation from node to a
// terminal frontier and returns the accumulated cost plus the
// packs committed along the way.
func (s *Search) rollout(node *Node) (float64, []*pack.VectorPack) {
	frt := node.frontier
	pp := node.partial
	cost := 0.0
	var packs []*pack.VectorPack

	for {
		if pp != nil {
			cands := pp.Candidates(frt)
			if len(cands) == 0 {
				// dead partial; abandon it
				pp = nil
				continue
			}
			// prefer lanes that stay compatible with a
			// discovered extension pack
			exts := s.pkr.Extensions(s.blk, frt)
			preferred := cands[:0:0]
			for _, inst := range cands {
				for _, vp := range exts {
					if vp.Elements().Test(frt.Context().ID(inst)) {
						preferred = append(preferred, inst)
						break
					}
				}
			}
			if len(preferred) > 0 {
				cands = preferred
			}
			pp = pp.Fill(cands[s.rng.Intn(len(cands))])
			if !pp.Complete() {
				continue
			}
			vp := pp.Build()
			pp = nil
			if vp == nil {
				continue
			}
			next, c := frt.AdvancePack(vp)
			frt, cost = next, cost+c
			packs = append(packs, vp)
			continue
		}

		if frt.Terminal() {
			return cost, packs
		}
		if exts := s.pkr.Extensions(s.blk, frt); len(exts) > 0 {
			vp := exts[s.rng.Intn(len(exts))]
			next, c := frt.AdvancePack(vp)
			frt, cost = next, cost+c
			packs = append(packs, vp)
			continue
		}
		insts := frt.UsableInsts()
		if len(insts) == 0 {
			return cost, packs
		}
		next, c := frt.AdvanceInst(insts[0])
		frt, cost = next, cost+c
	}
}
