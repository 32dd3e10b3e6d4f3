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
	"fmt"

	"github.com/dchest/siphash"

	"github.com/packvec/packvec/ir"
)

// dp solver memo keys are siphash digests of the canonical
// frontier encoding; entries chain on (vanishingly rare)
// digest collisions by keeping the encoding.
const (
	dpHashK0 = 0x7061636b76656321 // arbitrary fixed keys: the
	dpHashK1 = 0x66726f6e74696572 // memo is process-local
)

type dpEntry struct {
	enc   string
	cost  float64
	packs []*VectorPack // packs committed by the best decision
}

// DPSolver finds the cost-minimal completion of frontiers by
// memoized recursion: at each state it compares scalarizing
// everything against committing each viable candidate pack
// (extension packs of the pending operand packs, plus seed
// store chains and phi groups to get the recursion started).
type DPSolver struct {
	bs    *blockState
	seeds []*VectorPack
	memo  map[uint64][]*dpEntry
}

// NewDPSolver returns a solver for blk.
func (p *Packer) NewDPSolver(blk *ir.Block) *DPSolver {
	bs := p.state(blk)
	return &DPSolver{
		bs:    bs,
		seeds: bs.seedStorePacks(),
		memo:  make(map[uint64][]*dpEntry),
	}
}

// SolveDP selects packs for blk by dynamic programming over
// frontier states and returns the resulting plan.
func (p *Packer) SolveDP(blk *ir.Block) (*Plan, error) {
	s := p.NewDPSolver(blk)
	frt := NewFrontier(s.bs.ctx)
	_, packs := s.solve(frt)
	plan := NewPlan(s.bs.ctx)
	for _, vp := range packs {
		plan.Add(vp)
	}
	if !plan.VerifyCost() {
		return nil, fmt.Errorf("pack: dp plan cost diverged on %s", blk.Name())
	}
	return plan, nil
}

// Solve returns the minimum completion cost of frt.
func (s *DPSolver) Solve(frt *Frontier) float64 {
	cost, _ := s.solve(frt)
	return cost
}

func (s *DPSolver) solve(frt *Frontier) (float64, []*VectorPack) {
	enc := string(frt.Encode(nil))
	digest := siphash.Hash(dpHashK0, dpHashK1, []byte(enc))
	for _, e := range s.memo[digest] {
		if e.enc == enc {
			return e.cost, e.packs
		}
	}

	best, packs := s.scalarizeAll(frt)
	for _, vp := range s.candidates(frt) {
		next, local := frt.AdvancePack(vp)
		recCost, recPacks := s.solve(next)
		if total := local + recCost; total < best {
			best = total
			packs = append([]*VectorPack{vp}, recPacks...)
		}
	}

	s.memo[digest] = append(s.memo[digest], &dpEntry{enc: enc, cost: best, packs: packs})
	return best, packs
}

// candidates enumerates the packs worth committing on frt.
func (s *DPSolver) candidates(frt *Frontier) []*VectorPack {
	out := s.bs.Extensions(frt)
	for _, vp := range s.seeds {
		if s.bs.viable(frt, vp) {
			out = append(out, vp)
		}
	}
	for _, vp := range s.bs.phiGroups(frt) {
		if s.bs.viable(frt, vp) {
			out = append(out, vp)
		}
	}
	return out
}

// scalarizeAll is the baseline: decide every remaining usable
// instruction scalar until the frontier has no demand left.
func (s *DPSolver) scalarizeAll(frt *Frontier) (float64, []*VectorPack) {
	cost := 0.0
	cur := frt
	for !cur.Terminal() {
		insts := cur.UsableInsts()
		if len(insts) == 0 {
			break
		}
		next, c := cur.AdvanceInst(insts[0])
		cost += c
		cur = next
	}
	return cost, nil
}
