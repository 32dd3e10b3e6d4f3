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
	"fmt"
	"math"
	"math/rand"

	"github.com/packvec/packvec/ir"
	"github.com/packvec/packvec/pack"
)

// Policy supplies per-transition prior weights for tree nodes.
// A nil Policy (or a policy that never answers) degrades the
// search to plain UCT.
type Policy interface {
	// PredictAsync requests weights for n without blocking on
	// the result.
	PredictAsync(n *Node)
	// Predict blocks until n's weights are available (or the
	// policy is cancelled, in which case it returns nil).
	Predict(n *Node) []float64
	// Cancel unblocks every waiter; subsequent predictions
	// report no prior.
	Cancel()
}

// Recorder receives one entry per walked transition, for
// dumping search decisions as policy training data.
type Recorder interface {
	Record(frontier []byte, transition string, cost float64)
}

// Search drives UCT over one block's frontiers.
type Search struct {
	pkr    *pack.Packer
	blk    *ir.Block
	rng    *rand.Rand
	policy Policy // may be nil
	rec    Recorder

	c, w        float64
	expandAfter int

	bestCost  float64
	bestPacks []*pack.VectorPack
}

// SetRecorder streams walked decisions into r.
func (s *Search) SetRecorder(r Recorder) { s.rec = r }

// NewSearch builds a search over blk using pkr's options and
// RNG. policy may be nil.
func NewSearch(pkr *pack.Packer, blk *ir.Block, policy Policy) *Search {
	opts := pkr.Options()
	return &Search{
		pkr:         pkr,
		blk:         blk,
		rng:         pkr.Rand(),
		policy:      policy,
		c:           opts.C,
		w:           opts.W,
		expandAfter: opts.ExpandAfter,
		bestCost:    math.Inf(1),
	}
}

// Run performs up to iters UCT iterations from root. When the
// root turns out to have exactly one child the move is forced
// and a single iteration suffices.
func (s *Search) Run(root *Node, iters int) {
	if !root.expanded && !root.Terminal() {
		s.expand(root)
	}
	for i := 0; i < iters; i++ {
		s.iterate(root)
		if len(root.transitions) == 1 {
			return // forced move
		}
	}
}

// iterate runs one selection/expansion/rollout/backprop pass.
func (s *Search) iterate(root *Node) {
	node := root
	var path []*Transition
	var packs []*pack.VectorPack

	for {
		if node.Terminal() {
			break
		}
		if !node.expanded {
			if node.visits < s.expandAfter {
				break
			}
			s.expand(node)
			if len(node.transitions) == 0 {
				break
			}
		}
		t := s.selectTransition(node)
		if t == nil {
			break
		}
		path = append(path, t)
		if t.Pack != nil {
			packs = append(packs, t.Pack)
		}
		node = t.next
	}

	leafCost, leafPacks := s.rollout(node)

	// backprop: accumulate each edge's immediate cost on the
	// way up and fold it into the running averages
	cum := leafCost
	node.visits++
	for i := len(path) - 1; i >= 0; i-- {
		t := path[i]
		cum += t.cost
		t.visits++
		t.total += cum
		parent := root
		if i > 0 {
			parent = path[i-1].next
		}
		parent.visits++
		if s.rec != nil {
			s.rec.Record(parent.frontier.Encode(nil), t.Label(), cum)
		}
	}
	if cum < s.bestCost {
		s.bestCost = cum
		s.bestPacks = append(packs, leafPacks...)
	}
}

// expand materializes node's children: one scalarize edge per
// usable instruction plus one edge per feasible partial-pack
// template, or, mid-fill, one edge per usable next-lane choice.
func (s *Search) expand(node *Node) {
	node.expanded = true
	frt := node.frontier

	if pp := node.partial; pp != nil {
		for _, inst := range pp.Candidates(frt) {
			filled := pp.Fill(inst)
			if filled.Complete() {
				vp := filled.Build()
				if vp == nil {
					continue
				}
				next, cost := frt.AdvancePack(vp)
				node.transitions = append(node.transitions, &Transition{
					Inst: inst,
					Pack: vp,
					next: NewNode(next, nil),
					cost: cost,
				})
				continue
			}
			node.transitions = append(node.transitions, &Transition{
				Inst:    inst,
				Partial: filled,
				next:    NewNode(frt, filled),
			})
		}
		s.requestPrior(node)
		return
	}

	for _, inst := range frt.UsableInsts() {
		next, cost := frt.AdvanceInst(inst)
		node.transitions = append(node.transitions, &Transition{
			Inst: inst,
			next: NewNode(next, nil),
			cost: cost,
		})
	}
	for _, pp := range s.pkr.PartialTemplates(s.blk, frt) {
		node.transitions = append(node.transitions, &Transition{
			Partial: pp,
			next:    NewNode(frt, pp),
		})
	}
	s.requestPrior(node)
}

func (s *Search) requestPrior(node *Node) {
	if s.policy != nil && len(node.transitions) > 1 {
		s.policy.PredictAsync(node)
	}
}

// selectTransition picks the next edge: unvisited edges first
// (in enumeration order), then the UCT maximizer
//
//	-avg(T) + C*sqrt(ln(parent.visits)/(T.visits+1)) + W*prior(T)/(T.visits+1)
func (s *Search) selectTransition(node *Node) *Transition {
	for _, t := range node.transitions {
		if t.visits == 0 {
			return t
		}
	}
	prior := node.Prior()
	var best *Transition
	bestScore := math.Inf(-1)
	logN := math.Log(float64(node.visits))
	for i, t := range node.transitions {
		score := -t.AvgCost() + s.c*math.Sqrt(logN/float64(t.visits+1))
		if prior != nil && i < len(prior) {
			score += s.w * prior[i] / float64(t.visits+1)
		}
		if score > bestScore {
			bestScore = score
			best = t
		}
	}
	return best
}

// Optimize runs MCTS on blk and commits the best rollout's
// packs to a plan.
func Optimize(pkr *pack.Packer, blk *ir.Block, policy Policy) (*pack.Plan, error) {
	s := NewSearch(pkr, blk, policy)
	root := NewNode(pkr.NewFrontierFor(blk), nil)
	s.Run(root, pkr.Options().NumSimulations)

	plan := pack.NewPlan(pkr.Context(blk))
	if s.bestPacks != nil {
		scalar := plan.Cost()
		trial := pack.NewPlan(pkr.Context(blk))
		for _, vp := range s.bestPacks {
			trial.Add(vp)
		}
		if trial.Cost() < scalar {
			plan = trial
		}
	}
	if !plan.VerifyCost() {
		return nil, fmt.Errorf("mcts: plan cost diverged on %s", blk.Name())
	}
	return plan, nil
}
