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
	"math/rand"

	"github.com/packvec/packvec/ir"
)

// Analyses bundles the external oracles a Packer consumes,
// plus the RNG driving any randomized search. Rand may be nil,
// in which case Options.Seed seeds a private source.
type Analyses struct {
	Aliases     ir.AliasOracle
	Consecutive ir.ConsecutiveOracle
	Costs       ir.CostModel
	Rand        *rand.Rand
}

// Packer owns the per-block analyses of one function and drives
// pack selection. All state is confined to the Packer; distinct
// Packers never share mutable state, so blocks of different
// functions can be optimized on different goroutines.
type Packer struct {
	fn        *ir.Function
	opts      Options
	an        Analyses
	rng       *rand.Rand
	supported []InstBinding
	states    map[*ir.Block]*blockState
}

// blockState holds everything the search needs about one block.
type blockState struct {
	pkr      *Packer
	blk      *ir.Block
	ctx      *Context
	deps     *Dependence
	loadDAG  *AccessDAG
	storeDAG *AccessDAG
	mm       *MatchManager
	bindings []InstBinding // bindings with at least one match per lane here
	cands    *CandidateSet // lazily built
	prodInfo map[*OperandPack]*producerInfo
	sparseLoads []*VectorPack
}

// NewPacker builds the per-block analyses of fn: value index,
// dependence analysis, the load and store adjacency DAGs, and
// the match caches for every supported binding.
func NewPacker(fn *ir.Function, table *InstTable, opts Options, an Analyses) (*Packer, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	if an.Aliases == nil || an.Consecutive == nil || an.Costs == nil {
		return nil, fmt.Errorf("pack: missing analysis oracle")
	}
	rng := an.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(opts.Seed))
	}
	p := &Packer{
		fn:        fn,
		opts:      opts,
		an:        an,
		rng:       rng,
		supported: table.Supported(fn),
		states:    make(map[*ir.Block]*blockState),
	}
	for _, blk := range fn.Blocks() {
		p.states[blk] = p.newBlockState(blk)
	}
	return p, nil
}

func (p *Packer) newBlockState(blk *ir.Block) *blockState {
	ctx := NewContext(blk, p.an.Costs)
	var loads, stores []*ir.Instruction
	for _, inst := range blk.Instructions() {
		switch inst.Op {
		case ir.OpLoad:
			loads = append(loads, inst)
		case ir.OpStore:
			stores = append(stores, inst)
		}
	}
	bs := &blockState{
		pkr:      p,
		blk:      blk,
		ctx:      ctx,
		deps:     NewDependence(p.an.Aliases, ctx),
		loadDAG:  NewAccessDAG(loads, p.an.Consecutive),
		storeDAG: NewAccessDAG(stores, p.an.Consecutive),
		mm:       NewMatchManager(p.supported, ctx),
		prodInfo: make(map[*OperandPack]*producerInfo),
	}
	// keep only bindings this block can instantiate: lane count
	// within bounds and at least one match for every lane op
	for _, b := range p.supported {
		laneOps := b.LaneOps()
		if len(laneOps) > p.opts.MaxNumLanes {
			continue
		}
		ok := true
		for i := range laneOps {
			if len(bs.mm.Matches(laneOps[i].Op)) == 0 {
				ok = false
				break
			}
		}
		if ok {
			bs.bindings = append(bs.bindings, b)
		}
	}
	return bs
}

// Options returns the packer's configuration.
func (p *Packer) Options() Options { return p.opts }

// Func returns the function under optimization.
func (p *Packer) Func() *ir.Function { return p.fn }

// Rand returns the search RNG.
func (p *Packer) Rand() *rand.Rand { return p.rng }

// Context returns the pack context of blk.
func (p *Packer) Context(blk *ir.Block) *Context { return p.state(blk).ctx }

// Dependence returns the dependence analysis of blk.
func (p *Packer) Dependence(blk *ir.Block) *Dependence { return p.state(blk).deps }

// Bindings returns the bindings instantiable in blk.
func (p *Packer) Bindings(blk *ir.Block) []InstBinding { return p.state(blk).bindings }

func (p *Packer) state(blk *ir.Block) *blockState {
	bs, ok := p.states[blk]
	if !ok {
		panic("pack: block not owned by this packer")
	}
	return bs
}

// Optimize selects packs for blk with the bottom-up improver
// and returns the resulting plan. A block with no profitable
// packs yields an empty plan whose cost is 0 (plan costs are
// relative to the all-scalar baseline).
func (p *Packer) Optimize(blk *ir.Block) (*Plan, error) {
	bs := p.state(blk)
	plan := NewPlan(bs.ctx)
	bs.improvePlan(plan)
	if !plan.VerifyCost() {
		return nil, fmt.Errorf("pack: plan cost diverged on %s", blk.Name())
	}
	return plan, nil
}

// withinDist bounds the block-position spread of a pack.
func (p *Packer) withinDist(a, b *ir.Instruction) bool {
	d := a.Index() - b.Index()
	if d < 0 {
		d = -d
	}
	return d <= p.opts.MaxSearchDist
}
