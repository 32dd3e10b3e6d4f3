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

// Package mcts searches for low-cost pack assignments with
// Monte-Carlo tree search over frontier states, optionally
// guided by a learned packing policy.
package mcts

import (
	"sync"

	"github.com/packvec/packvec/ir"
	"github.com/packvec/packvec/pack"
)

// Transition is one edge of the search tree: scalarize an
// instruction, commit a pack, or select/extend a partial pack.
type Transition struct {
	// Inst alone scalarizes; Partial alone selects a partial-pack
	// template; Inst with Partial fills the next lane; Inst with
	// Pack is a fill that completes and commits the pack
	Inst    *ir.Instruction
	Pack    *pack.VectorPack
	Partial *pack.PartialPack

	next   *Node
	cost   float64 // immediate cost of taking the edge
	visits int
	total  float64 // cumulative cost of all walks through this edge
}

// Next returns the successor node.
func (t *Transition) Next() *Node { return t.next }

// Label names the transition for logging and trace records.
func (t *Transition) Label() string {
	switch {
	case t.Pack != nil:
		return t.Pack.String()
	case t.Partial != nil:
		return "fill " + t.Partial.Label()
	case t.Inst != nil:
		return "scalar " + t.Inst.String()
	}
	return "?"
}

// Cost returns the immediate cost of the transition.
func (t *Transition) Cost() float64 { return t.cost }

// Visits returns how many walks took this edge.
func (t *Transition) Visits() int { return t.visits }

// AvgCost returns the average cumulative cost of walks through
// this edge, or 0 when unvisited.
func (t *Transition) AvgCost() float64 {
	if t.visits == 0 {
		return 0
	}
	return t.total / float64(t.visits)
}

// Node is one state of the search tree: a frontier, optionally
// mid-fill of a partial pack.
type Node struct {
	frontier *pack.Frontier
	partial  *pack.PartialPack

	transitions []*Transition
	expanded    bool
	visits      int

	mu    sync.Mutex
	prior []float64 // per-transition policy weight; nil = no prior
}

// NewNode wraps a frontier (and optional partial pack) as a
// tree node.
func NewNode(frt *pack.Frontier, partial *pack.PartialPack) *Node {
	return &Node{frontier: frt, partial: partial}
}

// Frontier returns the node's frontier.
func (n *Node) Frontier() *pack.Frontier { return n.frontier }

// Partial returns the partial pack being filled, or nil.
func (n *Node) Partial() *pack.PartialPack { return n.partial }

// Transitions returns the node's outgoing edges (empty until
// the node is expanded).
func (n *Node) Transitions() []*Transition { return n.transitions }

// Visits returns the node's visit count.
func (n *Node) Visits() int { return n.visits }

// Expanded reports whether the node's children exist.
func (n *Node) Expanded() bool { return n.expanded }

// Terminal reports whether the node has nothing left to decide.
func (n *Node) Terminal() bool {
	return n.partial == nil && n.frontier.Terminal()
}

// SetPrior installs the policy's transition weights. Safe to
// call from a policy worker while the search reads via Prior.
func (n *Node) SetPrior(w []float64) {
	n.mu.Lock()
	n.prior = w
	n.mu.Unlock()
}

// Prior returns the policy weights, or nil when none arrived.
func (n *Node) Prior() []float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.prior
}
