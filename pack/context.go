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
	"encoding/binary"

	"github.com/packvec/packvec/bitvec"
	"github.com/packvec/packvec/ir"
)

// OperandPack is an ordered sequence of values that must be
// materialized together in one vector register. Nil slots are
// don't-care lanes. Operand packs are interned by a Context;
// two identical sequences share one pointer, so pointer
// comparison is sequence comparison.
type OperandPack struct {
	vals []ir.Value
	ty   ir.Type
	id   int // interning order; used as a stable sort key
}

// Values returns the lane values; callers must not mutate.
func (o *OperandPack) Values() []ir.Value { return o.vals }

// Len returns the lane count.
func (o *OperandPack) Len() int { return len(o.vals) }

// Type returns the vector type of the pack.
func (o *OperandPack) Type() ir.Type { return o.ty }

// Splat returns (v, true) if every non-nil lane is the same value.
func (o *OperandPack) Splat() (ir.Value, bool) {
	var v ir.Value
	for _, lane := range o.vals {
		if lane == nil {
			continue
		}
		if v == nil {
			v = lane
		} else if v != lane {
			return nil, false
		}
	}
	return v, v != nil
}

// AllConst returns true if every non-nil lane is a constant.
func (o *OperandPack) AllConst() bool {
	for _, v := range o.vals {
		if v != nil && !ir.IsConst(v) {
			return false
		}
	}
	return true
}

// Context owns the value index and the pack interning tables of
// one basic block. All bitsets produced under a Context have
// width Context.NumValues. Contexts are single-threaded.
type Context struct {
	block  *ir.Block
	costs  ir.CostModel
	values []ir.Value       // id -> value
	ids    map[ir.Value]int // value -> id
	ops    map[string]*OperandPack
	packs  map[string]*VectorPack
}

// NewContext indexes every value produced or referenced in blk.
// Instruction IDs coincide with block positions; foreign operands
// are appended after.
func NewContext(blk *ir.Block, costs ir.CostModel) *Context {
	c := &Context{
		block: blk,
		costs: costs,
		ids:   make(map[ir.Value]int),
		ops:   make(map[string]*OperandPack),
		packs: make(map[string]*VectorPack),
	}
	for _, inst := range blk.Instructions() {
		c.ids[inst] = len(c.values)
		c.values = append(c.values, inst)
	}
	for _, inst := range blk.Instructions() {
		for _, op := range inst.Operands() {
			if _, ok := c.ids[op]; !ok {
				c.ids[op] = len(c.values)
				c.values = append(c.values, op)
			}
		}
	}
	return c
}

// Block returns the block this context indexes.
func (c *Context) Block() *ir.Block { return c.block }

// CostModel returns the cost oracle packs are priced with.
func (c *Context) CostModel() ir.CostModel { return c.costs }

// NumValues returns the width of every bitset under this context.
func (c *Context) NumValues() int { return len(c.values) }

// ID returns the dense index of v. v must be indexed.
func (c *Context) ID(v ir.Value) int {
	id, ok := c.ids[v]
	if !ok {
		panic("pack: value not in context")
	}
	return id
}

// Value returns the value with the given index.
func (c *Context) Value(id int) ir.Value { return c.values[id] }

// NewBitset returns an all-zeros bitset of the context's width.
func (c *Context) NewBitset() bitvec.Vector { return bitvec.New(len(c.values)) }

// key builds the canonical byte encoding of a lane sequence.
func (c *Context) key(vals []ir.Value) string {
	buf := make([]byte, 0, 4*len(vals))
	var tmp [4]byte
	for _, v := range vals {
		id := uint32(0xffffffff) // don't-care
		if v != nil {
			id = uint32(c.ID(v))
		}
		binary.LittleEndian.PutUint32(tmp[:], id)
		buf = append(buf, tmp[:]...)
	}
	return string(buf)
}

// Canonical returns the interned OperandPack for the lane
// sequence vals; identical sequences share one pointer.
// elem supplies the element type if every lane is don't-care.
func (c *Context) Canonical(vals []ir.Value, elem ir.Scalar) *OperandPack {
	k := c.key(vals)
	if op, ok := c.ops[k]; ok {
		return op
	}
	ty := ir.V(elem, len(vals))
	for _, v := range vals {
		if v != nil {
			ty = ir.V(v.Type().Elem, len(vals))
			break
		}
	}
	op := &OperandPack{
		vals: append([]ir.Value(nil), vals...),
		ty:   ty,
		id:   len(c.ops),
	}
	c.ops[k] = op
	return op
}

// Dedup returns the canonical pack holding op's lanes with
// duplicates and don't-cares removed (first occurrence wins).
// Returns op itself if nothing shrank.
func (c *Context) Dedup(op *OperandPack) *OperandPack {
	seen := make(map[ir.Value]bool, len(op.vals))
	out := make([]ir.Value, 0, len(op.vals))
	for _, v := range op.vals {
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == len(op.vals) {
		return op
	}
	return c.Canonical(out, op.ty.Elem)
}

// Odd returns the canonical pack of op's odd lanes.
func (c *Context) Odd(op *OperandPack) *OperandPack {
	return c.stride(op, 1)
}

// Even returns the canonical pack of op's even lanes.
func (c *Context) Even(op *OperandPack) *OperandPack {
	return c.stride(op, 0)
}

func (c *Context) stride(op *OperandPack, start int) *OperandPack {
	out := make([]ir.Value, 0, (len(op.vals)+1)/2)
	for i := start; i < len(op.vals); i += 2 {
		out = append(out, op.vals[i])
	}
	return c.Canonical(out, op.ty.Elem)
}
