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

package ir

import "fmt"

// Function is a collection of basic blocks plus the
// target feature strings the host detected for it.
type Function struct {
	Name     string
	Features []string

	blocks []*Block
}

// NewFunction builds an empty function with the given target features.
func NewFunction(name string, features ...string) *Function {
	return &Function{Name: name, Features: features}
}

// HasFeature reports whether the function carries the named target feature.
func (f *Function) HasFeature(feat string) bool {
	for _, have := range f.Features {
		if have == feat {
			return true
		}
	}
	return false
}

// Blocks returns the function's basic blocks in insertion order.
func (f *Function) Blocks() []*Block { return f.blocks }

// NewBlock appends an empty basic block to f.
func (f *Function) NewBlock(name string) *Block {
	b := &Block{name: name, fn: f}
	f.blocks = append(f.blocks, b)
	return b
}

// Block is a single basic block: an ordered list
// of instructions with no internal control flow.
type Block struct {
	name  string
	fn    *Function
	insts []*Instruction
}

func (b *Block) Name() string        { return b.name }
func (b *Block) Func() *Function     { return b.fn }
func (b *Block) Len() int            { return len(b.insts) }
func (b *Block) Inst(i int) *Instruction { return b.insts[i] }

// Instructions returns the block's instructions in order;
// callers must not mutate the returned slice.
func (b *Block) Instructions() []*Instruction { return b.insts }

func (b *Block) append(i *Instruction) {
	i.block = b
	i.index = len(b.insts)
	b.insts = append(b.insts, i)
	for _, op := range i.operands {
		if def, ok := op.(*Instruction); ok {
			def.users = append(def.users, i)
		}
	}
}

// Builder appends instructions to a block.
type Builder struct {
	blk *Block
}

// NewBuilder returns a Builder appending to b.
func NewBuilder(b *Block) *Builder { return &Builder{blk: b} }

// Block returns the block under construction.
func (b *Builder) Block() *Block { return b.blk }

// Binary appends a two-operand arithmetic instruction.
func (b *Builder) Binary(op Opcode, x, y Value, name string) *Instruction {
	if !op.Binary() {
		panic(fmt.Sprintf("ir: %s is not a binary opcode", op))
	}
	if x.Type() != y.Type() {
		panic(fmt.Sprintf("ir: operand type mismatch %s vs %s", x.Type(), y.Type()))
	}
	i := &Instruction{Op: op, Ty: x.Type(), name: name, operands: []Value{x, y}}
	b.blk.append(i)
	return i
}

// Load appends a load of elem through addr.
func (b *Builder) Load(elem Scalar, addr Value, name string) *Instruction {
	i := &Instruction{Op: OpLoad, Ty: S(elem), name: name, operands: []Value{addr}}
	b.blk.append(i)
	return i
}

// Store appends a store of v through addr.
func (b *Builder) Store(v, addr Value) *Instruction {
	i := &Instruction{Op: OpStore, Ty: S(Void), operands: []Value{v, addr}}
	b.blk.append(i)
	return i
}

// Phi appends a phi joining vals flowing in from preds.
// Phis must precede every non-phi instruction in the block.
func (b *Builder) Phi(ty Type, vals []Value, preds []*Block, name string) *Instruction {
	if len(vals) != len(preds) {
		panic("ir: phi incoming mismatch")
	}
	for _, i := range b.blk.insts {
		if i.Op != OpPhi {
			panic("ir: phi after non-phi instruction")
		}
	}
	i := &Instruction{Op: OpPhi, Ty: ty, name: name, operands: vals, Incoming: preds}
	b.blk.append(i)
	return i
}

// PatchPhi replaces the value phi receives from pred; used to
// close loop-carried cycles after the incoming value exists.
func PatchPhi(phi *Instruction, pred *Block, v Value) {
	if phi.Op != OpPhi {
		panic("ir: PatchPhi on a non-phi")
	}
	for k, in := range phi.Incoming {
		if in != pred {
			continue
		}
		phi.operands[k] = v
		if def, ok := v.(*Instruction); ok {
			def.users = append(def.users, phi)
		}
		return
	}
	panic("ir: PatchPhi with unknown predecessor")
}
