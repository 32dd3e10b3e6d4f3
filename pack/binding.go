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

// Package pack discovers groups of isomorphic scalar instructions
// inside a basic block that can be fused into SIMD instructions,
// and selects a covering set of such groups that minimizes the
// estimated execution cost.
package pack

import (
	"fmt"

	"github.com/packvec/packvec/ir"
)

// Match is one successful application of an Operation to a value:
// the live-in values feeding the matched expression and the value
// the expression produces.
type Match struct {
	Inputs []ir.Value
	Output ir.Value
}

// Operation is a scalar operation pattern that can occupy
// one lane of a vector instruction.
type Operation interface {
	Name() string
	// Match attempts to match v as the output of this operation.
	Match(v ir.Value) (Match, bool)
}

// BinaryOperation matches a two-operand arithmetic instruction
// with a specific opcode and element bitwidth.
type BinaryOperation struct {
	Op   ir.Opcode
	Bits int
}

func (b *BinaryOperation) Name() string {
	return fmt.Sprintf("%s.i%d", b.Op, b.Bits)
}

// Match implements Operation.
func (b *BinaryOperation) Match(v ir.Value) (Match, bool) {
	inst, ok := v.(*ir.Instruction)
	if !ok || inst.Op != b.Op || inst.Ty.Vector() || inst.Ty.Elem.Bits() != b.Bits {
		return Match{}, false
	}
	ops := inst.Operands()
	return Match{Inputs: []ir.Value{ops[0], ops[1]}, Output: inst}, true
}

// BoundSlice locates one lane's contribution within a vector
// input of an instruction binding: bits [Lo, Hi) of input Input.
type BoundSlice struct {
	Input  int
	Lo, Hi int
}

// BoundOperation is the operation bound to one output lane,
// plus where that lane's inputs live within the vector inputs.
// Slices are parallel to the matched operation's Inputs.
type BoundOperation struct {
	Op     Operation
	Slices []BoundSlice
}

// Signature describes the register shape of an instruction
// binding: the bit width of each vector input and of the output.
type Signature struct {
	InputBits  []int
	OutputBits int
}

// InstBinding is one catalog entry: a target instruction
// together with how it maps scalar operations onto lanes.
type InstBinding interface {
	Name() string
	// RequiredFeatures lists target features the enclosing
	// function must carry for this binding to be legal.
	RequiredFeatures() []string
	Signature() Signature
	// LaneOps returns one BoundOperation per output lane.
	LaneOps() []BoundOperation
	// Cost prices one instance of the bound instruction,
	// or ir.CostUnknown if the model cannot price it.
	Cost(cm ir.CostModel) float64
}

// VecBinding is an InstBinding for a plain vector form of a
// scalar binary opcode: every lane runs the same operation on
// the matching lanes of the two inputs.
type VecBinding struct {
	op      *BinaryOperation
	sig     Signature
	laneOps []BoundOperation
}

// NewVecBinding builds the vector binding of op at the given
// total vector width in bits. The width must be a multiple of
// the operation's element width.
func NewVecBinding(op *BinaryOperation, vectorBits int) *VecBinding {
	if vectorBits%op.Bits != 0 {
		panic("pack: vector width not a multiple of element width")
	}
	lanes := vectorBits / op.Bits
	laneOps := make([]BoundOperation, lanes)
	for i := range laneOps {
		lo := i * op.Bits
		hi := lo + op.Bits
		laneOps[i] = BoundOperation{
			Op: op,
			Slices: []BoundSlice{
				{Input: 0, Lo: lo, Hi: hi},
				{Input: 1, Lo: lo, Hi: hi},
			},
		}
	}
	return &VecBinding{
		op:      op,
		sig:     Signature{InputBits: []int{vectorBits, vectorBits}, OutputBits: vectorBits},
		laneOps: laneOps,
	}
}

func (v *VecBinding) Name() string {
	return fmt.Sprintf("%s.v%dx%d", v.op.Op, len(v.laneOps), v.op.Bits)
}

func (v *VecBinding) RequiredFeatures() []string { return nil }
func (v *VecBinding) Signature() Signature       { return v.sig }
func (v *VecBinding) LaneOps() []BoundOperation  { return v.laneOps }

// ElemType returns the scalar element type of the binding's lanes.
func (v *VecBinding) ElemType() ir.Scalar {
	return elemScalar(v.op.Op.Float(), v.op.Bits)
}

// Cost implements InstBinding using the arithmetic cost of the
// vector form of the bound opcode.
func (v *VecBinding) Cost(cm ir.CostModel) float64 {
	ty := ir.V(v.ElemType(), len(v.laneOps))
	return cm.ArithCost(v.op.Op, ty)
}

func elemScalar(float bool, bits int) ir.Scalar {
	if float {
		if bits == 32 {
			return ir.F32
		}
		return ir.F64
	}
	switch bits {
	case 8:
		return ir.I8
	case 16:
		return ir.I16
	case 32:
		return ir.I32
	default:
		return ir.I64
	}
}

var vectorizableOpcodes = []ir.Opcode{
	ir.OpAdd, ir.OpFAdd, ir.OpSub, ir.OpFSub,
	ir.OpMul, ir.OpFMul, ir.OpUDiv, ir.OpSDiv,
	ir.OpFDiv, ir.OpURem, ir.OpSRem, ir.OpFRem,
	ir.OpShl, ir.OpLShr, ir.OpAShr, ir.OpAnd,
	ir.OpOr, ir.OpXor,
}

// InstTable is a catalog of instruction bindings available
// to a Packer. It is passed in explicitly; there is no
// process-global table.
type InstTable struct {
	bindings []InstBinding
}

// NewInstTable enumerates the plain vector forms of every
// vectorizable binary opcode: scalar widths 8/16/32/64
// (floats only 32/64) crossed with vector widths 64/128/256,
// skipping one-lane combinations.
func NewInstTable() *InstTable {
	scalarBits := []int{8, 16, 32, 64}
	vectorBits := []int{64, 128, 256}
	t := &InstTable{}
	for _, op := range vectorizableOpcodes {
		for _, sb := range scalarBits {
			if op.Float() && sb != 32 && sb != 64 {
				continue
			}
			bop := &BinaryOperation{Op: op, Bits: sb}
			for _, vb := range vectorBits {
				if vb/sb <= 1 {
					continue
				}
				t.bindings = append(t.bindings, NewVecBinding(bop, vb))
			}
		}
	}
	return t
}

// Bindings returns the full catalog.
func (t *InstTable) Bindings() []InstBinding { return t.bindings }

// Add appends extra bindings (target intrinsics) to the catalog.
func (t *InstTable) Add(bs ...InstBinding) { t.bindings = append(t.bindings, bs...) }

// Supported filters the catalog down to bindings whose required
// features the function carries.
func (t *InstTable) Supported(fn *ir.Function) []InstBinding {
	var out []InstBinding
	for _, b := range t.bindings {
		ok := true
		for _, feat := range b.RequiredFeatures() {
			if !fn.HasFeature(feat) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, b)
		}
	}
	return out
}
