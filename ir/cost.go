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

import "math"

// ShuffleKind selects the flavor of lane movement priced
// by CostModel.ShuffleCost.
type ShuffleKind uint8

const (
	// ShuffleBroadcast splats one scalar into every lane.
	ShuffleBroadcast ShuffleKind = iota
	// ShufflePermute rearranges the lanes of a single source.
	ShufflePermute
	// ShuffleTwoSrc blends lanes from two sources.
	ShuffleTwoSrc
)

// VecInstrOp selects the scalar<->vector micro-op priced
// by CostModel.VecInstrCost.
type VecInstrOp uint8

const (
	VecExtract VecInstrOp = iota
	VecInsert
)

// CostUnknown is the sentinel a cost model returns when it
// cannot price an operation; any pack whose construction sees
// it is rejected.
var CostUnknown = math.Inf(1)

// KnownCost reports whether c is a usable cost.
func KnownCost(c float64) bool {
	return !math.IsInf(c, 1) && !math.IsNaN(c)
}

// CostModel prices scalar and vector operations for a target.
// Implementations must be deterministic and pure.
type CostModel interface {
	// ArithCost prices one arithmetic instruction of type ty.
	ArithCost(op Opcode, ty Type) float64
	// MemOpCost prices a load or store of type ty at the given
	// alignment (bytes; 0 means natural alignment).
	MemOpCost(op Opcode, ty Type, align int) float64
	// ShuffleCost prices a lane-rearranging operation on ty.
	ShuffleCost(kind ShuffleKind, ty Type) float64
	// VecInstrCost prices moving one scalar into or out of
	// the given lane of a vector of type ty.
	VecInstrCost(op VecInstrOp, ty Type, lane int) float64
	// ScalarCost prices executing i as a scalar instruction.
	ScalarCost(i *Instruction) float64
}

// UnitCosts is a simple cost model: every operation costs 1,
// except divisions and remainders (4) and phis (0). A vector
// operation costs the same as one scalar operation, so packing
// n lanes saves a factor of n. Useful for tests and as a
// baseline when no target model is wired in.
type UnitCosts struct{}

func (UnitCosts) ArithCost(op Opcode, ty Type) float64 {
	switch op {
	case OpUDiv, OpSDiv, OpFDiv, OpURem, OpSRem, OpFRem:
		return 4
	}
	return 1
}

func (UnitCosts) MemOpCost(op Opcode, ty Type, align int) float64 { return 1 }

func (UnitCosts) ShuffleCost(kind ShuffleKind, ty Type) float64 { return 1 }

func (UnitCosts) VecInstrCost(op VecInstrOp, ty Type, lane int) float64 { return 1 }

func (UnitCosts) ScalarCost(i *Instruction) float64 {
	switch i.Op {
	case OpPhi:
		return 0
	case OpLoad, OpStore:
		return 1
	default:
		return UnitCosts{}.ArithCost(i.Op, i.Ty)
	}
}
