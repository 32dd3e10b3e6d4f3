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

// Package ir defines the scalar intermediate representation
// consumed by the pack selection engine, plus the oracle
// interfaces (aliasing, consecutive addresses, instruction costs)
// that a host compiler is expected to provide.
package ir

import "fmt"

// Scalar is one of the primitive element types.
type Scalar uint8

const (
	// Void is the type of values that produce nothing (stores).
	Void Scalar = iota
	I8
	I16
	I32
	I64
	F32
	F64
	// Ptr is the type of address operands.
	Ptr
)

// Bits returns the width of the scalar type in bits.
func (s Scalar) Bits() int {
	switch s {
	case I8:
		return 8
	case I16:
		return 16
	case I32, F32:
		return 32
	case I64, F64, Ptr:
		return 64
	}
	return 0
}

// Size returns the width of the scalar type in bytes.
func (s Scalar) Size() int { return s.Bits() / 8 }

// Float returns true for the floating-point element types.
func (s Scalar) Float() bool { return s == F32 || s == F64 }

func (s Scalar) String() string {
	switch s {
	case Void:
		return "void"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Ptr:
		return "ptr"
	}
	return "?"
}

// Type is a scalar or vector type: an element type
// plus a lane count. Lanes <= 1 means scalar.
type Type struct {
	Elem  Scalar
	Lanes int
}

// S wraps a Scalar into a scalar Type.
func S(e Scalar) Type { return Type{Elem: e, Lanes: 1} }

// V builds a vector Type with the given element type and lane count.
func V(e Scalar, lanes int) Type { return Type{Elem: e, Lanes: lanes} }

// Vector returns true if t has more than one lane.
func (t Type) Vector() bool { return t.Lanes > 1 }

// Bits returns the total width of the type in bits.
func (t Type) Bits() int {
	if t.Lanes > 1 {
		return t.Elem.Bits() * t.Lanes
	}
	return t.Elem.Bits()
}

func (t Type) String() string {
	if t.Vector() {
		return fmt.Sprintf("<%d x %s>", t.Lanes, t.Elem)
	}
	return t.Elem.String()
}
