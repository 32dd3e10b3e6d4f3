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

import (
	"fmt"
	"math"
)

// Value is anything an instruction can consume:
// a constant, an incoming argument, an address,
// or another instruction.
type Value interface {
	Type() Type
	String() string
}

// Const is a constant scalar value.
// Bits holds the raw representation
// (IEEE754 bits for floats).
type Const struct {
	Ty   Type
	Bits uint64
}

// ConstInt builds an integer constant.
func ConstInt(e Scalar, v int64) *Const {
	return &Const{Ty: S(e), Bits: uint64(v)}
}

// ConstFloat builds a floating-point constant.
func ConstFloat(e Scalar, v float64) *Const {
	return &Const{Ty: S(e), Bits: math.Float64bits(v)}
}

func (c *Const) Type() Type { return c.Ty }

func (c *Const) String() string {
	if c.Ty.Elem.Float() {
		return fmt.Sprintf("%g", math.Float64frombits(c.Bits))
	}
	return fmt.Sprintf("%d", int64(c.Bits))
}

// Arg is a value defined outside the block under
// consideration: a function argument or a definition
// from another block that the host did not expand.
type Arg struct {
	Name string
	Ty   Type
}

func (a *Arg) Type() Type     { return a.Ty }
func (a *Arg) String() string { return "%" + a.Name }

// Addr is an address operand of a load or store:
// a named base object plus a constant byte offset.
// The default aliasing and adjacency oracles reason
// about Addr operands only; hosts with richer address
// expressions substitute their own oracles.
type Addr struct {
	Base   string
	Offset int64
	Elem   Scalar // element type accessed through this address
}

func (a *Addr) Type() Type { return S(Ptr) }

func (a *Addr) String() string {
	return fmt.Sprintf("&%s[%d]", a.Base, a.Offset)
}

// IsConst returns whether v is a constant
// (constants cost nothing to materialize).
func IsConst(v Value) bool {
	switch v.(type) {
	case *Const, *Addr:
		return true
	}
	return false
}
