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

// AliasResult is the tri-state answer of an AliasOracle.
type AliasResult uint8

const (
	NoAlias AliasResult = iota
	MayAlias
	MustAlias
)

// AliasOracle answers aliasing queries for pairs of
// memory instructions within one basic block.
type AliasOracle interface {
	Alias(a, b *Instruction) AliasResult
}

// ConsecutiveOracle decides whether access b reads or writes
// the memory immediately following access a.
type ConsecutiveOracle interface {
	IsConsecutive(a, b *Instruction) bool
}

// StaticAddrs resolves aliasing and adjacency for blocks whose
// load/store addresses are all Addr operands (base + constant
// offset). Accesses with distinct bases are assumed disjoint;
// hosts with real pointer arithmetic must supply their own
// oracles instead.
type StaticAddrs struct{}

func addrOf(i *Instruction) *Addr {
	a, _ := i.Pointer().(*Addr)
	return a
}

// Alias implements AliasOracle.
func (StaticAddrs) Alias(a, b *Instruction) AliasResult {
	pa, pb := addrOf(a), addrOf(b)
	if pa == nil || pb == nil {
		return MayAlias
	}
	if pa.Base != pb.Base {
		return NoAlias
	}
	alo, ahi := pa.Offset, pa.Offset+int64(a.AccessType().Elem.Size())
	blo, bhi := pb.Offset, pb.Offset+int64(b.AccessType().Elem.Size())
	if ahi <= blo || bhi <= alo {
		return NoAlias
	}
	if alo == blo && ahi == bhi {
		return MustAlias
	}
	return MayAlias
}

// IsConsecutive implements ConsecutiveOracle: b must access the
// same base at exactly one element-size past a.
func (StaticAddrs) IsConsecutive(a, b *Instruction) bool {
	pa, pb := addrOf(a), addrOf(b)
	if pa == nil || pb == nil {
		return false
	}
	return pa.Base == pb.Base &&
		pa.Elem == pb.Elem &&
		pb.Offset == pa.Offset+int64(pa.Elem.Size())
}
