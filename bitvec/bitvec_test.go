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

package bitvec

import (
	"math/rand"
	"testing"
)

func TestSetClearTest(t *testing.T) {
	v := New(200)
	for _, i := range []int{0, 63, 64, 127, 199} {
		if v.Test(i) {
			t.Fatalf("bit %d set in fresh vector", i)
		}
		v.Set(i)
		if !v.Test(i) {
			t.Fatalf("bit %d not set", i)
		}
	}
	if v.Count() != 5 {
		t.Fatalf("count = %d, want 5", v.Count())
	}
	v.Clear(64)
	if v.Test(64) || v.Count() != 4 {
		t.Fatal("clear failed")
	}
}

func TestSetOps(t *testing.T) {
	a := New(130)
	b := New(130)
	a.Set(1)
	a.Set(65)
	b.Set(65)
	b.Set(129)

	if !a.AnyCommon(b) {
		t.Fatal("expected common bit 65")
	}
	u := a.Clone()
	u.Or(b)
	if u.Count() != 3 || !u.Test(129) {
		t.Fatal("or failed")
	}
	if !u.Contains(a) || !u.Contains(b) {
		t.Fatal("contains failed")
	}
	d := u.Clone()
	d.AndNot(b)
	if d.Count() != 1 || !d.Test(1) {
		t.Fatal("andnot failed")
	}
	d.And(a)
	if !d.Test(1) || d.Count() != 1 {
		t.Fatal("and failed")
	}
	if !a.Equal(a.Clone()) || a.Equal(b) {
		t.Fatal("equal failed")
	}
}

func TestIteration(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := New(500)
	want := make(map[int]bool)
	for i := 0; i < 100; i++ {
		k := rng.Intn(500)
		want[k] = true
		v.Set(k)
	}
	got := v.Bits()
	if len(got) != len(want) {
		t.Fatalf("got %d bits, want %d", len(got), len(want))
	}
	prev := -1
	for _, i := range got {
		if !want[i] || i <= prev {
			t.Fatalf("bad iteration at %d", i)
		}
		prev = i
	}
	if v.Next(500) != -1 {
		t.Fatal("Next past the end should be -1")
	}
}

func TestAppendWords(t *testing.T) {
	a := New(64)
	b := New(64)
	a.Set(3)
	b.Set(3)
	if string(a.AppendWords(nil)) != string(b.AppendWords(nil)) {
		t.Fatal("equal vectors encode differently")
	}
	b.Set(60)
	if string(a.AppendWords(nil)) == string(b.AppendWords(nil)) {
		t.Fatal("distinct vectors encode identically")
	}
}

func TestEmpty(t *testing.T) {
	v := New(100)
	if !v.Empty() {
		t.Fatal("fresh vector not empty")
	}
	v.Set(99)
	if v.Empty() {
		t.Fatal("vector with a bit set reported empty")
	}
}
