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

// Package heap implements generic slice heaps.
package heap

// Push adds item to x while preserving the min-heap
// invariant determined by less.
func Push[T any](x *[]T, item T, less func(x, y T) bool) {
	*x = append(*x, item)
	up(*x, len(*x)-1, less)
}

// Pop removes and returns the "smallest" element of x
// according to less.
func Pop[T any](x *[]T, less func(x, y T) bool) T {
	ret := (*x)[0]
	(*x)[0], *x = (*x)[len(*x)-1], (*x)[:len(*x)-1]
	if len(*x) > 0 {
		down(*x, 0, less)
	}
	return ret
}

// Bounded keeps at most limit items in x, evicting the
// "largest" according to less when item displaces it.
// x is kept ordered as a max-heap under less; use Bounded
// as the only mutator of x.
func Bounded[T any](x *[]T, item T, limit int, less func(x, y T) bool) {
	worse := func(a, b T) bool { return less(b, a) }
	if len(*x) < limit {
		Push(x, item, worse)
		return
	}
	if limit > 0 && less(item, (*x)[0]) {
		(*x)[0] = item
		down(*x, 0, worse)
	}
}

func up[T any](x []T, i int, less func(x, y T) bool) {
	for i > 0 {
		p := (i - 1) / 2
		if less(x[p], x[i]) {
			break
		}
		x[p], x[i] = x[i], x[p]
		i = p
	}
}

func down[T any](x []T, i int, less func(x, y T) bool) {
	for {
		left := i*2 + 1
		right := left + 1
		if left >= len(x) {
			break
		}
		c := left
		if right < len(x) && less(x[right], x[left]) {
			c = right
		}
		if less(x[i], x[c]) {
			break
		}
		x[i], x[c] = x[c], x[i]
		i = c
	}
}
