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

import "testing"

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.MaxNumLanes != 8 || opts.NumSimulations != 5000 ||
		opts.C != 0.25 || opts.W != 100 || opts.MaxSearchDist != 50 ||
		opts.BatchSize != 128 || opts.NumThreads != 4 {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if err := opts.check(); err != nil {
		t.Fatal(err)
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions([]byte("max_num_lanes: 16\nuse_mcts: true\nc: 1.5\n"))
	if err != nil {
		t.Fatal(err)
	}
	if opts.MaxNumLanes != 16 || !opts.UseMCTS || opts.C != 1.5 {
		t.Fatalf("overrides not applied: %+v", opts)
	}
	// untouched fields keep their defaults
	if opts.NumSimulations != 5000 || opts.BatchSize != 128 {
		t.Fatalf("defaults lost: %+v", opts)
	}
}

func TestParseOptionsRejectsBadValues(t *testing.T) {
	if _, err := ParseOptions([]byte("max_num_lanes: 1\n")); err == nil {
		t.Fatal("lane bound below 2 accepted")
	}
	if _, err := ParseOptions([]byte("num_simulations: 0\n")); err == nil {
		t.Fatal("zero simulations accepted")
	}
	if _, err := ParseOptions([]byte("{bad yaml")); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}
