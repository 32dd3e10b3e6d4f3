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
	"fmt"

	"sigs.k8s.io/yaml"
)

// Options configures a Packer and the search engines.
// The zero value is not useful; start from DefaultOptions.
type Options struct {
	// MaxNumLanes bounds the lane count of any pack.
	MaxNumLanes int `json:"max_num_lanes"`
	// NumSimulations is the MCTS iteration budget per root.
	NumSimulations int `json:"num_simulations"`
	// C is the UCT exploration constant.
	C float64 `json:"c"`
	// W multiplies the policy prior term in the UCT score.
	W float64 `json:"w"`
	// ExpandAfter is the visit count before a leaf is expanded.
	ExpandAfter int `json:"expand_after"`
	// MaxSearchDist bounds the block-position distance between
	// two instructions packed together.
	MaxSearchDist int `json:"max_search_dist"`
	// EnumCap bounds the number of candidate packs enumerated
	// per block; the cheapest are kept.
	EnumCap int `json:"enum_cap"`
	// UseMCTS selects the MCTS engine over the bottom-up improver.
	UseMCTS bool `json:"use_mcts"`
	// BatchSize and NumThreads size the policy evaluation pool.
	BatchSize  int `json:"batch_size"`
	NumThreads int `json:"num_threads"`
	// Seed seeds the search RNG when Analyses.Rand is nil.
	Seed int64 `json:"seed"`
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		MaxNumLanes:    8,
		NumSimulations: 5000,
		C:              0.25,
		W:              100,
		ExpandAfter:    2,
		MaxSearchDist:  50,
		EnumCap:        1000,
		BatchSize:      128,
		NumThreads:     4,
	}
}

// ParseOptions decodes YAML (or JSON) option overrides on top
// of the defaults.
func ParseOptions(buf []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(buf, &opts); err != nil {
		return Options{}, fmt.Errorf("pack: parsing options: %w", err)
	}
	if err := opts.check(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o *Options) check() error {
	if o.MaxNumLanes < 2 {
		return fmt.Errorf("pack: max_num_lanes %d below 2", o.MaxNumLanes)
	}
	if o.NumSimulations < 1 {
		return fmt.Errorf("pack: num_simulations %d below 1", o.NumSimulations)
	}
	if o.EnumCap < 1 {
		return fmt.Errorf("pack: enum_cap %d below 1", o.EnumCap)
	}
	return nil
}
