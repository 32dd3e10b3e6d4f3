// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package pack

import (
	"golang.org/x/sys/cpu"
)

// DetectFeatures returns the target feature strings of the
// machine running the process, for hosts that compile for the
// local CPU. Cross-compiling hosts pass their own feature set
// into ir.NewFunction instead.
func DetectFeatures() []string {
	var feats []string
	if cpu.X86.HasSSE42 {
		feats = append(feats, "sse4.2")
	}
	if cpu.X86.HasAVX {
		feats = append(feats, "avx")
	}
	if cpu.X86.HasAVX2 {
		feats = append(feats, "avx2")
	}
	if cpu.X86.HasAVX512F &&
		cpu.X86.HasAVX512BW &&
		cpu.X86.HasAVX512DQ &&
		cpu.X86.HasAVX512VL {
		feats = append(feats, "avx512")
	}
	return feats
}
