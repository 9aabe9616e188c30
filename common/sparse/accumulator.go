// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sparse

import (
	"math"
	"math/bits"
	"slices"
	"strings"
	"sync"

	"github.com/juju/errors"
)

// MergePolicy decides how two values landing on the same column of a row are combined.
type MergePolicy int

const (
	MergeSum MergePolicy = iota
	MergeMax
	MergeMin
	MergeFirst
	MergeLast
)

var mergePolicyNames = []string{"sum", "max", "min", "first", "last"}

// ParseMergePolicy parses the name of a merge policy.
func ParseMergePolicy(name string) (MergePolicy, error) {
	for i, s := range mergePolicyNames {
		if strings.EqualFold(s, name) {
			return MergePolicy(i), nil
		}
	}
	return MergeSum, errors.NotValidf("merge policy %q", name)
}

func (p MergePolicy) String() string {
	if p < 0 || int(p) >= len(mergePolicyNames) {
		return "unknown"
	}
	return mergePolicyNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p MergePolicy) MarshalText() ([]byte, error) {
	if p < 0 || int(p) >= len(mergePolicyNames) {
		return nil, errors.NotValidf("merge policy %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *MergePolicy) UnmarshalText(text []byte) error {
	policy, err := ParseMergePolicy(string(text))
	if err != nil {
		return err
	}
	*p = policy
	return nil
}

// Merge combines the value already held by a slot with an incoming value.
func (p MergePolicy) Merge(held, incoming float64) float64 {
	switch p {
	case MergeMax:
		return math.Max(held, incoming)
	case MergeMin:
		return math.Min(held, incoming)
	case MergeFirst:
		return held
	case MergeLast:
		return incoming
	default:
		return held + incoming
	}
}

// RowAccumulator is a sparse workspace that merges the entries of one output row by
// column. A slot is live only when its stamp equals the current generation, so moving
// to the next row costs O(1) instead of O(ncols).
type RowAccumulator struct {
	values  []float64
	stamps  []uint64
	touched []int
	gen     uint64
	policy  MergePolicy
	minCol  int
	maxCol  int
}

// NewRowAccumulator creates an accumulator for rows with ncols columns.
func NewRowAccumulator(ncols int, policy MergePolicy) *RowAccumulator {
	acc := &RowAccumulator{
		values: make([]float64, ncols),
		stamps: make([]uint64, ncols),
		gen:    1,
		policy: policy,
	}
	acc.resetBounds()
	return acc
}

// Cols returns the number of columns covered by the accumulator.
func (acc *RowAccumulator) Cols() int {
	return len(acc.values)
}

// Policy returns the merge policy.
func (acc *RowAccumulator) Policy() MergePolicy {
	return acc.policy
}

// Len returns the number of live columns in the current row.
func (acc *RowAccumulator) Len() int {
	return len(acc.touched)
}

// Reset starts a new row.
func (acc *RowAccumulator) Reset() {
	acc.gen++
	acc.touched = acc.touched[:0]
	acc.resetBounds()
}

func (acc *RowAccumulator) resetBounds() {
	acc.minCol = math.MaxInt
	acc.maxCol = -1
}

func (acc *RowAccumulator) activate(col int) {
	acc.stamps[col] = acc.gen
	acc.touched = append(acc.touched, col)
	if col < acc.minCol {
		acc.minCol = col
	}
	if col > acc.maxCol {
		acc.maxCol = col
	}
}

// Touch marks a column as live without contributing a value. It returns true if the
// column was not live yet. A touched slot holds zero.
func (acc *RowAccumulator) Touch(col int) bool {
	if acc.stamps[col] == acc.gen {
		return false
	}
	acc.values[col] = 0
	acc.activate(col)
	return true
}

// Merge contributes a value to a column. The first contribution initializes the slot,
// later ones are combined by the merge policy.
func (acc *RowAccumulator) Merge(col int, value float64) {
	if acc.stamps[col] != acc.gen {
		acc.values[col] = value
		acc.activate(col)
		return
	}
	acc.values[col] = acc.policy.Merge(acc.values[col], value)
}

// Value returns the merged value of a column and whether the column is live.
func (acc *RowAccumulator) Value(col int) (float64, bool) {
	if acc.stamps[col] != acc.gen {
		return 0, false
	}
	return acc.values[col], true
}

// Drain writes live columns in ascending order together with their values. Both
// destinations must hold at least Len() elements. It returns the number of entries
// written. Dense rows are read out by scanning the stamped range, sparse rows by
// sorting the touched list.
func (acc *RowAccumulator) Drain(cols []int, values []float64) int {
	n := len(acc.touched)
	if n == 0 {
		return 0
	}
	span := acc.maxCol - acc.minCol + 1
	if span <= n*bits.Len(uint(n)) {
		k := 0
		for col := acc.minCol; col <= acc.maxCol; col++ {
			if acc.stamps[col] == acc.gen {
				cols[k] = col
				values[k] = acc.values[col]
				k++
			}
		}
		return k
	}
	slices.Sort(acc.touched)
	for k, col := range acc.touched {
		cols[k] = col
		values[k] = acc.values[col]
	}
	return n
}

// WorkspacePool recycles accumulators between calls. Accumulators handed out are
// always reset, so no row state leaks from one call into another.
type WorkspacePool struct {
	pool sync.Pool
}

// NewWorkspacePool creates an empty pool.
func NewWorkspacePool() *WorkspacePool {
	return &WorkspacePool{}
}

// Get returns a reset accumulator covering ncols columns.
func (p *WorkspacePool) Get(ncols int, policy MergePolicy) *RowAccumulator {
	acc, ok := p.pool.Get().(*RowAccumulator)
	if !ok {
		return NewRowAccumulator(ncols, policy)
	}
	if cap(acc.values) < ncols {
		// stamps of fresh slots are zero, which is always older than acc.gen
		acc.values = make([]float64, ncols)
		acc.stamps = make([]uint64, ncols)
	} else {
		acc.values = acc.values[:ncols]
		acc.stamps = acc.stamps[:ncols]
	}
	acc.policy = policy
	acc.Reset()
	return acc
}

// Put returns an accumulator to the pool.
func (p *WorkspacePool) Put(acc *RowAccumulator) {
	if acc != nil {
		p.pool.Put(acc)
	}
}
