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

package spgemm

import (
	"math"
	"strconv"

	"github.com/gorse-io/spgemm/common/sparse"
	"github.com/juju/errors"
	"go.uber.org/atomic"
)

const (
	ErrShapeMismatch     = sparse.ErrShapeMismatch
	ErrInvalidIndex      = sparse.ErrInvalidIndex
	ErrAllocationFailure = sparse.ErrAllocationFailure
)

const (
	intBytes   = strconv.IntSize / 8
	floatBytes = 8
)

// Allocator hands out result buffers and keeps account of those not yet released.
// A non-zero budget caps the bytes held by live buffers.
type Allocator struct {
	maxBytes  int64
	live      atomic.Int64
	liveBytes atomic.Int64
}

// NewAllocator creates an allocator. maxBytes <= 0 means unlimited.
func NewAllocator(maxBytes int64) *Allocator {
	return &Allocator{maxBytes: maxBytes}
}

// Live returns the number of buffers not yet released.
func (a *Allocator) Live() int64 {
	return a.live.Load()
}

// LiveBytes returns the bytes held by buffers not yet released.
func (a *Allocator) LiveBytes() int64 {
	return a.liveBytes.Load()
}

func (a *Allocator) reserve(n int64) error {
	for {
		current := a.liveBytes.Load()
		if current > math.MaxInt64-n || (a.maxBytes > 0 && current+n > a.maxBytes) {
			return errors.Annotatef(ErrAllocationFailure, "%d bytes requested, %d of %d in use", n, current, a.maxBytes)
		}
		if a.liveBytes.CompareAndSwap(current, current+n) {
			LiveBytes.Add(float64(n))
			return nil
		}
	}
}

func (a *Allocator) free(n int64) {
	a.liveBytes.Sub(n)
	LiveBytes.Sub(float64(n))
}

// entryBytes returns the bytes of n column indices plus n values.
func entryBytes(n int) (int64, error) {
	if n < 0 || int64(n) > math.MaxInt64/(intBytes+floatBytes) {
		return 0, errors.Annotatef(ErrAllocationFailure, "%d entries", n)
	}
	return int64(n) * (intBytes + floatBytes), nil
}

// makeSlice converts a runtime allocation panic into ErrAllocationFailure.
func makeSlice[T any](n int) (s []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Annotatef(ErrAllocationFailure, "%v", r)
		}
	}()
	return make([]T, n), nil
}

// newBuffers allocates the row pointer of a rows x cols result. Entries are
// allocated by allocateEntries once their number is known.
func (a *Allocator) newBuffers(rows, cols int) (*Buffers, error) {
	if rows < 0 || rows == math.MaxInt || int64(rows+1) > math.MaxInt64/intBytes {
		return nil, errors.Annotatef(ErrAllocationFailure, "%d rows", rows)
	}
	size := int64(rows+1) * intBytes
	if err := a.reserve(size); err != nil {
		return nil, errors.Trace(err)
	}
	rowPtr, err := makeSlice[int](rows + 1)
	if err != nil {
		a.free(size)
		return nil, errors.Trace(err)
	}
	a.live.Inc()
	LiveBuffers.Inc()
	return &Buffers{
		RowPtr: rowPtr,
		Rows:   rows,
		Cols:   cols,
		owner:  a,
		bytes:  size,
	}, nil
}

// Buffers are the result arrays of a multiplication: RowPtr, ColIdx and Values in
// compressed sparse row form plus the number of entries. Ownership passes to the
// caller on return. Release is the only way to give them back.
type Buffers struct {
	RowPtr []int
	ColIdx []int
	Values []float64
	NNZ    int
	Rows   int
	Cols   int

	owner    *Allocator
	bytes    int64
	released atomic.Bool
}

func (b *Buffers) allocateEntries(nnz int) error {
	size, err := entryBytes(nnz)
	if err != nil {
		return errors.Trace(err)
	}
	if err = b.owner.reserve(size); err != nil {
		return errors.Trace(err)
	}
	colIdx, err := makeSlice[int](nnz)
	if err != nil {
		b.owner.free(size)
		return errors.Trace(err)
	}
	values, err := makeSlice[float64](nnz)
	if err != nil {
		b.owner.free(size)
		return errors.Trace(err)
	}
	b.ColIdx, b.Values, b.NNZ = colIdx, values, nnz
	b.bytes += size
	return nil
}

// Released returns true once the buffers have been released or detached.
func (b *Buffers) Released() bool {
	return b == nil || b.released.Load()
}

// Release gives the buffers back to their allocator. It is safe to call on nil and
// more than once.
func (b *Buffers) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	b.RowPtr, b.ColIdx, b.Values = nil, nil, nil
	b.NNZ = 0
	if b.owner != nil {
		b.owner.free(b.bytes)
		b.owner.live.Dec()
		LiveBuffers.Dec()
	}
	b.bytes = 0
}

// Matrix returns a view of the buffers as a compressed sparse row matrix. The view
// aliases the buffers and must not be used after Release. It returns nil once the
// buffers are released.
func (b *Buffers) Matrix() *sparse.CsrMatrix {
	if b.Released() {
		return nil
	}
	return &sparse.CsrMatrix{
		Rows:       b.Rows,
		Cols:       b.Cols,
		RowPtr:     b.RowPtr,
		ColIndices: b.ColIdx,
		Values:     b.Values,
	}
}

// Detach moves the arrays into a matrix managed by the garbage collector and releases
// the buffers. It returns nil if the buffers are already released.
func (b *Buffers) Detach() *sparse.CsrMatrix {
	m := b.Matrix()
	if m == nil {
		return nil
	}
	b.Release()
	return m
}
