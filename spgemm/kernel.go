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
	"context"
	"math"

	"github.com/gorse-io/spgemm/common/parallel"
	"github.com/gorse-io/spgemm/common/sparse"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// kernel multiplies two compressed-row matrices row by row (Gustavson's algorithm).
// Every worker owns one accumulator, so rows never share mutable state.
type kernel struct {
	a, b      *sparse.CsrMatrix
	allocator *Allocator
	workers   int
	ranges    []lo.Tuple2[int, int]
	accs      []*sparse.RowAccumulator
}

func (k *kernel) run(ctx context.Context) (*Buffers, error) {
	buf, err := k.allocator.newBuffers(k.a.Rows, k.b.Cols)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// symbolic pass: count distinct columns of every row
	if err = parallel.Parallel(ctx, len(k.ranges), k.workers, func(workerId, jobId int) error {
		acc := k.accs[workerId]
		for i := k.ranges[jobId].A; i < k.ranges[jobId].B; i++ {
			buf.RowPtr[i+1] = k.symbolic(i, acc)
		}
		return nil
	}); err != nil {
		buf.Release()
		return nil, errors.Trace(err)
	}
	for i := 0; i < k.a.Rows; i++ {
		if buf.RowPtr[i+1] > math.MaxInt-buf.RowPtr[i] {
			buf.Release()
			return nil, errors.Annotatef(ErrAllocationFailure, "number of entries overflows at row %d", i)
		}
		buf.RowPtr[i+1] += buf.RowPtr[i]
	}
	if err = buf.allocateEntries(buf.RowPtr[k.a.Rows]); err != nil {
		buf.Release()
		return nil, errors.Trace(err)
	}
	// numeric pass: fill the segment sized by the symbolic pass
	if err = parallel.Parallel(ctx, len(k.ranges), k.workers, func(workerId, jobId int) error {
		acc := k.accs[workerId]
		for i := k.ranges[jobId].A; i < k.ranges[jobId].B; i++ {
			begin, end := buf.RowPtr[i], buf.RowPtr[i+1]
			if n := k.numeric(i, acc, buf.ColIdx[begin:end], buf.Values[begin:end]); n != end-begin {
				return errors.Errorf("row %d has %d entries but %d were counted", i, n, end-begin)
			}
		}
		return nil
	}); err != nil {
		buf.Release()
		return nil, errors.Trace(err)
	}
	return buf, nil
}

func (k *kernel) symbolic(i int, acc *sparse.RowAccumulator) int {
	acc.Reset()
	for p := k.a.RowPtr[i]; p < k.a.RowPtr[i+1]; p++ {
		row := k.a.ColIndices[p]
		for q := k.b.RowPtr[row]; q < k.b.RowPtr[row+1]; q++ {
			acc.Touch(k.b.ColIndices[q])
		}
	}
	return acc.Len()
}

func (k *kernel) numeric(i int, acc *sparse.RowAccumulator, cols []int, values []float64) int {
	acc.Reset()
	for p := k.a.RowPtr[i]; p < k.a.RowPtr[i+1]; p++ {
		row, scale := k.a.ColIndices[p], k.a.Values[p]
		for q := k.b.RowPtr[row]; q < k.b.RowPtr[row+1]; q++ {
			acc.Merge(k.b.ColIndices[q], scale*k.b.Values[q])
		}
	}
	if acc.Len() != len(cols) {
		return acc.Len()
	}
	return acc.Drain(cols, values)
}
