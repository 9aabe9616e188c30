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
	"runtime"
	"time"

	"github.com/gorse-io/spgemm/base/log"
	"github.com/gorse-io/spgemm/common/parallel"
	"github.com/gorse-io/spgemm/common/sparse"
	"github.com/gorse-io/spgemm/config"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// chunksPerWorker is the number of row ranges queued per worker, so that workers
// finishing early can pick up remaining rows.
const chunksPerWorker = 4

// Engine multiplies sparse matrices. Calls share no mutable state besides the
// allocator accounting, so an engine may be used from many goroutines at once.
type Engine struct {
	config    config.EngineConfig
	allocator *Allocator
	pool      *sparse.WorkspacePool
}

// NewEngine creates an engine. A nil config selects the defaults.
func NewEngine(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	e := &Engine{
		config:    cfg.Engine,
		allocator: NewAllocator(cfg.Engine.MaxBytes),
	}
	if cfg.Engine.PoolWorkspace {
		e.pool = sparse.NewWorkspacePool()
	}
	return e
}

// Allocator returns the allocator of result buffers.
func (e *Engine) Allocator() *Allocator {
	return e.allocator
}

// Multiply computes a * b. On success the caller owns the returned buffers and must
// give them back with Release. On failure nothing is left allocated and the returned
// buffers are nil.
func (e *Engine) Multiply(ctx context.Context, a, b *sparse.CsrMatrix) (*Buffers, error) {
	start := time.Now()
	buf, workers, err := e.multiply(ctx, a, b)
	if err != nil {
		return nil, recordFailure(err)
	}
	duration := time.Since(start)
	MultiplyTotal.Inc()
	MultiplySeconds.Observe(duration.Seconds())
	OutputNnzTotal.Add(float64(buf.NNZ))
	log.Logger().Debug("multiply sparse matrices",
		zap.Int("rows", buf.Rows),
		zap.Int("cols", buf.Cols),
		zap.Int("nnz", buf.NNZ),
		zap.Int("workers", workers),
		zap.Duration("duration", duration))
	return buf, nil
}

func (e *Engine) multiply(ctx context.Context, a, b *sparse.CsrMatrix) (*Buffers, int, error) {
	if a == nil || b == nil {
		return nil, 0, errors.Annotate(ErrShapeMismatch, "nil operand")
	}
	if a.Cols != b.Rows {
		return nil, 0, errors.Annotatef(ErrShapeMismatch, "%dx%d matrix times %dx%d matrix", a.Rows, a.Cols, b.Rows, b.Cols)
	}
	if err := a.Validate(); err != nil {
		return nil, 0, errors.Annotate(err, "left operand")
	}
	if err := b.Validate(); err != nil {
		return nil, 0, errors.Annotate(err, "right operand")
	}
	workers := e.workers(a.Rows)
	k := &kernel{
		a:         a,
		b:         b,
		allocator: e.allocator,
		workers:   workers,
		ranges:    e.ranges(a.Rows, workers),
		accs:      make([]*sparse.RowAccumulator, workers),
	}
	for i := range k.accs {
		if e.pool != nil {
			k.accs[i] = e.pool.Get(b.Cols, sparse.MergeSum)
		} else {
			k.accs[i] = sparse.NewRowAccumulator(b.Cols, sparse.MergeSum)
		}
	}
	defer func() {
		if e.pool != nil {
			for _, acc := range k.accs {
				e.pool.Put(acc)
			}
		}
	}()
	buf, err := k.run(ctx)
	return buf, workers, err
}

// workers returns the number of workers for a matrix with the given number of rows.
func (e *Engine) workers(rows int) int {
	workers := e.config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	minRows := max(e.config.MinRowsPerWorker, 1)
	return max(min(workers, rows/minRows), 1)
}

func (e *Engine) ranges(rows, workers int) []lo.Tuple2[int, int] {
	if workers == 1 {
		return parallel.SplitRange(rows, 1)
	}
	minRows := max(e.config.MinRowsPerWorker, 1)
	return parallel.SplitRange(rows, min(workers*chunksPerWorker, rows/minRows))
}

// MultiplyCOO converts both coordinate operands to compressed-row form and multiplies
// them. Duplicate entries are coalesced by the configured merge policy when enabled,
// otherwise they are summed by the multiplication itself.
func (e *Engine) MultiplyCOO(ctx context.Context, a, b *sparse.CooMatrix) (*Buffers, error) {
	var opts []sparse.ConvertOption
	if e.config.Coalesce {
		opts = append(opts, sparse.WithCoalesce(e.config.MergePolicy))
	}
	csrA, err := a.ToCSR(opts...)
	if err != nil {
		return nil, recordFailure(errors.Annotate(err, "left operand"))
	}
	csrB, err := b.ToCSR(opts...)
	if err != nil {
		return nil, recordFailure(errors.Annotate(err, "right operand"))
	}
	return e.Multiply(ctx, csrA, csrB)
}

// MultiplyArrays multiplies an m x k matrix A by a k x n matrix B, both given as raw
// compressed-row arrays. The lengths of the arrays are checked against the declared
// shape before anything is allocated.
func (e *Engine) MultiplyArrays(ctx context.Context, m, n, k int,
	aRowPtr, aColIdx []int, aValues []float64,
	bRowPtr, bColIdx []int, bValues []float64) (*Buffers, error) {
	a, err := sparse.NewCsrMatrix(m, k, aRowPtr, aColIdx, aValues)
	if err != nil {
		return nil, recordFailure(errors.Annotate(err, "left operand"))
	}
	b, err := sparse.NewCsrMatrix(k, n, bRowPtr, bColIdx, bValues)
	if err != nil {
		return nil, recordFailure(errors.Annotate(err, "right operand"))
	}
	return e.Multiply(ctx, a, b)
}

// recordFailure counts and logs a failed multiplication and returns err unchanged.
func recordFailure(err error) error {
	MultiplyFailuresTotal.WithLabelValues(failureReason(err)).Inc()
	log.Logger().Warn("failed to multiply sparse matrices", zap.Error(err))
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrInvalidIndex):
		return "invalid_index"
	case errors.Is(err, ErrAllocationFailure):
		return "allocation_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

var defaultEngine = NewEngine(nil)

// Multiply computes C = A * B on the default engine, where A is m x k and B is k x n,
// both in compressed-row form. The returned buffers belong to the caller and must be
// given back with Release.
func Multiply(ctx context.Context, m, n, k int,
	aRowPtr, aColIdx []int, aValues []float64,
	bRowPtr, bColIdx []int, bValues []float64) (*Buffers, error) {
	return defaultEngine.MultiplyArrays(ctx, m, n, k, aRowPtr, aColIdx, aValues, bRowPtr, bColIdx, bValues)
}

// Release gives buffers returned by Multiply back to the engine. It is the only
// sanctioned way to free them, and it is a no-op for nil or already released buffers.
func Release(buf *Buffers) {
	buf.Release()
}
