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
	"math/rand/v2"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/spgemm/common/sparse"
	"github.com/gorse-io/spgemm/config"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gonum.org/v1/gonum/mat"
)

const epsilon = 1e-9

func randomCsr(rng *rand.Rand, rows, cols int, density float64) *sparse.CsrMatrix {
	coo := sparse.NewCooMatrix(rows, cols)
	n := int(float64(rows*cols) * density)
	for k := 0; k < n; k++ {
		coo.Append(rng.IntN(rows), rng.IntN(cols), float64(rng.IntN(19)-9)/4)
	}
	m, err := coo.ToCSR()
	if err != nil {
		panic(err)
	}
	return m
}

func denseProduct(a, b *sparse.CsrMatrix) *mat.Dense {
	var c mat.Dense
	c.Mul(a.ToDense(), b.ToDense())
	return &c
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	assert.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

type EngineTestSuite struct {
	suite.Suite
	engine *Engine
	rng    *rand.Rand
}

func (suite *EngineTestSuite) SetupTest() {
	cfg := config.GetDefaultConfig()
	cfg.Engine.Workers = 4
	cfg.Engine.MinRowsPerWorker = 2
	suite.engine = NewEngine(cfg)
	suite.rng = rand.New(rand.NewPCG(42, 0))
}

func (suite *EngineTestSuite) TearDownTest() {
	suite.Zero(suite.engine.Allocator().Live())
	suite.Zero(suite.engine.Allocator().LiveBytes())
}

// assertCanonical checks the structure of a product: a valid row pointer and strictly
// ascending, duplicate-free columns in every row.
func (suite *EngineTestSuite) assertCanonical(buf *Buffers) {
	m := buf.Matrix()
	suite.NoError(m.Validate())
	suite.Equal(buf.NNZ, buf.RowPtr[buf.Rows])
	suite.Len(buf.ColIdx, buf.NNZ)
	suite.Len(buf.Values, buf.NNZ)
	suite.True(m.IsCanonical())
	for i := 0; i < m.Rows; i++ {
		cols, _ := m.Row(i)
		suite.Equal(len(cols), mapset.NewSet(cols...).Cardinality())
	}
}

func (suite *EngineTestSuite) TestMultiplyTranspose() {
	coo := sparse.NewCooMatrix(4, 4)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if v := float64(i*4 + j); v != 0 {
				coo.Append(i, j, v)
			}
		}
	}
	a, err := coo.ToCSR()
	suite.NoError(err)
	buf, err := suite.engine.Multiply(context.Background(), a, a.Transpose())
	suite.NoError(err)
	defer buf.Release()
	suite.assertCanonical(buf)
	suite.Equal(4, buf.Rows)
	suite.Equal(4, buf.Cols)
	suite.Equal(16, buf.NNZ)
	suite.Equal([]int{0, 4, 8, 12, 16}, buf.RowPtr)
	suite.Equal([]int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1, 2, 3, 0, 1, 2, 3}, buf.ColIdx)
	suite.Equal([]float64{
		14, 38, 62, 86,
		38, 126, 214, 302,
		62, 214, 366, 518,
		86, 302, 518, 734,
	}, buf.Values)
}

func (suite *EngineTestSuite) TestMultiplyRandom() {
	shapes := []struct {
		m, k, n int
		density float64
	}{
		{1, 1, 1, 1},
		{5, 7, 3, 0.3},
		{20, 20, 20, 0.05},
		{33, 17, 41, 0.2},
		{64, 64, 64, 0.01},
		{50, 30, 10, 1},
		{40, 40, 40, 0},
	}
	for _, shape := range shapes {
		a := randomCsr(suite.rng, shape.m, shape.k, shape.density)
		b := randomCsr(suite.rng, shape.k, shape.n, shape.density)
		buf, err := suite.engine.Multiply(context.Background(), a, b)
		suite.NoError(err)
		suite.assertCanonical(buf)
		suite.True(mat.EqualApprox(denseProduct(a, b), buf.Matrix().ToDense(), epsilon),
			"%dx%d times %dx%d", shape.m, shape.k, shape.k, shape.n)
		buf.Release()
	}
}

func (suite *EngineTestSuite) TestMultiplyZeroRows() {
	// zero rows in A and zero columns in B
	a := randomCsr(suite.rng, 10, 10, 0.3)
	for p := a.RowPtr[3]; p < a.RowPtr[4]; p++ {
		a.Values[p] = 0
	}
	b := randomCsr(suite.rng, 10, 8, 0.3)
	buf, err := suite.engine.Multiply(context.Background(), a, b)
	suite.NoError(err)
	defer buf.Release()
	suite.assertCanonical(buf)
	c := buf.Matrix().ToDense()
	suite.True(mat.EqualApprox(denseProduct(a, b), c, epsilon))
	for j := 0; j < 8; j++ {
		suite.Zero(c.At(3, j))
	}
}

func (suite *EngineTestSuite) TestMultiplyEmpty() {
	shapes := []struct{ m, k, n int }{
		{0, 0, 0},
		{0, 3, 4},
		{3, 0, 4},
		{3, 4, 0},
	}
	for _, shape := range shapes {
		a := randomCsr(suite.rng, shape.m, shape.k, 0)
		b := randomCsr(suite.rng, shape.k, shape.n, 0)
		buf, err := suite.engine.Multiply(context.Background(), a, b)
		suite.NoError(err)
		suite.Equal(shape.m, buf.Rows)
		suite.Equal(shape.n, buf.Cols)
		suite.Zero(buf.NNZ)
		suite.Equal(make([]int, shape.m+1), buf.RowPtr)
		suite.Empty(buf.ColIdx)
		suite.Empty(buf.Values)
		buf.Release()
	}
}

func (suite *EngineTestSuite) TestMultiplyIdentity() {
	a := randomCsr(suite.rng, 30, 20, 0.2)
	// duplicates and unsorted columns come out merged and sorted
	suite.False(a.IsCanonical())
	for _, pair := range [][2]*sparse.CsrMatrix{
		{a, sparse.Identity(20)},
		{sparse.Identity(30), a},
	} {
		buf, err := suite.engine.Multiply(context.Background(), pair[0], pair[1])
		suite.NoError(err)
		suite.assertCanonical(buf)
		suite.True(mat.EqualApprox(a.ToDense(), buf.Matrix().ToDense(), epsilon))
		buf.Release()
	}
}

func (suite *EngineTestSuite) TestMultiplyIdempotent() {
	a := randomCsr(suite.rng, 40, 30, 0.1)
	b := randomCsr(suite.rng, 30, 50, 0.1)
	first, err := suite.engine.Multiply(context.Background(), a, b)
	suite.NoError(err)
	defer first.Release()
	second, err := suite.engine.Multiply(context.Background(), a, b)
	suite.NoError(err)
	defer second.Release()
	suite.Equal(first.RowPtr, second.RowPtr)
	suite.Equal(first.ColIdx, second.ColIdx)
	suite.InDeltaSlice(first.Values, second.Values, epsilon)
}

func (suite *EngineTestSuite) TestMultiplyParallel() {
	a := randomCsr(suite.rng, 200, 100, 0.05)
	b := randomCsr(suite.rng, 100, 150, 0.05)
	serial := NewEngine(&config.Config{Engine: config.EngineConfig{Workers: 1, MinRowsPerWorker: 1}})
	expected, err := serial.Multiply(context.Background(), a, b)
	suite.NoError(err)
	defer expected.Release()
	actual, err := suite.engine.Multiply(context.Background(), a, b)
	suite.NoError(err)
	defer actual.Release()
	suite.Equal(expected.RowPtr, actual.RowPtr)
	suite.Equal(expected.ColIdx, actual.ColIdx)
	suite.Equal(expected.Values, actual.Values)
}

func (suite *EngineTestSuite) TestMultiplyConcurrent() {
	a := randomCsr(suite.rng, 60, 60, 0.1)
	b := randomCsr(suite.rng, 60, 60, 0.1)
	expected := denseProduct(a, b)
	var wg sync.WaitGroup
	results := make([]*mat.Dense, 8)
	for i := range results {
		wg.Go(func() {
			buf, err := suite.engine.Multiply(context.Background(), a, b)
			if err != nil {
				return
			}
			results[i] = buf.Detach().ToDense()
		})
	}
	wg.Wait()
	for _, c := range results {
		suite.NotNil(c)
		suite.True(mat.EqualApprox(expected, c, epsilon))
	}
}

func (suite *EngineTestSuite) TestMultiplyShapeMismatch() {
	failures := counterValue(suite.T(), MultiplyFailuresTotal.WithLabelValues("shape_mismatch"))
	a := randomCsr(suite.rng, 3, 4, 0.5)
	b := randomCsr(suite.rng, 5, 2, 0.5)
	buf, err := suite.engine.Multiply(context.Background(), a, b)
	suite.True(errors.Is(err, ErrShapeMismatch))
	suite.Nil(buf)
	_, err = suite.engine.Multiply(context.Background(), a, nil)
	suite.True(errors.Is(err, ErrShapeMismatch))
	suite.Equal(failures+2, counterValue(suite.T(), MultiplyFailuresTotal.WithLabelValues("shape_mismatch")))
}

func (suite *EngineTestSuite) TestMultiplyInvalidOperand() {
	a := randomCsr(suite.rng, 3, 4, 0.5)
	b := randomCsr(suite.rng, 4, 2, 0.5)
	b.ColIndices[0] = 2
	_, err := suite.engine.Multiply(context.Background(), a, b)
	suite.True(errors.Is(err, ErrInvalidIndex))
	b.ColIndices[0] = 0
	b.RowPtr[0] = 1
	_, err = suite.engine.Multiply(context.Background(), a, b)
	suite.True(errors.Is(err, ErrShapeMismatch))
}

func (suite *EngineTestSuite) TestMultiplyBudget() {
	cfg := config.GetDefaultConfig()
	cfg.Engine.MaxBytes = 100
	engine := NewEngine(cfg)
	coo := sparse.NewCooMatrix(4, 4)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			coo.Append(i, j, 1)
		}
	}
	a, err := coo.ToCSR()
	suite.NoError(err)
	// the row pointer fits but sixteen entries do not
	buf, err := engine.Multiply(context.Background(), a, a)
	suite.True(errors.Is(err, ErrAllocationFailure))
	suite.Nil(buf)
	suite.Zero(engine.Allocator().Live())
	suite.Zero(engine.Allocator().LiveBytes())
	// the row pointer alone exceeds the budget
	a = sparse.Identity(20)
	_, err = engine.Multiply(context.Background(), a, a)
	suite.True(errors.Is(err, ErrAllocationFailure))
	suite.Zero(engine.Allocator().Live())
	suite.Zero(engine.Allocator().LiveBytes())
}

func (suite *EngineTestSuite) TestMultiplyCanceled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := randomCsr(suite.rng, 100, 100, 0.05)
	buf, err := suite.engine.Multiply(ctx, a, a)
	suite.True(errors.Is(err, context.Canceled))
	suite.Nil(buf)
}

func (suite *EngineTestSuite) TestMultiplyCOO() {
	a := sparse.NewCooMatrix(2, 3)
	a.Append(0, 2, 1)
	a.Append(1, 0, 2)
	a.Append(0, 2, 3)
	b := sparse.NewCooMatrix(3, 2)
	b.Append(2, 1, 5)
	b.Append(0, 0, 1)
	b.Append(2, 1, -1)
	expected := mat.NewDense(2, 2, []float64{0, 16, 2, 0})

	// duplicates are summed whether or not they are coalesced before multiplying
	buf, err := suite.engine.MultiplyCOO(context.Background(), a, b)
	suite.NoError(err)
	suite.assertCanonical(buf)
	suite.True(mat.Equal(expected, buf.Detach().ToDense()))
	cfg := config.GetDefaultConfig()
	cfg.Engine.Coalesce = false
	engine := NewEngine(cfg)
	buf, err = engine.MultiplyCOO(context.Background(), a, b)
	suite.NoError(err)
	suite.True(mat.Equal(expected, buf.Detach().ToDense()))

	// duplicates keep the largest value
	cfg.Engine.Coalesce = true
	cfg.Engine.MergePolicy = sparse.MergeMax
	engine = NewEngine(cfg)
	buf, err = engine.MultiplyCOO(context.Background(), a, b)
	suite.NoError(err)
	suite.True(mat.Equal(mat.NewDense(2, 2, []float64{0, 15, 2, 0}), buf.Detach().ToDense()))

	failures := counterValue(suite.T(), MultiplyFailuresTotal.WithLabelValues("invalid_index"))
	a.Append(2, 0, 1)
	_, err = suite.engine.MultiplyCOO(context.Background(), a, b)
	suite.True(errors.Is(err, ErrInvalidIndex))
	suite.Equal(failures+1, counterValue(suite.T(), MultiplyFailuresTotal.WithLabelValues("invalid_index")))
}

func (suite *EngineTestSuite) TestMultiplyMetrics() {
	total := counterValue(suite.T(), MultiplyTotal)
	nnz := counterValue(suite.T(), OutputNnzTotal)
	buf, err := suite.engine.Multiply(context.Background(), sparse.Identity(7), sparse.Identity(7))
	suite.NoError(err)
	buf.Release()
	suite.Equal(total+1, counterValue(suite.T(), MultiplyTotal))
	suite.Equal(nnz+7, counterValue(suite.T(), OutputNnzTotal))
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestMultiply(t *testing.T) {
	// [[1 2 0] [0 0 3]] times [[1 0] [0 1] [4 0]]
	buf, err := Multiply(context.Background(), 2, 2, 3,
		[]int{0, 2, 3}, []int{0, 1, 2}, []float64{1, 2, 3},
		[]int{0, 1, 2, 3}, []int{0, 1, 0}, []float64{1, 1, 4})
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3}, buf.RowPtr)
	assert.Equal(t, []int{0, 1, 0}, buf.ColIdx)
	assert.Equal(t, []float64{1, 2, 12}, buf.Values)
	assert.Equal(t, 3, buf.NNZ)
	Release(buf)
	assert.True(t, buf.Released())
	Release(buf)
}

func TestMultiplyArraysInvalid(t *testing.T) {
	engine := NewEngine(nil)
	shapeFailures := counterValue(t, MultiplyFailuresTotal.WithLabelValues("shape_mismatch"))
	indexFailures := counterValue(t, MultiplyFailuresTotal.WithLabelValues("invalid_index"))
	// row pointer of A is too short for two rows
	_, err := engine.MultiplyArrays(context.Background(), 2, 2, 3,
		[]int{0, 3}, []int{0, 1, 2}, []float64{1, 2, 3},
		[]int{0, 1, 2, 3}, []int{0, 1, 0}, []float64{1, 1, 4})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	// values of B are missing
	_, err = engine.MultiplyArrays(context.Background(), 2, 2, 3,
		[]int{0, 2, 3}, []int{0, 1, 2}, []float64{1, 2, 3},
		[]int{0, 1, 2, 3}, []int{0, 1, 0}, []float64{1, 1})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	// column 2 is outside of B
	_, err = engine.MultiplyArrays(context.Background(), 2, 2, 3,
		[]int{0, 2, 3}, []int{0, 1, 2}, []float64{1, 2, 3},
		[]int{0, 1, 2, 3}, []int{0, 2, 0}, []float64{1, 1, 4})
	assert.True(t, errors.Is(err, ErrInvalidIndex))
	// A is 2x3 but B has 2 rows
	_, err = engine.MultiplyArrays(context.Background(), 2, 2, 3,
		[]int{0, 2, 3}, []int{0, 1, 2}, []float64{1, 2, 3},
		[]int{0, 1, 2}, []int{0, 1}, []float64{1, 1})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.Zero(t, engine.Allocator().Live())
	// rejected operands are counted like any other failure
	assert.Equal(t, shapeFailures+3, counterValue(t, MultiplyFailuresTotal.WithLabelValues("shape_mismatch")))
	assert.Equal(t, indexFailures+1, counterValue(t, MultiplyFailuresTotal.WithLabelValues("invalid_index")))
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "shape_mismatch", failureReason(errors.Annotate(ErrShapeMismatch, "a")))
	assert.Equal(t, "invalid_index", failureReason(errors.Trace(ErrInvalidIndex)))
	assert.Equal(t, "allocation_failure", failureReason(ErrAllocationFailure))
	assert.Equal(t, "canceled", failureReason(errors.Trace(context.Canceled)))
	assert.Equal(t, "canceled", failureReason(context.DeadlineExceeded))
	assert.Equal(t, "internal", failureReason(errors.New("oops")))
}

func TestEngine_Workers(t *testing.T) {
	engine := NewEngine(&config.Config{Engine: config.EngineConfig{Workers: 8, MinRowsPerWorker: 10}})
	assert.Equal(t, 1, engine.workers(0))
	assert.Equal(t, 1, engine.workers(15))
	assert.Equal(t, 3, engine.workers(35))
	assert.Equal(t, 8, engine.workers(1000))
	assert.Len(t, engine.ranges(35, 3), 3)
	assert.Len(t, engine.ranges(1000, 8), 32)
	assert.Len(t, engine.ranges(0, 1), 0)
	ranges := engine.ranges(1000, 8)
	assert.Zero(t, ranges[0].A)
	assert.Equal(t, 1000, ranges[len(ranges)-1].B)
}
