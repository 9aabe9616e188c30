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
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// CooMatrix is a sparse matrix in coordinate form. Entries may be unordered and the
// same (row, column) pair may appear more than once.
type CooMatrix struct {
	Rows       int
	Cols       int
	RowIndices []int
	ColIndices []int
	Values     []float64
}

// NewCooMatrix creates an empty rows x cols coordinate matrix.
func NewCooMatrix(rows, cols int) *CooMatrix {
	return &CooMatrix{
		Rows:       rows,
		Cols:       cols,
		RowIndices: make([]int, 0),
		ColIndices: make([]int, 0),
		Values:     make([]float64, 0),
	}
}

// Append adds an entry. Indices are checked on conversion.
func (coo *CooMatrix) Append(row, col int, value float64) {
	coo.RowIndices = append(coo.RowIndices, row)
	coo.ColIndices = append(coo.ColIndices, col)
	coo.Values = append(coo.Values, value)
}

// Nnz returns the number of stored entries, duplicates included.
func (coo *CooMatrix) Nnz() int {
	return len(coo.Values)
}

// Validate checks the declared shape, the lengths of the parallel slices and the
// range of every index.
func (coo *CooMatrix) Validate() error {
	if coo.Rows < 0 || coo.Cols < 0 {
		return errors.Annotatef(ErrShapeMismatch, "negative shape %dx%d", coo.Rows, coo.Cols)
	}
	if len(coo.RowIndices) != len(coo.Values) || len(coo.ColIndices) != len(coo.Values) {
		return errors.Annotatef(ErrShapeMismatch, "%d row indices, %d column indices and %d values",
			len(coo.RowIndices), len(coo.ColIndices), len(coo.Values))
	}
	for i := range coo.Values {
		if r := coo.RowIndices[i]; r < 0 || r >= coo.Rows {
			return errors.Annotatef(ErrInvalidIndex, "entry %d has row %d outside [0,%d)", i, r, coo.Rows)
		}
		if c := coo.ColIndices[i]; c < 0 || c >= coo.Cols {
			return errors.Annotatef(ErrInvalidIndex, "entry %d has column %d outside [0,%d)", i, c, coo.Cols)
		}
	}
	return nil
}

// ToDense expands the matrix. Duplicate entries are summed.
func (coo *CooMatrix) ToDense() *mat.Dense {
	if coo.Rows == 0 || coo.Cols == 0 {
		return &mat.Dense{}
	}
	dense := mat.NewDense(coo.Rows, coo.Cols, nil)
	for i, v := range coo.Values {
		r, c := coo.RowIndices[i], coo.ColIndices[i]
		dense.Set(r, c, dense.At(r, c)+v)
	}
	return dense
}

// ConvertOption configures ToCSR.
type ConvertOption func(*convertOptions)

type convertOptions struct {
	coalesce bool
	policy   MergePolicy
}

// WithCoalesce merges duplicate entries of a row using the given policy. Coalesced
// rows are emitted with ascending columns.
func WithCoalesce(policy MergePolicy) ConvertOption {
	return func(o *convertOptions) {
		o.coalesce = true
		o.policy = policy
	}
}

// ToCSR converts the matrix to compressed-row form by counting sort on the row index.
// Entries of a row keep their input order unless coalescing is requested.
func (coo *CooMatrix) ToCSR(opts ...ConvertOption) (*CsrMatrix, error) {
	var o convertOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := coo.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	nnz := coo.Nnz()
	// histogram
	rowPtr := make([]int, coo.Rows+1)
	for _, r := range coo.RowIndices {
		rowPtr[r+1]++
	}
	// prefix sum
	for i := 0; i < coo.Rows; i++ {
		rowPtr[i+1] += rowPtr[i]
	}
	// stable scatter
	next := make([]int, coo.Rows)
	copy(next, rowPtr[:coo.Rows])
	colIndices := make([]int, nnz)
	values := make([]float64, nnz)
	for i, r := range coo.RowIndices {
		pos := next[r]
		colIndices[pos] = coo.ColIndices[i]
		values[pos] = coo.Values[i]
		next[r]++
	}
	m := &CsrMatrix{
		Rows:       coo.Rows,
		Cols:       coo.Cols,
		RowPtr:     rowPtr,
		ColIndices: colIndices,
		Values:     values,
	}
	if o.coalesce {
		m.coalesce(o.policy)
	}
	return m, nil
}

// coalesce merges duplicate columns row by row in place, then shrinks the arrays to
// the merged size.
func (m *CsrMatrix) coalesce(policy MergePolicy) {
	acc := NewRowAccumulator(m.Cols, policy)
	write := 0
	for i := 0; i < m.Rows; i++ {
		begin, end := m.RowPtr[i], m.RowPtr[i+1]
		acc.Reset()
		for p := begin; p < end; p++ {
			acc.Merge(m.ColIndices[p], m.Values[p])
		}
		// write never passes begin, so draining only overwrites consumed entries
		m.RowPtr[i] = write
		write += acc.Drain(m.ColIndices[write:], m.Values[write:])
	}
	m.RowPtr[m.Rows] = write
	if write < len(m.Values) {
		colIndices := make([]int, write)
		values := make([]float64, write)
		copy(colIndices, m.ColIndices)
		copy(values, m.Values)
		m.ColIndices, m.Values = colIndices, values
	}
}
