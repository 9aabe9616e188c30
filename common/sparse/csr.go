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
	"sort"

	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// CsrMatrix is a sparse matrix in compressed sparse row form. Row i occupies
// [RowPtr[i], RowPtr[i+1]) of ColIndices and Values.
type CsrMatrix struct {
	Rows       int
	Cols       int
	RowPtr     []int
	ColIndices []int
	Values     []float64
}

// NewCsrMatrix wraps compressed-row arrays after checking their structure. The slices
// are not copied.
func NewCsrMatrix(rows, cols int, rowPtr, colIndices []int, values []float64) (*CsrMatrix, error) {
	m := &CsrMatrix{
		Rows:       rows,
		Cols:       cols,
		RowPtr:     rowPtr,
		ColIndices: colIndices,
		Values:     values,
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

// Identity creates the n x n identity matrix.
func Identity(n int) *CsrMatrix {
	m := &CsrMatrix{
		Rows:       n,
		Cols:       n,
		RowPtr:     make([]int, n+1),
		ColIndices: make([]int, n),
		Values:     make([]float64, n),
	}
	for i := 0; i < n; i++ {
		m.RowPtr[i+1] = i + 1
		m.ColIndices[i] = i
		m.Values[i] = 1
	}
	return m
}

// Nnz returns the number of stored entries.
func (m *CsrMatrix) Nnz() int {
	return len(m.Values)
}

// Row returns the column indices and values of row i. The slices alias the matrix.
func (m *CsrMatrix) Row(i int) ([]int, []float64) {
	begin, end := m.RowPtr[i], m.RowPtr[i+1]
	return m.ColIndices[begin:end], m.Values[begin:end]
}

// Validate checks that the arrays describe a well-formed rows x cols matrix.
func (m *CsrMatrix) Validate() error {
	if m.Rows < 0 || m.Cols < 0 {
		return errors.Annotatef(ErrShapeMismatch, "negative shape %dx%d", m.Rows, m.Cols)
	}
	if len(m.RowPtr) != m.Rows+1 {
		return errors.Annotatef(ErrShapeMismatch, "row pointer has length %d, expect %d", len(m.RowPtr), m.Rows+1)
	}
	if len(m.ColIndices) != len(m.Values) {
		return errors.Annotatef(ErrShapeMismatch, "%d column indices but %d values", len(m.ColIndices), len(m.Values))
	}
	if m.RowPtr[0] != 0 {
		return errors.Annotatef(ErrShapeMismatch, "row pointer starts at %d", m.RowPtr[0])
	}
	if m.RowPtr[m.Rows] != len(m.Values) {
		return errors.Annotatef(ErrShapeMismatch, "row pointer ends at %d but there are %d entries",
			m.RowPtr[m.Rows], len(m.Values))
	}
	for i := 0; i < m.Rows; i++ {
		if m.RowPtr[i] > m.RowPtr[i+1] {
			return errors.Annotatef(ErrShapeMismatch, "row pointer decreases at row %d", i)
		}
	}
	for p, c := range m.ColIndices {
		if c < 0 || c >= m.Cols {
			return errors.Annotatef(ErrInvalidIndex, "entry %d has column %d outside [0,%d)", p, c, m.Cols)
		}
	}
	return nil
}

// IsCanonical returns true if the columns of every row are strictly ascending.
func (m *CsrMatrix) IsCanonical() bool {
	for i := 0; i < m.Rows; i++ {
		for p := m.RowPtr[i] + 1; p < m.RowPtr[i+1]; p++ {
			if m.ColIndices[p-1] >= m.ColIndices[p] {
				return false
			}
		}
	}
	return true
}

// At returns the element at (i, j). Duplicates in a non-canonical row are summed.
func (m *CsrMatrix) At(i, j int) float64 {
	cols, values := m.Row(i)
	if sort.IntsAreSorted(cols) {
		// binary search finds the first match, duplicates follow it
		var sum float64
		for k := sort.SearchInts(cols, j); k < len(cols) && cols[k] == j; k++ {
			sum += values[k]
		}
		return sum
	}
	var sum float64
	for k, c := range cols {
		if c == j {
			sum += values[k]
		}
	}
	return sum
}

// ToDense expands the matrix. Duplicate entries are summed.
func (m *CsrMatrix) ToDense() *mat.Dense {
	if m.Rows == 0 || m.Cols == 0 {
		return &mat.Dense{}
	}
	dense := mat.NewDense(m.Rows, m.Cols, nil)
	for i := 0; i < m.Rows; i++ {
		for p := m.RowPtr[i]; p < m.RowPtr[i+1]; p++ {
			j := m.ColIndices[p]
			dense.Set(i, j, dense.At(i, j)+m.Values[p])
		}
	}
	return dense
}

// Clone returns a deep copy.
func (m *CsrMatrix) Clone() *CsrMatrix {
	clone := &CsrMatrix{
		Rows:       m.Rows,
		Cols:       m.Cols,
		RowPtr:     make([]int, len(m.RowPtr)),
		ColIndices: make([]int, len(m.ColIndices)),
		Values:     make([]float64, len(m.Values)),
	}
	copy(clone.RowPtr, m.RowPtr)
	copy(clone.ColIndices, m.ColIndices)
	copy(clone.Values, m.Values)
	return clone
}

// Transpose returns the transposed matrix, built by counting sort on the column
// index. Rows of the result are ascending whenever the input is canonical.
func (m *CsrMatrix) Transpose() *CsrMatrix {
	t := &CsrMatrix{
		Rows:       m.Cols,
		Cols:       m.Rows,
		RowPtr:     make([]int, m.Cols+1),
		ColIndices: make([]int, m.Nnz()),
		Values:     make([]float64, m.Nnz()),
	}
	for _, c := range m.ColIndices {
		t.RowPtr[c+1]++
	}
	for j := 0; j < m.Cols; j++ {
		t.RowPtr[j+1] += t.RowPtr[j]
	}
	next := make([]int, m.Cols)
	copy(next, t.RowPtr[:m.Cols])
	for i := 0; i < m.Rows; i++ {
		for p := m.RowPtr[i]; p < m.RowPtr[i+1]; p++ {
			c := m.ColIndices[p]
			t.ColIndices[next[c]] = i
			t.Values[next[c]] = m.Values[p]
			next[c]++
		}
	}
	return t
}
