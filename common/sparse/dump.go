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
	"encoding/binary"
	"io"
	"math"

	"github.com/gorse-io/spgemm/common/encoding"
	"github.com/juju/errors"
)

const csrFormat = "csr/v1"

type csrHeader struct {
	Rows int64
	Cols int64
	Nnz  int64
}

// MarshalCSR writes a matrix to a byte stream.
func MarshalCSR(w io.Writer, m *CsrMatrix) error {
	if err := encoding.WriteString(w, csrFormat); err != nil {
		return errors.Trace(err)
	}
	header := csrHeader{Rows: int64(m.Rows), Cols: int64(m.Cols), Nnz: int64(m.Nnz())}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteInts(w, m.RowPtr); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteInts(w, m.ColIndices); err != nil {
		return errors.Trace(err)
	}
	return encoding.WriteFloats(w, m.Values)
}

// UnmarshalCSR reads a matrix written by MarshalCSR and checks its structure.
func UnmarshalCSR(r io.Reader) (*CsrMatrix, error) {
	format, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if format != csrFormat {
		return nil, errors.NotSupportedf("format %q", format)
	}
	var header csrHeader
	if err = binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Trace(err)
	}
	if header.Rows < 0 || header.Cols < 0 || header.Nnz < 0 ||
		header.Rows >= math.MaxInt || header.Cols > math.MaxInt || header.Nnz > math.MaxInt {
		return nil, errors.Annotatef(ErrShapeMismatch, "header %dx%d with %d entries", header.Rows, header.Cols, header.Nnz)
	}
	rowPtr, err := encoding.ReadInts(r, int(header.Rows)+1)
	if err != nil {
		return nil, errors.Trace(err)
	}
	colIndices, err := encoding.ReadInts(r, int(header.Nnz))
	if err != nil {
		return nil, errors.Trace(err)
	}
	values, err := encoding.ReadFloats(r, int(header.Nnz))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewCsrMatrix(int(header.Rows), int(header.Cols), rowPtr, colIndices, values)
}
