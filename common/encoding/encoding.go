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

package encoding

import (
	"encoding/binary"
	"io"

	"github.com/juju/errors"
)

// WriteString writes string to byte stream.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads string from byte stream.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}

// WriteBytes writes bytes to byte stream.
func WriteBytes(w io.Writer, s []byte) error {
	err := binary.Write(w, binary.LittleEndian, int32(len(s)))
	if err != nil {
		return errors.Trace(err)
	}
	n, err := w.Write(s)
	if err != nil {
		return errors.Trace(err)
	} else if n != len(s) {
		return errors.New("fail to write bytes")
	}
	return nil
}

// ReadBytes reads bytes from byte stream.
func ReadBytes(r io.Reader) ([]byte, error) {
	var length int32
	err := binary.Read(r, binary.LittleEndian, &length)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if length < 0 {
		return nil, errors.NotValidf("byte length %d", length)
	}
	// the length is not trusted until the bytes have arrived
	data, err := io.ReadAll(io.LimitReader(r, int64(length)))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(data) < int(length) {
		return nil, errors.Trace(io.ErrUnexpectedEOF)
	}
	return data, nil
}

// chunkSize is the number of elements decoded at once. Slices grow with the data
// actually read, so a corrupted length fails on EOF instead of allocating.
const chunkSize = 4096

// WriteInts writes integers to byte stream as 64-bit values.
func WriteInts(w io.Writer, a []int) error {
	buf := make([]int64, len(a))
	for i, v := range a {
		buf[i] = int64(v)
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, buf))
}

// ReadInts reads n integers written by WriteInts.
func ReadInts(r io.Reader, n int) ([]int, error) {
	if n < 0 {
		return nil, errors.NotValidf("length %d", n)
	}
	a := make([]int, 0, min(n, chunkSize))
	buf := make([]int64, min(n, chunkSize))
	for len(a) < n {
		chunk := buf[:min(n-len(a), len(buf))]
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, errors.Trace(err)
		}
		for _, v := range chunk {
			a = append(a, int(v))
		}
	}
	return a, nil
}

// WriteFloats writes floats to byte stream.
func WriteFloats(w io.Writer, a []float64) error {
	return errors.Trace(binary.Write(w, binary.LittleEndian, a))
}

// ReadFloats reads n floats written by WriteFloats.
func ReadFloats(r io.Reader, n int) ([]float64, error) {
	if n < 0 {
		return nil, errors.NotValidf("length %d", n)
	}
	a := make([]float64, 0, min(n, chunkSize))
	buf := make([]float64, min(n, chunkSize))
	for len(a) < n {
		chunk := buf[:min(n-len(a), len(buf))]
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, errors.Trace(err)
		}
		a = append(a, chunk...)
	}
	return a, nil
}
