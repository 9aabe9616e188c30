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

import "github.com/juju/errors"

const (
	// ErrShapeMismatch is returned when operand dimensions are incompatible, or when
	// the declared shape disagrees with the lengths of the supplied arrays.
	ErrShapeMismatch = errors.ConstError("shape mismatch")
	// ErrInvalidIndex is returned when a row or column index lies outside the declared shape.
	ErrInvalidIndex = errors.ConstError("invalid index")
	// ErrAllocationFailure is returned when result arrays cannot be obtained.
	ErrAllocationFailure = errors.ConstError("allocation failure")
)
