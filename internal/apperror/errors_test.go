// Copyright 2026 The Psico SAS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf_WrappedChain(t *testing.T) {
	base := Validation("schema name %q is reserved", "public")
	wrapped := fmt.Errorf("create tenant: %w", base)

	assert.Equal(t, CodeValidation, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeValidation))
	assert.Equal(t, `schema name "public" is reserved`, MessageOf(wrapped))
}

func TestCodeOf_PlainErrorIsInternal(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "internal server error", MessageOf(err))
	assert.False(t, Is(nil, CodeInternal))
}

func TestWrap_UnwrapsCause(t *testing.T) {
	cause := errors.New("psql exited with status 3")
	err := Wrap(CodeTransaction, "restore failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "restore failed")
	assert.Contains(t, err.Error(), "status 3")
}
