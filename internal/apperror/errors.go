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

// Package apperror defines the coded error type shared by the tenancy, backup
// and transport layers.
package apperror

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeNotFound         = "not_found"
	CodeValidation       = "validation"
	CodeConflict         = "conflict"
	CodeForbidden        = "forbidden"
	CodePermissionDenied = "permission_denied"
	CodeUnknownTenant    = "unknown_tenant"
	CodeExternalTool     = "external_tool"
	CodeTransaction      = "transaction"
	CodeInternal         = "internal"
)

// Error is a domain error carrying a stable code and a human readable message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new coded error
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error around an underlying cause
func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func NotFound(message string) *Error { return New(CodeNotFound, message) }

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) *Error {
	return New(CodeForbidden, fmt.Sprintf(format, args...))
}

func PermissionDenied(message string) *Error { return New(CodePermissionDenied, message) }

func UnknownTenant(schema string) *Error {
	return New(CodeUnknownTenant, fmt.Sprintf("schema %q is not registered to any tenant", schema))
}

// CodeOf returns the code of the first coded error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// MessageOf returns the client-facing message of a coded error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
