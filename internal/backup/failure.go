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

package backup

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a strategy did not produce an artifact.
type FailureKind string

const (
	KindToolUnavailable FailureKind = "tool_unavailable"
	KindToolFailed      FailureKind = "tool_failed"
	KindTimeout         FailureKind = "timeout"
	KindInvalidOutput   FailureKind = "invalid_output"
	KindExportFailed    FailureKind = "export_failed"
	KindNotConfigured   FailureKind = "not_configured"
)

// StrategyFailure is the typed outcome of a failed strategy.
type StrategyFailure struct {
	Strategy string
	Kind     FailureKind
	Stderr   string
	Err      error
}

func (f *StrategyFailure) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Strategy, f.Kind)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	if f.Stderr != "" {
		msg += ": " + f.Stderr
	}
	return msg
}

func (f *StrategyFailure) Unwrap() error {
	return f.Err
}

// classify maps a runner error onto a failure kind.
func classify(strategy string, res *Result, err error) *StrategyFailure {
	f := &StrategyFailure{Strategy: strategy, Err: err}
	if res != nil {
		f.Stderr = tail(res.Stderr, 2048)
	}
	switch {
	case errors.Is(err, ErrToolUnavailable):
		f.Kind = KindToolUnavailable
	case errors.Is(err, ErrTimeout):
		f.Kind = KindTimeout
	default:
		f.Kind = KindToolFailed
	}
	return f
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
