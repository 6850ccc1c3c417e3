// Copyright © 2022 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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

// Package policy contains the per-record retry and dead-letter decision logic.
// It performs no I/O, so the full decision table is testable in isolation. The
// consumer group manager is responsible for acting on the decisions.
package policy

import (
	"errors"
	"time"
)

// Classification buckets an error by whether a retry can reasonably succeed
type Classification int

const (
	// Retryable covers transient connectivity and ledger-busy conditions
	Retryable Classification = iota
	// Fatal covers malformed input, unparseable payloads, and ledger-side rejection
	Fatal
)

func (c Classification) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retryable"
}

// Decision is the action the caller must take for a failed delivery attempt
type Decision int

const (
	// Retry means sleep for Outcome.Delay and dispatch the same record again
	Retry Decision = iota
	// Exhausted means the attempt budget is spent - dead-letter (if configured) and advance
	Exhausted
	// FatalError means no retry can succeed - dead-letter (if configured) and advance
	FatalError
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Exhausted:
		return "exhausted"
	default:
		return "fatal"
	}
}

// Outcome carries a decision, plus the backoff delay when the decision is Retry
type Outcome struct {
	Decision Decision
	Delay    time.Duration
}

type classifiedError struct {
	class Classification
	err   error
}

func (ce *classifiedError) Error() string {
	return ce.err.Error()
}

func (ce *classifiedError) Unwrap() error {
	return ce.err
}

// NewRetryableError marks an error as a transient condition worth retrying
func NewRetryableError(err error) error {
	return &classifiedError{class: Retryable, err: err}
}

// NewFatalError marks an error as terminal - retrying can never succeed
func NewFatalError(err error) error {
	return &classifiedError{class: Fatal, err: err}
}

// Policy is the parameterization of the retry loop for one pipeline
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Classify determines whether an error is worth retrying.
//
// Errors explicitly marked by the producer of the error take precedence. Anything
// unmarked defaults to Retryable, on the basis that dead-lettering a record that
// could have succeeded is worse than burning the attempt budget on one that cannot.
func (p *Policy) Classify(err error) Classification {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return Retryable
}

// Decide maps an attempt number and classification to the caller's next action
func (p *Policy) Decide(attempt int, class Classification) Outcome {
	if class == Fatal {
		return Outcome{Decision: FatalError}
	}
	if attempt >= p.MaxAttempts {
		return Outcome{Decision: Exhausted}
	}
	return Outcome{Decision: Retry, Delay: p.Delay}
}

// ResolveDeadLetterTopic resolves where records that cannot be processed are routed:
// an explicitly configured dead-letter topic first, falling back to the outbound
// event topic as a sink, or nowhere (log-only) when neither is configured.
func ResolveDeadLetterTopic(deadLetterTopic, eventTopic string) (string, bool) {
	if deadLetterTopic != "" {
		return deadLetterTopic, true
	}
	if eventTopic != "" {
		return eventTopic, true
	}
	return "", false
}
