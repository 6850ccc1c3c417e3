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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var RecordsConsumedCounter *prometheus.CounterVec
var SubmissionSuccessCounter prometheus.Counter
var SubmissionRetryCounter prometheus.Counter
var DeadLetterCounter prometheus.Counter
var DuplicateSuppressedCounter prometheus.Counter

// MetricsRecordsConsumed is the prometheus metric for total records consumed, by source
var MetricsRecordsConsumed = "fkb_records_consumed_total"

// MetricsSubmissionSuccess is the prometheus metric for ledger submissions that committed
var MetricsSubmissionSuccess = "fkb_submissions_success_total"

// MetricsSubmissionRetries is the prometheus metric for retried delivery attempts
var MetricsSubmissionRetries = "fkb_submission_retries_total"

// MetricsDeadLetters is the prometheus metric for records routed to the dead-letter sink
var MetricsDeadLetters = "fkb_deadletters_total"

// MetricsDuplicatesSuppressed is the prometheus metric for deliveries absorbed by the recency cache
var MetricsDuplicatesSuppressed = "fkb_duplicates_suppressed_total"

func InitPipelineMetrics() {
	RecordsConsumedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricsRecordsConsumed,
		Help: "Number of records consumed from upstream topics",
	}, []string{"source"})
	SubmissionSuccessCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricsSubmissionSuccess,
		Help: "Number of transactions successfully submitted to the ledger",
	})
	SubmissionRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricsSubmissionRetries,
		Help: "Number of delivery attempts that were retried",
	})
	DeadLetterCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricsDeadLetters,
		Help: "Number of records routed to the dead-letter sink",
	})
	DuplicateSuppressedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricsDuplicatesSuppressed,
		Help: "Number of duplicate deliveries suppressed by the recency cache",
	})
}

func RegisterPipelineMetrics() {
	registry.MustRegister(RecordsConsumedCounter)
	registry.MustRegister(SubmissionSuccessCounter)
	registry.MustRegister(SubmissionRetryCounter)
	registry.MustRegister(DeadLetterCounter)
	registry.MustRegister(DuplicateSuppressedCounter)
}
