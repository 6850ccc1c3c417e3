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
	"context"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/config"
)

// Manager is the pipeline's view of metrics collection. When metrics are
// disabled by configuration every method is a no-op.
type Manager interface {
	RecordConsumed(source string)
	SubmissionSucceeded()
	SubmissionRetried()
	DeadLettered()
	DuplicateSuppressed()
	EventRelayed(eventType string)
	PublishFailed()
	IsMetricsEnabled() bool
}

type metricsManager struct {
	ctx context.Context
}

func NewMetricsManager(ctx context.Context) Manager {
	if !config.GetBool(config.MetricsEnabled) {
		return &noopManager{}
	}
	Registry()
	return &metricsManager{ctx: ctx}
}

func (mm *metricsManager) RecordConsumed(source string) {
	RecordsConsumedCounter.WithLabelValues(source).Inc()
}

func (mm *metricsManager) SubmissionSucceeded() {
	SubmissionSuccessCounter.Inc()
}

func (mm *metricsManager) SubmissionRetried() {
	SubmissionRetryCounter.Inc()
}

func (mm *metricsManager) DeadLettered() {
	DeadLetterCounter.Inc()
}

func (mm *metricsManager) DuplicateSuppressed() {
	DuplicateSuppressedCounter.Inc()
}

func (mm *metricsManager) EventRelayed(eventType string) {
	EventsRelayedCounter.WithLabelValues(eventType).Inc()
}

func (mm *metricsManager) PublishFailed() {
	PublishFailureCounter.Inc()
}

func (mm *metricsManager) IsMetricsEnabled() bool {
	return true
}

type noopManager struct{}

func (nm *noopManager) RecordConsumed(source string)   {}
func (nm *noopManager) SubmissionSucceeded()           {}
func (nm *noopManager) SubmissionRetried()             {}
func (nm *noopManager) DeadLettered()                  {}
func (nm *noopManager) DuplicateSuppressed()           {}
func (nm *noopManager) EventRelayed(eventType string)  {}
func (nm *noopManager) PublishFailed()                 {}
func (nm *noopManager) IsMetricsEnabled() bool         { return false }
