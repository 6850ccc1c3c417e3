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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/config"
)

func newTestMetricsManager(t *testing.T) (Manager, func()) {
	config.Reset()
	config.Set(config.MetricsEnabled, true)
	Clear()
	Registry()
	ctx, cancel := context.WithCancel(context.Background())
	mm := NewMetricsManager(ctx)
	assert.True(t, mm.IsMetricsEnabled())
	return mm, func() {
		cancel()
		Clear()
	}
}

func TestPipelineCounters(t *testing.T) {
	mm, done := newTestMetricsManager(t)
	defer done()

	mm.RecordConsumed("src1")
	mm.RecordConsumed("src1")
	mm.SubmissionSucceeded()
	mm.SubmissionRetried()
	mm.DeadLettered()
	mm.DuplicateSuppressed()

	assert.Equal(t, float64(2), testutil.ToFloat64(RecordsConsumedCounter.WithLabelValues("src1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(SubmissionSuccessCounter))
	assert.Equal(t, float64(1), testutil.ToFloat64(SubmissionRetryCounter))
	assert.Equal(t, float64(1), testutil.ToFloat64(DeadLetterCounter))
	assert.Equal(t, float64(1), testutil.ToFloat64(DuplicateSuppressedCounter))
}

func TestRelayCounters(t *testing.T) {
	mm, done := newTestMetricsManager(t)
	defer done()

	mm.EventRelayed("chaincode_event")
	mm.EventRelayed("chaincode_event")
	mm.EventRelayed("block_event")
	mm.PublishFailed()

	assert.Equal(t, float64(2), testutil.ToFloat64(EventsRelayedCounter.WithLabelValues("chaincode_event")))
	assert.Equal(t, float64(1), testutil.ToFloat64(EventsRelayedCounter.WithLabelValues("block_event")))
	assert.Equal(t, float64(1), testutil.ToFloat64(PublishFailureCounter))
}

func TestDisabledManagerNoops(t *testing.T) {
	config.Reset()
	Clear()
	mm := NewMetricsManager(context.Background())
	assert.False(t, mm.IsMetricsEnabled())
	mm.RecordConsumed("src1")
	mm.SubmissionSucceeded()
	mm.SubmissionRetried()
	mm.DeadLettered()
	mm.DuplicateSuppressed()
	mm.EventRelayed("block_event")
	mm.PublishFailed()
}

func TestRegistryIdempotent(t *testing.T) {
	Clear()
	r1 := Registry()
	r2 := Registry()
	assert.Same(t, r1, r2)
	Clear()
}
