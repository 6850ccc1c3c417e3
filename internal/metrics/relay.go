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

var EventsRelayedCounter *prometheus.CounterVec
var PublishFailureCounter prometheus.Counter

// MetricsEventsRelayed is the prometheus metric for ledger events republished downstream, by event type
var MetricsEventsRelayed = "fkb_events_relayed_total"

// MetricsPublishFailures is the prometheus metric for outbound publishes that failed
var MetricsPublishFailures = "fkb_publish_failures_total"

func InitRelayMetrics() {
	EventsRelayedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricsEventsRelayed,
		Help: "Number of ledger events republished to the outbound topic",
	}, []string{"event_type"})
	PublishFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricsPublishFailures,
		Help: "Number of outbound publishes that failed",
	})
}

func RegisterRelayMetrics() {
	registry.MustRegister(EventsRelayedCounter)
	registry.MustRegister(PublishFailureCounter)
}
