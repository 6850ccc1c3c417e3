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

// Package relay republishes ledger events to the outbound topic. Delivery is
// best effort: a failed publish is logged and dropped, never retried or
// dead-lettered - liveness of the event feed is prioritized over completeness,
// unlike the inbound path's retry and dead-letter guarantees.
package relay

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/dedup"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/fftypes"
	bridgekafka "github.com/kaleido-io/fabric-kafka-bridge/internal/kafka"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/metrics"
)

// Outbound envelope headers
const (
	HeaderTxID           = "fabric_tx_id"
	HeaderEventName      = "event_name"
	HeaderFunctionName   = "function_name"
	HeaderChannelName    = "channel_name"
	HeaderChaincodeName  = "chaincode_name"
	HeaderEventType      = "event_type"
	HeaderBlockNumber    = "block_number"
	HeaderPrivatePresent = "is_private_data_present"
)

// Relay shapes and publishes one envelope per non-duplicate ledger event
type Relay struct {
	cache    dedup.Cache
	producer bridgekafka.Producer
	mm       metrics.Manager
}

func NewRelay(cache dedup.Cache, producer bridgekafka.Producer, mm metrics.Manager) *Relay {
	return &Relay{
		cache:    cache,
		producer: producer,
		mm:       mm,
	}
}

// Envelope builds the outbound message for one ledger event: payload in the
// body, everything the consumer routes on as discrete headers
func Envelope(event *fftypes.LedgerEvent) kafka.Message {
	headers := []kafka.Header{
		{Key: HeaderTxID, Value: []byte(event.TransactionID)},
		{Key: HeaderEventType, Value: []byte(event.Type)},
		{Key: HeaderChannelName, Value: []byte(event.ChannelName)},
		{Key: HeaderBlockNumber, Value: []byte(fmt.Sprintf("%d", event.BlockNumber))},
		{Key: HeaderPrivatePresent, Value: []byte(strconv.FormatBool(event.PrivateDataPresent))},
	}
	if event.ChaincodeName != "" {
		headers = append(headers, kafka.Header{Key: HeaderChaincodeName, Value: []byte(event.ChaincodeName)})
	}
	if event.FunctionName != "" {
		// both names are emitted - some downstream consumers key on one, some on the other
		headers = append(headers,
			kafka.Header{Key: HeaderEventName, Value: []byte(event.FunctionName)},
			kafka.Header{Key: HeaderFunctionName, Value: []byte(event.FunctionName)},
		)
	}
	key := event.TransactionID
	if key == "" {
		// error events carry no transaction id - generate a key so the
		// record still routes like any other
		key = fftypes.NewUUID()
	}
	return kafka.Message{
		Key:     []byte(key),
		Value:   event.Payload,
		Headers: headers,
	}
}

// HandleLedgerEvent is the gateway subscription callback. Duplicate commit
// notifications (the same transaction observed from multiple points) are
// suppressed via the recency cache; error events carry no transaction id and
// bypass the dedup guard.
func (r *Relay) HandleLedgerEvent(ctx context.Context, event *fftypes.LedgerEvent) {
	if event.Type != fftypes.LedgerEventTypeError {
		if !r.cache.Claim(event.TransactionID) {
			log.L(ctx).Debugf("Suppressing duplicate event for transaction %s", event.TransactionID)
			r.mm.DuplicateSuppressed()
			return
		}
	}

	if err := r.producer.Send(ctx, Envelope(event)); err != nil {
		log.L(ctx).Errorf("Dropped %s for transaction %s: %s", event.Type, event.TransactionID, err)
		return
	}
	r.mm.EventRelayed(string(event.Type))
}
