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

// Package dispatch turns one inbound queue record into one ledger call.
// It never retries - the consumer group manager orchestrates retries so each
// attempt is a fresh dispatch.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/dedup"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/fabric"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/fftypes"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/policy"
)

// Inbound record headers
const (
	HeaderChannelName    = "channel_name"
	HeaderChaincodeName  = "chaincode_name"
	HeaderFunctionName   = "function_name"
	HeaderPeers          = "peers"
	HeaderTransientKey   = "transient_key"
	HeaderCollectionName = "collection_name"
)

// Outcome is the result of a successful dispatch: either the ledger's
// returned bytes, or a flag that the delivery was a suppressed duplicate
type Outcome struct {
	Result    []byte
	Duplicate bool
}

// Dispatcher parses records and submits them to the ledger gateway, with
// recency-based suppression of redelivered records
type Dispatcher struct {
	gateway fabric.Gateway
	cache   dedup.Cache
}

func NewDispatcher(gateway fabric.Gateway, cache dedup.Cache) *Dispatcher {
	return &Dispatcher{
		gateway: gateway,
		cache:   cache,
	}
}

func headerValue(msg *kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// ParseInvocation validates an inbound record's headers and body. All parse
// failures are marked fatal - retrying a malformed record can never succeed.
func ParseInvocation(ctx context.Context, msg *kafka.Message) (*fftypes.TransactionInvocation, error) {
	inv := &fftypes.TransactionInvocation{
		ChannelName:   headerValue(msg, HeaderChannelName),
		ChaincodeName: headerValue(msg, HeaderChaincodeName),
		FunctionName:  headerValue(msg, HeaderFunctionName),
		Collection:    headerValue(msg, HeaderCollectionName),
		TransientKey:  headerValue(msg, HeaderTransientKey),
		Payload:       string(msg.Value),
	}
	for _, required := range []struct {
		name  string
		value string
	}{
		{HeaderChannelName, inv.ChannelName},
		{HeaderChaincodeName, inv.ChaincodeName},
		{HeaderFunctionName, inv.FunctionName},
	} {
		if required.value == "" {
			return nil, policy.NewFatalError(i18n.NewError(ctx, i18n.MsgMissingRequiredHeader, required.name))
		}
	}
	if inv.Payload == "" {
		return nil, policy.NewFatalError(i18n.NewError(ctx, i18n.MsgEmptyTransactionPayload))
	}
	if peers := headerValue(msg, HeaderPeers); peers != "" {
		for _, peer := range strings.Split(peers, ",") {
			if peer = strings.TrimSpace(peer); peer != "" {
				inv.PeerNames = append(inv.PeerNames, peer)
			}
		}
	}
	return inv, nil
}

// narrowPeers intersects the requested peer names with the channel's known
// peers. An empty or entirely unknown request falls back to default
// endorsement peer selection, with a warning.
func (d *Dispatcher) narrowPeers(ctx context.Context, inv *fftypes.TransactionInvocation) []string {
	if len(inv.PeerNames) == 0 {
		return nil
	}
	known, err := d.gateway.ChannelPeers(ctx, inv.ChannelName)
	if err != nil {
		log.L(ctx).Warnf("Unable to look up peers for channel '%s', using default endorsement: %s", inv.ChannelName, err)
		return nil
	}
	knownSet := make(map[string]bool, len(known))
	for _, peer := range known {
		knownSet[peer] = true
	}
	var matched []string
	for _, peer := range inv.PeerNames {
		if knownSet[peer] {
			matched = append(matched, peer)
		}
	}
	if len(matched) == 0 {
		log.L(ctx).Warnf("%s", i18n.NewError(ctx, i18n.MsgDispatcherBadPeersHeader, inv.PeerNames, inv.ChannelName))
		return nil
	}
	return matched
}

func recordID(msg *kafka.Message) string {
	return fmt.Sprintf("%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
}

// Dispatch processes one record end to end: parse, dedup claim, ledger call.
// A duplicate claim is treated as already-processed and succeeds without a
// ledger call. On ledger failure the claim is released, so a redelivery of the
// same record is not suppressed, and the error is returned marked for
// classification by the retry policy.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *kafka.Message) (*Outcome, error) {
	inv, err := ParseInvocation(ctx, msg)
	if err != nil {
		return nil, err
	}

	id := recordID(msg)
	if !d.cache.Claim(id) {
		log.L(ctx).Debugf("Suppressing duplicate delivery of %s", id)
		return &Outcome{Duplicate: true}, nil
	}

	peers := d.narrowPeers(ctx, inv)
	var result []byte
	if inv.IsPrivate() {
		result, err = d.gateway.SubmitPrivate(ctx, inv.ChannelName, inv.ChaincodeName, inv.FunctionName,
			inv.Collection, inv.TransientKey, inv.Payload, peers)
	} else {
		result, err = d.gateway.Submit(ctx, inv.ChannelName, inv.ChaincodeName, inv.FunctionName,
			inv.Payload, peers)
	}
	if err != nil {
		d.cache.Release(id)
		return nil, i18n.WrapError(ctx, err, i18n.MsgSubmitFailed,
			inv.FunctionName, inv.ChaincodeName, inv.ChannelName)
	}
	return &Outcome{Result: result}, nil
}
