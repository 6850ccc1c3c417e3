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

package fftypes

// LedgerEventType discriminates the kinds of event the ledger delivers,
// and is carried verbatim in the outbound envelope's event_type header
type LedgerEventType string

const (
	// LedgerEventTypeBlock is a block commit notification
	LedgerEventTypeBlock LedgerEventType = "block_event"
	// LedgerEventTypeChaincode is a chaincode-emitted application event
	LedgerEventTypeChaincode LedgerEventType = "chaincode_event"
	// LedgerEventTypeError is a delivery the gateway could not parse, republished for visibility
	LedgerEventTypeError LedgerEventType = "error_event"
)

// TLSSpec is the optional TLS settings of one upstream Kafka source
type TLSSpec struct {
	Enabled            bool   `json:"enabled"`
	CAFile             string `json:"caFile,omitempty"`
	CertFile           string `json:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty"`
}

// SASLSpec is the optional SASL settings of one upstream Kafka source.
// Mechanism is one of "plain", "scram-sha-256" or "scram-sha-512".
type SASLSpec struct {
	Mechanism string `json:"mechanism"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// ConsumerGroupSpec describes one upstream integration point: a consumer group
// bound to a single topic, with a fixed degree of partition-worker concurrency.
// Specs are immutable once handed to the consumer group manager - live changes
// go through Reconcile with a fresh desired set.
type ConsumerGroupSpec struct {
	SourceID    string    `json:"sourceId"`
	Brokers     []string  `json:"brokers"`
	GroupID     string    `json:"groupId"`
	Topic       string    `json:"topic"`
	Concurrency int       `json:"concurrency"`
	TLS         *TLSSpec  `json:"tls,omitempty"`
	SASL        *SASLSpec `json:"sasl,omitempty"`
}

// EventSubscriptionSpec selects the ledger events relayed outbound: block
// events for the channel, plus chaincode events when a chaincode is named
type EventSubscriptionSpec struct {
	Channel   string `json:"channel"`
	Chaincode string `json:"chaincode,omitempty"`
}

// TransactionInvocation is the parsed form of an inbound queue record.
// ChannelName, ChaincodeName, FunctionName and Payload are all required;
// a record missing any of them fails parsing terminally.
type TransactionInvocation struct {
	ChannelName   string
	ChaincodeName string
	FunctionName  string
	PeerNames     []string
	Collection    string
	TransientKey  string
	Payload       string
}

// IsPrivate determines whether the invocation uses the private-data submission
// path, which requires both a collection and a transient key
func (ti *TransactionInvocation) IsPrivate() bool {
	return ti.Collection != "" && ti.TransientKey != ""
}

// LedgerEvent is a single event delivered by the ledger gateway's subscription,
// in the shape the outbound relay needs - the gateway owns extraction from the
// underlying wire format
type LedgerEvent struct {
	Type               LedgerEventType
	TransactionID      string
	ChannelName        string
	ChaincodeName      string
	FunctionName       string
	BlockNumber        uint64
	Payload            []byte
	PrivateDataPresent bool
}

// RecordHeader is one key/value header from a queue record, preserved
// verbatim when a record is dead-lettered
type RecordHeader struct {
	Key   string
	Value []byte
}

// DeadLetterRecord preserves a record the pipeline could not process, plus
// the reason it failed, for routing to the dead-letter sink
type DeadLetterRecord struct {
	OriginalTopic     string
	OriginalPartition int
	OriginalKey       []byte
	OriginalValue     []byte
	OriginalHeaders   []RecordHeader
	FailureReason     string
}
