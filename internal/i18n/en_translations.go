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

package i18n

var (
	MsgConfigFailed             = ffm("KB10101", "Failed to read config: %s")
	MsgContextCanceled          = ffm("KB10102", "Context cancelled")
	MsgWSSendTimedOut           = ffm("KB10103", "Websocket send timed out")
	MsgWSClosing                = ffm("KB10104", "Websocket closing, and message send is not possible")
	MsgWSConnectFailed          = ffm("KB10105", "Websocket connect failed")
	MsgInvalidURL               = ffm("KB10106", "Invalid URL: '%s'")
	MsgFabconnectRESTErr        = ffm("KB10107", "Error from fabconnect: %s")
	MsgMissingFabconnectConfig  = ffm("KB10108", "Missing required fabconnect config: %s")
	MsgMissingRequiredHeader    = ffm("KB10109", "Invalid transaction request - missing required header '%s'", 400)
	MsgEmptyTransactionPayload  = ffm("KB10110", "Invalid transaction request - empty payload", 400)
	MsgInvalidConsumerSpec      = ffm("KB10112", "Invalid consumer configuration for source '%s': %s")
	MsgNoConsumerGroups         = ffm("KB10113", "No consumer groups configured")
	MsgUnknownSASLMechanism     = ffm("KB10114", "Unknown SASL mechanism '%s'")
	MsgTLSConfigFailed          = ffm("KB10115", "Failed to initialize TLS configuration for source '%s'")
	MsgSubmitFailed             = ffm("KB10117", "Submit of function '%s' to chaincode '%s' on channel '%s' failed")
	MsgEventStreamInitFailed    = ffm("KB10118", "Event stream setup is disabled and no pre-provisioned stream/subscription '%s' was found")
	MsgDuplicateConsumerSource  = ffm("KB10119", "Duplicate consumer source id '%s'")
	MsgShutdownTimedOut         = ffm("KB10120", "Timed out waiting for consumer groups to drain")
	MsgInvalidOutputOption      = ffm("KB10121", "Invalid output option '%s'")
	MsgLedgerEventMissingTxID   = ffm("KB10122", "Ledger event on channel '%s' is missing a transaction id")
	MsgConsumerGroupStopped     = ffm("KB10123", "Consumer group '%s' stopped")
	MsgDispatcherBadPeersHeader = ffm("KB10124", "None of the requested peers %v are known on channel '%s' - falling back to default endorsement")
	MsgInvalidEventSub          = ffm("KB10125", "Invalid event subscription configuration: a channel name is required")
	MsgMissingEventTopic        = ffm("KB10126", "Event subscriptions are configured, but no outbound event topic is set")
	MsgReloadBeforeInit         = ffm("KB10127", "Configuration reload requested before startup completed - ignoring")
)
