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

package fabric

import (
	"github.com/kaleido-io/fabric-kafka-bridge/internal/config"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/wsclient"
)

const (
	defaultBatchSize     = 50
	defaultBatchTimeout  = 500
	defaultPeerCacheSize = "1Mb"
	defaultPeerCacheTTL  = "1h"
)

const (
	// FabconnectConfigKey is the sub-key in the config containing all the fabconnect specific config
	FabconnectConfigKey = "fabconnect"

	// FabconnectConfigSigner is the signing identity used for transaction submission and subscriptions
	FabconnectConfigSigner = "signer"
	// FabconnectConfigTopic is the websocket listen topic the bridge registers on, which is important
	// if there are multiple bridge instances sharing a single fabconnect
	FabconnectConfigTopic = "topic"
	// FabconnectConfigBatchSize is the batch size to configure on event streams, when auto-defining them
	FabconnectConfigBatchSize = "batchSize"
	// FabconnectConfigBatchTimeout is the batch timeout to configure on event streams, when auto-defining them
	FabconnectConfigBatchTimeout = "batchTimeout"
	// FabconnectConfigSkipEventstreamInit disables auto-configuration of event streams and subscriptions,
	// for deployments where they are provisioned out-of-band
	FabconnectConfigSkipEventstreamInit = "skipEventstreamInit"
	// FabconnectConfigPeerCacheSize is the max size of the channel-peer lookup cache
	FabconnectConfigPeerCacheSize = "peerCache.size"
	// FabconnectConfigPeerCacheTTL is how long channel-peer lookups remain valid
	FabconnectConfigPeerCacheTTL = "peerCache.ttl"
)

// InitPrefix registers the fabconnect config keys (including the nested HTTP and
// websocket client keys) under the supplied prefix
func InitPrefix(prefix config.Prefix) config.Prefix {
	fabconnectConf := prefix.SubPrefix(FabconnectConfigKey)
	wsclient.InitPrefix(fabconnectConf)
	fabconnectConf.AddKnownKey(FabconnectConfigSigner)
	fabconnectConf.AddKnownKey(FabconnectConfigTopic)
	fabconnectConf.AddKnownKey(FabconnectConfigSkipEventstreamInit)
	fabconnectConf.AddKnownKey(FabconnectConfigBatchSize, defaultBatchSize)
	fabconnectConf.AddKnownKey(FabconnectConfigBatchTimeout, defaultBatchTimeout)
	fabconnectConf.AddKnownKey(FabconnectConfigPeerCacheSize, defaultPeerCacheSize)
	fabconnectConf.AddKnownKey(FabconnectConfigPeerCacheTTL, defaultPeerCacheTTL)
	return fabconnectConf
}
