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

// Package fabric is the ledger gateway: transaction submission and event
// subscription against a Hyperledger Fabric network, via a fabconnect
// REST/websocket endpoint.
package fabric

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/karlseguin/ccache"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/config"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/fftypes"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/policy"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/restclient"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/wsclient"
)

// EventHandler receives ledger events for one subscription. Handlers are
// invoked from the gateway's event loop and must not block for long periods -
// the next websocket batch is not acked until the handler returns.
type EventHandler func(ctx context.Context, event *fftypes.LedgerEvent)

// Gateway is the narrow interface the pipeline consumes: submit a transaction
// (public or private), look up a channel's peers, and subscribe to block or
// chaincode events
type Gateway interface {
	Name() string
	Init(ctx context.Context, prefix config.Prefix) error
	Start() error
	Close()
	Submit(ctx context.Context, channel, chaincode, function, payload string, peers []string) ([]byte, error)
	SubmitPrivate(ctx context.Context, channel, chaincode, function, collection, transientKey, payload string, peers []string) ([]byte, error)
	ChannelPeers(ctx context.Context, channel string) ([]string, error)
	SubscribeBlockEvents(ctx context.Context, channel string, handler EventHandler) error
	SubscribeChaincodeEvents(ctx context.Context, channel, chaincode string, handler EventHandler) error
}

// Fabric is the fabconnect-backed Gateway implementation
type Fabric struct {
	ctx           context.Context
	topic         string
	signer        string
	client        *resty.Client
	streams       *streamManager
	streamID      string
	wsconn        wsclient.WSClient
	closed        chan struct{}
	subsMux       sync.Mutex
	subs          map[string]*subscriptionInfo
	createStreams bool
	batchSize     uint
	batchTimeout  uint
	cache         *ccache.Cache
	cacheTTL      time.Duration
}

type subscriptionInfo struct {
	eventType fftypes.LedgerEventType
	channel   string
	chaincode string
	handler   EventHandler
}

type eventStreamWebsocket struct {
	Topic string `json:"topic"`
}

type txInputHeaders struct {
	Type       string   `json:"type"`
	Signer     string   `json:"signer,omitempty"`
	Channel    string   `json:"channel"`
	Chaincode  string   `json:"chaincode"`
	PeerNames  []string `json:"peerNames,omitempty"`
	Collection string   `json:"collection,omitempty"`
}

type fabError struct {
	Error string `json:"error,omitempty"`
}

type fabWSCommandPayload struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

type channelInfo struct {
	Name  string   `json:"name"`
	Peers []string `json:"peers"`
}

func NewFabric() *Fabric {
	return &Fabric{}
}

func (f *Fabric) Name() string {
	return "fabric"
}

func (f *Fabric) Init(ctx context.Context, prefix config.Prefix) (err error) {
	fabconnectConf := InitPrefix(prefix)

	f.ctx = log.WithLogField(ctx, "proto", "fabric")
	f.subs = make(map[string]*subscriptionInfo)

	if fabconnectConf.GetString(restclient.HTTPConfigURL) == "" {
		return i18n.NewError(ctx, i18n.MsgMissingFabconnectConfig, "url")
	}
	f.client = restclient.New(f.ctx, fabconnectConf)

	f.signer = fabconnectConf.GetString(FabconnectConfigSigner)
	f.topic = fabconnectConf.GetString(FabconnectConfigTopic)
	if f.topic == "" {
		return i18n.NewError(ctx, i18n.MsgMissingFabconnectConfig, "topic")
	}
	f.batchSize = fabconnectConf.GetUint(FabconnectConfigBatchSize)
	f.batchTimeout = uint(fabconnectConf.GetDuration(FabconnectConfigBatchTimeout).Milliseconds())
	f.createStreams = !fabconnectConf.GetBool(FabconnectConfigSkipEventstreamInit)

	f.wsconn, err = wsclient.New(f.ctx, fabconnectConf, f.afterConnect)
	if err != nil {
		return err
	}

	f.cacheTTL = fabconnectConf.GetDuration(FabconnectConfigPeerCacheTTL)
	f.cache = ccache.New(ccache.Configure().MaxSize(fabconnectConf.GetByteSize(FabconnectConfigPeerCacheSize)))

	f.streams = &streamManager{ctx: f.ctx, client: f.client, signer: f.signer}
	var stream *eventStream
	if f.createStreams {
		stream, err = f.streams.ensureEventStream(f.topic, f.batchSize, f.batchTimeout)
	} else {
		stream, err = f.streams.findEventStream(f.topic)
	}
	if err != nil {
		return err
	}
	f.streamID = stream.ID
	log.L(f.ctx).Infof("Event stream: %s", f.streamID)

	return nil
}

func (f *Fabric) Start() error {
	if err := f.wsconn.Connect(); err != nil {
		return err
	}
	f.closed = make(chan struct{})
	go f.eventLoop()
	return nil
}

func (f *Fabric) Close() {
	f.wsconn.Close()
	if f.closed != nil {
		<-f.closed
	}
}

func (f *Fabric) afterConnect(ctx context.Context, w wsclient.WSClient) error {
	// Send a subscribe to our topic after each connect/reconnect
	b, _ := json.Marshal(&fabWSCommandPayload{
		Type:  "listen",
		Topic: f.topic,
	})
	return w.Send(ctx, b)
}

// classifyRESTError marks gateway errors for the retry policy: transport
// failures and server-side/overload statuses are worth retrying, anything the
// ledger rejected outright is not
func classifyRESTError(res *resty.Response, err error) func(error) error {
	if res == nil {
		return policy.NewRetryableError
	}
	switch sc := res.StatusCode(); {
	case sc == 408, sc == 429, sc >= 500:
		return policy.NewRetryableError
	default:
		return policy.NewFatalError
	}
}

func (f *Fabric) wrapSubmitError(ctx context.Context, errRes *fabError, res *resty.Response, err error) error {
	mark := classifyRESTError(res, err)
	if errRes != nil && errRes.Error != "" {
		return mark(i18n.WrapError(ctx, err, i18n.MsgFabconnectRESTErr, errRes.Error))
	}
	return mark(restclient.WrapRestErr(ctx, res, err, i18n.MsgFabconnectRESTErr))
}

func (f *Fabric) submitTransaction(ctx context.Context, headers *txInputHeaders, function, payload, transientKey string) ([]byte, error) {
	body := map[string]interface{}{
		"headers": headers,
		"func":    function,
		"args":    []string{payload},
	}
	if transientKey != "" {
		// private data travels only in the transient map, never in the args
		body["args"] = []string{}
		body["transientMap"] = map[string]string{transientKey: payload}
	}
	var resErr fabError
	res, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("fly-sync", "true").
		SetBody(body).
		SetError(&resErr).
		Post("/transactions")
	if err != nil || !res.IsSuccess() {
		return nil, f.wrapSubmitError(ctx, &resErr, res, err)
	}
	return res.Body(), nil
}

func (f *Fabric) Submit(ctx context.Context, channel, chaincode, function, payload string, peers []string) ([]byte, error) {
	return f.submitTransaction(ctx, &txInputHeaders{
		Type:      "SendTransaction",
		Signer:    f.signer,
		Channel:   channel,
		Chaincode: chaincode,
		PeerNames: peers,
	}, function, payload, "")
}

func (f *Fabric) SubmitPrivate(ctx context.Context, channel, chaincode, function, collection, transientKey, payload string, peers []string) ([]byte, error) {
	return f.submitTransaction(ctx, &txInputHeaders{
		Type:       "SendTransaction",
		Signer:     f.signer,
		Channel:    channel,
		Chaincode:  chaincode,
		PeerNames:  peers,
		Collection: collection,
	}, function, payload, transientKey)
}

// ChannelPeers looks up the endorsing peers joined to a channel, caching the
// result so the dispatcher's per-record peer narrowing does not hammer fabconnect
func (f *Fabric) ChannelPeers(ctx context.Context, channel string) ([]string, error) {
	cacheKey := "peers:" + channel
	if cached := f.cache.Get(cacheKey); cached != nil && !cached.Expired() {
		return cached.Value().([]string), nil
	}
	var info channelInfo
	res, err := f.client.R().
		SetContext(ctx).
		SetResult(&info).
		Get(fmt.Sprintf("/channels/%s/peers", channel))
	if err != nil || !res.IsSuccess() {
		return nil, restclient.WrapRestErr(ctx, res, err, i18n.MsgFabconnectRESTErr)
	}
	f.cache.Set(cacheKey, info.Peers, f.cacheTTL)
	return info.Peers, nil
}

func (f *Fabric) SubscribeBlockEvents(ctx context.Context, channel string, handler EventHandler) error {
	name := fmt.Sprintf("%s_%s_block", f.topic, channel)
	sub, err := f.streams.ensureSubscription(name, f.streamID, channel, eventFilter{BlockType: "tx"}, f.createStreams)
	if err != nil {
		return err
	}
	f.addSubscription(sub.ID, &subscriptionInfo{
		eventType: fftypes.LedgerEventTypeBlock,
		channel:   channel,
		handler:   handler,
	})
	return nil
}

func (f *Fabric) SubscribeChaincodeEvents(ctx context.Context, channel, chaincode string, handler EventHandler) error {
	name := fmt.Sprintf("%s_%s_%s", f.topic, channel, chaincode)
	sub, err := f.streams.ensureSubscription(name, f.streamID, channel, eventFilter{ChaincodeID: chaincode, EventFilter: ".*"}, f.createStreams)
	if err != nil {
		return err
	}
	f.addSubscription(sub.ID, &subscriptionInfo{
		eventType: fftypes.LedgerEventTypeChaincode,
		channel:   channel,
		chaincode: chaincode,
		handler:   handler,
	})
	return nil
}

func (f *Fabric) addSubscription(subID string, info *subscriptionInfo) {
	f.subsMux.Lock()
	defer f.subsMux.Unlock()
	f.subs[subID] = info
}

func (f *Fabric) getSubscription(subID string) *subscriptionInfo {
	f.subsMux.Lock()
	defer f.subsMux.Unlock()
	return f.subs[subID]
}

func decodePayload(ctx context.Context, payloadString string) []byte {
	bytes, err := base64.StdEncoding.DecodeString(payloadString)
	if err != nil {
		// some fabconnect versions deliver the payload as plain JSON rather than base64
		log.L(ctx).Debugf("Event payload is not base64, passing through verbatim")
		return []byte(payloadString)
	}
	return bytes
}

// parseLedgerEvent extracts the fields the relay needs from one websocket
// message. A message without a transaction ID cannot be deduplicated or
// usefully republished, so it is surfaced as an error event instead.
func (f *Fabric) parseLedgerEvent(ctx context.Context, sub *subscriptionInfo, msgJSON fftypes.JSONObject) *fftypes.LedgerEvent {
	txID := msgJSON.GetString("transactionId")
	if txID == "" {
		log.L(ctx).Warnf("%s", i18n.NewError(ctx, i18n.MsgLedgerEventMissingTxID, sub.channel))
		raw, _ := json.Marshal(msgJSON)
		return &fftypes.LedgerEvent{
			Type:        fftypes.LedgerEventTypeError,
			ChannelName: sub.channel,
			Payload:     raw,
		}
	}
	chaincode := msgJSON.GetString("chaincodeId")
	if chaincode == "" {
		chaincode = sub.chaincode
	}
	return &fftypes.LedgerEvent{
		Type:               sub.eventType,
		TransactionID:      txID,
		ChannelName:        sub.channel,
		ChaincodeName:      chaincode,
		FunctionName:       msgJSON.GetString("eventName"),
		BlockNumber:        uint64(msgJSON.GetInt64("blockNumber")),
		Payload:            decodePayload(ctx, msgJSON.GetString("payload")),
		PrivateDataPresent: msgJSON.GetBool("isPrivate"),
	}
}

func (f *Fabric) handleMessageBatch(ctx context.Context, messages []interface{}) {
	for i, msgI := range messages {
		msgMap, ok := msgI.(map[string]interface{})
		if !ok {
			log.L(ctx).Errorf("Message cannot be parsed as JSON: %+v", msgI)
			continue // Swallow this and move on
		}
		msgJSON := fftypes.JSONObject(msgMap)

		logger := log.L(ctx).WithField("fabmsgidx", i)
		eventCtx := log.WithLogger(ctx, logger)

		subID := msgJSON.GetString("subId")
		sub := f.getSubscription(subID)
		if sub == nil {
			logger.Infof("Ignoring event from unknown subscription: %s", subID)
			continue
		}
		logger.Tracef("Message: %+v", msgJSON)

		sub.handler(eventCtx, f.parseLedgerEvent(eventCtx, sub, msgJSON))
	}
}

func (f *Fabric) eventLoop() {
	defer f.wsconn.Close()
	defer close(f.closed)
	l := log.L(f.ctx).WithField("role", "event-loop")
	ctx := log.WithLogger(f.ctx, l)
	ack, _ := json.Marshal(map[string]string{"type": "ack", "topic": f.topic})
	for {
		select {
		case <-ctx.Done():
			l.Debugf("Event loop exiting (context cancelled)")
			return
		case msgBytes, ok := <-f.wsconn.Receive():
			if !ok {
				l.Debugf("Event loop exiting (receive channel closed)")
				return
			}

			var msgParsed interface{}
			err := json.Unmarshal(msgBytes, &msgParsed)
			if err != nil {
				l.Errorf("Message cannot be parsed as JSON: %s\n%s", err, string(msgBytes))
				continue // Swallow this and move on
			}
			switch msgTyped := msgParsed.(type) {
			case []interface{}:
				f.handleMessageBatch(ctx, msgTyped)
				// Send the ack - only fails if shutting down
				if err := f.wsconn.Send(ctx, ack); err != nil {
					l.Errorf("Event loop exiting: %s", err)
					return
				}
			case map[string]interface{}:
				// receipts for async submissions - we submit synchronously, so just trace
				l.Tracef("Receipt: %+v", msgTyped)
			default:
				l.Errorf("Message unexpected: %+v", msgTyped)
			}
		}
	}
}
