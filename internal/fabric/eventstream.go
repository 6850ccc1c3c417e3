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
	"context"

	"github.com/go-resty/resty/v2"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/restclient"
)

type streamManager struct {
	ctx    context.Context
	client *resty.Client
	signer string
}

type eventStream struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	ErrorHandling  string               `json:"errorHandling"`
	BatchSize      uint                 `json:"batchSize"`
	BatchTimeoutMS uint                 `json:"batchTimeoutMS"`
	Type           string               `json:"type"`
	WebSocket      eventStreamWebsocket `json:"websocket"`
}

type eventFilter struct {
	BlockType   string `json:"blockType,omitempty"`
	ChaincodeID string `json:"chaincodeId,omitempty"`
	EventFilter string `json:"eventFilter,omitempty"`
}

type subscription struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Channel   string      `json:"channel"`
	Signer    string      `json:"signer"`
	Stream    string      `json:"stream"`
	FromBlock string      `json:"fromBlock"`
	Filter    eventFilter `json:"filter"`
}

func (s *streamManager) getEventStreams() (streams []*eventStream, err error) {
	res, err := s.client.R().
		SetContext(s.ctx).
		SetResult(&streams).
		Get("/eventstreams")
	if err != nil || !res.IsSuccess() {
		return nil, restclient.WrapRestErr(s.ctx, res, err, i18n.MsgFabconnectRESTErr)
	}
	return streams, nil
}

func (s *streamManager) createEventStream(topic string, batchSize, batchTimeout uint) (*eventStream, error) {
	stream := eventStream{
		Name:           topic,
		ErrorHandling:  "block",
		BatchSize:      batchSize,
		BatchTimeoutMS: batchTimeout,
		Type:           "websocket",
		WebSocket:      eventStreamWebsocket{Topic: topic},
	}
	res, err := s.client.R().
		SetContext(s.ctx).
		SetBody(&stream).
		SetResult(&stream).
		Post("/eventstreams")
	if err != nil || !res.IsSuccess() {
		return nil, restclient.WrapRestErr(s.ctx, res, err, i18n.MsgFabconnectRESTErr)
	}
	return &stream, nil
}

func (s *streamManager) ensureEventStream(topic string, batchSize, batchTimeout uint) (*eventStream, error) {
	existingStreams, err := s.getEventStreams()
	if err != nil {
		return nil, err
	}
	for _, stream := range existingStreams {
		if stream.WebSocket.Topic == topic {
			return stream, nil
		}
	}
	return s.createEventStream(topic, batchSize, batchTimeout)
}

// findEventStream locates a stream that was provisioned out-of-band, for
// deployments running with skipEventstreamInit
func (s *streamManager) findEventStream(topic string) (*eventStream, error) {
	existingStreams, err := s.getEventStreams()
	if err != nil {
		return nil, err
	}
	for _, stream := range existingStreams {
		if stream.WebSocket.Topic == topic {
			return stream, nil
		}
	}
	return nil, i18n.NewError(s.ctx, i18n.MsgEventStreamInitFailed, topic)
}

func (s *streamManager) getSubscriptions() (subs []*subscription, err error) {
	res, err := s.client.R().
		SetContext(s.ctx).
		SetResult(&subs).
		Get("/subscriptions")
	if err != nil || !res.IsSuccess() {
		return nil, restclient.WrapRestErr(s.ctx, res, err, i18n.MsgFabconnectRESTErr)
	}
	return subs, nil
}

func (s *streamManager) createSubscription(name, stream, channel string, filter eventFilter) (*subscription, error) {
	sub := subscription{
		Name:      name,
		Channel:   channel,
		Signer:    s.signer,
		Stream:    stream,
		FromBlock: "newest",
		Filter:    filter,
	}
	res, err := s.client.R().
		SetContext(s.ctx).
		SetBody(&sub).
		SetResult(&sub).
		Post("/subscriptions")
	if err != nil || !res.IsSuccess() {
		return nil, restclient.WrapRestErr(s.ctx, res, err, i18n.MsgFabconnectRESTErr)
	}
	return &sub, nil
}

func (s *streamManager) ensureSubscription(name, stream, channel string, filter eventFilter, createAllowed bool) (sub *subscription, err error) {
	existingSubs, err := s.getSubscriptions()
	if err != nil {
		return nil, err
	}
	for _, existing := range existingSubs {
		if existing.Name == name {
			sub = existing
			break
		}
	}
	if sub == nil {
		if !createAllowed {
			return nil, i18n.NewError(s.ctx, i18n.MsgEventStreamInitFailed, name)
		}
		if sub, err = s.createSubscription(name, stream, channel, filter); err != nil {
			return nil, err
		}
	}
	log.L(s.ctx).Infof("Subscription %s: %s", name, sub.ID)
	return sub, nil
}
