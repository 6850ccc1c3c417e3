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

package bridge

import (
	"context"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/config"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/consumer"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/dedup"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/dispatch"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/fabric"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/fftypes"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	bridgekafka "github.com/kaleido-io/fabric-kafka-bridge/internal/kafka"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/metrics"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/policy"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/relay"
)

// Bridge is the top-level lifecycle of the process: both pipeline directions,
// the ledger gateway, and the producers, wired over one shared recency cache
type Bridge interface {
	Init(ctx context.Context, cancelCtx context.CancelFunc) error
	Start() error
	Reconcile(ctx context.Context) error
	WaitStop()
}

var ledgerPrefix = config.NewPluginConfig("ledger")

type bridge struct {
	ctx           context.Context
	cancelCtx     context.CancelFunc
	metrics       metrics.Manager
	cache         dedup.Cache
	gateway       fabric.Gateway
	dispatcher    *dispatch.Dispatcher
	consumers     *consumer.Manager
	relay         *relay.Relay
	eventProducer bridgekafka.Producer
	dltProducer   bridgekafka.Producer
	specs         []*fftypes.ConsumerGroupSpec
	subscriptions []*fftypes.EventSubscriptionSpec

	newProducer func(ctx context.Context, opts bridgekafka.ProducerOptions) (bridgekafka.Producer, error)
}

func NewBridge() Bridge {
	return &bridge{
		newProducer: bridgekafka.NewProducer,
	}
}

func (b *bridge) Init(ctx context.Context, cancelCtx context.CancelFunc) (err error) {
	b.ctx = log.WithLogField(ctx, "role", "bridge")
	b.cancelCtx = cancelCtx

	b.metrics = metrics.NewMetricsManager(b.ctx)

	if config.GetBool(config.DedupEnabled) {
		b.cache = dedup.NewCache(b.ctx, int64(config.GetInt(config.DedupLimit)), config.GetDuration(config.DedupTTL))
	} else {
		log.L(b.ctx).Warnf("Deduplication disabled - redeliveries will be re-submitted to the ledger")
		b.cache = dedup.NewPassthroughCache()
	}

	if err = b.readConsumerSpecs(b.ctx); err != nil {
		return err
	}
	if err = consumer.ValidateSpecs(b.ctx, b.specs); err != nil {
		return err
	}
	if err = b.readSubscriptions(b.ctx); err != nil {
		return err
	}

	if b.gateway == nil {
		b.gateway = fabric.NewFabric()
	}
	if err = b.gateway.Init(b.ctx, ledgerPrefix); err != nil {
		return err
	}

	if err = b.initProducers(b.ctx); err != nil {
		return err
	}

	b.dispatcher = dispatch.NewDispatcher(b.gateway, b.cache)
	pol := &policy.Policy{
		MaxAttempts: config.GetInt(config.RetryMaxAttempts),
		Delay:       config.GetDuration(config.RetryDelay),
	}
	b.consumers = consumer.NewManager(b.ctx, b.dispatcher, b.dltProducer, pol, b.metrics, config.GetDuration(config.ShutdownDrainTimeout))
	if b.eventProducer != nil {
		b.relay = relay.NewRelay(b.cache, b.eventProducer, b.metrics)
	}

	return nil
}

// readConsumerSpecs loads the desired consumer group set, filling in the
// shared broker list for any spec that does not carry its own
func (b *bridge) readConsumerSpecs(ctx context.Context) error {
	b.specs = nil
	if err := config.UnmarshalKey(ctx, config.KafkaConsumers, &b.specs); err != nil {
		return err
	}
	defaultBrokers := config.GetStringSlice(config.KafkaBrokers)
	for _, spec := range b.specs {
		if len(spec.Brokers) == 0 {
			spec.Brokers = defaultBrokers
		}
	}
	return nil
}

func (b *bridge) readSubscriptions(ctx context.Context) error {
	b.subscriptions = nil
	if err := config.UnmarshalKey(ctx, config.EventSubscriptions, &b.subscriptions); err != nil {
		return err
	}
	for _, sub := range b.subscriptions {
		if sub.Channel == "" {
			return i18n.NewError(ctx, i18n.MsgInvalidEventSub)
		}
	}
	if len(b.subscriptions) > 0 && config.GetString(config.EventPublishTopic) == "" {
		return i18n.NewError(ctx, i18n.MsgMissingEventTopic)
	}
	return nil
}

// initProducers builds the two independent producers: an async best-effort
// one for outbound events, and a sync one for dead letters. The dead-letter
// sink falls back to the event topic when no explicit topic is configured.
func (b *bridge) initProducers(ctx context.Context) (err error) {
	brokers := config.GetStringSlice(config.KafkaBrokers)
	var tlsSpec *fftypes.TLSSpec
	if err = config.UnmarshalKey(ctx, config.KafkaTLS, &tlsSpec); err != nil {
		return err
	}
	var saslSpec *fftypes.SASLSpec
	if err = config.UnmarshalKey(ctx, config.KafkaSASL, &saslSpec); err != nil {
		return err
	}

	eventTopic := config.GetString(config.EventPublishTopic)
	if eventTopic != "" {
		b.eventProducer, err = b.newProducer(ctx, bridgekafka.ProducerOptions{
			Brokers:   brokers,
			Topic:     eventTopic,
			Async:     true,
			TLS:       tlsSpec,
			SASL:      saslSpec,
			OnOutcome: b.eventOutcome,
		})
		if err != nil {
			return err
		}
	}

	dltTopic, ok := policy.ResolveDeadLetterTopic(config.GetString(config.DeadLetterTopic), eventTopic)
	if !ok {
		log.L(ctx).Warnf("No dead-letter topic configured - exhausted records will be dropped with a log")
		return nil
	}
	b.dltProducer, err = b.newProducer(ctx, bridgekafka.ProducerOptions{
		Brokers:   brokers,
		Topic:     dltTopic,
		TLS:       tlsSpec,
		SASL:      saslSpec,
		OnOutcome: bridgekafka.LogOutcome,
	})
	return err
}

func (b *bridge) eventOutcome(ctx context.Context, outcome bridgekafka.Outcome) {
	bridgekafka.LogOutcome(ctx, outcome)
	if outcome.Status == bridgekafka.Failed {
		b.metrics.PublishFailed()
	}
}

func (b *bridge) Start() (err error) {
	if err = b.gateway.Start(); err != nil {
		return err
	}
	for _, sub := range b.subscriptions {
		if sub.Chaincode != "" {
			err = b.gateway.SubscribeChaincodeEvents(b.ctx, sub.Channel, sub.Chaincode, b.relay.HandleLedgerEvent)
		} else {
			err = b.gateway.SubscribeBlockEvents(b.ctx, sub.Channel, b.relay.HandleLedgerEvent)
		}
		if err != nil {
			return err
		}
	}
	return b.consumers.Start(b.specs)
}

// Reconcile re-reads the desired consumer group set from the (re-read)
// configuration and drains/starts groups to match it. A reload signal can
// race startup, so a bridge that has not finished Init refuses the reload.
func (b *bridge) Reconcile(ctx context.Context) error {
	if b.consumers == nil {
		return i18n.NewError(ctx, i18n.MsgReloadBeforeInit)
	}
	if err := b.readConsumerSpecs(ctx); err != nil {
		return err
	}
	return b.consumers.Reconcile(b.specs)
}

func (b *bridge) WaitStop() {
	if b.consumers != nil {
		if err := b.consumers.Stop(); err != nil {
			log.L(b.ctx).Warnf("Consumer shutdown did not complete cleanly: %s", err)
		}
	}
	if b.gateway != nil {
		b.gateway.Close()
	}
	if b.eventProducer != nil {
		if err := b.eventProducer.Close(); err != nil {
			log.L(b.ctx).Warnf("Failed to close event producer: %s", err)
		}
	}
	if b.dltProducer != nil {
		if err := b.dltProducer.Close(); err != nil {
			log.L(b.ctx).Warnf("Failed to close dead-letter producer: %s", err)
		}
	}
}
