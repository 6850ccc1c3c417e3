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

// Package kafka wraps the broker client: consumer group readers with manual
// offset commit, and producers that report a single delivery outcome per
// message instead of scattered callbacks.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/fftypes"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
)

const (
	defaultMinBytes    = 1
	defaultMaxBytes    = 10 * 1024 * 1024
	defaultDialTimeout = 10 * time.Second
)

// Reader is the narrow slice of the consumer group client the pipeline uses.
// Offsets are committed explicitly, never on fetch.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func saslMechanism(ctx context.Context, spec *fftypes.SASLSpec) (sasl.Mechanism, error) {
	if spec == nil {
		return nil, nil
	}
	switch strings.ToLower(spec.Mechanism) {
	case "", "plain":
		return plain.Mechanism{Username: spec.Username, Password: spec.Password}, nil
	case "scram-sha-256":
		return scram.Mechanism(scram.SHA256, spec.Username, spec.Password)
	case "scram-sha-512":
		return scram.Mechanism(scram.SHA512, spec.Username, spec.Password)
	default:
		return nil, i18n.NewError(ctx, i18n.MsgUnknownSASLMechanism, spec.Mechanism)
	}
}

func tlsConfig(ctx context.Context, spec *fftypes.TLSSpec, sourceID string) (*tls.Config, error) {
	if spec == nil || !spec.Enabled {
		return nil, nil
	}
	tlsConf := &tls.Config{
		InsecureSkipVerify: spec.InsecureSkipVerify, // #nosec G402
	}
	if spec.CAFile != "" {
		caPEM, err := ioutil.ReadFile(spec.CAFile)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, i18n.MsgTLSConfigFailed, sourceID)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, i18n.NewError(ctx, i18n.MsgTLSConfigFailed, sourceID)
		}
		tlsConf.RootCAs = pool
	}
	if spec.CertFile != "" || spec.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(spec.CertFile, spec.KeyFile)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, i18n.MsgTLSConfigFailed, sourceID)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}
	return tlsConf, nil
}

// NewReader builds a consumer group reader for one upstream source
func NewReader(ctx context.Context, spec *fftypes.ConsumerGroupSpec) (Reader, error) {
	tlsConf, err := tlsConfig(ctx, spec.TLS, spec.SourceID)
	if err != nil {
		return nil, err
	}
	mechanism, err := saslMechanism(ctx, spec.SASL)
	if err != nil {
		return nil, err
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  spec.Brokers,
		GroupID:  spec.GroupID,
		Topic:    spec.Topic,
		MinBytes: defaultMinBytes,
		MaxBytes: defaultMaxBytes,
		Dialer: &kafka.Dialer{
			Timeout:       defaultDialTimeout,
			DualStack:     true,
			TLS:           tlsConf,
			SASLMechanism: mechanism,
		},
	}), nil
}

// DeliveryStatus is the terminal state of one produced message
type DeliveryStatus int

const (
	Delivered DeliveryStatus = iota
	Failed
)

func (ds DeliveryStatus) String() string {
	if ds == Delivered {
		return "delivered"
	}
	return "failed"
}

// Outcome reports how a publish ended, for structured logging and metrics
type Outcome struct {
	Status DeliveryStatus
	Topic  string
	Key    []byte
	Err    error
}

// OutcomeSink receives the outcome of every produced message
type OutcomeSink func(ctx context.Context, outcome Outcome)

// LogOutcome is the default sink: delivered at debug, failed at error
func LogOutcome(ctx context.Context, outcome Outcome) {
	if outcome.Status == Delivered {
		log.L(ctx).Debugf("Delivered message to topic '%s' (key=%s)", outcome.Topic, outcome.Key)
	} else {
		log.L(ctx).Errorf("Failed to deliver message to topic '%s' (key=%s): %s", outcome.Topic, outcome.Key, outcome.Err)
	}
}

// Producer publishes messages to a single topic. Every message results in
// exactly one Outcome on the configured sink, for both sync and async modes.
type Producer interface {
	Send(ctx context.Context, msg kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type producer struct {
	ctx       context.Context
	topic     string
	async     bool
	writer    messageWriter
	onOutcome OutcomeSink
}

// ProducerOptions configures one producer client
type ProducerOptions struct {
	Brokers []string
	Topic   string
	// Async makes Send return before the broker acks; outcomes still arrive on the sink
	Async     bool
	TLS       *fftypes.TLSSpec
	SASL      *fftypes.SASLSpec
	OnOutcome OutcomeSink
}

// NewProducer builds a producer for one topic
func NewProducer(ctx context.Context, opts ProducerOptions) (Producer, error) {
	tlsConf, err := tlsConfig(ctx, opts.TLS, opts.Topic)
	if err != nil {
		return nil, err
	}
	mechanism, err := saslMechanism(ctx, opts.SASL)
	if err != nil {
		return nil, err
	}
	onOutcome := opts.OnOutcome
	if onOutcome == nil {
		onOutcome = LogOutcome
	}
	p := &producer{
		ctx:       ctx,
		topic:     opts.Topic,
		async:     opts.Async,
		onOutcome: onOutcome,
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(opts.Brokers...),
		Topic:    opts.Topic,
		Balancer: &kafka.Hash{},
		Async:    opts.Async,
		Transport: &kafka.Transport{
			TLS:  tlsConf,
			SASL: mechanism,
		},
	}
	if opts.Async {
		// in async mode the broker ack arrives after Send returns, so the
		// outcome is emitted from the writer's completion callback instead
		writer.Completion = func(messages []kafka.Message, err error) {
			for i := range messages {
				p.emit(&messages[i], err)
			}
		}
	}
	p.writer = writer
	return p, nil
}

func (p *producer) emit(msg *kafka.Message, err error) {
	outcome := Outcome{Status: Delivered, Topic: p.topic, Key: msg.Key}
	if err != nil {
		outcome.Status = Failed
		outcome.Err = err
	}
	p.onOutcome(p.ctx, outcome)
}

func (p *producer) Send(ctx context.Context, msg kafka.Message) error {
	err := p.writer.WriteMessages(ctx, msg)
	if !p.async {
		p.emit(&msg, err)
	}
	return err
}

func (p *producer) Close() error {
	return p.writer.Close()
}
