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

package kafka

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io/ioutil"
	"math/big"
	"os"
	"path"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/stretchr/testify/assert"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/fftypes"
)

func writeTestCA(t *testing.T) string {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "unit-test-ca"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(1 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	assert.NoError(t, err)
	caFile := path.Join(t.TempDir(), "ca.pem")
	err = ioutil.WriteFile(caFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600)
	assert.NoError(t, err)
	return caFile
}

func TestSASLMechanismPlain(t *testing.T) {
	m, err := saslMechanism(context.Background(), &fftypes.SASLSpec{
		Mechanism: "plain",
		Username:  "user1",
		Password:  "pass1",
	})
	assert.NoError(t, err)
	assert.Equal(t, plain.Mechanism{Username: "user1", Password: "pass1"}, m)
}

func TestSASLMechanismDefaultsToPlain(t *testing.T) {
	m, err := saslMechanism(context.Background(), &fftypes.SASLSpec{
		Username: "user1",
		Password: "pass1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "PLAIN", m.Name())
}

func TestSASLMechanismSCRAM(t *testing.T) {
	m, err := saslMechanism(context.Background(), &fftypes.SASLSpec{
		Mechanism: "scram-sha-256",
		Username:  "user1",
		Password:  "pass1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "SCRAM-SHA-256", m.Name())

	m, err = saslMechanism(context.Background(), &fftypes.SASLSpec{
		Mechanism: "scram-sha-512",
		Username:  "user1",
		Password:  "pass1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "SCRAM-SHA-512", m.Name())
}

func TestSASLMechanismUnknown(t *testing.T) {
	_, err := saslMechanism(context.Background(), &fftypes.SASLSpec{Mechanism: "kerberos"})
	assert.Regexp(t, "KB10114.*kerberos", err)
}

func TestSASLMechanismNone(t *testing.T) {
	m, err := saslMechanism(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestTLSConfigDisabled(t *testing.T) {
	conf, err := tlsConfig(context.Background(), nil, "src1")
	assert.NoError(t, err)
	assert.Nil(t, conf)

	conf, err = tlsConfig(context.Background(), &fftypes.TLSSpec{}, "src1")
	assert.NoError(t, err)
	assert.Nil(t, conf)
}

func TestTLSConfigWithCA(t *testing.T) {
	caFile := writeTestCA(t)
	conf, err := tlsConfig(context.Background(), &fftypes.TLSSpec{
		Enabled: true,
		CAFile:  caFile,
	}, "src1")
	assert.NoError(t, err)
	assert.NotNil(t, conf.RootCAs)
}

func TestTLSConfigMissingCAFile(t *testing.T) {
	_, err := tlsConfig(context.Background(), &fftypes.TLSSpec{
		Enabled: true,
		CAFile:  path.Join(t.TempDir(), "missing.pem"),
	}, "src1")
	assert.Regexp(t, "KB10115.*src1", err)
}

func TestTLSConfigBadCAPEM(t *testing.T) {
	caFile := path.Join(t.TempDir(), "ca.pem")
	err := ioutil.WriteFile(caFile, []byte("not a pem"), 0600)
	assert.NoError(t, err)
	_, err = tlsConfig(context.Background(), &fftypes.TLSSpec{
		Enabled: true,
		CAFile:  caFile,
	}, "src1")
	assert.Regexp(t, "KB10115.*src1", err)
}

func TestTLSConfigBadKeyPair(t *testing.T) {
	_, err := tlsConfig(context.Background(), &fftypes.TLSSpec{
		Enabled:  true,
		CertFile: os.DevNull,
		KeyFile:  os.DevNull,
	}, "src1")
	assert.Regexp(t, "KB10115.*src1", err)
}

func TestNewReaderBadSASL(t *testing.T) {
	_, err := NewReader(context.Background(), &fftypes.ConsumerGroupSpec{
		SourceID: "src1",
		Brokers:  []string{"broker1:9092"},
		GroupID:  "grp1",
		Topic:    "topic1",
		SASL:     &fftypes.SASLSpec{Mechanism: "kerberos"},
	})
	assert.Regexp(t, "KB10114", err)
}

func TestNewReaderOK(t *testing.T) {
	r, err := NewReader(context.Background(), &fftypes.ConsumerGroupSpec{
		SourceID: "src1",
		Brokers:  []string{"broker1:9092"},
		GroupID:  "grp1",
		Topic:    "topic1",
	})
	assert.NoError(t, err)
	defer r.Close()
}

func TestNewProducerBadTLS(t *testing.T) {
	_, err := NewProducer(context.Background(), ProducerOptions{
		Brokers: []string{"broker1:9092"},
		Topic:   "topic1",
		TLS:     &fftypes.TLSSpec{Enabled: true, CAFile: "missing.pem"},
	})
	assert.Regexp(t, "KB10115", err)
}

func TestNewProducerBadSASL(t *testing.T) {
	_, err := NewProducer(context.Background(), ProducerOptions{
		Brokers: []string{"broker1:9092"},
		Topic:   "topic1",
		SASL:    &fftypes.SASLSpec{Mechanism: "kerberos"},
	})
	assert.Regexp(t, "KB10114", err)
}

type stubWriter struct {
	err      error
	messages []kafka.Message
}

func (sw *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	sw.messages = append(sw.messages, msgs...)
	return sw.err
}

func (sw *stubWriter) Close() error {
	return nil
}

func TestProducerSyncOutcomeDelivered(t *testing.T) {
	var outcomes []Outcome
	p := &producer{
		ctx:    context.Background(),
		topic:  "topic1",
		writer: &stubWriter{},
		onOutcome: func(ctx context.Context, outcome Outcome) {
			outcomes = append(outcomes, outcome)
		},
	}

	err := p.Send(context.Background(), kafka.Message{Key: []byte("k1"), Value: []byte("v1")})
	assert.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, Delivered, outcomes[0].Status)
	assert.Equal(t, "topic1", outcomes[0].Topic)
	assert.Equal(t, []byte("k1"), outcomes[0].Key)
}

func TestProducerSyncOutcomeFailed(t *testing.T) {
	var outcomes []Outcome
	p := &producer{
		ctx:    context.Background(),
		topic:  "topic1",
		writer: &stubWriter{err: fmt.Errorf("pop")},
		onOutcome: func(ctx context.Context, outcome Outcome) {
			outcomes = append(outcomes, outcome)
		},
	}

	err := p.Send(context.Background(), kafka.Message{Key: []byte("k1")})
	assert.EqualError(t, err, "pop")
	assert.Len(t, outcomes, 1)
	assert.Equal(t, Failed, outcomes[0].Status)
	assert.EqualError(t, outcomes[0].Err, "pop")
}

func TestProducerAsyncOutcomeViaCompletion(t *testing.T) {
	var outcomes []Outcome
	p, err := NewProducer(context.Background(), ProducerOptions{
		Brokers: []string{"broker1:9092"},
		Topic:   "topic1",
		Async:   true,
		OnOutcome: func(ctx context.Context, outcome Outcome) {
			outcomes = append(outcomes, outcome)
		},
	})
	assert.NoError(t, err)
	defer p.Close()

	// drive the broker ack path directly rather than standing up a broker
	writer := p.(*producer).writer.(*kafka.Writer)
	writer.Completion([]kafka.Message{{Key: []byte("k1")}}, nil)
	writer.Completion([]kafka.Message{{Key: []byte("k2")}}, fmt.Errorf("pop"))

	assert.Len(t, outcomes, 2)
	assert.Equal(t, Delivered, outcomes[0].Status)
	assert.Equal(t, Failed, outcomes[1].Status)
}

func TestLogOutcome(t *testing.T) {
	LogOutcome(context.Background(), Outcome{Status: Delivered, Topic: "t1", Key: []byte("k")})
	LogOutcome(context.Background(), Outcome{Status: Failed, Topic: "t1", Key: []byte("k"), Err: fmt.Errorf("pop")})
}

func TestDeliveryStatusString(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "failed", Failed.String())
}
