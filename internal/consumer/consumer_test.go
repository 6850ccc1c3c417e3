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

package consumer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/config"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/dispatch"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/fftypes"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	bridgekafka "github.com/kaleido-io/fabric-kafka-bridge/internal/kafka"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/metrics"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/policy"
)

type stubReader struct {
	mux      sync.Mutex
	messages chan kafka.Message
	commits  []kafka.Message
	closed   bool
}

func newStubReader(msgs ...kafka.Message) *stubReader {
	r := &stubReader{messages: make(chan kafka.Message, len(msgs)+10)}
	for _, m := range msgs {
		r.messages <- m
	}
	return r
}

func (r *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.messages:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *stubReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *stubReader) Close() error {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.closed = true
	return nil
}

func (r *stubReader) commitCount() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return len(r.commits)
}

func (r *stubReader) isClosed() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.closed
}

type scriptedDispatcher struct {
	mux       sync.Mutex
	calls     int
	failures  int
	err       error
	duplicate bool
	block     chan struct{}
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, msg *kafka.Message) (*dispatch.Outcome, error) {
	d.mux.Lock()
	d.calls++
	calls := d.calls
	d.mux.Unlock()
	if d.block != nil {
		<-d.block
	}
	if calls <= d.failures {
		return nil, d.err
	}
	if d.duplicate {
		return &dispatch.Outcome{Duplicate: true}, nil
	}
	return &dispatch.Outcome{Result: []byte("committed")}, nil
}

func (d *scriptedDispatcher) callCount() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.calls
}

type stubProducer struct {
	mux  sync.Mutex
	sent []kafka.Message
	err  error
}

func (p *stubProducer) Send(ctx context.Context, msg kafka.Message) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *stubProducer) Close() error {
	return nil
}

func (p *stubProducer) sentCount() int {
	p.mux.Lock()
	defer p.mux.Unlock()
	return len(p.sent)
}

func testSpec(sourceID string) *fftypes.ConsumerGroupSpec {
	return &fftypes.ConsumerGroupSpec{
		SourceID:    sourceID,
		Brokers:     []string{"broker1:9092"},
		GroupID:     "grp-" + sourceID,
		Topic:       "requests",
		Concurrency: 1,
	}
}

func testRecord(offset int64) kafka.Message {
	return kafka.Message{
		Topic:     "requests",
		Partition: 0,
		Offset:    offset,
		Value:     []byte("42"),
		Headers: []kafka.Header{
			{Key: dispatch.HeaderChannelName, Value: []byte("chA")},
			{Key: dispatch.HeaderChaincodeName, Value: []byte("ccA")},
			{Key: dispatch.HeaderFunctionName, Value: []byte("fnA")},
		},
	}
}

func newTestManager(t *testing.T, d Dispatcher, dlt bridgekafka.Producer, reader *stubReader) (*Manager, func()) {
	config.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	pol := &policy.Policy{MaxAttempts: 5, Delay: 1 * time.Millisecond}
	m := NewManager(ctx, d, dlt, pol, metrics.NewMetricsManager(ctx), 1*time.Second)
	m.fetchRetryDelay = 1 * time.Millisecond
	if reader != nil {
		m.newReader = func(ctx context.Context, spec *fftypes.ConsumerGroupSpec) (bridgekafka.Reader, error) {
			return reader, nil
		}
	}
	return m, cancel
}

func TestValidateSpecs(t *testing.T) {
	ctx := context.Background()

	err := ValidateSpecs(ctx, nil)
	assert.Regexp(t, "KB10113", err)

	spec := testSpec("src1")
	spec.SourceID = ""
	assert.Regexp(t, "KB10112.*sourceId", ValidateSpecs(ctx, []*fftypes.ConsumerGroupSpec{spec}))

	spec = testSpec("src1")
	spec.Brokers = nil
	assert.Regexp(t, "KB10112.*brokers", ValidateSpecs(ctx, []*fftypes.ConsumerGroupSpec{spec}))

	spec = testSpec("src1")
	spec.GroupID = ""
	assert.Regexp(t, "KB10112.*groupId", ValidateSpecs(ctx, []*fftypes.ConsumerGroupSpec{spec}))

	spec = testSpec("src1")
	spec.Topic = ""
	assert.Regexp(t, "KB10112.*topic", ValidateSpecs(ctx, []*fftypes.ConsumerGroupSpec{spec}))

	assert.Regexp(t, "KB10119.*src1", ValidateSpecs(ctx, []*fftypes.ConsumerGroupSpec{testSpec("src1"), testSpec("src1")}))

	assert.NoError(t, ValidateSpecs(ctx, []*fftypes.ConsumerGroupSpec{testSpec("src1"), testSpec("src2")}))
}

func TestSuccessFirstAttempt(t *testing.T) {
	d := &scriptedDispatcher{}
	dlt := &stubProducer{}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, dlt, reader)
	defer cancel()

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	assert.Equal(t, 1, d.callCount())
	assert.Equal(t, 0, dlt.sentCount())
	assert.NoError(t, m.Stop())
	assert.True(t, reader.isClosed())
}

func TestTransientFailuresThenSuccess(t *testing.T) {
	// fails 3 times with a transient error then succeeds: 4 calls, 1 ack, 0 dead letters
	d := &scriptedDispatcher{failures: 3, err: policy.NewRetryableError(fmt.Errorf("timeout"))}
	dlt := &stubProducer{}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, dlt, reader)
	defer cancel()

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	assert.Equal(t, 4, d.callCount())
	assert.Equal(t, 0, dlt.sentCount())
	assert.NoError(t, m.Stop())
}

func TestRetryExhaustionDeadLetters(t *testing.T) {
	// transient error on every attempt: exactly maxAttempts calls, then one
	// dead-letter publish, then one ack
	d := &scriptedDispatcher{failures: 100, err: policy.NewRetryableError(fmt.Errorf("timeout"))}
	dlt := &stubProducer{}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, dlt, reader)
	defer cancel()

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	assert.Equal(t, 5, d.callCount())
	assert.Equal(t, 1, dlt.sentCount())
	assert.NoError(t, m.Stop())
}

func TestFatalErrorDeadLettersImmediately(t *testing.T) {
	d := &scriptedDispatcher{failures: 100, err: policy.NewFatalError(i18n.NewError(context.Background(), i18n.MsgMissingRequiredHeader, "function_name"))}
	dlt := &stubProducer{}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, dlt, reader)
	defer cancel()

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	assert.Equal(t, 1, d.callCount())
	assert.Equal(t, 1, dlt.sentCount())

	sent := dlt.sent[0]
	assert.Equal(t, []byte("42"), sent.Value)
	var reason string
	for _, h := range sent.Headers {
		if h.Key == HeaderDLTFailureReason {
			reason = string(h.Value)
		}
	}
	assert.Regexp(t, "KB10109.*function_name", reason)
	assert.NoError(t, m.Stop())
}

func TestNoDeadLetterSinkDropsAndAcks(t *testing.T) {
	d := &scriptedDispatcher{failures: 100, err: policy.NewFatalError(fmt.Errorf("pop"))}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, nil, reader)
	defer cancel()

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	assert.NoError(t, m.Stop())
}

func TestDeadLetterPublishFailureStillAcks(t *testing.T) {
	d := &scriptedDispatcher{failures: 100, err: policy.NewFatalError(fmt.Errorf("pop"))}
	dlt := &stubProducer{err: fmt.Errorf("sink down")}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, dlt, reader)
	defer cancel()

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	assert.NoError(t, m.Stop())
}

func TestDuplicateDeliveryAcked(t *testing.T) {
	d := &scriptedDispatcher{duplicate: true}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, nil, reader)
	defer cancel()

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	assert.NoError(t, m.Stop())
}

func TestStartValidationFailure(t *testing.T) {
	m, cancel := newTestManager(t, &scriptedDispatcher{}, nil, nil)
	defer cancel()
	err := m.Start(nil)
	assert.Regexp(t, "KB10113", err)
}

func TestStartReaderFactoryFailure(t *testing.T) {
	m, cancel := newTestManager(t, &scriptedDispatcher{}, nil, nil)
	defer cancel()
	m.newReader = func(ctx context.Context, spec *fftypes.ConsumerGroupSpec) (bridgekafka.Reader, error) {
		return nil, fmt.Errorf("pop")
	}
	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.EqualError(t, err, "pop")
}

func TestStartSecondGroupFailureTearsDownFirst(t *testing.T) {
	reader := newStubReader()
	m, cancel := newTestManager(t, &scriptedDispatcher{}, nil, nil)
	defer cancel()
	m.newReader = func(ctx context.Context, spec *fftypes.ConsumerGroupSpec) (bridgekafka.Reader, error) {
		if spec.SourceID == "src2" {
			return nil, fmt.Errorf("pop")
		}
		return reader, nil
	}
	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1"), testSpec("src2")})
	assert.EqualError(t, err, "pop")
	assert.True(t, reader.isClosed())
}

func TestShutdownMidRetryLeavesOffsetUncommitted(t *testing.T) {
	d := &scriptedDispatcher{failures: 100, err: policy.NewRetryableError(fmt.Errorf("timeout"))}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, nil, reader)
	defer cancel()
	m.pol.Delay = 1 * time.Hour // park the worker in its backoff sleep

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return d.callCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	assert.NoError(t, m.Stop())
	assert.Equal(t, 0, reader.commitCount())
}

type holdingDispatcher struct {
	mux     sync.Mutex
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (d *holdingDispatcher) Dispatch(ctx context.Context, msg *kafka.Message) (*dispatch.Outcome, error) {
	close(d.started)
	<-d.release
	d.mux.Lock()
	d.ctxErr = ctx.Err()
	d.mux.Unlock()
	return &dispatch.Outcome{Result: []byte("committed")}, nil
}

func (d *holdingDispatcher) contextErr() error {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.ctxErr
}

func TestStopAllowsInFlightAttemptToFinish(t *testing.T) {
	// a drain must not abort the attempt already inside the dispatcher - its
	// context stays live until the attempt returns, and the offset commits
	d := &holdingDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, nil, reader)
	defer cancel()

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)
	<-d.started

	stopDone := make(chan error, 1)
	go func() { stopDone <- m.Stop() }()
	time.Sleep(10 * time.Millisecond) // the drain has cancelled new fetches by now

	close(d.release)
	assert.NoError(t, <-stopDone)
	assert.NoError(t, d.contextErr())
	assert.Equal(t, 1, reader.commitCount())
}

func TestStopDrainTimeout(t *testing.T) {
	block := make(chan struct{})
	d := &scriptedDispatcher{block: block}
	reader := newStubReader(testRecord(100))
	m, cancel := newTestManager(t, d, nil, reader)
	defer cancel()
	m.drainTimeout = 10 * time.Millisecond

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return d.callCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	err = m.Stop()
	assert.Regexp(t, "KB10120", err)
	close(block)
}

func TestReconcileStartsAndDrains(t *testing.T) {
	readers := make(map[string]*stubReader)
	var mux sync.Mutex
	m, cancel := newTestManager(t, &scriptedDispatcher{}, nil, nil)
	defer cancel()
	factoryCalls := 0
	m.newReader = func(ctx context.Context, spec *fftypes.ConsumerGroupSpec) (bridgekafka.Reader, error) {
		mux.Lock()
		defer mux.Unlock()
		factoryCalls++
		r := newStubReader()
		readers[spec.SourceID] = r
		return r, nil
	}

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)
	assert.Equal(t, 1, factoryCalls)

	// identical desired state is a no-op
	err = m.Reconcile([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)
	assert.Equal(t, 1, factoryCalls)
	assert.False(t, readers["src1"].isClosed())

	// src1 replaced by src2
	err = m.Reconcile([]*fftypes.ConsumerGroupSpec{testSpec("src2")})
	assert.NoError(t, err)
	assert.Equal(t, 2, factoryCalls)
	assert.True(t, readers["src1"].isClosed())
	assert.False(t, readers["src2"].isClosed())

	// changed spec restarts the group
	changed := testSpec("src2")
	changed.Concurrency = 2
	err = m.Reconcile([]*fftypes.ConsumerGroupSpec{changed})
	assert.NoError(t, err)
	assert.Equal(t, 4, factoryCalls)

	assert.NoError(t, m.Stop())
}

func TestFetchErrorBackoffThenRecover(t *testing.T) {
	reader := newStubReader()
	fetchErrs := make(chan error, 1)
	fetchErrs <- fmt.Errorf("broker gone")
	erroringReader := &erroringFetchReader{stubReader: reader, errs: fetchErrs}

	d := &scriptedDispatcher{}
	m, cancel := newTestManager(t, d, nil, nil)
	defer cancel()
	m.newReader = func(ctx context.Context, spec *fftypes.ConsumerGroupSpec) (bridgekafka.Reader, error) {
		return erroringReader, nil
	}

	err := m.Start([]*fftypes.ConsumerGroupSpec{testSpec("src1")})
	assert.NoError(t, err)

	reader.messages <- testRecord(100)
	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, 1*time.Second, 1*time.Millisecond)
	assert.NoError(t, m.Stop())
}

type erroringFetchReader struct {
	*stubReader
	errs chan error
}

func (r *erroringFetchReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case err := <-r.errs:
		return kafka.Message{}, err
	default:
		return r.stubReader.FetchMessage(ctx)
	}
}
