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

// Package consumer owns the consumer group lifecycle: partition workers,
// the per-record retry loop, dead-lettering, offset commits, and live
// reconciliation of the configured source set.
package consumer

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/dispatch"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/fftypes"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	bridgekafka "github.com/kaleido-io/fabric-kafka-bridge/internal/kafka"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/metrics"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/policy"
)

// Dead-letter record headers, set alongside the record's original headers
const (
	HeaderDLTOriginalTopic     = "dlt_original_topic"
	HeaderDLTOriginalPartition = "dlt_original_partition"
	HeaderDLTOriginalOffset    = "dlt_original_offset"
	HeaderDLTFailureReason     = "dlt_failure_reason"
)

const defaultFetchRetryDelay = 1 * time.Second

// Dispatcher processes one record into one ledger call
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *kafka.Message) (*dispatch.Outcome, error)
}

type group struct {
	spec       *fftypes.ConsumerGroupSpec
	cancel     context.CancelFunc
	workCancel context.CancelFunc
	readers    []bridgekafka.Reader
	done       chan struct{}
}

// Manager starts one consumer group per configured source, with the configured
// number of partition workers each, and drives every delivered record through
// the dispatch/retry/dead-letter state machine
type Manager struct {
	ctx             context.Context
	dispatcher      Dispatcher
	deadLetters     bridgekafka.Producer
	pol             *policy.Policy
	mm              metrics.Manager
	drainTimeout    time.Duration
	fetchRetryDelay time.Duration
	newReader       func(ctx context.Context, spec *fftypes.ConsumerGroupSpec) (bridgekafka.Reader, error)

	mux    sync.Mutex
	groups map[string]*group
}

// NewManager builds a stopped manager. deadLetters may be nil, in which case
// undeliverable records are logged and dropped.
func NewManager(ctx context.Context, dispatcher Dispatcher, deadLetters bridgekafka.Producer, pol *policy.Policy, mm metrics.Manager, drainTimeout time.Duration) *Manager {
	return &Manager{
		ctx:             ctx,
		dispatcher:      dispatcher,
		deadLetters:     deadLetters,
		pol:             pol,
		mm:              mm,
		drainTimeout:    drainTimeout,
		fetchRetryDelay: defaultFetchRetryDelay,
		newReader:       bridgekafka.NewReader,
		groups:          make(map[string]*group),
	}
}

// ValidateSpecs checks the desired source set is well formed before any
// group is started or restarted
func ValidateSpecs(ctx context.Context, specs []*fftypes.ConsumerGroupSpec) error {
	if len(specs) == 0 {
		return i18n.NewError(ctx, i18n.MsgNoConsumerGroups)
	}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		switch {
		case spec.SourceID == "":
			return i18n.NewError(ctx, i18n.MsgInvalidConsumerSpec, spec.Topic, "missing sourceId")
		case len(spec.Brokers) == 0:
			return i18n.NewError(ctx, i18n.MsgInvalidConsumerSpec, spec.SourceID, "missing brokers")
		case spec.GroupID == "":
			return i18n.NewError(ctx, i18n.MsgInvalidConsumerSpec, spec.SourceID, "missing groupId")
		case spec.Topic == "":
			return i18n.NewError(ctx, i18n.MsgInvalidConsumerSpec, spec.SourceID, "missing topic")
		}
		if seen[spec.SourceID] {
			return i18n.NewError(ctx, i18n.MsgDuplicateConsumerSource, spec.SourceID)
		}
		seen[spec.SourceID] = true
	}
	return nil
}

// Start brings up a consumer group for every spec. A failure to construct any
// group tears down the ones already started and fails startup.
func (m *Manager) Start(specs []*fftypes.ConsumerGroupSpec) error {
	if err := ValidateSpecs(m.ctx, specs); err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	for _, spec := range specs {
		if err := m.startGroup(spec); err != nil {
			for _, g := range m.groups {
				m.drainGroup(g)
			}
			return err
		}
	}
	return nil
}

func (m *Manager) startGroup(spec *fftypes.ConsumerGroupSpec) error {
	concurrency := spec.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	// Two contexts per group: the fetch context stops new record pulls the
	// moment a drain begins, while the work context keeps any in-flight
	// dispatch attempt alive until the drain timeout expires
	gctx, cancel := context.WithCancel(log.WithLogField(m.ctx, "consumer", spec.SourceID))
	wkctx, workCancel := context.WithCancel(log.WithLogField(context.Background(), "consumer", spec.SourceID))

	readers := make([]bridgekafka.Reader, concurrency)
	for i := range readers {
		reader, err := m.newReader(gctx, spec)
		if err != nil {
			for _, r := range readers[:i] {
				_ = r.Close()
			}
			cancel()
			workCancel()
			return err
		}
		readers[i] = reader
	}

	g := &group{
		spec:       spec,
		cancel:     cancel,
		workCancel: workCancel,
		readers:    readers,
		done:       make(chan struct{}),
	}
	var wg sync.WaitGroup
	for i, reader := range readers {
		wg.Add(1)
		worker := fmt.Sprintf("%d", i)
		go m.runWorker(log.WithLogField(gctx, "worker", worker), log.WithLogField(wkctx, "worker", worker), &wg, spec, reader)
	}
	go func() {
		wg.Wait()
		close(g.done)
	}()
	m.groups[spec.SourceID] = g
	log.L(gctx).Infof("Started consumer group '%s' on topic '%s' with %d workers", spec.GroupID, spec.Topic, concurrency)
	return nil
}

func (m *Manager) runWorker(ctx, workCtx context.Context, wg *sync.WaitGroup, spec *fftypes.ConsumerGroupSpec, reader bridgekafka.Reader) {
	defer wg.Done()
	l := log.L(ctx)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.Debugf("Worker exiting: %s", i18n.NewError(ctx, i18n.MsgConsumerGroupStopped, spec.GroupID))
				return
			}
			l.Errorf("Fetch from topic '%s' failed: %s", spec.Topic, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.fetchRetryDelay):
			}
			continue
		}
		m.processRecord(ctx, workCtx, spec, reader, &msg)
	}
}

// processRecord runs one record's full lifecycle on the calling worker. Each
// dispatch attempt runs on the group's work context, so a drain never aborts
// an in-flight ledger call - it interrupts the backoff sleep instead, leaving
// the record's offset uncommitted for redelivery to the next owner.
func (m *Manager) processRecord(ctx, workCtx context.Context, spec *fftypes.ConsumerGroupSpec, reader bridgekafka.Reader, msg *kafka.Message) {
	l := log.L(ctx)
	m.mm.RecordConsumed(spec.SourceID)

	for attempt := 1; ; attempt++ {
		outcome, err := m.dispatcher.Dispatch(workCtx, msg)
		if err == nil {
			if outcome.Duplicate {
				m.mm.DuplicateSuppressed()
			} else {
				m.mm.SubmissionSucceeded()
			}
			m.commit(workCtx, reader, msg)
			return
		}

		decision := m.pol.Decide(attempt, m.pol.Classify(err))
		switch decision.Decision {
		case policy.Retry:
			l.Warnf("Attempt %d/%d for %s:%d:%d failed, retrying in %s: %s",
				attempt, m.pol.MaxAttempts, msg.Topic, msg.Partition, msg.Offset, decision.Delay, err)
			m.mm.SubmissionRetried()
			select {
			case <-ctx.Done():
				// shutdown mid-retry: leave the offset uncommitted
				return
			case <-time.After(decision.Delay):
			}
		default:
			l.Errorf("Giving up on %s:%d:%d after attempt %d (%s): %s",
				msg.Topic, msg.Partition, msg.Offset, attempt, decision.Decision, err)
			m.deadLetter(workCtx, msg, err)
			m.commit(workCtx, reader, msg)
			return
		}
	}
}

func (m *Manager) commit(ctx context.Context, reader bridgekafka.Reader, msg *kafka.Message) {
	if err := reader.CommitMessages(ctx, *msg); err != nil {
		// the record will be redelivered, and the recency cache absorbs it
		log.L(ctx).Errorf("Commit of %s:%d:%d failed: %s", msg.Topic, msg.Partition, msg.Offset, err)
	}
}

func deadLetterMessage(msg *kafka.Message, failure error) kafka.Message {
	record := &fftypes.DeadLetterRecord{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalKey:       msg.Key,
		OriginalValue:     msg.Value,
		FailureReason:     failure.Error(),
	}
	for _, h := range msg.Headers {
		record.OriginalHeaders = append(record.OriginalHeaders, fftypes.RecordHeader{Key: h.Key, Value: h.Value})
	}

	headers := make([]kafka.Header, 0, len(record.OriginalHeaders)+4)
	for _, h := range record.OriginalHeaders {
		headers = append(headers, kafka.Header{Key: h.Key, Value: h.Value})
	}
	headers = append(headers,
		kafka.Header{Key: HeaderDLTOriginalTopic, Value: []byte(record.OriginalTopic)},
		kafka.Header{Key: HeaderDLTOriginalPartition, Value: []byte(fmt.Sprintf("%d", record.OriginalPartition))},
		kafka.Header{Key: HeaderDLTOriginalOffset, Value: []byte(fmt.Sprintf("%d", msg.Offset))},
		kafka.Header{Key: HeaderDLTFailureReason, Value: []byte(record.FailureReason)},
	)
	return kafka.Message{
		Key:     record.OriginalKey,
		Value:   record.OriginalValue,
		Headers: headers,
	}
}

func (m *Manager) deadLetter(ctx context.Context, msg *kafka.Message, failure error) {
	if m.deadLetters == nil {
		log.L(ctx).Warnf("No dead-letter sink configured, dropping %s:%d:%d: %s", msg.Topic, msg.Partition, msg.Offset, failure)
		return
	}
	if err := m.deadLetters.Send(ctx, deadLetterMessage(msg, failure)); err != nil {
		// the pipeline always advances - a broken sink never blocks consumption
		log.L(ctx).Errorf("Dead-letter publish for %s:%d:%d failed: %s", msg.Topic, msg.Partition, msg.Offset, err)
		return
	}
	m.mm.DeadLettered()
}

// Reconcile diffs the desired source set against the running groups: removed
// or changed groups are drained, new or changed groups are started
func (m *Manager) Reconcile(specs []*fftypes.ConsumerGroupSpec) error {
	if err := ValidateSpecs(m.ctx, specs); err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()

	desired := make(map[string]*fftypes.ConsumerGroupSpec, len(specs))
	for _, spec := range specs {
		desired[spec.SourceID] = spec
	}

	var firstErr error
	for sourceID, g := range m.groups {
		spec, keep := desired[sourceID]
		if keep && reflect.DeepEqual(spec, g.spec) {
			delete(desired, sourceID)
			continue
		}
		log.L(m.ctx).Infof("Draining consumer group for source '%s'", sourceID)
		if err := m.drainGroup(g); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.groups, sourceID)
	}
	for _, spec := range desired {
		if err := m.startGroup(spec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) drainGroup(g *group) error {
	g.cancel()
	var timeoutErr error
	select {
	case <-g.done:
	case <-time.After(m.drainTimeout):
		timeoutErr = i18n.NewError(m.ctx, i18n.MsgShutdownTimedOut)
	}
	g.workCancel()
	for _, reader := range g.readers {
		if err := reader.Close(); err != nil {
			log.L(m.ctx).Warnf("Error closing reader for source '%s': %s", g.spec.SourceID, err)
		}
	}
	return timeoutErr
}

// Stop drains every group: workers stop fetching, in-flight attempts finish,
// then group membership is closed so committed offsets are preserved
func (m *Manager) Stop() error {
	m.mux.Lock()
	defer m.mux.Unlock()
	var firstErr error
	for sourceID, g := range m.groups {
		if err := m.drainGroup(g); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.groups, sourceID)
	}
	return firstErr
}
