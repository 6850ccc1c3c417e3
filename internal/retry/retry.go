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

package retry

import (
	"context"
	"time"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
)

const (
	DefaultFactor = 2.0
)

// Retry is a concurrency safe structure that configures a simple backoff retry mechanism,
// used for infrastructure reconnect loops (websocket, broker). The per-record delivery
// retry policy is a separate, pure decision component.
type Retry struct {
	InitialDelay time.Duration
	MaximumDelay time.Duration
	Factor       float32
}

// Do invokes the function until the function returns false, or the context closes.
// This simple interface doesn't pass through errors or return values, on the basis
// you'll be using a closure for that.
func (r *Retry) Do(ctx context.Context, f func(attempt int) (retry bool, err error)) error {
	attempt := 0
	delay := r.InitialDelay
	factor := r.Factor
	if factor < 1 { // Can't reduce
		factor = DefaultFactor
	}
	for {
		attempt++
		retry, err := f(attempt)
		if !retry {
			return err
		}

		if delay > r.MaximumDelay {
			delay = r.MaximumDelay
		}
		log.L(ctx).Debugf("Retrying after %.2fms (attempt=%d)", float64(delay)/float64(time.Millisecond), attempt)

		// Sleep interruptibly, so a cancelled context stops the loop promptly
		select {
		case <-ctx.Done():
			return i18n.NewError(ctx, i18n.MsgContextCanceled)
		case <-time.After(delay):
		}
		delay = time.Duration(float32(delay) * factor)
	}
}
