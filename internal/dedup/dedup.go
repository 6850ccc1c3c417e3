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

package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/karlseguin/ccache"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
)

// Cache is a bounded, time-expiring set of recently seen identifiers, shared by the
// inbound submission path and the outbound event path to collapse duplicate deliveries.
//
// An identifier that has been claimed must not be processed a second time until it
// expires, is evicted under size pressure, or is explicitly released.
type Cache interface {
	// Claim atomically tests whether id has been seen recently. If not it records it
	// and returns true - the caller may proceed. If it has, it returns false - the
	// caller must treat the delivery as a duplicate.
	Claim(id string) bool
	// Release removes id early, so a later redelivery is processed - used when a
	// claimed identifier failed in a way the origin is expected to retry.
	Release(id string)
}

type recencyCache struct {
	mux   sync.Mutex
	cache *ccache.Cache
	ttl   time.Duration
}

// NewCache creates a recency cache bounded by a maximum entry count, with
// entries expiring when idle for the supplied duration. Least recently accessed
// entries are evicted first when the size bound is exceeded.
func NewCache(ctx context.Context, limit int64, ttl time.Duration) Cache {
	log.L(ctx).Debugf("Created recency cache limit=%d ttl=%s", limit, ttl)
	return &recencyCache{
		cache: ccache.New(ccache.Configure().MaxSize(limit)),
		ttl:   ttl,
	}
}

func (rc *recencyCache) Claim(id string) bool {
	rc.mux.Lock()
	defer rc.mux.Unlock()
	if item := rc.cache.Get(id); item != nil && !item.Expired() {
		// Refresh recency on the duplicate, so a noisy identifier stays claimed
		item.Extend(rc.ttl)
		return false
	}
	rc.cache.Set(id, true, rc.ttl)
	return true
}

func (rc *recencyCache) Release(id string) {
	rc.mux.Lock()
	defer rc.mux.Unlock()
	rc.cache.Delete(id)
}

type passthroughCache struct{}

// NewPassthroughCache returns the implementation substituted when deduplication is
// disabled by configuration - every claim succeeds, and release is a no-op
func NewPassthroughCache() Cache {
	return &passthroughCache{}
}

func (pc *passthroughCache) Claim(id string) bool {
	return true
}

func (pc *passthroughCache) Release(id string) {
}
