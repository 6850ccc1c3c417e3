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

package fftypes

import (
	"github.com/aidarkhanov/nanoid"
	"github.com/google/uuid"
)

// ShortID returns a random string of a fixed length, used mainly in logging to correlate
// requests with replies
func ShortID() string {
	id, _ := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 8)
	return id
}

// NewUUID returns a new randomly generated v4 UUID string
func NewUUID() string {
	return uuid.New().String()
}
