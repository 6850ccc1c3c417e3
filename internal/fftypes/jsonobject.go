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
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
)

// JSONObject is a holder of an arbitrary JSON document, with convenience accessors
type JSONObject map[string]interface{}

func (jd JSONObject) GetString(key string) string {
	s, _ := jd.GetStringOk(key)
	return s
}

func (jd JSONObject) GetStringOk(key string) (string, bool) {
	vInterface := jd[key]
	switch vt := vInterface.(type) {
	case string:
		return vt, true
	case bool:
		return strconv.FormatBool(vt), true
	case float64:
		return strconv.FormatFloat(vt, 'f', -1, 64), true
	case nil:
		return "", false // no need to log for nil
	default:
		log.L(context.Background()).Errorf("Invalid string value '%+v' for key '%s'", vInterface, key)
		return "", false
	}
}

func (jd JSONObject) GetBool(key string) bool {
	vInterface := jd[key]
	switch vt := vInterface.(type) {
	case string:
		return strings.EqualFold(vt, "true")
	case bool:
		return vt
	default:
		return false
	}
}

func (jd JSONObject) GetInt64(key string) int64 {
	vInterface := jd[key]
	switch vt := vInterface.(type) {
	case float64:
		return int64(vt)
	case int64:
		return vt
	case int:
		return int64(vt)
	case string:
		i, err := strconv.ParseInt(vt, 10, 64)
		if err != nil {
			log.L(context.Background()).Errorf("Invalid int64 value '%+v' for key '%s'", vInterface, key)
			return 0
		}
		return i
	default:
		return 0
	}
}

func (jd JSONObject) GetObject(key string) JSONObject {
	vInterface, ok := jd[key]
	if ok && vInterface != nil {
		switch vMap := vInterface.(type) {
		case map[string]interface{}:
			return JSONObject(vMap)
		case JSONObject:
			return vMap
		default:
			log.L(context.Background()).Errorf("Invalid object value '%+v' for key '%s'", vInterface, key)
		}
	}
	return JSONObject{} // Ensures a non-nil return
}

func (jd JSONObject) String() string {
	b, _ := json.Marshal(&jd)
	return string(b)
}
