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

package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/fftypes"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// The following keys can be accessed from the root configuration.
// Plugins are responsible for defining their own keys using the Prefix interface
var (
	Lang                 RootKey = ark("lang")
	LogLevel             RootKey = ark("log.level")
	LogColor             RootKey = ark("log.color")
	LogUTC               RootKey = ark("log.utc")
	DebugPort            RootKey = ark("debug.port")
	MetricsEnabled       RootKey = ark("metrics.enabled")
	MetricsAddress       RootKey = ark("metrics.address")
	MetricsPort          RootKey = ark("metrics.port")
	MetricsPath          RootKey = ark("metrics.path")
	DedupEnabled         RootKey = ark("dedup.enabled")
	DedupLimit           RootKey = ark("dedup.limit")
	DedupTTL             RootKey = ark("dedup.ttl")
	RetryMaxAttempts     RootKey = ark("retry.maxAttempts")
	RetryDelay           RootKey = ark("retry.delay")
	KafkaConsumers       RootKey = ark("kafka.consumers")
	KafkaBrokers         RootKey = ark("kafka.brokers")
	KafkaTLS             RootKey = ark("kafka.tls")
	KafkaSASL            RootKey = ark("kafka.sasl")
	EventPublishTopic    RootKey = ark("events.topic")
	EventSubscriptions   RootKey = ark("events.subscriptions")
	DeadLetterTopic      RootKey = ark("deadletter.topic")
	ShutdownDrainTimeout RootKey = ark("shutdown.drainTimeout")
)

// Prefix represents the global configuration, at a nested point in
// the config hierarchy. This allows plugins to define their own keys.
//
// Note that all values are GLOBAL so this cannot be used for per-instance
// customization. Rather for global initialization of plugins.
type Prefix interface {
	AddKnownKey(key string, defValue ...interface{})
	SubPrefix(suffix string) Prefix
	Set(key string, value interface{})

	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
	GetUint(key string) uint
	GetStringSlice(key string) []string
	GetObject(key string) fftypes.JSONObject
	GetDuration(key string) time.Duration
	GetByteSize(key string) int64
	UnmarshalKey(ctx context.Context, key string, rawVal interface{}) error
	Get(key string) interface{}
}

// RootKey is a known configuration key
type RootKey string

func Reset() {
	viper.Reset()

	// Set defaults
	viper.SetDefault(string(Lang), "en")
	viper.SetDefault(string(LogLevel), "info")
	viper.SetDefault(string(LogColor), true)
	viper.SetDefault(string(LogUTC), false)
	viper.SetDefault(string(DebugPort), -1)
	viper.SetDefault(string(MetricsEnabled), false)
	viper.SetDefault(string(MetricsAddress), "127.0.0.1")
	viper.SetDefault(string(MetricsPort), 6000)
	viper.SetDefault(string(MetricsPath), "/metrics")
	viper.SetDefault(string(DedupEnabled), true)
	viper.SetDefault(string(DedupLimit), 4096)
	viper.SetDefault(string(DedupTTL), "1h")
	viper.SetDefault(string(RetryMaxAttempts), 5)
	viper.SetDefault(string(RetryDelay), "1s")
	viper.SetDefault(string(ShutdownDrainTimeout), "30s")

	i18n.SetLang(GetString(Lang))
}

// SetupLogging initializes the logging framework from the loaded configuration
func SetupLogging(ctx context.Context) {
	log.SetFormatting(log.Formatting{
		DisableColor: !GetBool(LogColor),
		UTC:          GetBool(LogUTC),
	})
	log.SetLevel(GetString(LogLevel))
	log.L(ctx).Debugf("Log level: %s", logrus.GetLevel())
}

// GetKnownKeys gets the known configuration keys, including those registered
// by plugin prefixes, in sorted order
func GetKnownKeys() []string {
	keys := make([]string, 0, len(root.keys))
	for k := range root.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReadConfig initializes the config
func ReadConfig(cfgFile string) error {
	Reset()

	// Set precedence order for reading config location
	viper.SetEnvPrefix("fabricbridge")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.SetConfigType("yaml")
	if cfgFile != "" {
		f, err := os.Open(cfgFile)
		if err == nil {
			defer f.Close()
			err = viper.ReadConfig(f)
		}
		return err
	}
	viper.SetConfigName("fabricbridge.core")
	viper.AddConfigPath("/etc/fabricbridge/")
	viper.AddConfigPath("$HOME/.fabricbridge")
	viper.AddConfigPath(".")
	return viper.ReadInConfig()
}

var root = &configPrefix{
	keys: map[string]bool{}, // All keys go here, including those defined in sub prefixes
}

// ark adds a root key, used to define the keys that are used within the core
func ark(k string) RootKey {
	root.AddKnownKey(k)
	return RootKey(k)
}

// configPrefix is the main config structure passed to plugins, and used for root to wrap viper
type configPrefix struct {
	prefix string
	keys   map[string]bool
}

// NewPluginConfig creates a new plugin configuration object, at the specified prefix
func NewPluginConfig(prefix string) Prefix {
	if !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	return &configPrefix{
		prefix: prefix,
		keys:   root.keys,
	}
}

func (c *configPrefix) prefixKey(k string) string {
	key := c.prefix + k
	if !c.keys[key] {
		panic(fmt.Sprintf("Undefined configuration key '%s'", key))
	}
	return key
}

func (c *configPrefix) SubPrefix(suffix string) Prefix {
	return &configPrefix{
		prefix: c.prefix + suffix + ".",
		keys:   root.keys,
	}
}

func (c *configPrefix) AddKnownKey(k string, defValue ...interface{}) {
	key := c.prefix + k
	if len(defValue) == 1 {
		viper.SetDefault(key, defValue[0])
	} else if len(defValue) > 0 {
		viper.SetDefault(key, defValue)
	}
	c.keys[key] = true
}

// GetString gets a configuration string
func GetString(key RootKey) string {
	return root.GetString(string(key))
}
func (c *configPrefix) GetString(key string) string {
	return viper.GetString(c.prefixKey(key))
}

// GetStringSlice gets a configuration string array
func GetStringSlice(key RootKey) []string {
	return root.GetStringSlice(string(key))
}
func (c *configPrefix) GetStringSlice(key string) []string {
	return viper.GetStringSlice(c.prefixKey(key))
}

// GetBool gets a configuration bool
func GetBool(key RootKey) bool {
	return root.GetBool(string(key))
}
func (c *configPrefix) GetBool(key string) bool {
	return viper.GetBool(c.prefixKey(key))
}

// GetUint gets a configuration uint
func GetUint(key RootKey) uint {
	return root.GetUint(string(key))
}
func (c *configPrefix) GetUint(key string) uint {
	return viper.GetUint(c.prefixKey(key))
}

// GetInt gets a configuration int
func GetInt(key RootKey) int {
	return root.GetInt(string(key))
}
func (c *configPrefix) GetInt(key string) int {
	return viper.GetInt(c.prefixKey(key))
}

// GetDuration gets a configuration time duration, where bare numbers are millis
func GetDuration(key RootKey) time.Duration {
	return root.GetDuration(string(key))
}
func (c *configPrefix) GetDuration(key string) time.Duration {
	return fftypes.ParseToDuration(viper.GetString(c.prefixKey(key)))
}

// GetByteSize gets a configuration byte size, handling suffixes like "1Kb" etc.
func GetByteSize(key RootKey) int64 {
	return root.GetByteSize(string(key))
}
func (c *configPrefix) GetByteSize(key string) int64 {
	return fftypes.ParseToByteSize(viper.GetString(c.prefixKey(key)))
}

// GetObject gets a configuration map
func GetObject(key RootKey) fftypes.JSONObject {
	return root.GetObject(string(key))
}
func (c *configPrefix) GetObject(key string) fftypes.JSONObject {
	return fftypes.JSONObject(viper.GetStringMap(c.prefixKey(key)))
}

// Get gets a configuration in raw form
func Get(key RootKey) interface{} {
	return root.Get(string(key))
}
func (c *configPrefix) Get(key string) interface{} {
	return viper.Get(c.prefixKey(key))
}

// Set allows runtime setting of config (used in unit tests)
func Set(key RootKey, value interface{}) {
	root.Set(string(key), value)
}
func (c *configPrefix) Set(key string, value interface{}) {
	viper.Set(c.prefixKey(key), value)
}

// UnmarshalKey gets a configuration section into a struct
func UnmarshalKey(ctx context.Context, key RootKey, rawVal interface{}) error {
	return root.UnmarshalKey(ctx, string(key), rawVal)
}
func (c *configPrefix) UnmarshalKey(ctx context.Context, key string, rawVal interface{}) error {
	if err := viper.UnmarshalKey(c.prefixKey(key), rawVal); err != nil {
		return i18n.WrapError(ctx, err, i18n.MsgConfigFailed, key)
	}
	return nil
}

// UintWithDefault resolves an optional uint field against a default
func UintWithDefault(val *uint, def uint) uint {
	if val == nil {
		return def
	}
	return *val
}
