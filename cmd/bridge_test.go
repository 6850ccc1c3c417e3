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

package cmd

import (
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/kaleido-io/fabric-kafka-bridge/mocks/bridgemocks"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const configDir = "../test/data/config"

func TestGetBridge(t *testing.T) {
	assert.NotNil(t, getBridge())
}

func TestExecMissingConfig(t *testing.T) {
	_utBridge = &bridgemocks.Bridge{}
	defer func() { _utBridge = nil }()
	viper.Reset()
	err := Execute()
	assert.Regexp(t, "Not Found", err)
}

func TestShowConfig(t *testing.T) {
	_utBridge = &bridgemocks.Bridge{}
	defer func() { _utBridge = nil }()
	viper.Reset()
	rootCmd.SetArgs([]string{"showconfig"})
	defer rootCmd.SetArgs([]string{})
	err := rootCmd.Execute()
	assert.NoError(t, err)
}

func TestExecBridgeInitFail(t *testing.T) {
	b := &bridgemocks.Bridge{}
	b.On("Init", mock.Anything, mock.Anything).Return(fmt.Errorf("splutter"))
	_utBridge = b
	defer func() { _utBridge = nil }()
	os.Chdir(configDir)
	err := Execute()
	assert.Regexp(t, "splutter", err)
}

func TestExecBridgeStartFail(t *testing.T) {
	b := &bridgemocks.Bridge{}
	b.On("Init", mock.Anything, mock.Anything).Return(nil)
	b.On("Start").Return(fmt.Errorf("bang"))
	_utBridge = b
	defer func() { _utBridge = nil }()
	os.Chdir(configDir)
	err := Execute()
	assert.Regexp(t, "bang", err)
}

func TestExecOkExitSIGINT(t *testing.T) {
	b := &bridgemocks.Bridge{}
	b.On("Init", mock.Anything, mock.Anything).Return(nil)
	b.On("Start").Return(nil)
	b.On("WaitStop").Return()
	_utBridge = b
	defer func() { _utBridge = nil }()

	os.Chdir(configDir)
	go func() {
		sigs <- syscall.SIGINT
	}()
	err := Execute()
	assert.NoError(t, err)
}

func TestExecReloadSIGHUP(t *testing.T) {
	b := &bridgemocks.Bridge{}
	b.On("Init", mock.Anything, mock.Anything).Return(nil)
	b.On("Start").Return(nil)
	b.On("Reconcile", mock.Anything).Return(fmt.Errorf("not this time")).Once()
	b.On("WaitStop").Return()
	_utBridge = b
	defer func() { _utBridge = nil }()

	os.Chdir(configDir)
	go func() {
		sigs <- syscall.SIGHUP
		sigs <- syscall.SIGINT
	}()
	err := Execute()
	assert.NoError(t, err)
	b.AssertCalled(t, "Reconcile", mock.Anything)
}
