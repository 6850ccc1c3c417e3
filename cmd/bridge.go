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
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kaleido-io/fabric-kafka-bridge/internal/bridge"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/config"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/i18n"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/log"
	"github.com/kaleido-io/fabric-kafka-bridge/internal/metrics"
)

var sigs = make(chan os.Signal, 1)

var cfgFile string

var _utBridge bridge.Bridge

var rootCmd = &cobra.Command{
	Use:   "fabric-kafka-bridge",
	Short: "Bidirectional bridge between Kafka and Hyperledger Fabric",
	Long: "Consumes transaction requests from Kafka topics and submits them to " +
		"Hyperledger Fabric with retry and dead-lettering, and relays Fabric " +
		"block/chaincode events back onto Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var showConfigCommand = &cobra.Command{
	Use:     "showconfig",
	Aliases: []string{"showconf"},
	Short:   "List out the configuration options",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Try to read the config, but swallow any errors - let this command work with a broken config
		_ = config.ReadConfig(cfgFile)
		fmt.Printf("%-64s %v\n", "Key", "Value")
		fmt.Print("-----------------------------------------------------------------------------------\n")
		for _, k := range config.GetKnownKeys() {
			fmt.Printf("%-64s %v\n", k, config.Get(config.RootKey(k)))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "config file")
	rootCmd.AddCommand(showConfigCommand)
}

func getBridge() bridge.Bridge {
	if _utBridge != nil {
		return _utBridge
	}
	return bridge.NewBridge()
}

// Execute is called by the main method of the package
func Execute() error {
	return rootCmd.Execute()
}

func run() error {

	// Read the configuration first of all
	err := config.ReadConfig(cfgFile)

	// Setup logging after reading config (even if failed), to output header correctly
	rootCtx, cancelRootCtx := context.WithCancel(context.Background())
	rootCtx = log.WithLogger(rootCtx, logrus.WithField("pid", os.Getpid()))
	config.SetupLogging(rootCtx)
	log.L(rootCtx).Infof("Fabric Kafka Bridge")
	log.L(rootCtx).Infof("© Copyright 2022 Kaleido, Inc.")

	// Deferred error return from reading config
	if err != nil {
		cancelRootCtx()
		return i18n.WrapError(rootCtx, err, i18n.MsgConfigFailed, cfgFile)
	}

	// SIGHUP re-reads the config and reconciles the running consumer groups
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	log.L(rootCtx).Infof("Starting up")
	runCtx, cancelRunCtx := context.WithCancel(rootCtx)
	b := getBridge()
	errChan := make(chan error, 1)
	go startBridge(runCtx, cancelRootCtx, b, errChan)

	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				log.L(rootCtx).Infof("Reloading configuration due to %s", sig.String())
				if err := config.ReadConfig(cfgFile); err != nil {
					log.L(rootCtx).Errorf("Configuration reload failed: %s", err)
					continue
				}
				if err := b.Reconcile(runCtx); err != nil {
					log.L(rootCtx).Errorf("Consumer group reconcile failed: %s", err)
				}
				continue
			}
			log.L(rootCtx).Infof("Shutting down due to %s", sig.String())
			cancelRunCtx()
			b.WaitStop()
			return nil
		case <-rootCtx.Done():
			log.L(rootCtx).Infof("Shutting down due to cancelled context")
			cancelRunCtx()
			b.WaitStop()
			return nil
		case err := <-errChan:
			cancelRunCtx()
			return err
		}
	}
}

func startBridge(ctx context.Context, cancelCtx context.CancelFunc, b bridge.Bridge, errChan chan error) {

	// Start debug listener
	var debugServer *http.Server
	debugPort := config.GetInt(config.DebugPort)
	if debugPort >= 0 {
		debugServer = &http.Server{Addr: fmt.Sprintf("localhost:%d", debugPort), Handler: http.DefaultServeMux, ReadHeaderTimeout: 30 * time.Second}
		go func() {
			_ = debugServer.ListenAndServe()
		}()
		log.L(ctx).Debugf("Debug HTTP endpoint listening on localhost:%d", debugPort)
	}

	// Start metrics listener
	var metricsServer *http.Server
	if config.GetBool(config.MetricsEnabled) {
		mux := http.NewServeMux()
		mux.Handle(config.GetString(config.MetricsPath), promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", config.GetString(config.MetricsAddress), config.GetUint(config.MetricsPort)),
			Handler:           mux,
			ReadHeaderTimeout: 30 * time.Second,
		}
		go func() {
			_ = metricsServer.ListenAndServe()
		}()
		log.L(ctx).Infof("Metrics HTTP endpoint listening on %s", metricsServer.Addr)
	}

	defer func() {
		if debugServer != nil {
			_ = debugServer.Close()
		}
		if metricsServer != nil {
			_ = metricsServer.Close()
		}
	}()

	if err := b.Init(ctx, cancelCtx); err != nil {
		errChan <- err
		return
	}
	if err := b.Start(); err != nil {
		errChan <- err
		return
	}

	<-ctx.Done()
}
