// Copyright 2026 Blink Labs Software
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

package tally

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/tally/event"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	eventBus          *event.EventBus
	dataDir           string
	metadataPlugin    string
	journalPlugin     string
	maxMachineAge     time.Duration
	reconcileInterval time.Duration
	shutdownTimeout   time.Duration
	tracing           bool
	tracingStdout     bool
}

func (t *Tally) configValidate() error {
	if t.config.maxMachineAge < 0 {
		return fmt.Errorf(
			"negative max machine age: %s",
			t.config.maxMachineAge,
		)
	}
	if t.config.reconcileInterval < 0 {
		return fmt.Errorf(
			"negative reconcile interval: %s",
			t.config.reconcileInterval,
		)
	}
	if t.config.shutdownTimeout < 0 {
		return fmt.Errorf(
			"negative shutdown timeout: %s",
			t.config.shutdownTimeout,
		)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the engine config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new tally config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithJournalPlugin specifies the event journal storage plugin to use.
func WithJournalPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.journalPlugin = plugin
	}
}

// WithEventBus specifies an existing event bus to publish voting events on.
// The default is to create one owned by the engine
func WithEventBus(eventBus *event.EventBus) ConfigOptionFunc {
	return func(c *Config) {
		c.eventBus = eventBus
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithMaxMachineAge specifies how recently a machine must have been seen for
// its configurations to count towards a voter. The default is no age limit
func WithMaxMachineAge(maxMachineAge time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.maxMachineAge = maxMachineAge
	}
}

// WithReconcileInterval specifies the interval for the periodic voting rule
// reconciliation sweep. Zero disables the sweep, which is the default
func WithReconcileInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.reconcileInterval = interval
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
