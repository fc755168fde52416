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
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func (t *Tally) setupTracing() error {
	ctx := context.TODO()
	shutdownFuncs, err := t.setupOTelSDK(ctx)
	t.shutdownFuncs = append(t.shutdownFuncs, shutdownFuncs...)
	return err
}

// setupOTelSDK bootstraps the OpenTelemetry pipeline. The returned shutdown
// functions must be called for proper cleanup.
func (t *Tally) setupOTelSDK(
	ctx context.Context,
) (shutdownFuncs []func(context.Context) error, err error) {
	// handleErr calls shutdown for cleanup and makes sure that all errors
	// are returned
	handleErr := func(inErr error) {
		var shutdownErrs error
		for _, fn := range shutdownFuncs {
			shutdownErrs = errors.Join(shutdownErrs, fn(ctx))
		}
		err = errors.Join(inErr, shutdownErrs)
	}

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	tracerProvider, err := t.newTraceProvider(ctx)
	if err != nil {
		handleErr(err)
		return shutdownFuncs, err
	}
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	return shutdownFuncs, err
}

func (t *Tally) newTraceProvider(
	ctx context.Context,
) (*sdktrace.TracerProvider, error) {
	var traceExporter sdktrace.SpanExporter
	var err error
	if t.config.tracingStdout {
		traceExporter, err = stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
	} else {
		// Exporter endpoint comes from the standard OTEL_EXPORTER_OTLP_*
		// environment variables
		traceExporter, err = otlptracehttp.New(ctx)
	}
	if err != nil {
		return nil, err
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
	)
	return traceProvider, nil
}
