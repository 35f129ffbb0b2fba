// Copyright 2025 Wyrd Labs
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

package wyrd

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func (n *Node) setupTracing() error {
	ctx := context.Background()
	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("wyrd"),
		),
	)
	if err != nil {
		return err
	}
	providerOpts := []trace.TracerProviderOption{
		trace.WithResource(res),
	}
	if n.config.tracingStdout {
		stdoutExporter, err := stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return err
		}
		providerOpts = append(
			providerOpts,
			trace.WithBatcher(
				stdoutExporter,
				trace.WithBatchTimeout(time.Second),
			),
		)
	}
	// The OTLP exporter is configured via the standard
	// OTEL_EXPORTER_OTLP_* environment variables
	httpExporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return err
	}
	providerOpts = append(
		providerOpts,
		trace.WithBatcher(httpExporter),
	)
	tracerProvider := trace.NewTracerProvider(providerOpts...)
	n.shutdownFuncs = append(n.shutdownFuncs, func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.ForceFlush(ctx),
			tracerProvider.Shutdown(ctx),
		)
	})
	otel.SetTracerProvider(tracerProvider)
	return nil
}
