// Package telemetry wraps OpenTelemetry SDK initialization, giving the
// hub a centralized TracerProvider and MeterProvider configuration.
// When telemetry is disabled, noop implementations are used and no
// external OTLP collector is contacted.
package telemetry
