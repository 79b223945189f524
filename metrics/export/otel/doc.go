// Package otel publishes gatekeeper metrics through an OpenTelemetry meter.
//
// [NewOTelExporter] registers one observable counter per engine counter and one
// observable gauge per latency bucket. A single callback reads the engine
// snapshot on each collection. The caller owns the MeterProvider.
package otel
