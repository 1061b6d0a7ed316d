// Package otel bridges engine metrics into OpenTelemetry. The exporter
// registers observable instruments on a caller-supplied meter and pulls a
// fresh snapshot from the engine on each collection cycle, so nothing in
// the engine's hot path touches the OTel SDK.
package otel
