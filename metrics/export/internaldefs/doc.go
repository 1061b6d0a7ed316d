// Package internaldefs carries the shared metric name tables used by the
// exporter packages. It exists so the Prometheus and OpenTelemetry exporters
// render the same names from the same engine snapshot without duplicating
// the mapping.
package internaldefs
