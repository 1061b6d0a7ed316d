// Package prometheus exposes engine metrics in the Prometheus text
// exposition format without importing the Prometheus client library. Mount
// [PrometheusExporter.Handler] on a scrape endpoint, or call Render for the
// raw text.
package prometheus
