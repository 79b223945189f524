// Package prometheus renders gatekeeper counters and the login latency
// histogram in the Prometheus text exposition format.
//
// Counter names are gatekeeper_*_total. Nothing is registered globally; mount
// [PrometheusExporter.Handler] wherever the scrape endpoint lives.
package prometheus
