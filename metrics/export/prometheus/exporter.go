package prometheus

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrEthical07/gatekeeper"
	"github.com/MrEthical07/gatekeeper/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

type metricsSource interface {
	MetricsSnapshot() gatekeeper.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine metrics in the Prometheus text format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter reads from engine on every scrape.
func NewPrometheusExporter(engine *gatekeeper.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render. An empty body means metrics are disabled.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(p.render())
	})
}

// Render returns "" when metrics are disabled and nothing was dropped.
func (p *PrometheusExporter) Render() string {
	return string(p.render())
}

func (p *PrometheusExporter) render() []byte {
	if p == nil || p.source == nil {
		return nil
	}
	snap := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return nil
	}

	var buf bytes.Buffer
	buf.Grow(4096)
	for _, def := range internaldefs.CounterDefs {
		counter(&buf, def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		histogram(&buf, def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID])))
	}
	counter(&buf, "gatekeeper_audit_dropped_total", "Audit events dropped under dispatcher backpressure.", dropped)
	return buf.Bytes()
}

func header(buf *bytes.Buffer, name, help, kind string) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s %s\n", name, escapeHelp(help), name, kind)
}

func counter(buf *bytes.Buffer, name, help string, value uint64) {
	header(buf, name, help, "counter")
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func histogram(buf *bytes.Buffer, name, help string, cumulative [8]uint64) {
	header(buf, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		fmt.Fprintf(buf, "%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	// Snapshots carry bucket counts only, so the sum is reported as zero.
	fmt.Fprintf(buf, "%s_sum 0\n%s_count %d\n", name, name, cumulative[len(cumulative)-1])
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}
