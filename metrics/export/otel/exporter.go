package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/gatekeeper"
	"github.com/MrEthical07/gatekeeper/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() gatekeeper.MetricsSnapshot
	AuditDropped() uint64
}

// latencyGauges holds one cumulative gauge per bucket plus the sample count.
type latencyGauges struct {
	id      gatekeeper.MetricID
	buckets []metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter keeps the callback registration alive until Close.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	counters     map[gatekeeper.MetricID]metric.Int64ObservableCounter
	latency      []latencyGauges
	auditDropped metric.Int64ObservableCounter
	observables  []metric.Observable
}

func NewOTelExporter(meter metric.Meter, engine *gatekeeper.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments on meter that read from source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		counters: make(map[gatekeeper.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	if err := e.createCounters(meter); err != nil {
		return nil, err
	}
	if err := e.createHistograms(meter); err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(e.observe, e.observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *OTelExporter) createCounters(meter metric.Meter) error {
	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = c
		e.observables = append(e.observables, c)
	}

	dropped, err := meter.Int64ObservableCounter(
		"gatekeeper_audit_dropped_total",
		metric.WithDescription("Audit events dropped under dispatcher backpressure."),
	)
	if err != nil {
		return fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	e.observables = append(e.observables, dropped)
	return nil
}

func (e *OTelExporter) createHistograms(meter metric.Meter) error {
	for _, def := range internaldefs.HistogramDefs {
		g := latencyGauges{id: def.ID}
		for _, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			b, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative bucket count of "+def.Name+"."))
			if err != nil {
				return fmt.Errorf("create bucket gauge %s: %w", name, err)
			}
			g.buckets = append(g.buckets, b)
			e.observables = append(e.observables, b)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Sample count of "+def.Name+"."))
		if err != nil {
			return fmt.Errorf("create count gauge %s_count: %w", def.Name, err)
		}
		g.count = count
		e.observables = append(e.observables, count)
		e.latency = append(e.latency, g)
	}
	return nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snap.Counters[id]))
	}
	for _, g := range e.latency {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[g.id]))
		for i, b := range g.buckets {
			o.ObserveInt64(b, int64(cumulative[i]))
		}
		o.ObserveInt64(g.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. Instruments stay registered with the meter.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
