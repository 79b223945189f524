package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/gatekeeper"
)

func TestCounterDefsAreUniqueAndNamed(t *testing.T) {
	seenID := map[gatekeeper.MetricID]bool{}
	seenName := map[string]bool{}
	for _, def := range CounterDefs {
		if seenID[def.ID] || seenName[def.Name] {
			t.Fatalf("duplicate counter definition: %+v", def)
		}
		seenID[def.ID] = true
		seenName[def.Name] = true
		if !strings.HasPrefix(def.Name, "gatekeeper_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter name %q does not follow naming", def.Name)
		}
		if def.ID == gatekeeper.MetricLoginLatency {
			t.Fatal("latency histogram must not be exported as a counter")
		}
	}
}

func TestBoundsMatchEngineBuckets(t *testing.T) {
	if len(HistogramBounds) != len(gatekeeper.LatencyBucketBounds)+1 || len(HistogramBoundSuffix) != len(HistogramBounds) {
		t.Fatalf("bucket count mismatch: %d bounds, %d engine bounds", len(HistogramBounds), len(gatekeeper.LatencyBucketBounds))
	}
	if HistogramBounds[len(HistogramBounds)-1] != "+Inf" {
		t.Fatalf("last bound must be +Inf, got %q", HistogramBounds[len(HistogramBounds)-1])
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("cumulative = %v, want %v", got, want)
	}
}
