package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistryIncrementsCounters(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.BusDropped.WithLabelValues("messages", "ticker").Inc()
	m.Reconnects.WithLabelValues("public").Inc()
	m.ChecksumFailures.WithLabelValues("XBT/USD").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "deskbot_bus_dropped_total" {
			found = true
			if got := f.Metric[0].Counter.GetValue(); got != 1 {
				t.Errorf("bus_dropped_total = %v, want 1", got)
			}
		}
	}
	if !found {
		t.Fatal("expected deskbot_bus_dropped_total in gathered families")
	}
}

func TestBookStalenessGaugeSettable(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.BookStaleness.WithLabelValues("XBT/USD").Set(12.5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var gauge *dto.Metric
	for _, f := range families {
		if f.GetName() == "deskbot_book_staleness_seconds" {
			gauge = f.Metric[0]
		}
	}
	if gauge == nil {
		t.Fatal("expected deskbot_book_staleness_seconds in gathered families")
	}
	if gauge.Gauge.GetValue() != 12.5 {
		t.Errorf("gauge = %v, want 12.5", gauge.Gauge.GetValue())
	}
}
