package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestAggregatorSnapshot(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)
	a := New(func() time.Time { return now })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.RecordSent()
			a.RecordReceived()
			a.RecordReceived()
		}()
	}
	wg.Wait()
	a.Observe(Gauges{TotalConnections: 3, AuthenticatedConnections: 2, ActiveCells: 4})

	s := a.Snapshot()
	if s.MessagesSent != 10 || s.MessagesReceived != 20 {
		t.Fatalf("messages sent=%d received=%d", s.MessagesSent, s.MessagesReceived)
	}
	if s.TotalConnections != 3 || s.AuthenticatedConnections != 2 || s.ActiveCells != 4 {
		t.Fatalf("gauges = %+v", s)
	}
	if s.Timestamp != now.UnixMilli() {
		t.Fatalf("timestamp = %d", s.Timestamp)
	}
}

func TestCollectorGathers(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.RecordSent()
	a.Observe(Gauges{TotalConnections: 7, BusHealthy: true})

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(a))
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil && len(m.GetLabel()) == 1:
				values[mf.GetName()+"/"+m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	if values["worldsync_connections"] != 7 {
		t.Errorf("connections = %v", values["worldsync_connections"])
	}
	if values["worldsync_messages_total/sent"] != 1 {
		t.Errorf("messages sent = %v", values["worldsync_messages_total/sent"])
	}
	if values["worldsync_bus_up"] != 1 {
		t.Errorf("bus_up = %v", values["worldsync_bus_up"])
	}
}
