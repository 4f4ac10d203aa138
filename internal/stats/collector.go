package stats

import "github.com/prometheus/client_golang/prometheus"

const namespace = "worldsync"

// Collector exposes an Aggregator to Prometheus. Values are read at scrape
// time from Snapshot.
type Collector struct {
	agg *Aggregator

	connections   *prometheus.Desc
	authenticated *prometheus.Desc
	inWorld       *prometheus.Desc
	worldPlayers  *prometheus.Desc
	activeCells   *prometheus.Desc
	messages      *prometheus.Desc
	relay         *prometheus.Desc
	busUp         *prometheus.Desc
}

func NewCollector(agg *Aggregator) *Collector {
	return &Collector{
		agg:           agg,
		connections:   prometheus.NewDesc(namespace+"_connections", "Live client connections.", nil, nil),
		authenticated: prometheus.NewDesc(namespace+"_authenticated_connections", "Authenticated client connections.", nil, nil),
		inWorld:       prometheus.NewDesc(namespace+"_in_world_connections", "Local connections with a player in the world.", nil, nil),
		worldPlayers:  prometheus.NewDesc(namespace+"_world_players", "Players in world state across all instances.", nil, nil),
		activeCells:   prometheus.NewDesc(namespace+"_active_cells", "Non-empty grid cells.", nil, nil),
		messages:      prometheus.NewDesc(namespace+"_messages_total", "Client messages by direction.", []string{"direction"}, nil),
		relay:         prometheus.NewDesc(namespace+"_relay_envelopes_total", "Relay envelopes by outcome.", []string{"outcome"}, nil),
		busUp:         prometheus.NewDesc(namespace+"_bus_up", "1 when the relay bus is reachable.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.authenticated
	ch <- c.inWorld
	ch <- c.worldPlayers
	ch <- c.activeCells
	ch <- c.messages
	ch <- c.relay
	ch <- c.busUp
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.TotalConnections))
	ch <- prometheus.MustNewConstMetric(c.authenticated, prometheus.GaugeValue, float64(s.AuthenticatedConnections))
	ch <- prometheus.MustNewConstMetric(c.inWorld, prometheus.GaugeValue, float64(s.InWorldPlayers))
	ch <- prometheus.MustNewConstMetric(c.worldPlayers, prometheus.GaugeValue, float64(s.WorldPlayers))
	ch <- prometheus.MustNewConstMetric(c.activeCells, prometheus.GaugeValue, float64(s.ActiveCells))
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(s.MessagesSent), "sent")
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(s.MessagesReceived), "received")
	ch <- prometheus.MustNewConstMetric(c.relay, prometheus.CounterValue, float64(s.RelayPublished), "published")
	ch <- prometheus.MustNewConstMetric(c.relay, prometheus.CounterValue, float64(s.RelayReceived), "received")
	ch <- prometheus.MustNewConstMetric(c.relay, prometheus.CounterValue, float64(s.RelayDropped), "dropped")
	up := 0.0
	if s.BusHealthy {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.busUp, prometheus.GaugeValue, up)
}
