package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/worldsync/server/internal/persist"
	"github.com/worldsync/server/internal/relay"
	"github.com/worldsync/server/internal/stats"
)

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Players  map[string]int    `json:"players"`
}

const statsRefreshTimeout = 500 * time.Millisecond

// registerOps mounts /health, /stats and /metrics. Handlers read only the
// stats aggregator, the relay health flag and the database pool, all safe
// outside the game loop. /stats asks the loop for fresh gauges through
// refresh.
func registerOps(mux *http.ServeMux, agg *stats.Aggregator, refresh func(context.Context) stats.Snapshot,
	rel *relay.Relay, db *persist.DB, log *zap.Logger) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:   "ok",
			Services: map[string]string{"bus": "up", "database": "disabled"},
			Players:  map[string]int{"active": agg.Snapshot().InWorldPlayers},
		}
		if !rel.Healthy() {
			resp.Services["bus"] = "down"
			resp.Status = "degraded"
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.Warn("health: database ping failed", zap.Error(err))
				resp.Services["database"] = "down"
				resp.Status = "degraded"
			} else {
				resp.Services["database"] = "up"
			}
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), statsRefreshTimeout)
		defer cancel()
		writeJSON(w, refresh(ctx))
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		stats.NewCollector(agg),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
