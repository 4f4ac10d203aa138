package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[grid]
cell_size = 50.0

[rate_limit.chat]
max = 10
window = "2s"

[relay]
driver = "nats"
remote_ttl = "20s"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Grid.CellSize != 50 || cfg.Grid.Radius != 1 {
		t.Fatalf("grid = %+v", cfg.Grid)
	}
	if cfg.RateLimit.Chat != (WindowConfig{Max: 10, Window: 2 * time.Second}) {
		t.Fatalf("chat window = %+v", cfg.RateLimit.Chat)
	}
	if cfg.RateLimit.Movement != (WindowConfig{Max: 20, Window: time.Second}) {
		t.Fatalf("movement default lost: %+v", cfg.RateLimit.Movement)
	}
	if cfg.Relay.Driver != "nats" || cfg.Relay.RemoteTTL != 20*time.Second || cfg.Relay.SnapshotInterval != 5*time.Second {
		t.Fatalf("relay = %+v", cfg.Relay)
	}
	if cfg.Server.StartTime == 0 {
		t.Fatal("start time not set")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORLDSYNC_RELAY_DRIVER", "nats")
	t.Setenv("WORLDSYNC_NATS_URL", "nats://bus:4222")
	t.Setenv("WORLDSYNC_DATABASE_DSN", "postgres://x@db/ws")
	t.Setenv("WORLDSYNC_INSTANCE_ID", "eu-1")

	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.Driver != "nats" || cfg.Relay.URL != "nats://bus:4222" {
		t.Fatalf("relay = %+v", cfg.Relay)
	}
	if !cfg.Database.Enabled || cfg.Database.DSN != "postgres://x@db/ws" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Server.InstanceID != "eu-1" {
		t.Fatalf("instance = %q", cfg.Server.InstanceID)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"cell size":   "[grid]\ncell_size = 0.0\n",
		"window":      "[rate_limit.movement]\nmax = 0\n",
		"driver":      "[relay]\ndriver = \"redis\"\n",
		"jwt secret":  "[auth]\nmode = \"jwt\"\n",
		"store no db": "[auth]\nmode = \"store\"\n",
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	_, err := Parse([]byte("[grid]\ncell_size = -1.0\nradius = -2\n"))
	if err == nil || !strings.Contains(err.Error(), "cell_size") || !strings.Contains(err.Error(), "radius") {
		t.Fatalf("joined errors = %v", err)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	t.Parallel()

	cfg, err := Load("../../config/server.toml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Network.WSPath != "/ws" || cfg.Session.InactivityTimeout != 30*time.Second {
		t.Fatalf("network=%+v session=%+v", cfg.Network, cfg.Session)
	}
}
