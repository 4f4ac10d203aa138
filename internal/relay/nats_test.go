package relay

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDialNATSUnreachableStartsIslanded(t *testing.T) {
	t.Parallel()

	cfg := testRelayConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.MaxReconnects = -1
	cfg.ReconnectWait = 50 * time.Millisecond

	bus, err := DialNATS(cfg, "worldsync-test", zap.NewNop())
	if err != nil {
		t.Fatalf("unreachable server treated as fatal: %v", err)
	}
	if bus.Healthy() {
		t.Fatal("bus healthy without a server")
	}
	if err := bus.Publish("test.global", []byte("{}")); !errors.Is(err, ErrBusDown) {
		t.Fatalf("publish err = %v", err)
	}

	r := New(bus, cfg, "inst-a", zap.NewNop())
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.Healthy() {
		t.Fatal("relay healthy without a server")
	}
	env, _ := NewEnvelope(TypePlayerLeave, 1, PlayerPayload{ID: "p1"})
	r.Publish(ChannelGlobal, env)
	waitFor(t, func() bool { return r.Counters().Failed > 0 })

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
