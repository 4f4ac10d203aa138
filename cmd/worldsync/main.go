package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/worldsync/server/internal/auth"
	"github.com/worldsync/server/internal/config"
	coresys "github.com/worldsync/server/internal/core/system"
	"github.com/worldsync/server/internal/handler"
	"github.com/worldsync/server/internal/logging"
	gonet "github.com/worldsync/server/internal/net"
	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/persist"
	"github.com/worldsync/server/internal/ratelimit"
	"github.com/worldsync/server/internal/registry"
	"github.com/worldsync/server/internal/relay"
	"github.com/worldsync/server/internal/scripting"
	"github.com/worldsync/server/internal/stats"
	"github.com/worldsync/server/internal/system"
	"github.com/worldsync/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("WORLDSYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.NewString()
	}

	// 2. Init logger
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	log = log.With(zap.String("instance", cfg.Server.InstanceID))
	log.Info("starting", zap.String("server", cfg.Server.Name))

	// 3. Static data and scripts
	regions, err := world.LoadRegionTable(cfg.World.RegionsFile)
	if err != nil {
		return fmt.Errorf("regions: %w", err)
	}
	log.Info("regions loaded", zap.Int("count", regions.Count()))

	var lua *scripting.Engine
	if cfg.Scripting.Dir != "" {
		lua, err = scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer lua.Close()
		log.Info("scripts loaded", zap.Bool("chat_filter", lua.HasChatFilter()))
	}

	// 4. Database (optional)
	var (
		db     *persist.DB
		store  persist.Store = persist.NopStore{}
		hashes auth.TokenHashStore
	)
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err = persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		if err := persist.RunMigrations(ctx, db); err != nil {
			cancel()
			return fmt.Errorf("migrations: %w", err)
		}
		cancel()
		repo := persist.NewCharacterRepo(db)
		store, hashes = repo, repo
	}
	saver := persist.NewSaver(store, cfg.Database.SaveQueueSize, log)

	verifier, err := auth.New(cfg.Auth, hashes, time.Now)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// 5. Cross-instance relay
	var bus relay.Bus
	switch cfg.Relay.Driver {
	case "nats":
		bus, err = relay.DialNATS(cfg.Relay, cfg.Server.Name+"-"+cfg.Server.InstanceID, log)
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
	default:
		bus = relay.NewLocalBus(relay.NewLocalHub())
	}
	rel := relay.New(bus, cfg.Relay, cfg.Server.InstanceID, log)
	if err := rel.Start(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	log.Info("relay started", zap.String("driver", cfg.Relay.Driver), zap.Bool("healthy", rel.Healthy()))

	// 6. Loop-owned state and handlers
	agg := stats.New(time.Now)
	deps := &handler.Deps{
		Config:      cfg,
		Log:         log,
		Conns:       registry.New(cfg.Session.InactivityTimeout, time.Now),
		Grid:        world.NewGrid(cfg.Grid.CellSize),
		World:       world.NewState(cfg.Server.InstanceID, time.Now),
		Regions:     regions,
		Limiter:     ratelimit.New(cfg.RateLimit, time.Now),
		Relay:       rel,
		Stats:       agg,
		Auth:        verifier,
		Store:       store,
		Saver:       saver,
		Scripting:   lua,
		Completions: make(chan func(), 1024),
	}
	reg := protocol.NewRegistry(log)
	handler.RegisterAll(reg, deps)

	// 7. Network and operational HTTP surface
	netServer := gonet.NewServer(cfg.Network, log)
	mux := http.NewServeMux()
	mux.Handle(cfg.Network.WSPath, netServer)
	registerOps(mux, agg, func(ctx context.Context) stats.Snapshot {
		return handler.RequestStats(ctx, deps)
	}, rel, db, log)
	httpServer := &http.Server{
		Addr:              cfg.Network.BindAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// 8. Systems
	sessions := gonet.NewSessionStore()
	runner := coresys.NewRunner()
	inputSys := system.NewInputSystem(netServer, reg, sessions, deps, cfg.Network.MaxPacketsPerTick, log)
	persistSys := system.NewPersistenceSystem(deps, saver, cfg.Database.SaveInterval, log)
	runner.Register(inputSys)
	runner.Register(system.NewRelaySystem(deps))
	runner.Register(system.NewSweepSystem(deps, cfg.Session.SweepInterval, log))
	runner.Register(system.NewSnapshotSystem(deps, cfg.Relay.SnapshotInterval))
	runner.Register(system.NewStatsSystem(deps, cfg.Stats.Interval, log))
	runner.Register(system.NewOutputSystem(sessions))
	runner.Register(persistSys)

	// 9. Game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()
	poll := time.NewTicker(2 * time.Millisecond)
	defer poll.Stop()

	log.Info("listening",
		zap.String("addr", cfg.Network.BindAddress),
		zap.String("ws_path", cfg.Network.WSPath),
		zap.Duration("tick", cfg.Network.TickRate))

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
		case <-poll.C:
			runner.TickPhase(coresys.PhaseInput, 0)
		case err := <-httpErr:
			return fmt.Errorf("http: %w", err)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			netServer.Shutdown()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpServer.Shutdown(ctx)
			cancel()

			queued := persistSys.SaveAllPlayers()
			saver.Close()
			saved, failed, dropped := saver.Counts()
			log.Info("players saved",
				zap.Int("queued", queued),
				zap.Uint64("saved", saved),
				zap.Uint64("failed", failed),
				zap.Uint64("dropped", dropped))

			if err := rel.Close(); err != nil {
				log.Warn("relay close", zap.Error(err))
			}
			log.Info("stopped")
			return nil
		}
	}
}
