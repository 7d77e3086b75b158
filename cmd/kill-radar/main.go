// kill-radar - Real-time kill alerts for a Pathfinder wormhole map.
//
// It follows the zKillboard kill stream for every system on the map, drops
// uninteresting kills and posts the rest with a route from the home system.
//
// Usage:
//
//	kill-radar --config=kill-radar.yaml
//
// Environment variables (alternative to flags):
//
//	KILL_RADAR_CONFIG          - Path to the YAML config file
//	KILL_RADAR_DATABASE        - Pathfinder PostgreSQL URL
//	KILL_RADAR_REDIS           - Redis URL flushed after rally point changes
//	KILL_RADAR_DISCORD_WEBHOOK - Discord webhook URL
//	KILL_RADAR_UNIVERSE_DB     - Path to the SQLite universe database
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/hervehildenbrand/kill-radar/pkg/cache"
	"github.com/hervehildenbrand/kill-radar/pkg/config"
	"github.com/hervehildenbrand/kill-radar/pkg/database"
	"github.com/hervehildenbrand/kill-radar/pkg/esi"
	"github.com/hervehildenbrand/kill-radar/pkg/filter"
	"github.com/hervehildenbrand/kill-radar/pkg/killmemory"
	"github.com/hervehildenbrand/kill-radar/pkg/notify"
	"github.com/hervehildenbrand/kill-radar/pkg/rally"
	"github.com/hervehildenbrand/kill-radar/pkg/routing"
	"github.com/hervehildenbrand/kill-radar/pkg/server"
	"github.com/hervehildenbrand/kill-radar/pkg/subscription"
	"github.com/hervehildenbrand/kill-radar/pkg/universe"
	"github.com/hervehildenbrand/kill-radar/pkg/watcher"
	"github.com/hervehildenbrand/kill-radar/pkg/zkillfeed"
)

var (
	configFlag       = flag.String("config", "", "Path to YAML config file")
	envFileFlag      = flag.String("env-file", ".env", "Path to .env file (optional)")
	databaseFlag     = flag.String("database", "", "PostgreSQL URL of the Pathfinder database")
	redisFlag        = flag.String("redis", "", "Redis URL (optional, e.g., redis://localhost:6379)")
	webhookFlag      = flag.String("webhook", "", "Discord webhook URL (optional)")
	universeFlag     = flag.String("universe-db", "", "Path to the SQLite universe database")
	importFlag       = flag.String("import-universe", "", "CSV file to import into the universe database (system_id,name,security[,security_status])")
	httpAddrFlag     = flag.String("http", "", "HTTP listen address")
	feedURLFlag      = flag.String("feed-url", "", "zKillboard websocket URL")
	logLevelFlag     = flag.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	ensureSchemaFlag = flag.Bool("ensure-schema", false, "Create the map tables if missing (development databases)")
)

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func main() {
	flag.Parse()

	// Bootstrap logger until the configured one exists.
	boot := logrus.New()

	if err := config.LoadDotEnv(*envFileFlag); err != nil {
		boot.WithError(err).Fatal("Failed to load env file")
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv(config.EnvConfig)
	}
	cfg, err := config.Load(configPath, config.Overrides{
		DatabaseURL: *databaseFlag,
		RedisURL:    *redisFlag,
		WebhookURL:  *webhookFlag,
		UniverseDB:  *universeFlag,
		HTTPAddr:    *httpAddrFlag,
		LogLevel:    *logLevelFlag,
		FeedURL:     *feedURLFlag,
	})
	if err != nil {
		boot.WithError(err).Fatal("Invalid configuration")
	}

	log := newLogger(cfg.Log)
	log.WithField("root_system", cfg.RootSystem).Info("kill-radar starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Universe data (required for route names)
	universeStore, err := universe.Open(cfg.Universe.Path)
	if err != nil {
		log.WithError(err).Fatal("Failed to open universe database")
	}
	defer universeStore.Close()

	importPath := *importFlag
	if importPath == "" {
		importPath = cfg.Universe.ImportCSV
	}
	if importPath != "" {
		n, err := universeStore.ImportFile(ctx, importPath)
		if err != nil {
			log.WithError(err).WithField("path", importPath).Fatal("Failed to import universe data")
		}
		log.WithFields(logrus.Fields{"path": importPath, "systems": n}).Info("Imported universe data")

		if cfg.Universe.WatchCSV {
			importWatcher, err := universe.NewImportWatcher(universeStore, importPath, log)
			if err != nil {
				log.WithError(err).Warn("Cannot watch universe CSV")
			} else {
				go importWatcher.Run(ctx)
			}
		}
	}
	if n, err := universeStore.Count(ctx); err == nil && n == 0 {
		log.Warn("Universe database is empty - route names will show '?'")
	}

	// Pathfinder map
	store, err := database.Open(cfg.Database.URL, cfg.Database.MapID, log)
	if err != nil {
		log.WithError(err).Fatal("Database connection failed")
	}
	defer store.Close()
	log.WithField("map_id", store.MapID()).Info("Connected to map database")
	if *ensureSchemaFlag {
		if err := store.EnsureSchema(ctx); err != nil {
			log.WithError(err).Fatal("Failed to create schema")
		}
	}

	// Redis (optional)
	var invalidator cache.Invalidator = cache.NewNullInvalidator()
	if cfg.Redis.URL != "" {
		redisInvalidator, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Warn("Redis connection failed - cache invalidation disabled")
		} else {
			invalidator = redisInvalidator
			log.Info("Connected to Redis")
		}
	}
	defer invalidator.Close()

	// Notification sink
	var sink notify.Sink
	if cfg.Discord.WebhookURL != "" {
		sink = notify.NewDiscordSink(cfg.Discord.WebhookURL)
		log.Info("Posting alerts to Discord")
	} else {
		sink = notify.NewLogSink(log)
		log.Info("No webhook configured - alerts go to the log")
	}

	esiClient := esi.NewClient(esi.Options{
		BaseURL:       cfg.ESI.BaseURL,
		ZKillboardURL: cfg.ESI.ZKillboardURL,
		UserAgent:     cfg.ESI.UserAgent,
		Timeout:       cfg.ESI.Timeout,
		MaxConcurrent: cfg.ESI.MaxConcurrent,
	}, universeStore, log)

	events := make(chan zkillfeed.Event, cfg.Feed.Buffer)
	feed := zkillfeed.NewClient(cfg.Feed.URL, events, log)

	filters := filter.NewEngine(filter.NewCriteria(
		cfg.Filters.MaxSecurity,
		cfg.Filters.Corporations,
		cfg.Filters.FilterIfVictim,
		cfg.Filters.ShipTypes,
	))
	criteria := filters.Criteria()
	log.WithFields(logrus.Fields{
		"max_security":          criteria.MaxSecurity,
		"excluded_corporations": len(criteria.ExcludedCorporations),
		"excluded_ship_types":   len(criteria.ExcludedShipTypes),
		"check_victim":          criteria.CheckVictim,
	}).Info("Kill filters configured")

	w := watcher.New(watcher.Deps{
		Topology:      store,
		Feed:          feed,
		Enricher:      esiClient,
		Sink:          sink,
		Rally:         rally.New(store, invalidator, log),
		Router:        routing.NewRouter(cfg.RootSystem, universeStore),
		Subscriptions: subscription.NewManager(),
		Filters:       filters,
		Memory:        killmemory.New(cfg.Watcher.KillMemory),
	}, watcher.Options{
		RefreshInterval:  cfg.Watcher.Refresh,
		ProcessTimeout:   cfg.Watcher.ProcessTimeout,
		PingRoleID:       cfg.Discord.PingRoleID,
		PingOnlyWormhole: cfg.Discord.PingOnlyWormhole,
	}, log)

	// The first refresh fills the subscription set before the feed connects.
	if err := w.Refresh(ctx); err != nil {
		log.WithError(err).Warn("Initial refresh failed")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.RunRefresh(ctx)
	}()
	go func() {
		defer wg.Done()
		w.Consume(ctx, events)
	}()

	srv := server.New(cfg.HTTP.Addr, w, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	// Start stats logger
	go func() {
		ticker := time.NewTicker(cfg.Watcher.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.WithFields(logrus.Fields{
					"feed":    feed.Stats(),
					"watcher": w.Stats(),
					"queue":   len(events),
				}).Info("STATS")
			}
		}
	}()

	feed.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutting down...")
	case <-ctx.Done():
		log.Info("Shutting down after fatal error...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown failed")
	}

	feed.Stop()
	cancel()
	wg.Wait()

	log.WithFields(logrus.Fields{"watcher": w.Stats()}).Info("Final stats")
}
