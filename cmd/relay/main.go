package main

import (
	"context"
	"os"
	"time"

	v1 "go_relay/api/v1"
	"go_relay/internal/auth"
	"go_relay/internal/config"
	"go_relay/internal/db"
	"go_relay/internal/identity"
	"go_relay/internal/ratelimit"
	"go_relay/internal/registry"
	"go_relay/internal/relay"
	"go_relay/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.NewEntry(logrus.StandardLogger())

	// 1. Load configuration (INI file when RELAY_CONFIG is set)
	var cfg *config.Config
	var err error
	if iniPath := os.Getenv("RELAY_CONFIG"); iniPath != "" {
		cfg, err = config.LoadFromINI(iniPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logrus.Info("Configuration loaded")

	// 2. Initialize MySQL
	if err := db.InitMySQL(cfg.MySQL.DSN); err != nil {
		logrus.Fatalf("Failed to initialize MySQL: %v", err)
	}
	defer db.Close()

	if cfg.Migrate {
		if err := db.Migrate(db.GetDB()); err != nil {
			logrus.Fatalf("Failed to migrate database: %v", err)
		}
	}

	// 3. Session tokens and the Active-Session Set
	auth.InitJWT(cfg.JWT.Secret)

	var sessionStore auth.SessionStore
	if cfg.Session.Store == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logrus.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		sessionStore = auth.NewRedisSessionStore(client)
		logrus.Info("Redis session store connected")
	} else {
		sessionStore = auth.NewMemorySessionStore()
	}

	sessionTTL := time.Duration(cfg.JWT.ExpireMinutes) * time.Minute
	sessions := auth.NewSessions(sessionStore, sessionTTL, cfg.JWT.Issuer)

	// 4. Broker core
	identities := identity.NewService(db.GetDB())
	limiter := ratelimit.NewLimiter()
	reg := registry.New(logger)
	store := relay.NewStore(cfg.Relay.MaxPayloadBytes, logger)

	wsHandlers := ws.NewHandlers(identities, reg, store, limiter, cfg.Rate, logger)
	wsServer := ws.NewServer(wsHandlers, logger)
	wsServer.Serve()
	defer wsServer.Close()

	dispatcher := relay.NewDispatcher(reg, store, wsServer, logger)

	// 5. Background maintenance
	sessionSweeper := auth.NewSweeper(sessions, logger, cfg.Session.SweepIntervalSec)
	sessionSweeper.Start()
	defer sessionSweeper.Stop()

	rateSweeper := ratelimit.NewSweeper(limiter, logger, cfg.Rate.SweepIntervalSec)
	rateSweeper.Start()
	defer rateSweeper.Stop()

	commandSweeper := relay.NewSweeper(store, logger, cfg.Relay.RetentionSec, cfg.Relay.SweepIntervalSec)
	commandSweeper.Start()
	defer commandSweeper.Stop()

	// 6. HTTP router
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.GET("/socket.io/*any", gin.WrapH(wsServer.Handler()))
	r.POST("/socket.io/*any", gin.WrapH(wsServer.Handler()))

	v1.SetupRouter(r, &v1.Deps{
		Cfg:        cfg,
		Identities: identities,
		Sessions:   sessions,
		Registry:   reg,
		Store:      store,
		Dispatcher: dispatcher,
		Limiter:    limiter,
	})

	logrus.Infof("Relay broker starting on %s", cfg.HTTPAddr)

	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		err = r.RunTLS(cfg.HTTPAddr, cfg.TLS.CertFile, cfg.TLS.KeyFile)
	} else {
		err = r.Run(cfg.HTTPAddr)
	}
	if err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}
