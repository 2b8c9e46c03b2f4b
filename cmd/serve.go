package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	globalConfig "github.com/blockroom/roomd/config"
	"github.com/blockroom/roomd/infrastructure/valkey"
	"github.com/blockroom/roomd/pkg/metrics"
	"github.com/blockroom/roomd/pkg/serverid"
	"github.com/blockroom/roomd/room/application"
	"github.com/blockroom/roomd/room/bus"
	"github.com/blockroom/roomd/room/domain"
	"github.com/blockroom/roomd/room/repository"
	httpui "github.com/blockroom/roomd/room/ui/http"
	wsui "github.com/blockroom/roomd/room/ui/ws"
	uimiddleware "github.com/blockroom/roomd/ui/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room coordination server",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	ctx := context.Background()

	if err := os.MkdirAll(globalConfig.StoragePath, 0755); err != nil {
		logrus.Fatalf("[STARTUP] failed to create storage dir: %v", err)
	}
	globalConfig.ServerID = serverid.Get(globalConfig.ServerID, globalConfig.StoragePath)
	logrus.Infof("[STARTUP] server id: %s", globalConfig.ServerID)

	roomDB, err := sql.Open("sqlite3", globalConfig.RoomDBURI)
	if err != nil {
		logrus.Fatalf("[STARTUP] failed to open room db: %v", err)
	}
	roomRepo := repository.NewSQLiteRoomRepository(roomDB)
	if err := roomRepo.Init(ctx); err != nil {
		logrus.Fatalf("[STARTUP] failed to init room schema: %v", err)
	}

	var vkClient *valkey.Client
	var locks domain.LockManager = repository.NewMemoryLockManager()
	var presence domain.PresenceRegistry = repository.NewMemoryPresenceRegistry()
	var snapshots domain.SnapshotStore = repository.NewMemorySnapshotStore()

	if globalConfig.RedisURL != "" {
		cfg, err := valkey.ConfigFromURL(globalConfig.RedisURL)
		if err != nil {
			logrus.Fatalf("[STARTUP] invalid redis-url: %v", err)
		}
		vkClient, err = valkey.NewClient(cfg)
		if err != nil {
			logrus.WithError(err).Warn("[STARTUP] failed to connect to Valkey, falling back to in-memory locks/presence (single-process only)")
			vkClient = nil
		} else {
			locks = repository.NewValkeyLockManager(vkClient)
			presence = repository.NewValkeyPresenceRegistry(vkClient)
			snapshots = repository.NewValkeySnapshotStore(vkClient)
			logrus.Info("[STARTUP] using Valkey for locks/presence/broadcast")
		}
	} else {
		logrus.Info("[STARTUP] REDIS_URL not set, using in-memory locks/presence (single-process only)")
	}

	b := bus.New(vkClient, globalConfig.ServerID)
	busCtx, cancelBus := context.WithCancel(ctx)
	go b.Run(busCtx)

	m := metrics.New()

	coordinatorCfg := application.Config{
		LockTTL:             time.Duration(globalConfig.LockTTLMs) * time.Millisecond,
		PresenceTTL:         time.Duration(globalConfig.PresenceTTLMs) * time.Millisecond,
		DefaultRoomMaxUsers: globalConfig.RoomDefaultMaxUsers,
	}
	coordinator := application.NewCoordinator(roomRepo, locks, presence, snapshots, b, coordinatorCfg, m)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(uimiddleware.Recovery())
	if globalConfig.AppDebug {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "server_id": globalConfig.ServerID})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	httpui.RegisterRoutes(app, httpui.NewRoomHandler(roomRepo, globalConfig.RoomDefaultMaxUsers))
	wsui.RegisterRoutes(app, coordinator)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[SERVE] shutting down...")
		_ = app.Shutdown()
		cancelBus()
		_ = roomDB.Close()
		if vkClient != nil {
			vkClient.Close()
		}
	}()

	logrus.Infof("[SERVE] listening on :%s", globalConfig.AppPort)
	if err := app.Listen(fmt.Sprintf(":%s", globalConfig.AppPort)); err != nil {
		logrus.Fatalf("[SERVE] failed to start: %v", err)
	}
}
