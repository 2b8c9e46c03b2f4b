// Package cmd wires the roomd binary's subcommands: serve runs the
// WebSocket/HTTP server, migrate bootstraps the room database schema.
package cmd

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	globalConfig "github.com/blockroom/roomd/config"
)

var rootCmd = &cobra.Command{
	Use:   "roomd",
	Short: "Collaborative block-editing workspace coordination service",
	Long:  `roomd coordinates real-time collaborative editing sessions: block locks, presence, and cross-process broadcast over WebSocket.`,
}

func init() {
	time.Local = time.UTC
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	initFlags()
	cobra.OnInitialize(initEnvConfig)
}

func initFlags() {
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AppPort,
		"port", "p",
		globalConfig.AppPort,
		"change port number with --port <number> | example: --port=8080",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&globalConfig.AppDebug,
		"debug", "d",
		globalConfig.AppDebug,
		"enable verbose logging | example: --debug=true",
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.RedisURL,
		"redis-url", "",
		globalConfig.RedisURL,
		`Valkey/Redis connection string (default redis://127.0.0.1:6379/0). An empty value, or a store that cannot be reached at startup, runs with in-memory locks/presence and no shared bus --redis-url <string> | example: --redis-url="redis://127.0.0.1:6379/0"`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.RoomDBURI,
		"room-db-uri", "",
		globalConfig.RoomDBURI,
		`sqlite DSN for room metadata --room-db-uri <string> | example: --room-db-uri="file:storages/rooms.db?_foreign_keys=on"`,
	)
}

// initEnvConfig mirrors viper's env-binding layer so the same REDIS_URL/
// APP_PORT/APP_DEBUG names the config package already reads directly at
// init() time can also be set without touching a flag.
func initEnvConfig() {
	viper.BindEnv("app_port", "APP_PORT")
	viper.BindEnv("app_debug", "APP_DEBUG")
	viper.BindEnv("redis_url", "REDIS_URL", "VALKEY_URL")
	viper.BindEnv("room_db_uri", "ROOM_DB_URI")

	if v := viper.GetString("app_port"); v != "" {
		globalConfig.AppPort = v
	}
	if viper.IsSet("app_debug") {
		globalConfig.AppDebug = viper.GetBool("app_debug")
	}
	if v := strings.TrimSpace(viper.GetString("redis_url")); v != "" {
		globalConfig.RedisURL = v
	}
	if v := strings.TrimSpace(viper.GetString("room_db_uri")); v != "" {
		globalConfig.RoomDBURI = v
	}

	if globalConfig.AppDebug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
