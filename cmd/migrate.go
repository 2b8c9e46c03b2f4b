package cmd

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	globalConfig "github.com/blockroom/roomd/config"
	"github.com/blockroom/roomd/room/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bootstrap the room database schema",
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) {
	db, err := sql.Open("sqlite3", globalConfig.RoomDBURI)
	if err != nil {
		logrus.Fatalf("[MIGRATE] failed to open room db: %v", err)
	}
	defer db.Close()

	repo := repository.NewSQLiteRoomRepository(db)
	if err := repo.Init(context.Background()); err != nil {
		logrus.Fatalf("[MIGRATE] failed to create schema: %v", err)
	}
	logrus.Info("[MIGRATE] room schema is up to date")
}
