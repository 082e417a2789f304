package main

import (
	"estate-backend/internal/database"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := boot("estate-migrate")
			if err != nil {
				return err
			}
			log.WithField("tables", len(database.AllModels())).Info("schema up to date")
			return nil
		},
	}
}
