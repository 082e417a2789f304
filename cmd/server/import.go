package main

import (
	"errors"
	"fmt"
	"os"

	"estate-backend/internal/database"
	"estate-backend/internal/models"
	"estate-backend/internal/properties"

	"github.com/spf13/cobra"
)

func importPropertiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-properties",
		Short: "Create listings from an .xlsx sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			ownerEmail, _ := cmd.Flags().GetString("owner-email")
			if path == "" || ownerEmail == "" {
				return errors.New("--file and --owner-email are required")
			}

			_, log, err := boot("estate-import")
			if err != nil {
				return err
			}

			var owner models.User
			if err := database.DB.Where("email = ?", ownerEmail).First(&owner).Error; err != nil {
				return fmt.Errorf("owner %s: %w", ownerEmail, err)
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := properties.ImportXLSX(database.DB, f, owner.ID, owner.AgencyID)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				log.WithField("row", e.Row).Warn(e.Message)
			}
			fmt.Printf("created %d properties, %d rows rejected\n", res.Created, len(res.Errors))
			return nil
		},
	}
	cmd.Flags().String("file", "", "path to the .xlsx file")
	cmd.Flags().String("owner-email", "", "email of the user who will own the listings")
	return cmd
}
