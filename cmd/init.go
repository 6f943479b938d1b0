package cmd

import (
	"bufio"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/urun4m0r1/AIGF/aigf"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var resetAdminPassword bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set admin credentials",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable AIGF_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable AIGF_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		// Run database migrations
		db, err := aigf.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		writeDB := aigf.NewDatabase(db, slog.Default(), cfg.DatabaseType != "sqlite")

		var adminCount int64
		if err = db.WithContext(ctx).Model(&aigf.AdminCredential{}).Count(&adminCount).Error; err != nil {
			log.Fatalf("Error retrieving admin credentials: %v", err)
		}

		out := cmd.OutOrStdout()
		if adminCount > 0 && !resetAdminPassword {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else {
			fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")

			reader := bufio.NewReader(cmd.InOrStdin())

			fmt.Fprint(out, "Enter admin username: ")
			username, _ := reader.ReadString('\n')
			username = strings.TrimSpace(username)

			var password string

			if customPasswordReader == nil {
				customPasswordReader = func() ([]byte, error) {
					return term.ReadPassword(int(syscall.Stdin))
				}
			}
			for {
				fmt.Fprint(out, "Enter admin password: ")
				passwordBytes, _ := customPasswordReader()
				password = string(passwordBytes)
				fmt.Fprintln(out)

				fmt.Fprint(out, "Confirm admin password: ")
				confirmPasswordBytes, _ := customPasswordReader()
				confirmPassword := string(confirmPasswordBytes)
				fmt.Fprintln(out)

				if password == confirmPassword {
					break
				}
				fmt.Fprintln(out, "Passwords do not match. Please try again.")
			}

			if err = aigf.SetAdminCredentials(ctx, writeDB, username, password); err != nil {
				log.Fatalf("Error setting admin credentials: %v", err)
			}
			fmt.Fprintln(out, "Admin credentials set successfully.")
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

//nolint:gochecknoinits
func init() {
	initCmd.Flags().BoolVar(
		&resetAdminPassword,
		"reset",
		false,
		"Set admin credentials even if they already exist",
	)
	rootCmd.AddCommand(initCmd)
}
