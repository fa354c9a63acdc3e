package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/AkintolaX/sureinv-financing/internal/config"
	"github.com/AkintolaX/sureinv-financing/internal/observability"
	"github.com/AkintolaX/sureinv-financing/internal/persistence"
)

func main() {
	var (
		configPath string
		dsn        string
		dir        string
	)

	// open resolves the DSN and directory from flags, then config
	open := func() (*sql.DB, *persistence.Migrator, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		if dsn == "" {
			dsn = cfg.Postgres.DSN
		}
		if dir == "" {
			dir = cfg.MigrationsDir
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		log := observability.NewLoggerWithLevel("migrate", observability.ParseLogLevel(cfg.LogLevel))
		return db, persistence.NewMigrator(db, dir, log), nil
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back event log and projection schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $SUREINV_CONFIG_FILE)")
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (overrides config)")
	root.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (overrides config)")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, m, err := open()
				if err != nil {
					return err
				}
				defer db.Close()
				return m.Up(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, m, err := open()
				if err != nil {
					return err
				}
				defer db.Close()
				return m.Down(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether each is applied",
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, m, err := open()
				if err != nil {
					return err
				}
				defer db.Close()
				status, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tFILE\tAPPLIED")
				for _, s := range status {
					fmt.Fprintf(w, "%s\t%s\t%v\n", s.Version, s.File, s.Applied)
				}
				return w.Flush()
			},
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
