package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/taskd/internal/config"
	"github.com/lherron/taskd/internal/db"
	"github.com/lherron/taskd/internal/domain"
	"github.com/lherron/taskd/internal/httpapi"
	"github.com/lherron/taskd/internal/store"
	"github.com/lherron/taskd/internal/webhooks"
)

var rootCmd = &cobra.Command{
	Use:           "taskd",
	Short:         "Single-user task management service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (default ./config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Database path override (overrides TASKD_DB_PATH)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*db.DB, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the task API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			server := httpapi.New(store.New(database), cfg.Auth.Tokens, webhooks.New(cfg.WebhookURLs))

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = cfg.Addr()
			}

			httpServer := &http.Server{
				Addr:         addr,
				Handler:      server.Handler(),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}

			fmt.Fprintf(os.Stderr, "taskd listening on %s (db: %s)\n", addr, cfg.DBPath)
			return httpServer.ListenAndServe()
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			fmt.Printf("database at %s is up to date\n", database.Path())
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all tasks as JSON, parents before depth-1 children",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			tasks, err := store.New(database).Tasks.Export()
			if err != nil {
				return err
			}

			out := os.Stdout
			if path, _ := cmd.Flags().GetString("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(tasks)
		},
	}
	cmd.Flags().String("out", "", "Output file (default stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import tasks from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read import file: %w", err)
			}

			var records []domain.Task
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("failed to parse import file: %w", err)
			}

			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			onConflict, _ := cmd.Flags().GetString("on-conflict")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			result, err := store.New(database).Tasks.Import(records, store.ImportOptions{
				OnConflict:   onConflict,
				ValidateOnly: dryRun,
			})
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Printf("dry run: %d task(s) would be imported\n", result.ImportedCount)
			} else {
				fmt.Printf("imported %d task(s)\n", result.ImportedCount)
			}
			return nil
		},
	}
	cmd.Flags().String("on-conflict", store.OnConflictFail, "Conflict policy: fail, skip, or upsert")
	cmd.Flags().Bool("dry-run", false, "Validate without writing")
	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
