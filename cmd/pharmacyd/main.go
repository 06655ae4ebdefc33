package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"medeasy/pharmacy/internal/api"
	"medeasy/pharmacy/internal/config"
	"medeasy/pharmacy/internal/database"
	"medeasy/pharmacy/internal/events"
	"medeasy/pharmacy/internal/migrations"
	"medeasy/pharmacy/internal/orm"
	"medeasy/pharmacy/internal/ratelimit"
	"medeasy/pharmacy/internal/rowstore"
	"medeasy/pharmacy/internal/rowstore/rest"
	"medeasy/pharmacy/internal/rowstore/sqlstore"
	"medeasy/pharmacy/internal/seed"
)

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pharmacyd",
		Short:        "Multi-tenant pharmacy backend",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), seedCmd(), tablesCmd())
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// backend is an open row store and, for SQL stores, the database beneath it.
type backend struct {
	store rowstore.Client
	db    *sqlx.DB
}

func (b backend) Close() {
	if b.db != nil {
		b.db.Close()
	}
}

func openBackend(cfg config.Config) (backend, error) {
	if cfg.RowStore == "rest" {
		client, err := rest.New(cfg.RowStoreURL, cfg.RowStoreKey,
			rest.WithSchema(cfg.RowStoreSchema),
			rest.WithTimeout(cfg.RowStoreTimeout),
			rest.WithQueryLog(cfg.LogQueries),
		)
		if err != nil {
			return backend{}, err
		}
		return backend{store: client}, nil
	}
	db, err := database.Connect(cfg.RowStore, cfg.DatabaseDSN)
	if err != nil {
		return backend{}, err
	}
	store := sqlstore.New(db, migrations.ForeignKeys(), sqlstore.WithQueryLog(cfg.LogQueries))
	return backend{store: store, db: db}, nil
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if migrate && b.db != nil {
				if err := migrations.Run(ctx, b.db); err != nil {
					return err
				}
			}
			db := orm.New(b.store, orm.WithQueryLog(cfg.LogQueries))
			if err := seed.Reference(ctx, db); err != nil {
				return err
			}

			publisher, err := newPublisher(cfg)
			if err != nil {
				return err
			}
			defer publisher.Close()

			handler := api.New(api.Options{
				DB:             db,
				Secret:         cfg.Secret,
				TokenTTL:       cfg.TokenTTL,
				WebhookSecret:  cfg.WebhookSecret,
				Events:         publisher,
				AuthLimiter:    newLimiter(cfg, "auth", cfg.RateLimits.Auth),
				APILimiter:     newLimiter(cfg, "api", cfg.RateLimits.API),
				WebhookLimiter: newLimiter(cfg, "webhook", cfg.RateLimits.Webhook),
			})

			srv := &http.Server{
				Addr:              ":" + cfg.HTTPPort,
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Printf("MedEasy pharmacy server starting on :%s (rowstore %s)", cfg.HTTPPort, cfg.RowStore)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}
			log.Println("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "create missing tables before serving (SQL row stores only)")
	return cmd
}

func newPublisher(cfg config.Config) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NewLogPublisher(log.Default()), nil
	}
	p, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// newLimiter shares counters through Redis when it is configured, so every
// replica enforces the same budget.
func newLimiter(cfg config.Config, name string, l config.Limit) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewLocal(l.Requests, l.Window)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return ratelimit.NewRedis(client, name, l.Requests, l.Window)
}

func migrateCmd() *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema in the configured SQL database",
		Long: "Create the schema in the configured SQL database. With --print the DDL for\n" +
			"the given dialect is written to stdout instead, e.g. to apply it behind a REST row store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dialect != "" {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(migrations.Statements(dialect), ";\n\n")+";")
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.RowStore == "rest" {
				return errors.New("the rest row store cannot run DDL; use --print and apply it to the database")
			}
			b, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer b.Close()
			return migrations.Run(cmd.Context(), b.db)
		},
	}
	cmd.Flags().StringVar(&dialect, "print", "", "print the schema for a dialect (sqlite or mysql) and exit")
	return cmd
}

func seedCmd() *cobra.Command {
	var catalog string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference data and the medicine catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx := cmd.Context()
			db := orm.New(b.store, orm.WithQueryLog(cfg.LogQueries))
			if err := seed.Reference(ctx, db); err != nil {
				return err
			}
			if catalog == "" {
				catalog = cfg.CatalogCSV
			}
			if catalog == "" {
				log.Println("no catalog file given, skipping medicines")
				return nil
			}
			_, err = seed.LoadMedicinesFile(ctx, db, catalog)
			return err
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "medicine catalog CSV (defaults to CATALOG_CSV)")
	return cmd
}

func tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the schema",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, t := range migrations.Tables() {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
		},
	}
}
