package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loomchat/loom/internal/keyserver"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "loomkeyd",
		Short:         "Key directory server for loom clients",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("postgres", "", "postgres DSN, in-memory storage when empty")
	cmd.Flags().String("redis", "", "redis address for cross-replica claim locks")
	cmd.Flags().String("log-level", "info", "log level")

	viper.SetEnvPrefix("loomkeyd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(cmd.Flags())

	return cmd
}

func run(ctx context.Context) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(level)

	store, closeStore, err := openStore(ctx, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var rdb *redis.Client
	if addr := viper.GetString("redis"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		defer rdb.Close()
		log.WithField("addr", addr).Info("claim locks via redis")
	}

	srv := &http.Server{
		Addr:              viper.GetString("addr"),
		Handler:           keyserver.NewServer(store, rdb, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("directory listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, log *logrus.Logger) (keyserver.Store, func(), error) {
	dsn := viper.GetString("postgres")
	if dsn == "" {
		log.Warn("no postgres DSN, using in-memory storage")
		return keyserver.NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	store := keyserver.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("postgres storage ready")
	return store, func() { db.Close() }, nil
}
