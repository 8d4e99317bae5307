// Command server starts the HostelHub messages service: the history and
// send-persistence API the chat widget reconciles against.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hostelhub/internal/api"
	"hostelhub/internal/auth"
	"hostelhub/internal/chat"
	"hostelhub/internal/models"
	"hostelhub/internal/observability/logging"
	"hostelhub/internal/observability/metrics"
	"hostelhub/internal/server"
	"hostelhub/internal/storage"
)

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(*kv))
	for key, value := range *kv {
		parts = append(parts, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid format %q, expected id=label", value)
	}
	id := strings.TrimSpace(parts[0])
	if id == "" {
		return fmt.Errorf("channel id is required")
	}
	if *kv == nil {
		*kv = make(map[string]string)
	}
	(*kv)[id] = strings.TrimSpace(parts[1])
	return nil
}

func envOr(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envDurationOr(name string, fallback time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envIntOr(name string, fallback int) int {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	channels := keyValueFlag{}
	flag.Var(&channels, "channel", "channel registry entry as id=label (repeatable)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  envOr("HOSTELHUB_LOG_LEVEL", valueOr(*logLevel, "info")),
		Format: envOr("HOSTELHUB_LOG_FORMAT", valueOr(*logFormat, "json")),
	})

	listenAddr := valueOr(*addr, envOr("HOSTELHUB_ADDR", ":8080"))
	driver := strings.ToLower(valueOr(*storageDriver, envOr("HOSTELHUB_STORAGE_DRIVER", "json")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, driver, repositoryOptions{
		dataPath:        valueOr(*dataPath, envOr("HOSTELHUB_DATA", "data/hostelhub.json")),
		dsn:             valueOr(*postgresDSN, envOr("HOSTELHUB_POSTGRES_DSN", "")),
		maxConns:        int32(valueIntOr(*postgresMaxConns, envIntOr("HOSTELHUB_POSTGRES_MAX_CONNS", 0))),
		minConns:        int32(valueIntOr(*postgresMinConns, envIntOr("HOSTELHUB_POSTGRES_MIN_CONNS", 0))),
		maxConnLifetime: valueDurationOr(*postgresMaxConnLifetime, envDurationOr("HOSTELHUB_POSTGRES_MAX_CONN_LIFETIME", 0)),
		maxConnIdle:     valueDurationOr(*postgresMaxConnIdle, envDurationOr("HOSTELHUB_POSTGRES_MAX_CONN_IDLE", 0)),
		healthInterval:  valueDurationOr(*postgresHealthInterval, envDurationOr("HOSTELHUB_POSTGRES_HEALTH_INTERVAL", 0)),
		acquireTimeout:  valueDurationOr(*postgresAcquireTimeout, envDurationOr("HOSTELHUB_POSTGRES_ACQUIRE_TIMEOUT", 0)),
		appName:         valueOr(*postgresAppName, envOr("HOSTELHUB_POSTGRES_APP_NAME", "hostelhub-server")),
	})
	if err != nil {
		logger.Error("datastore setup failed", "driver", driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.Close(closeCtx); err != nil {
			logger.Warn("datastore close failed", "error", err)
		}
	}()

	registry := chat.NewRegistry(registryChannels(channels))
	if registry.Len() == 0 {
		logger.Error("channel registry is empty; pass at least one -channel id=label")
		os.Exit(1)
	}

	handler := &api.Handler{
		Repo:     repo,
		Registry: registry,
		Verifier: auth.NewVerifier(repo),
		Logger:   logging.WithComponent(logger, "api"),
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: valueOr(*tlsCert, envOr("HOSTELHUB_TLS_CERT", "")),
			KeyFile:  valueOr(*tlsKey, envOr("HOSTELHUB_TLS_KEY", "")),
		},
		Logger:          logging.WithComponent(logger, "http"),
		Metrics:         metrics.Default(),
		ShutdownTimeout: valueDurationOr(*shutdownTimeout, envDurationOr("HOSTELHUB_SHUTDOWN_TIMEOUT", 0)),
	})
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("messages service starting", "addr", listenAddr, "driver", driver, "channels", registry.Len())
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("messages service stopped")
}

type repositoryOptions struct {
	dataPath        string
	dsn             string
	maxConns        int32
	minConns        int32
	maxConnLifetime time.Duration
	maxConnIdle     time.Duration
	healthInterval  time.Duration
	acquireTimeout  time.Duration
	appName         string
}

func openRepository(ctx context.Context, driver string, opts repositoryOptions) (storage.Repository, error) {
	switch driver {
	case "json":
		return storage.NewJSONRepository(opts.dataPath)
	case "postgres":
		return storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:                 opts.dsn,
			MaxConnections:      opts.maxConns,
			MinConnections:      opts.minConns,
			MaxConnLifetime:     opts.maxConnLifetime,
			MaxConnIdleTime:     opts.maxConnIdle,
			HealthCheckInterval: opts.healthInterval,
			AcquireTimeout:      opts.acquireTimeout,
			ApplicationName:     opts.appName,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func registryChannels(flagged keyValueFlag) []models.Channel {
	entries := map[string]string(flagged)
	if len(entries) == 0 {
		if raw := strings.TrimSpace(os.Getenv("HOSTELHUB_CHANNELS")); raw != "" {
			entries = make(map[string]string)
			for _, pair := range strings.Split(raw, ",") {
				parts := strings.SplitN(pair, "=", 2)
				if len(parts) == 2 && strings.TrimSpace(parts[0]) != "" {
					entries[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
				}
			}
		}
	}
	if len(entries) == 0 {
		return []models.Channel{
			{ID: "ops-admin", Label: "Operations"},
			{ID: "warden-admin", Label: "Warden"},
		}
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	channels := make([]models.Channel, 0, len(ids))
	for _, id := range ids {
		channels = append(channels, models.Channel{ID: id, Label: entries[id]})
	}
	return channels
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func valueIntOr(value, fallback int) int {
	if value != 0 {
		return value
	}
	return fallback
}

func valueDurationOr(value, fallback time.Duration) time.Duration {
	if value != 0 {
		return value
	}
	return fallback
}
