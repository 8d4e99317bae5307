package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hostelhub/internal/models"
)

// PostgresConfig tunes the Postgres-backed repository and its connection
// pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

// PostgresRepository stores messages and API tokens in Postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migration so a fresh database is usable immediately.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

// EnsureSchema applies the idempotent schema migration for the messages
// service.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chat_messages_channel_created_idx
			ON chat_messages (channel_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS api_tokens (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL,
			salt TEXT NOT NULL,
			secret_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	query := `SELECT id, channel_id, sender_id, body, created_at
		FROM chat_messages WHERE channel_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			id        string
			msg       models.Message
			createdAt time.Time
		)
		if err := rows.Scan(&id, &msg.ChannelID, &msg.SenderID, &msg.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ID = models.ParseMessageID(id)
		msg.CreatedAt = createdAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return tailMessages(messages, limit), nil
}

func (r *PostgresRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (models.Message, error) {
	msg, err := buildMessage(params)
	if err != nil {
		return models.Message{}, err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, channel_id, sender_id, body, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
		msg.ID.String(), msg.ChannelID, msg.SenderID, msg.Body, msg.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (r *PostgresRepository) InsertToken(ctx context.Context, token models.APIToken) error {
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("token id is required")
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO api_tokens (id, label, user_id, salt, secret_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.Label, token.UserID, token.Salt, token.SecretHash, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LookupToken(ctx context.Context, id string) (models.APIToken, bool, error) {
	var token models.APIToken
	err := r.pool.QueryRow(ctx,
		`SELECT id, label, user_id, salt, secret_hash, created_at FROM api_tokens WHERE id = $1`, id).
		Scan(&token.ID, &token.Label, &token.UserID, &token.Salt, &token.SecretHash, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.APIToken{}, false, nil
		}
		return models.APIToken{}, false, fmt.Errorf("lookup token: %w", err)
	}
	token.CreatedAt = token.CreatedAt.UTC()
	return token, true, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
