package chat

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisTransportConfig configures the Redis Pub/Sub transport implementation.
type RedisTransportConfig struct {
	Addr          string
	Addrs         []string
	Username      string
	Password      string
	ChannelPrefix string
	Logger        *slog.Logger
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Buffer        int
	PoolSize      int
	MasterName    string
	TLS           RedisTLSConfig
}

// NewRedisTransport initialises a transport backed by Redis Pub/Sub. Every
// subscriber of a channel receives every broadcast, which matches the
// widget's requirement that the sender's own other sessions see their sends.
// Reconnection after connection loss is go-redis's responsibility.
func NewRedisTransport(cfg RedisTransportConfig) (*RedisTransport, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.ChannelPrefix)
	if prefix == "" {
		prefix = "hostelhub:chat:"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTransport{
		client: client,
		prefix: prefix,
		logger: logger,
		buffer: cfg.Buffer,
	}, nil
}

// RedisTransport distributes broadcasts through Redis Pub/Sub channels.
type RedisTransport struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
	buffer int
}

func (t *RedisTransport) Subscribe(ctx context.Context, channelID string) (Subscription, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, errors.New("channel id is required")
	}
	pubsub := t.client.Subscribe(ctx, t.prefix+channelID)
	// Wait for the subscription to be confirmed so callers observe a live
	// stream once Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe channel %s: %w", channelID, err)
	}
	sub := &redisSubscription{
		transport: t,
		channel:   channelID,
		pubsub:    pubsub,
		ch:        make(chan Broadcast, t.buffer),
	}
	go sub.run()
	return sub, nil
}

func (t *RedisTransport) Publish(ctx context.Context, channelID string, payload Broadcast) error {
	if strings.TrimSpace(channelID) == "" {
		return errors.New("channel id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	return t.client.Publish(ctx, t.prefix+channelID, data).Err()
}

// Close releases the underlying Redis client. Subscriptions created from the
// transport stop receiving events once the client closes.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

type redisSubscription struct {
	transport *RedisTransport
	channel   string
	pubsub    *redis.PubSub

	once sync.Once
	ch   chan Broadcast
}

func (s *redisSubscription) Events() <-chan Broadcast {
	return s.ch
}

func (s *redisSubscription) Close() {
	s.once.Do(func() {
		if err := s.pubsub.Close(); err != nil && s.transport.logger != nil {
			s.transport.logger.Warn("redis subscription close failed", "channel", s.channel, "error", err)
		}
	})
}

func (s *redisSubscription) run() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		var payload Broadcast
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			if s.transport.logger != nil {
				s.transport.logger.Debug("dropping undecodable broadcast", "channel", s.channel, "error", err)
			}
			continue
		}
		select {
		case s.ch <- payload:
		default:
			// Drop when the consumer is not draining; chat is
			// best-effort and must never block the transport reader.
		}
	}
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
