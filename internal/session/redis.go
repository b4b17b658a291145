package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rotiride/orderd/internal/config"
	"github.com/rotiride/orderd/internal/observability"
)

// backendTracerName is the OpenTelemetry tracer name for durable-store operations.
const backendTracerName = "orderd/session"

// Redis key layout: one hash per session plus a sorted-set index scored by
// expiry, so DeleteExpired is a range scan instead of a keyspace walk.
const (
	sessionKeyPrefix = "session:"
	expiryIndexKey   = "sessions:by-expiry"
)

// redisBackend implements Backend on Redis.
type redisBackend struct {
	client    *redis.Client
	keyPrefix string
	logger    observability.Logger
}

// NewRedisBackend connects to Redis and returns a durable session backend.
// A failed connection is returned as ErrConnectionFailed; the caller treats
// it as fatal at startup.
func NewRedisBackend(cfg *config.RedisConfig, logger observability.Logger) (Backend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	b := &redisBackend{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}

	logger.Info("redis session backend initialized",
		observability.String("keyPrefix", cfg.KeyPrefix))

	return b, nil
}

// NewRedisBackendWithClient wraps an existing client. Used by tests.
func NewRedisBackendWithClient(client *redis.Client, keyPrefix string, logger observability.Logger) Backend {
	return &redisBackend{client: client, keyPrefix: keyPrefix, logger: logger}
}

func (b *redisBackend) sessionKey(token string) string {
	return b.keyPrefix + sessionKeyPrefix + token
}

func (b *redisBackend) indexKey() string {
	return b.keyPrefix + expiryIndexKey
}

// Upsert inserts or replaces a record and its expiry-index entry.
func (b *redisBackend) Upsert(ctx context.Context, rec Record) error {
	ctx, span := otel.Tracer(backendTracerName).Start(ctx, "session.Upsert",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "redis")),
	)
	defer span.End()

	if rec.Token == "" || rec.UserID == "" {
		return errors.New("session record missing token or user id")
	}

	fields := map[string]interface{}{
		"user_id":       rec.UserID,
		"email":         rec.Email,
		"phone":         rec.Phone,
		"name":          rec.Name,
		"picture":       rec.Picture,
		"id_token":      rec.IDToken,
		"refresh_token": rec.RefreshToken,
		"expires_at":    rec.ExpiresAt.Unix(),
		"created_at":    rec.CreatedAt.Unix(),
		"last_activity": rec.LastActivityAt.Unix(),
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.sessionKey(rec.Token), fields)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{
		Score:  float64(rec.ExpiresAt.Unix()),
		Member: rec.Token,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("session upsert failed: %w", err)
	}
	return nil
}

// Fetch returns the record for the token, or ErrNotFound.
func (b *redisBackend) Fetch(ctx context.Context, token string) (Record, error) {
	ctx, span := otel.Tracer(backendTracerName).Start(ctx, "session.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "redis")),
	)
	defer span.End()

	fields, err := b.client.HGetAll(ctx, b.sessionKey(token)).Result()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return Record{}, fmt.Errorf("session fetch failed: %w", err)
	}
	if len(fields) == 0 {
		span.SetAttributes(attribute.Bool("session.found", false))
		return Record{}, ErrNotFound
	}

	rec, err := recordFromFields(token, fields)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}
	return rec, nil
}

// UpdateActivity sets the last-activity timestamp of an existing record.
// Updating an absent token is a no-op.
func (b *redisBackend) UpdateActivity(ctx context.Context, token string, at time.Time) error {
	key := b.sessionKey(token)

	exists, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("session activity update failed: %w", err)
	}
	if exists == 0 {
		return nil
	}

	if err := b.client.HSet(ctx, key, "last_activity", at.Unix()).Err(); err != nil {
		return fmt.Errorf("session activity update failed: %w", err)
	}
	return nil
}

// Delete removes a record and its index entry. Idempotent.
func (b *redisBackend) Delete(ctx context.Context, token string) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.sessionKey(token))
	pipe.ZRem(ctx, b.indexKey(), token)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session delete failed: %w", err)
	}
	return nil
}

// DeleteExpired removes every record expiring strictly before the given time.
func (b *redisBackend) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	ctx, span := otel.Tracer(backendTracerName).Start(ctx, "session.DeleteExpired",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "redis")),
	)
	defer span.End()

	// ZRANGEBYSCORE is inclusive; "(<score>" excludes records expiring
	// exactly at the boundary, matching expires_at < before.
	max := "(" + strconv.FormatInt(before.Unix(), 10)

	tokens, err := b.client.ZRangeByScore(ctx, b.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return 0, fmt.Errorf("session sweep scan failed: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	pipe := b.client.TxPipeline()
	for _, token := range tokens {
		pipe.Del(ctx, b.sessionKey(token))
	}
	pipe.ZRemRangeByScore(ctx, b.indexKey(), "-inf", max)

	if _, err := pipe.Exec(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return 0, fmt.Errorf("session sweep delete failed: %w", err)
	}

	span.SetAttributes(attribute.Int("session.swept", len(tokens)))
	return len(tokens), nil
}

// Ping reports whether Redis is reachable.
func (b *redisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *redisBackend) Close() error {
	return b.client.Close()
}

// recordFromFields decodes a Redis hash into a Record.
func recordFromFields(token string, fields map[string]string) (Record, error) {
	expiresAt, err := parseUnix(fields["expires_at"])
	if err != nil {
		return Record{}, fmt.Errorf("corrupt session %q: %w", token, err)
	}
	createdAt, err := parseUnix(fields["created_at"])
	if err != nil {
		return Record{}, fmt.Errorf("corrupt session %q: %w", token, err)
	}
	lastActivity, err := parseUnix(fields["last_activity"])
	if err != nil {
		return Record{}, fmt.Errorf("corrupt session %q: %w", token, err)
	}

	return Record{
		Token:          token,
		UserID:         fields["user_id"],
		Email:          fields["email"],
		Phone:          fields["phone"],
		Name:           fields["name"],
		Picture:        fields["picture"],
		IDToken:        fields["id_token"],
		RefreshToken:   fields["refresh_token"],
		ExpiresAt:      expiresAt,
		CreatedAt:      createdAt,
		LastActivityAt: lastActivity,
	}, nil
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return time.Unix(sec, 0).UTC(), nil
}
