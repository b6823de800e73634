package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisRepository stores each entry as a hash under <prefix>:<address> and
// keeps the set of listed addresses under <prefix>:index.
type RedisRepository struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRepository connects to Redis and verifies the connection
func NewRedisRepository(cfg *config.Config) (*RedisRepository, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisRepositoryFromClient(rdb, cfg.RedisKeyPrefix), nil
}

// NewRedisRepositoryFromClient wraps an existing client
func NewRedisRepositoryFromClient(rdb *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "amlwatch:blacklist"
	}
	return &RedisRepository{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection
func (r *RedisRepository) Close() error {
	return r.rdb.Close()
}

// Ping verifies connectivity for readiness checks
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisRepository) entryKey(address aml.Address) string {
	return r.prefix + ":" + address.String()
}

func (r *RedisRepository) indexKey() string {
	return r.prefix + ":index"
}

func (r *RedisRepository) Get(ctx context.Context, address aml.Address) (*aml.BlacklistEntry, error) {
	fields, err := r.rdb.HGetAll(ctx, r.entryKey(address)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	entry, err := entryFromHash(address, fields)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Upsert writes the entry inside a WATCH transaction; a concurrent writer on
// the same key aborts it with aml.ErrBlacklistWriteConflict.
func (r *RedisRepository) Upsert(ctx context.Context, entry *aml.BlacklistEntry) error {
	key := r.entryKey(entry.Address)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"reason", entry.Reason,
				"added_by", entry.AddedBy,
				"added_ts", entry.AddedAt.Unix(),
			)
			pipe.SAdd(ctx, r.indexKey(), entry.Address.String())
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s", aml.ErrBlacklistWriteConflict, entry.Address)
	}
	return err
}

func (r *RedisRepository) Delete(ctx context.Context, address aml.Address) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.entryKey(address))
		pipe.SRem(ctx, r.indexKey(), address.String())
		return nil
	})
	return err
}

func (r *RedisRepository) List(ctx context.Context) ([]aml.BlacklistEntry, error) {
	members, err := r.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)

	entries := make([]aml.BlacklistEntry, 0, len(members))
	for _, m := range members {
		entry, err := r.Get(ctx, aml.Address(m))
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

func entryFromHash(address aml.Address, fields map[string]string) (aml.BlacklistEntry, error) {
	ts, err := strconv.ParseInt(fields["added_ts"], 10, 64)
	if err != nil {
		return aml.BlacklistEntry{}, fmt.Errorf("corrupt blacklist hash for %s: added_ts: %w", address, err)
	}
	return aml.BlacklistEntry{
		Address: address,
		Reason:  fields["reason"],
		AddedBy: fields["added_by"],
		AddedAt: time.Unix(ts, 0).UTC(),
	}, nil
}
