package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapWriteError(t *testing.T) {
	plain := errors.New("disk full")

	tests := []struct {
		name         string
		err          error
		wantConflict bool
	}{
		{"nil", nil, false},
		{"plain error", plain, false},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout"}, true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, false},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock wrapped", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapWriteError(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.wantConflict, errors.Is(got, aml.ErrBlacklistWriteConflict))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestRecordRoundTrip(t *testing.T) {
	added := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &aml.BlacklistEntry{
		Address: aml.MustParseAddress("0x00000000000000000000000000000000000000aa"),
		Reason:  "sanctioned",
		AddedBy: "ops",
		AddedAt: added,
	}

	rec := recordFromEntry(in)
	assert.Equal(t, "blacklist_entries", rec.TableName())
	assert.Equal(t, in.Address.String(), rec.Address)

	out := rec.entry()
	assert.Equal(t, *in, out)
}

func TestEntryFromHashCorrupt(t *testing.T) {
	addr := aml.MustParseAddress("0x00000000000000000000000000000000000000aa")
	_, err := entryFromHash(addr, map[string]string{"reason": "x", "added_ts": "nope"})
	assert.Error(t, err)

	e, err := entryFromHash(addr, map[string]string{"reason": "x", "added_by": "ops", "added_ts": "1700000000"})
	require.NoError(t, err)
	assert.Equal(t, "x", e.Reason)
	assert.Equal(t, int64(1700000000), e.AddedAt.Unix())
}

// TestRedisRepository runs against a live server when AMLWATCH_TEST_REDIS_ADDR is set.
func TestRedisRepository(t *testing.T) {
	addr := os.Getenv("AMLWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AMLWATCH_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	prefix := fmt.Sprintf("amlwatch-test:%d", time.Now().UnixNano())
	repo := NewRedisRepositoryFromClient(rdb, prefix)
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		_ = repo.Close()
	})

	a := aml.MustParseAddress("0x00000000000000000000000000000000000000aa")
	b := aml.MustParseAddress("0x00000000000000000000000000000000000000bb")

	got, err := repo.Get(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, addr := range []aml.Address{b, a} {
		require.NoError(t, repo.Upsert(ctx, &aml.BlacklistEntry{
			Address: addr, Reason: "test", AddedBy: "ops", AddedAt: time.Unix(1700000000, 0).UTC(),
		}))
	}

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].Address)

	require.NoError(t, repo.Delete(ctx, a))
	require.NoError(t, repo.Delete(ctx, a))
	got, err = repo.Get(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, got)
}
