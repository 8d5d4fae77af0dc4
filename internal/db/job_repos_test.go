package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"eventbell/internal/types"
)

func TestJobLockRepository_Acquire(t *testing.T) {
	ctx := context.Background()

	t.Run("acquired", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
			return strings.Contains(sql, "WHERE job_locks.expires_at < $3")
		}), mock.MatchedBy(func(args []any) bool {
			locked := args[2].(time.Time)
			expires := args[3].(time.Time)
			return args[0] == "dispatch_due:2025-12-10T05:00:00Z" &&
				args[1] == "worker-1" &&
				expires.Sub(locked) == 4*time.Minute
		})).Return(cmdTag("INSERT 0 1"), nil)

		ok, err := NewJobLockRepository(db).Acquire(ctx, "dispatch_due:2025-12-10T05:00:00Z", "worker-1", 4*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		db.AssertExpectations(t)
	})

	t.Run("held by another worker", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", ctx, mock.Anything, mock.Anything).Return(cmdTag("INSERT 0 0"), nil)

		ok, err := NewJobLockRepository(db).Acquire(ctx, "lock", "worker-2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("db error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", ctx, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("down"))

		_, err := NewJobLockRepository(db).Acquire(ctx, "lock", "worker-2", time.Minute)
		assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
	})
}

func TestJobHistoryRepository(t *testing.T) {
	ctx := context.Background()

	db := new(mockDBTX)
	db.On("QueryRow", ctx, mock.Anything, []any{"rollover_usage"}).Return(rowOf(int64(17)))
	db.On("Exec", ctx, mock.Anything, mock.MatchedBy(func(args []any) bool {
		msg, ok := args[3].(*string)
		return args[0] == int64(17) && args[1] == "failed" && args[2] == 3 && ok && *msg == "boom"
	})).Return(cmdTag("UPDATE 1"), nil).Once()
	db.On("Exec", ctx, mock.Anything, mock.MatchedBy(func(args []any) bool {
		return args[0] == int64(18)
	})).Return(cmdTag("UPDATE 0"), nil).Once()

	repo := NewJobHistoryRepository(db)
	id, err := repo.Start(ctx, "rollover_usage")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	require.NoError(t, repo.Finish(ctx, id, "failed", 3, errors.New("boom")))

	err = repo.Finish(ctx, 18, "success", 0, nil)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalUnexpected))
}
