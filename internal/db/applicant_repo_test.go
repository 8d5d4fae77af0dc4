package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"eventbell/internal/types"
)

func TestApplicantRepository_Upsert(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	now := time.Now().UTC()

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT (tenant_id, chat_user_id) DO UPDATE")
	}), mock.MatchedBy(func(args []any) bool {
		return args[0] == "t1" && args[1] == "U1" && args[2] == (*string)(nil) && args[3] == true
	})).Return(rowOf("Hanako", now, now))

	a := &types.Applicant{TenantID: "t1", ChatUserID: "U1", Consent: true}
	require.NoError(t, NewApplicantRepository(db).Upsert(ctx, a))
	assert.Equal(t, "Hanako", a.DisplayName, "stored display name is kept when none is supplied")
	db.AssertExpectations(t)
}

func TestApplicantRepository_Get(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.Anything, []any{"t1", "U1"}).Return(rowOf("t1", "U1", "Hanako", false, now, now))

		a, err := NewApplicantRepository(db).Get(ctx, "t1", "U1")
		require.NoError(t, err)
		assert.False(t, a.Consent)
	})

	t.Run("not found", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

		_, err := NewApplicantRepository(db).Get(ctx, "t1", "U1")
		assert.True(t, types.HasCode(err, types.ErrCodeNotFoundApplicant))
	})
}

func TestApplicantRepository_SetConsent(t *testing.T) {
	ctx := context.Background()

	db := new(mockDBTX)
	db.On("Exec", ctx, mock.Anything, []any{"t1", "U1", false}).Return(cmdTag("INSERT 0 1"), nil)
	require.NoError(t, NewApplicantRepository(db).SetConsent(ctx, "t1", "U1", false))

	failing := new(mockDBTX)
	failing.On("Exec", ctx, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("down"))
	err := NewApplicantRepository(failing).SetConsent(ctx, "t1", "U1", true)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}
