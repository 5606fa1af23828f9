package authflow_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-social-connect/exchange/authflow"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := authflow.NewInMemoryRepo(15*time.Minute, func() time.Time { return now })

	t.Run("take is single use", func(t *testing.T) {
		require.NoError(t, repo.Upsert("s1", &authflow.State{Platform: "youtube", CodeVerifier: "v1"}))
		got, err := repo.Take("s1")
		require.NoError(t, err)
		require.Equal(t, "v1", got.CodeVerifier)
		require.Equal(t, now, got.CreatedAt)

		_, err = repo.Take("s1")
		require.ErrorIs(t, err, errors.ErrInvalidState)
	})

	t.Run("expired state is rejected", func(t *testing.T) {
		require.NoError(t, repo.Upsert("s2", &authflow.State{CodeVerifier: "v2", CreatedAt: now.Add(-16 * time.Minute)}))
		_, err := repo.Take("s2")
		require.ErrorIs(t, err, errors.ErrInvalidState)
	})

	t.Run("validation", func(t *testing.T) {
		require.Error(t, repo.Upsert("", &authflow.State{}))
		require.Error(t, repo.Upsert("s3", nil))
		_, err := repo.Take("")
		require.ErrorIs(t, err, errors.ErrInvalidState)
	})
}
