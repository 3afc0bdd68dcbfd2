package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWithRetry_RetriesSerializationFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, func() error {
		attempts++
		return &pgconn.PgError{Code: "40P01"}
	})
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_DoesNotRetryOtherErrors(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := WithRetry(context.Background(), RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond}, func() error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, RetryPolicy{MaxRetries: 5, BaseDelay: time.Second}, func() error {
		return &pgconn.PgError{Code: "40001"}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
