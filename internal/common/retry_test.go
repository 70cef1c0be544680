package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deknijf/documentstore/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
		ShouldRetry:  IsRetryable,
	}
}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		errs         []error
		name         string
		wantAttempts int
		wantErr      bool
		wantMaxRetry bool
	}{
		{
			name:         "succeeds first time",
			errs:         []error{nil},
			wantAttempts: 1,
		},
		{
			name:         "retries 503 then succeeds",
			errs:         []error{&StatusError{Provider: "test", StatusCode: 503}, nil},
			wantAttempts: 2,
		},
		{
			name:         "429 exhausts attempts",
			errs:         []error{&StatusError{StatusCode: 429}, &StatusError{StatusCode: 429}, &StatusError{StatusCode: 429}},
			wantAttempts: 3,
			wantErr:      true,
			wantMaxRetry: true,
		},
		{
			name:         "400 is not retried",
			errs:         []error{&StatusError{StatusCode: 400}},
			wantAttempts: 1,
			wantErr:      true,
		},
		{
			name:         "explicit non-retryable",
			errs:         []error{&RetryableError{Err: errors.New("boom"), Retryable: false}},
			wantAttempts: 1,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := WithRetry(context.Background(), func() error {
				e := tt.errs[attempts]
				attempts++
				return e
			}, fastRetry())

			assert.Equal(t, tt.wantAttempts, attempts)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantMaxRetry, errors.Is(err, ErrMaxRetries))
		})
	}
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := fastRetry()
	opts.InitialDelay = time.Second

	attempts := 0
	err := WithRetry(ctx, func() error {
		attempts++
		cancel()
		return &StatusError{StatusCode: 500}
	}, opts)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 409, 429, 500, 502, 503} {
		assert.True(t, IsRetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		assert.False(t, IsRetryableStatus(code), "status %d", code)
	}
}
