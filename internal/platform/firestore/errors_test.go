package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tidewatch/storefront/internal/platform/config"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range tests {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("orders.get", status.Error(tc.code, "boom"))
			var repoErr *Error
			require.True(t, errors.As(err, &repoErr))
			assert.Equal(t, tc.notFound, repoErr.IsNotFound())
			assert.Equal(t, tc.conflict, repoErr.IsConflict())
			assert.Equal(t, tc.unavailable, repoErr.IsUnavailable())
			assert.Contains(t, err.Error(), "orders.get")
		})
	}
}

func TestWrapErrorPassesThrough(t *testing.T) {
	assert.NoError(t, WrapError("op", nil))
	assert.ErrorIs(t, WrapError("op", context.Canceled), context.Canceled)
	assert.ErrorIs(t, WrapError("op", status.Error(codes.DeadlineExceeded, "slow")), context.DeadlineExceeded)

	sentinel := errors.New("insufficient balance")
	assert.ErrorIs(t, WrapError("transaction", fmt.Errorf("apply: %w", sentinel)), sentinel)

	conflict := Conflict("credits.apply", "duplicate transaction")
	assert.Same(t, conflict, WrapError("transaction", conflict))
}

func TestNotFoundHelper(t *testing.T) {
	err := NotFound("carts.get", "cart")
	var repoErr *Error
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsNotFound())
	assert.EqualError(t, err, "carts.get: cart not found")
}

func TestProviderRequiresProjectAndClose(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{})
	_, err := p.Client(context.Background())
	assert.Error(t, err)

	require.NoError(t, p.Close(context.Background()))
	_, err = p.Client(context.Background())
	assert.ErrorIs(t, err, ErrProviderClosed)
}
