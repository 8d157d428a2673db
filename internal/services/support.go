package services

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/tidewatch/storefront/internal/repositories"
)

// Logger is the structured logging hook services accept; cmd/api adapts zap to it.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

func defaultIDGenerator() string {
	return ulid.Make().String()
}

func newID(generator func() string, prefix string) string {
	id := strings.TrimSpace(generator())
	if strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
