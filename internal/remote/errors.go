package remote

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// errBreakerOpen is joined into RemoteUnreachable when calls are shed.
var errBreakerOpen = errors.New("circuit breaker open")

// IsTransient reports whether err means the store could not be reached, as
// opposed to the store answering with a result the caller must handle.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == "REMOTE_UNREACHABLE"
	}
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, redis.Nil) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, 53 insufficient resources and
		// 57P0x operator intervention such as shutdown.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "57P0")
	}
	return true
}
