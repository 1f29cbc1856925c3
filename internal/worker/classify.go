package worker

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/prereq"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// isTransient reports whether a job failure is worth retrying. Domain errors
// are final: retrying an unknown kind or a missing row reproduces the same
// answer. Timeouts and connection-level failures are retried; unclassified
// errors default to retryable with the attempt ceiling bounding the damage.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, content.ErrUnknownKind),
		errors.Is(err, tenant.ErrNotFound),
		errors.Is(err, prereq.ErrNotFound),
		errors.Is(err, prereq.ErrCycle),
		errors.Is(err, errMalformedJob):
		return false
	}

	// Cancellation means shutdown, not a storage fault. The worker hands
	// interrupted jobs back before classification; anything still reaching
	// here is final.
	if errors.Is(err, context.Canceled) {
		return false
	}
	// A job that ran out of its wall-clock budget is retryable by contract.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions. 40001/40P01: serialization
		// failure and deadlock, both safe to replay.
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "40001" ||
			pgErr.Code == "40P01"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return true
}
