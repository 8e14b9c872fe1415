package repository

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/db"
)

const (
	maxTxRetries         = 3
	serializationFailure = "40001"
)

// withTransaction runs fn inside a transaction bound to ctx, retrying
// up to maxTxRetries times with jittered backoff on a serialization
// failure, per spec.md §4.3a's retry policy. Any other error surfaces
// immediately.
func (r *Repository) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxTxRetries; attempt++ {
		txCtx, tx, err := db.WithTx(ctx)
		if err != nil {
			return coreerrors.Wrap(coreerrors.InternalError, err, "opening transaction")
		}

		fnErr := fn(txCtx)
		if fnErr == nil {
			if cerr := tx.Commit(ctx); cerr != nil {
				fnErr = coreerrors.Wrap(coreerrors.InternalError, cerr, "commit transaction")
			} else {
				return nil
			}
		}

		_ = tx.Rollback(ctx)

		if !isSerializationFailure(fnErr) {
			return fnErr
		}
		lastErr = fnErr
		if attempt == maxTxRetries {
			break
		}
		r.log.Warn().Int("attempt", attempt+1).Err(fnErr).Msg("retrying after serialization failure")
		time.Sleep(jitteredBackoff(attempt))
	}
	return coreerrors.Wrap(coreerrors.InternalError, lastErr, "exhausted %d transaction retries", maxTxRetries)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == serializationFailure
	}
	return false
}

func jitteredBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return base + jitter
}
