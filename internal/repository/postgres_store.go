package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// Postgres SQLSTATEs that mean the batch lost a race with another writer.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// NewPostgresStore builds the authoritative store over a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Repositories: repositoriesOn(pool),
		Batches:      &pgBatcher{pool: pool},
	}
}

func repositoriesOn(db querier) Repositories {
	return Repositories{
		Sanctions: NewSanctionRepository(db),
		Sessions:  NewSessionRepository(db),
		Profiles:  NewProfileRepository(db),
		Roles:     NewRoleRepository(db),
		Warnings:  NewWarningRepository(db),
		Audit:     NewAuditRepository(db),
	}
}

type pgBatcher struct {
	pool *pgxpool.Pool
}

func (b *pgBatcher) RunBatch(ctx context.Context, fn func(tx Repositories) error) error {
	err := pgx.BeginTxFunc(ctx, b.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(repositoriesOn(tx))
	})
	return mapConflict(err)
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateUniqueViolation:
			return apperrors.NewConcurrentModification("batch conflicted with a concurrent write", err)
		}
	}
	return err
}
