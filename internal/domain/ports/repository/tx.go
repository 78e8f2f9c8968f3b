package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// TransactionManager executes a function within a database transaction,
// passing the underlying transaction handle via `tx`.
//
// Repository methods accept `tx Tx` and must gracefully accept nil
// (non-transactional path). The concrete type is infra-defined
// (pgx.Tx for Postgres).
//
// The registry relies on this to keep the job row update and the event
// log append in one transaction, which is what makes event emission
// write-ahead: a rolled-back update produces no event.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
