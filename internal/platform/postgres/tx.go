package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/shared/txn"
)

type txKey struct{}

// WithTx stores an open transaction on the context so repositories join it.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Conn returns the transaction carried by ctx, or db when there is none.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// TxRunner implements txn.Runner on top of GORM transactions.
type TxRunner struct {
	db *gorm.DB
}

// NewTxRunner wraps db. Caller manages DB lifecycle.
func NewTxRunner(db *gorm.DB) *TxRunner {
	return &TxRunner{db: db}
}

// InTx opens a transaction unless ctx already carries one, in which case fn joins it.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.db == nil {
		return errors.New("postgres transaction runner not configured")
	}
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTx(ctx, tx))
	})
}

var _ txn.Runner = (*TxRunner)(nil)
