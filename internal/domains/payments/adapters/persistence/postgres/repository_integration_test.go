//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/domains/payments/domain"
	"github.com/Apurer/order-saga/internal/domains/payments/ports"
	"github.com/Apurer/order-saga/internal/platform/migrations"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

func setupPaymentContainer(t *testing.T) (*gorm.DB, func()) {
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("payments_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db))

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		pgContainer.Terminate(ctx)
	}
	return db, cleanup
}

func TestPostgresRepository_PaymentLifecycle(t *testing.T) {
	db, cleanup := setupPaymentContainer(t)
	defer cleanup()
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	p, err := domain.NewPayment("O1", "C1", decimal.RequireFromString("42.50"), "QAR", now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, p))
	assert.EqualValues(t, 1, p.Version)

	dup, err := domain.NewPayment("O1", "C1", decimal.RequireFromString("42.50"), "QAR", now)
	require.NoError(t, err)
	require.ErrorIs(t, repo.Create(ctx, dup), ports.ErrAlreadyExists)

	require.NoError(t, p.Authorize("sbx_auth_1", now))
	require.NoError(t, repo.Update(ctx, p))
	require.NoError(t, p.Capture(now))
	require.NoError(t, repo.Update(ctx, p))

	got, err := repo.GetByOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, got.Status)
	assert.Equal(t, "sbx_auth_1", got.ExternalRef)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("42.50")))
	require.NotNil(t, got.CapturedAt)
	assert.EqualValues(t, 3, got.Version)
}

func TestPostgresRepository_PaymentVersionConflict(t *testing.T) {
	db, cleanup := setupPaymentContainer(t)
	defer cleanup()
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := domain.NewPayment("O2", "C1", decimal.NewFromInt(10), "QAR", now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, p))

	stale := p.Clone()
	require.NoError(t, p.Fail("declined", now))
	require.NoError(t, repo.Update(ctx, p))

	require.NoError(t, stale.Authorize("sbx_auth_2", now))
	require.ErrorIs(t, repo.Update(ctx, stale), faults.ErrConcurrentUpdate)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, ports.ErrNotFound)
}
