//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging/consumer"
	"github.com/Apurer/order-saga/internal/platform/migrations"
	platformpostgres "github.com/Apurer/order-saga/internal/platform/postgres"
)

func setupSeenStoreContainer(t *testing.T) (*gorm.DB, func()) {
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("saga_test"),
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

func seen(eventID, hash string, at time.Time) consumer.SeenRecord {
	return consumer.SeenRecord{
		Group:       "payment-service",
		EventID:     eventID,
		Kind:        events.PaymentChargeRequested,
		SubjectID:   "O1",
		PayloadHash: hash,
		SeenAt:      at,
	}
}

func TestSeenStore_RememberIsFirstWriterWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, cleanup := setupSeenStoreContainer(t)
	defer cleanup()

	store := NewSeenStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, fresh, err := store.Remember(ctx, seen("evt-1", "aaa", now))
	require.NoError(t, err)
	assert.True(t, fresh)

	stored, fresh, err := store.Remember(ctx, seen("evt-1", "bbb", now))
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, "aaa", stored.PayloadHash)
}

func TestSeenStore_RollsBackWithTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, cleanup := setupSeenStoreContainer(t)
	defer cleanup()

	store := NewSeenStore(db)
	tx := platformpostgres.NewTxRunner(db)
	ctx := context.Background()

	boom := errors.New("handler failed")
	err := tx.InTx(ctx, func(ctx context.Context) error {
		_, fresh, err := store.Remember(ctx, seen("evt-1", "aaa", time.Now().UTC()))
		require.NoError(t, err)
		require.True(t, fresh)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, fresh, err := store.Remember(ctx, seen("evt-1", "aaa", time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestSeenStore_PurgeBefore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, cleanup := setupSeenStoreContainer(t)
	defer cleanup()

	store := NewSeenStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := store.Remember(ctx, seen("old", "a", now.Add(-8*24*time.Hour)))
	require.NoError(t, err)
	_, _, err = store.Remember(ctx, seen("new", "b", now))
	require.NoError(t, err)

	purged, err := store.PurgeBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, fresh, err := store.Remember(ctx, seen("new", "b", now))
	require.NoError(t, err)
	assert.False(t, fresh)
}
