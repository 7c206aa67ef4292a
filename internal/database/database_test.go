package database

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/Karsod58/my-clawbot/config"
)

func TestOpenSQLite(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "test.db"),
	}

	db, err := Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
	assert.NoError(t, sqlDB.Close())
}

func TestOpenEmptyDriverDefaultsToSQLite(t *testing.T) {
	cfg := config.DatabaseConfig{Name: filepath.Join(t.TempDir(), "test.db")}

	db, err := Open(cfg, nil)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Close())
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestPoolManagerAppliesLimits(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "pool.db"),
	}
	db, err := Open(cfg, nil)
	require.NoError(t, err)

	pm, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 3, MaxIdleConns: 2}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pm.Close()

	stats := pm.Stats()
	assert.Equal(t, 3, stats.MaxOpenConnections)
	assert.NoError(t, pm.Ping(t.Context()))
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "tx.db"),
	}
	db, err := Open(cfg, nil)
	require.NoError(t, err)

	pm, err := NewPoolManager(db, DefaultPoolConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pm.Close()

	type row struct {
		ID   uint
		Name string
	}
	require.NoError(t, db.AutoMigrate(&row{}))

	err = pm.WithTransaction(t.Context(), func(tx *gorm.DB) error {
		if err := tx.Create(&row{Name: "doomed"}).Error; err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&row{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithTransactionRetryRecoversFromTransientError(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "retry.db"),
	}
	db, err := Open(cfg, nil)
	require.NoError(t, err)

	pm, err := NewPoolManager(db, DefaultPoolConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pm.Close()

	attempts := 0
	err = pm.WithTransactionRetry(t.Context(), 3, func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWithTransactionRetryStopsOnPermanentError(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "retry.db"),
	}
	db, err := Open(cfg, nil)
	require.NoError(t, err)

	pm, err := NewPoolManager(db, DefaultPoolConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pm.Close()

	attempts := 0
	err = pm.WithTransactionRetry(t.Context(), 3, func(tx *gorm.DB) error {
		attempts++
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, attempts, "a non-retryable error is not retried")
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("deadlock detected")))
	assert.True(t, isRetryableError(errors.New("SQLSTATE 40001 serialization failure")))
	assert.True(t, isRetryableError(errors.New("read tcp: connection reset by peer")))
	assert.True(t, isRetryableError(errors.New("Lock wait timeout exceeded")))
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(errors.New("UNIQUE constraint failed")))
}
