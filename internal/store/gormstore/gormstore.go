// Package gormstore implements store.Store on PostgreSQL through GORM.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/store"
)

const maxAttempts = 3

// SQLSTATE codes worth retrying the whole unit of work for.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to PostgreSQL using a pgx DSN or URL.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}
	return New(db, log), nil
}

func New(db *gorm.DB, log *zap.Logger) *Store {
	if db == nil {
		panic("gormstore: nil *gorm.DB")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(domain.Models()...); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithinTx runs fn in a read committed transaction. Row locks taken by
// GetMatch serialize writers of the same match; serialization failures and
// deadlocks are retried from scratch.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		s.log.Debug("retrying transaction", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (s *Store) runOnce(ctx context.Context, fn func(store.Tx) error) (err error) {
	db := s.db.WithContext(ctx).Begin()
	if db.Error != nil {
		return fmt.Errorf("gormstore: begin: %w", db.Error)
	}

	defer func() {
		if p := recover(); p != nil {
			db.Rollback()
			panic(p)
		}
	}()

	if err = fn(&tx{db: db}); err != nil {
		if rbErr := db.Rollback().Error; rbErr != nil {
			err = multierr.Append(err, fmt.Errorf("gormstore: rollback: %w", rbErr))
		}
		return err
	}
	if cErr := db.Commit().Error; cErr != nil {
		return fmt.Errorf("gormstore: commit: %w", cErr)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// translate maps driver errors onto store errors.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return fmt.Errorf("gormstore: %s: %w", op, store.ErrConflict)
	}
	return fmt.Errorf("gormstore: %s: %w", op, err)
}
