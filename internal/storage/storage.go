package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/config"
	"github.com/sirupsen/logrus"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database connection and implements blacklist.Repository
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseDSN)
	default:
		dialector = gormmysql.Open(cfg.DatabaseDSN)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.WithField("driver", cfg.DatabaseDriver).Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies connectivity for readiness checks
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate runs GORM auto-migration
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(&BlacklistRecord{})
}

// Get retrieves a blacklist entry, nil when absent
func (db *DB) Get(ctx context.Context, address aml.Address) (*aml.BlacklistEntry, error) {
	var rec BlacklistRecord
	result := db.conn.WithContext(ctx).Where("address = ?", address.String()).First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	entry := rec.entry()
	return &entry, nil
}

// Upsert inserts or replaces the entry keyed by its address
func (db *DB) Upsert(ctx context.Context, entry *aml.BlacklistEntry) error {
	rec := recordFromEntry(entry)
	result := db.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "added_by", "added_ts", "updated_ts"}),
	}).Create(rec)
	return mapWriteError(result.Error)
}

// Delete hard-deletes the entry; deleting an absent address affects no rows
func (db *DB) Delete(ctx context.Context, address aml.Address) error {
	result := db.conn.WithContext(ctx).
		Where("address = ?", address.String()).
		Delete(&BlacklistRecord{})
	return mapWriteError(result.Error)
}

// List returns all entries ordered by address
func (db *DB) List(ctx context.Context) ([]aml.BlacklistEntry, error) {
	var recs []BlacklistRecord
	if err := db.conn.WithContext(ctx).Order("address").Find(&recs).Error; err != nil {
		return nil, err
	}
	entries := make([]aml.BlacklistEntry, 0, len(recs))
	for i := range recs {
		entries = append(entries, recs[i].entry())
	}
	return entries, nil
}

// mapWriteError turns deadlock and serialization failures from either
// driver into aml.ErrBlacklistWriteConflict.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return fmt.Errorf("%w: %w", aml.ErrBlacklistWriteConflict, err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %w", aml.ErrBlacklistWriteConflict, err)
		}
	}

	return err
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
