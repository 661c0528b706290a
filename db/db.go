package db

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

// Options configures the database connection
type Options struct {
	URI    string
	Logger *zap.Logger
	// SlowThreshold defaults to one second
	SlowThreshold time.Duration
}

// NewLogger returns a gorm logger writing to zap. ErrRecordNotFound is
// handled in application logic, so it is not forwarded to zap/sentry.
func NewLogger(logger *zap.Logger, slow time.Duration) gormlogger.Interface {
	if slow == 0 {
		slow = time.Second
	}
	gLogger := zapgorm2.New(logger)
	gLogger.LogLevel = gormlogger.Warn
	gLogger.SlowThreshold = slow
	gLogger.IgnoreRecordNotFoundError = true
	return gLogger
}

// Open connects with an arbitrary dialector using the shared logger setup
func Open(dialector gorm.Dialector, option Options) (*gorm.DB, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewLogger(option.Logger, option.SlowThreshold),
	})
	if err != nil {
		return nil, errors.Wrap(err, "Cannot connect to database")
	}
	return db, nil
}

// New returns an instance for interacting with the PostgreSQL database
func New(option Options) (*gorm.DB, error) {
	if len(option.URI) == 0 {
		return nil, fmt.Errorf("empty URI is invalid")
	}
	db, err := Open(postgres.Open(option.URI), option)
	if err != nil {
		return nil, err
	}
	pool, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(1)
	pool.SetMaxOpenConns(20)
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}
