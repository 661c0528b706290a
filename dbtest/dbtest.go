// Package dbtest opens throwaway in-memory databases for package tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/zllovesuki/stripemirror/db"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New returns a gorm handle backed by a private in-memory sqlite database.
// Every call gets a fresh database, closed when the test ends.
func New(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := db.Open(sqlite.Open(dsn), db.Options{
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("Cannot open sqlite database: %v", err)
	}
	pool, err := gdb.DB()
	if err != nil {
		t.Fatalf("Cannot get the connection pool: %v", err)
	}
	// sqlite serializes writers; a single connection keeps concurrent tests
	// from failing with "database table is locked"
	pool.SetMaxOpenConns(1)
	pool.SetMaxIdleConns(1)
	t.Cleanup(func() {
		pool.Close()
	})
	return gdb
}
