// Package repositorytest wires repositories to an in-memory SQLite database.
package repositorytest

import (
	"testing"

	"Melodex/db"
	"Melodex/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// OpenDB returns a migrated in-memory database closed at test cleanup.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: db.NewGormLogger()})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// 每个连接都是独立的内存库，只保留一个连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// NewSongRepository returns a SongRepository over a fresh database.
func NewSongRepository(t testing.TB) repository.SongRepository {
	t.Helper()
	return repository.NewGormSongRepository(OpenDB(t))
}
