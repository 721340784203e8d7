// Package sqldb implements the database.Database interface with gorm on
// top of sqlite, postgres or a pure Go in-memory sqlite.
package sqldb

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	puresqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/cpacia/xmr-escrow/database"
)

const dbName = "escrow.db"

// Supported dialects.
const (
	DialectSqlite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMemory   = "memory"
)

// ErrReadOnly is returned when a write is attempted in a View.
var ErrReadOnly = errors.New("tx is read only")

// DB is an implementation of the Database interface using gorm.
type DB struct {
	db  *gorm.DB
	mtx sync.RWMutex
}

// Open opens a database of the given dialect. For sqlite the dsn is the
// data directory, for postgres a connection string. The memory dialect
// ignores the dsn.
func Open(dialect, dsn string) (*DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectSqlite:
		dialector = sqlite.Open(filepath.Join(dsn, dbName))
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectMemory:
		dialector = puresqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	default:
		return nil, fmt.Errorf("unknown database dialect %q", dialect)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

// NewMemoryDB returns an in-memory database. Each call returns an
// independent database.
func NewMemoryDB() (*DB, error) {
	return Open(DialectMemory, "")
}

// View invokes the passed function in the context of a managed
// read-only transaction.
func (s *DB) View(fn func(tx database.Tx) error) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	t := readTx(s.db)
	if err := fn(t); err != nil {
		t.Rollback()
		return err
	}
	return t.Commit()
}

// Update invokes the passed function in the context of a managed
// read-write transaction. Commit hooks run after the write lock is
// released so they may use the database themselves.
func (s *DB) Update(fn func(tx database.Tx) error) error {
	hooks, err := s.update(fn)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

func (s *DB) update(fn func(tx database.Tx) error) ([]func(), error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	t, err := writeTx(s.db)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		t.Rollback()
		return nil, err
	}
	if err := t.Commit(); err != nil {
		return nil, err
	}
	return t.commitHooks, nil
}

// Close cleanly shuts down the database.
func (s *DB) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type tx struct {
	dbtx *gorm.DB

	commitHooks []func()

	closed      bool
	isForWrites bool
}

func writeTx(db *gorm.DB) (*tx, error) {
	dbtx := db.Begin()
	if dbtx.Error != nil {
		return nil, dbtx.Error
	}
	return &tx{dbtx: dbtx, isForWrites: true}, nil
}

func readTx(db *gorm.DB) database.Tx {
	return &tx{dbtx: db, isForWrites: false}
}

// Commit commits all changes that have been made to the db.
func (t *tx) Commit() error {
	if t.closed {
		panic("tx already closed")
	}

	defer func() { t.closed = true }()

	if !t.isForWrites {
		return nil
	}

	if err := t.dbtx.Commit().Error; err != nil {
		t.dbtx.Rollback()
		return err
	}
	return nil
}

// Rollback undoes all changes that have been made to the db.
func (t *tx) Rollback() error {
	if t.closed {
		panic("tx already closed")
	}

	defer func() { t.closed = true }()

	if !t.isForWrites {
		return nil
	}
	return t.dbtx.Rollback().Error
}

// Read returns the underlying sql database.
func (t *tx) Read() *gorm.DB {
	return t.dbtx
}

// Lock loads the first row matching query into model with SELECT ... FOR
// UPDATE. Sqlite drops the locking clause; writes there are serialized by
// the DB mutex instead.
func (t *tx) Lock(model interface{}, query string, args ...interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	return t.dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(query, args...).First(model).Error
}

// Create inserts the passed in model.
func (t *tx) Create(model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	return t.dbtx.Create(model).Error
}

// Save will save the passed in model to the database. If it already exists
// it will be overridden.
func (t *tx) Save(model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	return t.dbtx.Save(model).Error
}

// Update will update the given key to the value for the given model.
func (t *tx) Update(key string, value interface{}, where map[string]interface{}, model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	db := t.dbtx.Model(model)
	for k, v := range where {
		db = db.Where(k, v)
	}
	return db.UpdateColumn(key, value).Error
}

// Delete will delete all models of the given type from the database where
// key == value.
func (t *tx) Delete(key string, value interface{}, where map[string]interface{}, model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	db := t.dbtx
	for k, v := range where {
		db = db.Where(k, v)
	}
	return db.Where(fmt.Sprintf("%s = ?", key), value).Delete(model).Error
}

// Migrate will auto-migrate the database from any previous schema for this
// model to the current schema.
func (t *tx) Migrate(model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	return t.dbtx.AutoMigrate(model)
}

// RegisterCommitHook registers a callback that is invoked once the
// managed transaction has committed and the write lock is released.
func (t *tx) RegisterCommitHook(fn func()) {
	t.commitHooks = append(t.commitHooks, fn)
}
