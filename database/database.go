package database

import (
	"gorm.io/gorm"
)

// Tx represents a database transaction. It can either be read-only or
// read-write.
//
// As would be expected with a transaction, no changes will be saved to the
// database until it has been committed. Transactions should not be long
// running operations; in particular no wallet daemon call is ever made
// while one is open.
type Tx interface {
	// Commit commits all changes that have been made to the db. Calling
	// this function on a managed transaction will result in a panic.
	Commit() error

	// Rollback undoes all changes that have been made to the db. Calling
	// this function on a managed transaction will result in a panic.
	Rollback() error

	// Read returns the underlying sql database so that queries can be made
	// against it.
	Read() *gorm.DB

	// Lock loads the first row matching query into model and holds a row
	// level write lock on it until the transaction ends. Backends without
	// row locks rely on the transaction being exclusive.
	Lock(model interface{}, query string, args ...interface{}) error

	// Create inserts the passed in model. It fails if the primary key
	// already exists.
	Create(model interface{}) error

	// Save will save the passed in model to the database. If it already
	// exists it will be overridden.
	Save(model interface{}) error

	// Update will update the given key to the value for the given model.
	// The where map can be used to impose extra conditions on which
	// specific model gets updated. The map key must be of the format
	// "key = ?".
	Update(key string, value interface{}, where map[string]interface{}, model interface{}) error

	// Delete will delete all models of the given type from the database
	// where key == value.
	Delete(key string, value interface{}, where map[string]interface{}, model interface{}) error

	// Migrate will auto-migrate the database from any previous schema for
	// this model to the current schema.
	Migrate(model interface{}) error

	// RegisterCommitHook registers a callback that is invoked after a
	// successful commit, once the database is no longer locked by the
	// transaction. Hooks may read and write the database.
	RegisterCommitHook(fn func())
}

// Database is an interface which exposes a minimal amount of methods
// needed to atomically read and write to the database.
type Database interface {
	// View invokes the passed function in the context of a managed
	// read-only transaction. Any errors returned from the user-supplied
	// function are returned from this function.
	//
	// Calling Rollback or Commit on the transaction passed to the
	// user-supplied function will result in a panic.
	View(fn func(tx Tx) error) error

	// Update invokes the passed function in the context of a managed
	// read-write transaction. Any errors returned from the user-supplied
	// function will cause the transaction to be rolled back and are
	// returned from this function. Otherwise, the transaction is committed
	// when the user-supplied function returns a nil error.
	//
	// Calling Rollback or Commit on the transaction passed to the
	// user-supplied function will result in a panic.
	Update(fn func(tx Tx) error) error

	// Close cleanly shuts down the database. It will block until all
	// database transactions have been finalized (rolled back or
	// committed).
	Close() error
}
