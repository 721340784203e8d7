package repo

import (
	"os"
	"path"

	"github.com/google/uuid"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/database/sqldb"
)

// MockDB returns a migrated in-memory db.
func MockDB() (database.Database, error) {
	db, err := sqldb.NewMemoryDB()
	if err != nil {
		return nil, err
	}
	if err := autoMigrateDatabase(db); err != nil {
		return nil, err
	}
	return db, nil
}

// MockRepo returns a repo which uses a tmp data directory
// and in-memory database.
func MockRepo() (*Repo, error) {
	dataDir := path.Join(os.TempDir(), "xmr-escrow-test", uuid.NewString())
	return newRepo(dataDir, sqldb.DialectMemory, "")
}
