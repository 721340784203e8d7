package repo

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strconv"

	"github.com/op/go-logging"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/database/sqldb"
	"github.com/cpacia/xmr-escrow/models"
)

const (
	// defaultRepoVersion is the current repo version used for migrations.
	defaultRepoVersion = 0

	// versionFileName is the name of the version file.
	versionFileName = "version"
)

var log = logging.MustGetLogger("REPO")

// Repo is a representation of the escrow daemon's data directory.
// In this we store:
// - The escrowd.conf file
// - The sqlite database, unless postgres is configured
// - A version file used for migrations
type Repo struct {
	db      database.Database
	dataDir string
}

// NewRepo returns a new Repo for the given config. The data directory is
// created and the database schema migrated if necessary.
func NewRepo(cfg *Config) (*Repo, error) {
	dsn := cfg.DataDir
	if cfg.DBDialect == sqldb.DialectPostgres {
		dsn = cfg.DBDSN
	}
	return newRepo(cfg.DataDir, cfg.DBDialect, dsn)
}

// IsInitialized returns whether a repo was already created in dataDir.
func IsInitialized(dataDir string) bool {
	_, err := os.Stat(path.Join(dataDir, versionFileName))
	return err == nil
}

// DB returns the database implementation.
func (r *Repo) DB() database.Database {
	return r.db
}

// DataDir returns the data directory associated with this repo.
func (r *Repo) DataDir() string {
	return r.dataDir
}

// Close will close the repo and associated databases.
func (r *Repo) Close() {
	if err := r.db.Close(); err != nil {
		log.Errorf("Error closing database: %s", err)
	}
}

// DestroyRepo deletes the entire directory. Do NOT use this unless you are
// positive you want to wipe all data.
func (r *Repo) DestroyRepo() error {
	if err := r.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(r.dataDir)
}

// Version returns the repo version stored on disk.
func (r *Repo) Version() (int, error) {
	b, err := ioutil.ReadFile(path.Join(r.dataDir, versionFileName))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(b))
}

// writeVersion writes the version number to file.
func (r *Repo) writeVersion(version int) error {
	versionStr := strconv.Itoa(version)
	return ioutil.WriteFile(path.Join(r.dataDir, versionFileName), []byte(versionStr), 0600)
}

func newRepo(dataDir, dialect, dsn string) (*Repo, error) {
	if err := checkWriteable(dataDir); err != nil {
		return nil, err
	}
	_, err := os.Stat(path.Join(dataDir, versionFileName))
	isNew := os.IsNotExist(err)

	db, err := sqldb.Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := autoMigrateDatabase(db); err != nil {
		db.Close()
		return nil, err
	}

	r := &Repo{
		dataDir: dataDir,
		db:      db,
	}
	if isNew {
		log.Infof("Initialized new data directory at %s", dataDir)
		if err := r.writeVersion(defaultRepoVersion); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func checkWriteable(dir string) error {
	_, err := os.Stat(dir)
	if err == nil {
		// Directory exists, make sure we can write to it
		testfile := path.Join(dir, "test")
		fi, err := os.Create(testfile)
		if err != nil {
			if os.IsPermission(err) {
				return fmt.Errorf("%s is not writeable by the current user", dir)
			}
			return fmt.Errorf("unexpected error while checking writeablility of repo root: %s", err)
		}
		fi.Close()
		return os.Remove(testfile)
	}

	if os.IsNotExist(err) {
		// Directory does not exist, check that we can create it
		return os.MkdirAll(dir, 0700)
	}

	if os.IsPermission(err) {
		return fmt.Errorf("cannot write to %s, incorrect permissions", err)
	}

	return err
}

func autoMigrateDatabase(db database.Database) error {
	dbModels := []interface{}{
		&models.Escrow{},
		&models.MultisigSession{},
		&models.DisputeResolution{},
		&models.NotificationRecord{},
	}

	return db.Update(func(tx database.Tx) error {
		for _, m := range dbModels {
			if err := tx.Migrate(m); err != nil {
				return err
			}
		}
		return nil
	})
}
