package cmd

import (
	"os"

	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/repo"
)

// Init initializes a new escrow data directory.
type Init struct {
	repo.Config
	Force bool `short:"f" long:"force" description:"Force overwrite existing repo (dangerous!)"`
}

// Execute creates the data directory, the default config file and the
// database schema.
func (x *Init) Execute(args []string) error {
	cfg, _, err := repo.LoadConfig()
	if err != nil {
		return err
	}

	if repo.IsInitialized(cfg.DataDir) {
		if !x.Force {
			return errors.ErrConfig.Newf("data directory %s is already initialized", cfg.DataDir)
		}
		if err := os.RemoveAll(cfg.DataDir); err != nil {
			return err
		}
		// Recreates the default config file.
		if cfg, _, err = repo.LoadConfig(); err != nil {
			return err
		}
	}

	r, err := repo.NewRepo(cfg)
	if err != nil {
		return err
	}
	r.Close()
	log.Noticef("Initialized data directory at %s", cfg.DataDir)
	return nil
}
