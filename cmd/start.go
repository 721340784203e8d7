package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/op/go-logging"

	"github.com/cpacia/xmr-escrow/core"
	"github.com/cpacia/xmr-escrow/repo"
	"github.com/cpacia/xmr-escrow/version"
)

var log = logging.MustGetLogger("CMD")

// Start is the main entry point for escrowd. The options to this command
// are the same as the escrow daemon config options.
type Start struct {
	repo.Config
}

// Execute starts the escrow node.
func (x *Start) Execute(args []string) error {
	cfg, _, err := repo.LoadConfig()
	if err != nil {
		return err
	}

	n, err := core.NewNode(context.Background(), cfg)
	if err != nil {
		return err
	}
	printSplashScreen()
	log.Infof("Data directory: %s", cfg.DataDir)
	log.Infof("Database: %s", cfg.DBDialect)
	if cfg.RedisAddr != "" {
		log.Infof("Multisig exchange: redis at %s", cfg.RedisAddr)
	}

	// The node handles the interrupt signal and exits.
	n.Start()
	select {}
}

func printSplashScreen() {
	orange := color.New(color.FgHiRed)
	white := color.New(color.FgWhite)

	for i, l := range []string{
		`                                           `,
		` __  ___ __ ___  _ __  `,
		`  ___  ___  ___ _ __ _____      __`,
		` \ \/ / '_ ' _ \| '__|`,
		` / _ \/ __|/ __| '__/ _ \ \ /\ / /`,
		`  >  <| | | | | | |   `,
		`|  __/\__ \ (__| | | (_) \ V  V / `,
		` /_/\_\_| |_| |_|_|   `,
		` \___||___/\___|_|  \___/ \_/\_/  `,
	} {
		if i%2 == 0 {
			if _, err := white.Printf(l); err != nil {
				log.Debug(err)
				return
			}
			continue
		}
		if _, err := orange.Println(l); err != nil {
			log.Debug(err)
			return
		}
	}

	orange.DisableColor()
	white.DisableColor()
	fmt.Println("")
	fmt.Printf("\nescrowd v%s\n", version.String())
}
