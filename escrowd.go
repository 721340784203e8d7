package main

import (
	"log"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/cpacia/xmr-escrow/cmd"
)

func main() {
	parser := flags.NewParser(nil, flags.Default)

	_, err := parser.AddCommand("start",
		"start the escrow node",
		"The start command starts the escrow node",
		&cmd.Start{})
	if err != nil {
		log.Fatal(err)
	}
	_, err = parser.AddCommand("init",
		"initialize an escrow node",
		"The init command creates and initializes a new data directory and database.",
		&cmd.Init{})
	if err != nil {
		log.Fatal(err)
	}
	_, err = parser.AddCommand("create",
		"create an escrow",
		"The create command stores a new pending escrow between three parties and prints its ID.",
		&cmd.Create{})
	if err != nil {
		log.Fatal(err)
	}
	_, err = parser.AddCommand("multisig",
		"run one participant of a multisig setup",
		"The multisig command drives this host's wallet through the multisig setup of an escrow. "+
			"The other participants run the same command on their hosts against the same redis exchange.",
		&cmd.Multisig{})
	if err != nil {
		log.Fatal(err)
	}

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
