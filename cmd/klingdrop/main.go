// klingdrop settles linkdrop claims: it picks the funding output, computes
// change, has the drop contract sign the claim transaction, and optionally
// broadcasts it.
//
// Usage:
//
//	klingdrop [global options] claim --funding <addr> --receiver <addr>
//	klingdrop [global options] drop list
//	klingdrop --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Klingon-tech/klingdrop/config"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:     "klingdrop",
		Usage:    "Settle linkdrop claims through an MPC-signing contract",
		Version:  version,
		Flags:    config.Flags(),
		Before:   setup,
		After:    teardown,
		Metadata: map[string]interface{}{},
		Commands: []*cli.Command{
			claimCommand(),
			claimBatchCommand(),
			utxoCommand(),
			changeCommand(),
			viewCommand(),
			dropCommand(),
			broadcastCommand(),
			deriveCommand(),
			journalCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
