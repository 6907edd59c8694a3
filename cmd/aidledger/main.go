// aidledger is the command-line entry point: it runs a ledger node,
// inspects snapshot files offline and prints version information.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/aidledger/aidledger/params"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP listen address",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "directory for the registry and audit databases",
	}
	chainFileFlag = &cli.StringFlag{
		Name:  "chainfile",
		Usage: "path of the chain snapshot file",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "log level (debug, info, warn, error)",
		Value: "info",
	}
	sealFlag = &cli.BoolFlag{
		Name:  "seal",
		Usage: "enable the automated sealing loop",
	}
	validatorPasswordFlag = &cli.StringFlag{
		Name:  "validator.password",
		Usage: "passphrase the sealing loop uses to unlock proposer keys",
	}
	bootstrapFlag = &cli.BoolFlag{
		Name:  "bootstrap",
		Usage: "accept sentinel-signed transactions (initial data loading only)",
	}
)

func main() {
	app := &cli.App{
		Name:    "aidledger",
		Usage:   "proof-of-authority ledger for humanitarian aid shipments",
		Version: params.VersionWithMeta,
		Flags: []cli.Flag{
			configFlag,
			httpAddrFlag,
			dataDirFlag,
			chainFileFlag,
			logLevelFlag,
			sealFlag,
			validatorPasswordFlag,
			bootstrapFlag,
		},
		Action: runNode,
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "summarize a chain snapshot file",
				ArgsUsage: "<snapshot file>",
				Action:    inspectSnapshot,
			},
			{
				Name:  "version",
				Usage: "print version numbers",
				Action: func(*cli.Context) error {
					fmt.Println("aidledger", params.VersionWithMeta)
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
