package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/aidledger/aidledger/core/snapshot"
	"github.com/aidledger/aidledger/core/types"
	"github.com/aidledger/aidledger/params"
)

// inspectSnapshot prints an offline summary of a snapshot file without
// starting a node.
func inspectSnapshot(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: aidledger inspect <snapshot file>")
	}
	path := ctx.Args().First()

	store := snapshot.NewStore(params.PersistenceSettings{FilePath: path})
	chain, pending, err := store.Load()
	if err != nil {
		return err
	}
	if chain == nil {
		return fmt.Errorf("no snapshot at %s", path)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Index", "Timestamp", "Txs", "Validator", "Hash"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, b := range chain {
		table.Append([]string{
			strconv.FormatUint(b.Index, 10),
			types.FormatTimestamp(b.Timestamp),
			strconv.Itoa(len(b.Transactions)),
			abbrev(b.ValidatorPublicKey),
			abbrev(b.Hash),
		})
	}
	table.Render()

	txs := 0
	for _, b := range chain {
		txs += len(b.Transactions)
	}
	fmt.Printf("\n%d blocks, %d sealed transactions, %d pending\n", len(chain), txs, len(pending))
	return nil
}

func abbrev(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12] + "..."
}
