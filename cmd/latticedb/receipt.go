package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var receiptCmd = &cobra.Command{
	Use:   "receipt [lattice-id]",
	Short: "Print the database receipt, or a lattice receipt",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReceipt,
}

func runReceipt(cmd *cobra.Command, args []string) error {
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if len(args) == 1 {
		rec, err := db.LatticeReceipt(context.Background(), args[0])
		if err != nil {
			return err
		}
		return enc.Encode(rec)
	}

	rec, err := db.DBReceipt()
	if err != nil {
		return err
	}
	if err := enc.Encode(rec); err != nil {
		return err
	}

	report := db.Ready(context.Background())
	if !report.Ready {
		for _, check := range report.Checks {
			if !check.OK {
				fmt.Fprintf(cmd.ErrOrStderr(), "not ready: %s (%s)\n", check.Name, check.Detail)
			}
		}
	}
	return nil
}
