package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Maverick0351a/latticedb/internal/receipt"
)

var verifyWitnessFiles []string

var verifyCmd = &cobra.Command{
	Use:   "verify <composite-receipt.json>",
	Short: "Verify a composite receipt against the database receipt",
	Long:  "Recomputes the composite state signature, optionally recomputes the Merkle root over supplied witness lattice receipts, and compares the witnessed db_root against the store's.",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().StringArrayVar(&verifyWitnessFiles, "witness", nil,
		"Path to a witness lattice receipt.json (repeatable)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read composite receipt: %w", err)
	}
	var comp receipt.Composite
	if err := json.Unmarshal(data, &comp); err != nil {
		return fmt.Errorf("parse composite receipt: %w", err)
	}

	var witnesses []receipt.Lattice
	for _, path := range verifyWitnessFiles {
		wData, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read witness %s: %w", path, err)
		}
		var w receipt.Lattice
		if err := json.Unmarshal(wData, &w); err != nil {
			return fmt.Errorf("parse witness %s: %w", path, err)
		}
		witnesses = append(witnesses, w)
	}

	res, err := db.Verify(&comp, witnesses)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
		return err
	}
	if !res.Verified {
		os.Exit(1)
	}
	return nil
}
