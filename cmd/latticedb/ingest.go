package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Maverick0351a/latticedb/internal/config"
	"github.com/Maverick0351a/latticedb/internal/ingest"
	"github.com/Maverick0351a/latticedb/internal/store"
)

var ingestJSONOutput bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Ingest .txt/.md documents from a directory",
	Long:  "Chunk, embed, and seal every new document under the given directory. Files whose content hash is already in the store are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestJSONOutput, "json", false, "Emit receipts as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	ing := ingest.New(db, newEmbedder(cfg))
	receipts, err := ing.IngestDir(context.Background(), args[0])
	if err != nil {
		return err
	}

	if ingestJSONOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(receipts)
	}
	for _, rec := range receipts {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  deltaH=%s  cg_iters=%d\n",
			rec.LatticeID, rec.GroupID, rec.DeltaHTotal, rec.CGIters)
	}
	dbRec, err := db.DBReceipt()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d lattices, db_root %s\n", len(receipts), dbRec.DBRoot)
	return nil
}

// openStore loads the configuration and opens the configured database root.
func openStore() (*config.Config, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.Store.Root, config.NewAttested(cfg), time.Duration(cfg.Query.ManifestTTL))
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
