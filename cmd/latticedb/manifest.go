package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Maverick0351a/latticedb/internal/store"
)

var (
	manifestGroup  string
	manifestSource string
	manifestLimit  int
	manifestOffset int
	manifestJSON   bool
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "List manifest rows",
	RunE:  runManifest,
}

func init() {
	manifestCmd.Flags().StringVar(&manifestGroup, "group", "", "Filter by group ID")
	manifestCmd.Flags().StringVar(&manifestSource, "source", "", "Filter by source substring")
	manifestCmd.Flags().IntVar(&manifestLimit, "limit", 0, "Maximum rows to return")
	manifestCmd.Flags().IntVar(&manifestOffset, "offset", 0, "Rows to skip")
	manifestCmd.Flags().BoolVar(&manifestJSON, "json", false, "Emit rows as JSON")
}

func runManifest(cmd *cobra.Command, args []string) error {
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Manifest(context.Background(), store.ManifestFilter{
		GroupID:        manifestGroup,
		SourceContains: manifestSource,
		Limit:          manifestLimit,
		Offset:         manifestOffset,
	})
	if err != nil {
		return err
	}

	if manifestJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(rows)
	}
	for _, row := range rows {
		name := row.DisplayName
		if name == "" {
			name = row.SourceFile
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  chunks=%d  created=%s  %s\n",
			row.LatticeID, row.GroupID, row.ChunkCount, row.CreatedAt, name)
	}
	return nil
}
