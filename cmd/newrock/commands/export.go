package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"newrock-catalog/lib/util/serviceutil"
	"newrock-catalog/services/assets"
	"newrock-catalog/services/catalog"
	"newrock-catalog/services/catalog/db"
	"newrock-catalog/services/normalize"
)

var (
	exportDb     *string
	exportOut    *string
	exportAssets *string
)

func init() {
	exportDb = exportCmd.Flags().String("db", "catalog.db", "The database holding the extracted catalog.")
	exportOut = exportCmd.Flags().String("out", "catalog.ndjson", "The file to write the exported documents to.")
	exportAssets = exportCmd.Flags().String("assets", "", "Mirror images into this directory and reference them locally.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [--db <catalog.db>] [--out <catalog.ndjson>] [--assets <dir>]",
	Short: "Exports the extracted catalog as newline-delimited JSON documents.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runExport(cmd.Context()); err != nil {
			serviceutil.Fatal("export failed", err)
		}
	},
}

func runExport(ctx context.Context) error {
	database, err := db.Open(*exportDb)
	if err != nil {
		return fmt.Errorf("opening db: %w", err)
	}
	defer database.Close()

	records, err := catalog.NewStore(database).Pull(ctx)
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}
	if len(records) == 0 {
		return errors.New("catalog is empty, run extract first")
	}

	var assetStore *assets.Store
	if *exportAssets != "" {
		assetStore, err = assets.New(assets.Options{Directory: *exportAssets})
		if err != nil {
			return fmt.Errorf("initializing asset mirror: %w", err)
		}
	}

	out, err := os.Create(*exportOut)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	encoder := json.NewEncoder(out)
	for _, doc := range normalize.FromRecords(records) {
		if assetStore != nil {
			doc = normalize.UseLocalAssets(ctx, assetStore, doc)
		}
		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("writing document: %w", err)
		}
	}

	slog.Info("export complete", "products", len(records), "out", *exportOut)
	return nil
}
