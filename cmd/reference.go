package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cropprice/internal/db"
	"github.com/sells-group/cropprice/internal/geo"
)

var (
	referenceImportTo     string
	referenceImportTable  string
	referenceImportAppend bool
)

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Manage the district reference table",
}

var referenceImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load the configured reference source into a Postgres table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if referenceImportTo == "" {
			return eris.New("database url is required (--to)")
		}

		table, err := loadReference(ctx, cfg.Reference)
		if err != nil {
			return err
		}

		pool, err := db.Connect(ctx, referenceImportTo)
		if err != nil {
			return eris.Wrap(err, "connect reference database")
		}
		defer pool.Close()

		save := geo.SavePostgres
		if referenceImportAppend {
			save = geo.AppendPostgres
		}
		n, err := save(ctx, pool, referenceImportTable, table)
		if err != nil {
			return eris.Wrap(err, "import reference table")
		}

		zap.L().Info("reference import complete",
			zap.String("source", cfg.Reference.Source),
			zap.String("table", referenceImportTable),
			zap.Int64("rows", n),
			zap.Bool("append", referenceImportAppend),
		)
		return nil
	},
}

func init() {
	referenceImportCmd.Flags().StringVar(&referenceImportTo, "to", "", "postgres connection url (required)")
	referenceImportCmd.Flags().StringVar(&referenceImportTable, "table", geo.DefaultTable, "destination table")
	referenceImportCmd.Flags().BoolVar(&referenceImportAppend, "append", false, "add rows instead of replacing the table")
	referenceCmd.AddCommand(referenceImportCmd)
	rootCmd.AddCommand(referenceCmd)
}
