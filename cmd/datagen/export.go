package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yoon0701/ZeroGravity/internal/dataset"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/repository"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		in     string
		out    string
		runID  string
		label  string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Convert a dataset table or the run ledger",
		Long: `Write rows as csv, json or xlsx. Rows come from --in (a dataset CSV) or,
when --in is empty, from the run ledger filtered by --run and --label.

Examples:
  datagen export --in data/processed/spam3000.csv --out spam.xlsx
  datagen export --run 6f1c... --label spam --out spam.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(out)), ".")
			}

			var rows []models.Record
			var err error
			if in != "" {
				rows, err = dataset.ReadCSV(in)
			} else {
				rows, err = a.ledgerRows(runID, label)
			}
			if err != nil {
				return err
			}

			if err := writeRows(out, format, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows to %s\n", len(rows), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "Dataset CSV to convert (default: read the ledger)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path")
	cmd.Flags().StringVar(&runID, "run", "", "Only rows of this run (ledger only)")
	cmd.Flags().StringVar(&label, "label", "", "Only ham or spam rows (ledger only)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "csv, json or xlsx (default: from --out extension)")
	return cmd
}

func (a *app) ledgerRows(runID, label string) ([]models.Record, error) {
	repo, err := a.openLedger()
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, fmt.Errorf("the run ledger is disabled; pass --in")
	}
	defer repo.Close()

	f := repository.RecordFilter{RunID: runID}
	if label != "" {
		l, ok := labelByName(label)
		if !ok {
			return nil, fmt.Errorf("invalid label %q", label)
		}
		f.Label = &l
	}

	stored, err := repo.GetRecords(f)
	if err != nil {
		return nil, err
	}
	rows := make([]models.Record, len(stored))
	for i, r := range stored {
		rows[len(stored)-1-i] = r.Record
	}
	return rows, nil
}

func labelByName(name string) (models.Label, bool) {
	for l, n := range models.LabelNames {
		if strings.EqualFold(n, name) {
			return l, true
		}
	}
	return 0, false
}

func writeRows(path, format string, rows []models.Record) error {
	switch format {
	case "csv":
		return dataset.WriteCSV(path, rows)
	case "xlsx":
		return dataset.WriteXLSX(path, rows)
	case "json":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(path, append(data, '\n'), 0o644)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
