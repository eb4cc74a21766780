package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"obd-signal-core/logger"
	"obd-signal-core/signalset"
)

func newImportCmd(a *app) *cobra.Command {
	var sheet, output string
	cmd := &cobra.Command{
		Use:   "import <table.csv|table.xlsx>",
		Short: "Convert a signal table into a signal-set document",
		Long: `Import reads one signal per row, groups rows into commands by header,
request and response address, and prints the canonical signal set.
Columns: hdr, service, pid, id, name, path, bix, len and optionally rax,
freq, sign, formula, mul, div, add, min, max, unit, description, metric,
din, dout, from, to.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := importTable(args[0], sheet)
			if err != nil {
				return err
			}

			r := signalset.Validate(doc, signalset.Options{VehiclePrefix: a.cfg.Vehicle.Prefix})
			log := logger.G(cmd.Context()).WithField("file", args[0])
			for _, issue := range r.Issues {
				log.WithField("severity", issue.Severity.String()).Warn(issue.Error())
			}

			out, err := signalset.Format(doc)
			if err != nil {
				return err
			}
			if output != "" {
				return errors.Wrapf(os.WriteFile(output, out, 0o644), "write %s", output)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "worksheet to read from an xlsx file (default the first)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the document to this file")
	return cmd
}

func importTable(path, sheet string) (*signalset.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return signalset.ImportXLSX(path, sheet)
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		defer f.Close()
		doc, err := signalset.ImportCSV(f)
		return doc, errors.Wrap(err, path)
	default:
		return nil, errors.Errorf("unsupported table format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}
