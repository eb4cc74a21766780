package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"obd-signal-core/signalset"
)

func newFmtCmd() *cobra.Command {
	var write, check bool
	cmd := &cobra.Command{
		Use:   "fmt <file>...",
		Short: "Rewrite signal sets in canonical form",
		Long: `Fmt prints each signal set with upper-case hex, default fields omitted,
signals ordered by bit offset and two-space indentation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if write && check {
				return errors.New("--write and --check are mutually exclusive")
			}
			var unformatted []string
			for _, file := range args {
				data, err := os.ReadFile(file)
				if err != nil {
					return errors.Wrapf(err, "read %s", file)
				}
				out, err := signalset.FormatBytes(data)
				if err != nil {
					return errors.Wrap(err, file)
				}

				switch {
				case check:
					if !bytes.Equal(data, out) {
						unformatted = append(unformatted, file)
						fmt.Fprintln(cmd.OutOrStdout(), file)
					}
				case write:
					if bytes.Equal(data, out) {
						continue
					}
					if err := os.WriteFile(file, out, 0o644); err != nil {
						return errors.Wrapf(err, "write %s", file)
					}
				default:
					if _, err := cmd.OutOrStdout().Write(out); err != nil {
						return err
					}
				}
			}
			if len(unformatted) > 0 {
				return errors.Errorf("%d file(s) not formatted", len(unformatted))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the result back to the file")
	cmd.Flags().BoolVar(&check, "check", false, "list files whose formatting differs and fail")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of a signal set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := signalset.SchemaJSON()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
