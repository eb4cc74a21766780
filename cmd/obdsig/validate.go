package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"obd-signal-core/logger"
	"obd-signal-core/report"
	"obd-signal-core/signalset"
)

var errValidationFailed = errors.New("validation failed")

type validateOptions struct {
	prefix           string
	watch            bool
	strictAdvisories bool
	debounce         time.Duration
}

func newValidateCmd(a *app) *cobra.Command {
	opts := validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check signal sets for structural and semantic errors",
		Long: `Validate parses each signal set and reports every issue found.
The command fails when any file has an error, or an advisory when
--strict-advisories is set. With --watch it re-validates files as they change.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("prefix") {
				opts.prefix = a.cfg.Vehicle.Prefix
			}
			ok := validateFiles(cmd.OutOrStdout(), args, opts)
			if opts.watch {
				return watchFiles(cmd.Context(), cmd.OutOrStdout(), args, opts)
			}
			if !ok {
				return errValidationFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "required signal id prefix (default vehicle.prefix)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-validate files when they change")
	cmd.Flags().BoolVar(&opts.strictAdvisories, "strict-advisories", false, "treat advisories as failures")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", 200*time.Millisecond, "delay before re-validating a changed file")
	return cmd
}

func validateFiles(w io.Writer, files []string, opts validateOptions) bool {
	ok := true
	for _, file := range files {
		if !validateFile(w, file, opts) {
			ok = false
		}
	}
	return ok
}

// validateFile prints the issues of one file and reports whether it passed.
func validateFile(w io.Writer, file string, opts validateOptions) bool {
	doc, err := signalset.LoadFile(file)
	if err != nil {
		fmt.Fprintf(w, "%s: %v\n", file, err)
		return false
	}
	r := signalset.Validate(doc, signalset.Options{VehiclePrefix: opts.prefix})
	printReport(w, file, r)

	errs, advisories := len(r.Errors()), len(r.Advisories())
	passed := errs == 0 && (!opts.strictAdvisories || advisories == 0)
	status := "ok"
	if !passed {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s: %s (%d commands, %d signals, %d errors, %d advisories)\n",
		file, status, len(doc.Commands), doc.SignalCount(), errs, advisories)
	return passed
}

func printReport(w io.Writer, file string, r *report.Report) {
	for _, issue := range r.Issues {
		line := fmt.Sprintf("%s: %s: %s", file, issue.Severity, issue.Error())
		if issue.SignalID != "" && issue.Command != "" {
			line += fmt.Sprintf(" (command %s)", issue.Command)
		}
		fmt.Fprintln(w, line)
	}
}

// watchFiles re-validates a file after writes settle, until ctx ends.
func watchFiles(ctx context.Context, w io.Writer, files []string, opts validateOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directories.
	watched := map[string]string{}
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return errors.Wrapf(err, "resolve %s", file)
		}
		watched[abs] = file
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return errors.Wrapf(err, "watch %s", file)
		}
	}

	log := logger.G(ctx)
	log.WithField("files", len(files)).Info("watching for changes")

	pending := map[string]*time.Timer{}
	changed := make(chan string)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, ok := watched[event.Name]; !ok || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := event.Name
			if t, ok := pending[name]; ok {
				t.Stop()
			}
			pending[name] = time.AfterFunc(opts.debounce, func() {
				select {
				case changed <- name:
				case <-ctx.Done():
				}
			})
		case name := <-changed:
			delete(pending, name)
			validateFile(w, watched[name], opts)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch error")
		}
	}
}
