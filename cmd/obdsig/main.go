package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"obd-signal-core/config"
	"obd-signal-core/logger"
)

// app carries the loaded configuration to the subcommands.
type app struct {
	cfgFile string
	cfg     *config.Config
	logFile io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "obdsig",
		Short: "Validate, decode and poll OBD-II signal sets",
		Long: `obdsig works with OBD-II signal-set documents: it validates and formats
them, decodes captured responses and polls a vehicle over SocketCAN.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.logFile != nil {
				return a.logFile.Close()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./obdsig.yaml or $HOME/.obdsig/obdsig.yaml)")
	flags.String("log-level", "", "trace|debug|info|warn|error|critical")
	flags.String("log-format", "", "text|json")
	flags.String("log-file", "", "also write logs to this file")

	rootCmd.AddCommand(
		newValidateCmd(a),
		newFmtCmd(),
		newSchemaCmd(),
		newDecodeCmd(a),
		newImportCmd(a),
		newPollCmd(a),
		newSimulateCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	v, err := config.NewViper(a.cfgFile)
	if err != nil {
		return err
	}
	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
		"log.file":   "log-file",
	} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return errors.Wrapf(err, "bind --%s", flag)
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.SetLogLevel(cfg.Log.Level); err != nil {
		return err
	}
	logger.SetLogFormat(cfg.Log.Format)
	logger.SetLogOutput(cmd.ErrOrStderr())
	if cfg.Log.File != "" {
		closer, err := logger.SetLogFile(cfg.Log.File, true)
		if err != nil {
			return err
		}
		a.logFile = closer
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
