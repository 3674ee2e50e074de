package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type app struct {
	stdout io.Writer
	stderr io.Writer
	log    zerolog.Logger

	logLevel string
	jsonLogs bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "plnfit",
		Short:         "Variational Poisson-lognormal model fitting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level: trace|debug|info|warn|error")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "log-json", false, "Write logs as JSON lines instead of console text")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		lvl, err := zerolog.ParseLevel(a.logLevel)
		if err != nil {
			return err
		}
		var out io.Writer = zerolog.ConsoleWriter{Out: a.stderr, TimeFormat: time.RFC3339}
		if a.jsonLogs {
			out = a.stderr
		}
		a.log = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
		return nil
	}

	root.AddCommand(newFitCmd(a), newServeCmd(a))
	return root
}
