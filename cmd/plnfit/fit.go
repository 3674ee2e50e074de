package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-poisson-lognormal/config"
	"github.com/n0madic/go-poisson-lognormal/optim"
	"github.com/n0madic/go-poisson-lognormal/pln"
)

type fitFlags struct {
	config      string
	output      string
	metricsFile string
	save        string
}

func newFitCmd(a *app) *cobra.Command {
	var f fitFlags
	cmd := &cobra.Command{
		Use:     "fit",
		Short:   "Fit a model described by a run file",
		Example: "  plnfit fit --config run.yaml\n  plnfit fit -c run.toml --metrics-file fit.prom",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fit(f)
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "Run file (.yaml, .yml, .json or .toml)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Report path; overrides the run file, - for stdout")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "Write optimizer metrics in Prometheus text format")
	cmd.Flags().StringVar(&f.save, "save", "", "Write a binary snapshot of the full result")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func (a *app) fit(f fitFlags) error {
	run, err := config.Load(f.config)
	if err != nil {
		return err
	}
	if f.output != "" {
		run.Output = f.output
	}
	data, err := run.LoadData()
	if err != nil {
		return err
	}
	var omega mat.Symmetric
	if sym, err := run.LoadOmega(); err != nil {
		return err
	} else if sym != nil {
		omega = sym
	}
	v, err := pln.ParseVariant(run.Variant)
	if err != nil {
		return err
	}
	model, err := pln.NewModel(v, omega)
	if err != nil {
		return err
	}
	init, err := pln.Initialize(data, v, run.Rank)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	res, err := pln.Fit(model, data, init, run.Optimizer,
		pln.WithLogger(a.log),
		pln.WithMetrics(optim.NewMetrics(reg, "plnfit")),
	)
	if err != nil {
		return err
	}
	if !res.Converged() {
		a.log.Warn().Str("status", res.Status.String()).Msg("optimizer stopped before convergence")
	}

	if err := a.writeReport(run.Output, res.Report()); err != nil {
		return err
	}
	if f.save != "" {
		if err := saveResult(f.save, res); err != nil {
			return err
		}
	}
	if f.metricsFile != "" {
		if err := prometheus.WriteToTextfile(f.metricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func (a *app) writeReport(path string, rep pln.Report) error {
	var w io.Writer = a.stdout
	if path != "" && path != "-" {
		fh, err := os.Create(path)
		if err != nil {
			return err
		}
		defer fh.Close()
		w = fh
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func saveResult(path string, res *pln.Result) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := res.Save(fh); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
