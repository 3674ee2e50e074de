package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/n0madic/go-poisson-lognormal/httpapi"
)

type serveFlags struct {
	addr          string
	maxBodyBytes  int64
	maxFits       int
	corsOrigins   []string
	shutdownAfter time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	f := serveFlags{addr: ":8080"}
	if v := os.Getenv("PLNFIT_ADDR"); v != "" {
		f.addr = v
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve fits over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", f.addr, "HTTP listen address (defaults PLNFIT_ADDR or :8080)")
	cmd.Flags().Int64Var(&f.maxBodyBytes, "max-body-bytes", 0, "Maximum request body size (0 = 1MiB)")
	cmd.Flags().IntVar(&f.maxFits, "max-concurrent-fits", 0, "Fits allowed to run at once (0 = unbounded)")
	cmd.Flags().StringSliceVar(&f.corsOrigins, "cors-origins", nil, "Origins allowed by CORS; empty disables CORS")
	cmd.Flags().DurationVar(&f.shutdownAfter, "shutdown-timeout", 5*time.Second, "Grace period for in-flight requests on shutdown")
	return cmd
}

func (a *app) serve(ctx context.Context, f serveFlags) error {
	opts := []httpapi.Option{
		httpapi.WithLogger(a.log),
		httpapi.WithMaxBodyBytes(f.maxBodyBytes),
		httpapi.WithMaxConcurrentFits(f.maxFits),
	}
	if len(f.corsOrigins) > 0 {
		opts = append(opts, httpapi.WithCORS(f.corsOrigins...))
	}
	srv := &http.Server{
		Addr:              f.addr,
		Handler:           httpapi.New(opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", f.addr).Msg("plnfit listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), f.shutdownAfter)
	defer cancel()
	a.log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}
