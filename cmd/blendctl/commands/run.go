package commands

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"blendcore/internal/runner"
	"blendcore/pkg/domain"
)

// runSummary is printed on stdout after a successful run.
type runSummary struct {
	Run        string `json:"run"`
	Deblender  string `json:"deblender"`
	Fitter     string `json:"fitter"`
	Objects    int    `json:"objects"`
	Failures   int    `json:"failures"`
	Warnings   int    `json:"deblend_warnings"`
	FrameLoads int64  `json:"frame_loads"`
	CacheHits  int64  `json:"frame_cache_hits"`
}

func runCmd(a *app) *cobra.Command {
	var (
		metricsAddr string
		optionsFile string
		deblender   string
		fitter      string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deblend, realize and fit the manifest, then store the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if optionsFile != "" {
				if cfg, err = applyOptionsFile(cfg, optionsFile); err != nil {
					return err
				}
			}
			if deblender != "" {
				cfg.Deblender.Name = deblender
			}
			if fitter != "" {
				cfg.Fitter.Name = fitter
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			logger := a.logger(cmd, cfg)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if cfg.MetricsAddr != "" {
				stop, err := serveMetrics(cfg.MetricsAddr, reg, logger)
				if err != nil {
					return err
				}
				defer stop()
			}

			r, err := runner.New(cfg, runner.WithLogger(logger), runner.WithRegisterer(reg))
			if err != nil {
				return err
			}
			out, err := r.Run(cmd.Context())
			if err != nil {
				logger.Error().Err(err).Msg("run failed")
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runSummary{
				Run:        out.Record.ID,
				Deblender:  cfg.Deblender.Name,
				Fitter:     out.Record.Algorithm,
				Objects:    len(out.Record.Rows),
				Failures:   len(out.Record.Failures),
				Warnings:   len(out.Deblend.Transitions.WithSeverity(domain.SeverityWarn)),
				FrameLoads: out.Cache.Misses,
				CacheHits:  out.Cache.Hits,
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.Flags().StringVar(&optionsFile, "options-file", "", "TOML file with [deblender] and [fitter] option overrides")
	cmd.Flags().StringVar(&deblender, "deblender", "", "deblender name override")
	cmd.Flags().StringVar(&fitter, "fitter", "", "fitter name override")
	return cmd
}

// serveMetrics exposes reg on addr under /metrics, and the expvar pipeline
// metrics under /debug/vars, until the returned stop function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
