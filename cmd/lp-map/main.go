package main

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ScottSallinen/gdmm/metrics"
	"github.com/ScottSallinen/gdmm/utils"

	_ "net/http/pprof"
)

// CLI holds the root command and the flags shared by every subcommand.
type CLI struct {
	verbosity int
	quiet     bool
	noColour  bool
	serveAddr string
	rootCmd   *cobra.Command
}

func New() *CLI {
	c := &CLI{}
	c.rootCmd = &cobra.Command{
		Use:           "lp-map",
		Short:         "Approximate MAP inference on pairwise graphical models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.initApp(cmd)
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	c.rootCmd.PersistentFlags().CountVarP(&c.verbosity, "verbose", "v", "Verbosity; -v for per-sweep progress, -vv for trace.")
	c.rootCmd.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false, "Only log warnings and errors.")
	c.rootCmd.PersistentFlags().BoolVar(&c.noColour, "nc", false, "Removes the colouring from the log output.")
	c.rootCmd.PersistentFlags().StringVar(&c.serveAddr, "serve", "", "If set, serves /metrics and pprof on the given address:port. E.g. \"0.0.0.0:6060\".")

	c.rootCmd.AddCommand(c.newPredictCommand())
	c.rootCmd.AddCommand(c.newExportCommand())
	return c
}

func (c *CLI) initApp(cmd *cobra.Command) {
	utils.SetLoggerConsole(cmd.ErrOrStderr(), c.noColour)
	if c.quiet {
		utils.SetLevel(-1)
	} else {
		utils.SetLevel(c.verbosity)
	}

	if c.serveAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(metrics.SolverCollectors()...)
		http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			log.Info().Msg("Serving metrics and pprof on " + c.serveAddr)
			err := http.ListenAndServe(c.serveAddr, nil)
			if err != nil {
				log.Error().Err(err).Msg("Serve failed to start.")
			}
		}()
	}
}

func (c *CLI) Run(args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.Execute()
}

func main() {
	if err := New().Run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("Failed.")
		os.Exit(1)
	}
}
