package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cosim-run/cosim/controller"
)

var (
	// CLI flags for the simulation run
	names     string  // Semicolon-separated model instance names
	transport string  // Bus transport kind
	uri       string  // Bus transport URI
	uid       uint32  // Simulation UID (0 = assigned by the bus)
	stepSize  float64 // Simulation step size (seconds)
	endTime   float64 // Simulation end time (seconds, <= 0 runs open-ended)
	timeout   float64 // Per-model bus timeout (seconds)
	logLevel  string  // Log verbosity level

	// Development overrides for the model location (normally taken from
	// the stack).
	modelPath string
	modelFile string
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "cosim",
	Short: "Model controller runtime for distributed co-simulation",
}

// runCmd configures and runs the named model instances against the bus.
var runCmd = &cobra.Command{
	Use:   "run [flags] <stack.yaml> [model.yaml ...]",
	Short: "Run model instances of a co-simulation stack",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		sim, err := controller.Configure(&controller.Args{
			Transport: transport,
			URI:       uri,
			UID:       uid,
			Timeout:   timeout,
			StepSize:  stepSize,
			EndTime:   endTime,
			Names:     names,
			Path:      modelPath,
			File:      modelFile,
			YamlFiles: args,
		})
		if err != nil {
			return err
		}

		// An interrupt drains the run loop and exits with a cancelled
		// status; teardown still runs.
		sigC := make(chan os.Signal, 1)
		signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigC
			logrus.Warnf("Signaled, stopping ...")
			controller.Shutdown()
		}()

		ctrl, runErr := controller.RunSimulation(sim, true)
		if runErr == nil {
			ctrl.SetMetrics(controller.NewMetrics(prometheus.DefaultRegisterer))
			runErr = ctrl.RunLoop(sim)
		}
		if ctrl != nil {
			controller.ExitSimulation(ctrl, sim)
		}
		sim.Docs.Release()

		if errors.Is(runErr, controller.ErrCancelled) {
			logrus.Warnf("Run cancelled")
			return nil
		}
		return runErr
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().StringVar(&names, "name", "", "Semicolon-separated model instance names (required)")
	runCmd.Flags().StringVar(&transport, "transport", "loopback", "Bus transport kind")
	runCmd.Flags().StringVar(&uri, "uri", "loopback://", "Bus transport URI")
	runCmd.Flags().Uint32Var(&uid, "uid", 0, "Simulation UID (0 = assigned by the bus)")
	runCmd.Flags().Float64Var(&stepSize, "stepsize", 0.0005, "Simulation step size in seconds")
	runCmd.Flags().Float64Var(&endTime, "endtime", 0, "Simulation end time in seconds (<= 0 runs open-ended)")
	runCmd.Flags().Float64Var(&timeout, "timeout", 60, "Per-model bus timeout in seconds")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&modelPath, "path", "", "Override the model search path (development)")
	runCmd.Flags().StringVar(&modelFile, "file", "", "Override the model library file (development)")
	cobra.CheckErr(runCmd.MarkFlagRequired("name"))

	rootCmd.AddCommand(runCmd)
}
