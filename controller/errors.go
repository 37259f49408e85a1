package controller

import (
	"errors"

	"github.com/cosim-run/cosim/controller/adapter"
)

// Error taxonomy for the controller core. Callers discriminate with
// errors.Is; everything except ErrBusTimeout and ErrGatewayBehind
// propagates to the run-loop exit.
var (
	// ErrConfig indicates an invalid or incomplete simulation
	// configuration (missing stack node, unresolved model path, step
	// size exceeding end time). Aborts setup.
	ErrConfig = errors.New("configuration error")

	// ErrPluginLoad indicates a model plug-in could not be loaded or its
	// interface is incomplete. Aborts setup for that instance.
	ErrPluginLoad = errors.New("plugin load error")

	// ErrBusTimeout is the bus exchange timeout surfaced by Step (the
	// endpoint's adapter.ErrExchangeTimeout, propagated verbatim). The
	// caller may retry or initiate a graceful exit.
	ErrBusTimeout = adapter.ErrExchangeTimeout

	// ErrGatewayBehind is returned by Gateway.Sync when the caller's time
	// is behind the simulation bus time. The caller advances its own time
	// and retries.
	ErrGatewayBehind = errors.New("gateway behind simulation time")

	// ErrStepFailed wraps a step-handler error together with the
	// offending instance and function identity.
	ErrStepFailed = errors.New("step handler failed")

	// ErrRunComplete signals normal end-of-run: a step handler requested
	// termination, or model time reached the configured end time.
	ErrRunComplete = errors.New("run complete")

	// ErrCancelled reports that a stop request terminated the run.
	ErrCancelled = errors.New("cancelled")
)
