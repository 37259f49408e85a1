package controller

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cosim-run/cosim/controller/adapter"
)

// endpointRetryCount bounds endpoint bring-up: peer processes of a
// federation race to start, so creation failures are retried with a
// one-second pause.
const endpointRetryCount = 60

// The stop flag and the active-controller pointer behind Shutdown are the
// process-wide cells: the flag must be observable from a signal-handling
// goroutine before any controller exists (endpoint bring-up included),
// and the pointer lets Shutdown reach the running controller. Everything
// else threads through explicit handles.
var (
	stopFlag atomic.Bool

	activeMu         sync.Mutex
	activeController *Controller
)

// Shutdown requests the active run to stop. Called from an interrupt
// context (signal-handling goroutine): sets the flag and interrupts the
// adapter, then lets the run loop exit by itself.
func Shutdown() {
	stopFlag.Store(true)
	activeMu.Lock()
	c := activeController
	activeMu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func setActiveController(c *Controller) {
	activeMu.Lock()
	activeController = c
	activeMu.Unlock()
}

// createEndpoint rides out peer start-up races: up to endpointRetryCount
// attempts with one-second sleeps. A stop request observed during the
// retry loop aborts with ErrCancelled (endpoint misconfiguration is the
// usual cause of persistent failure).
func createEndpoint(sim *SimulationSpec) (adapter.Endpoint, error) {
	var lastErr error
	for i := 0; i < endpointRetryCount; i++ {
		ep, err := adapter.NewEndpoint(sim.Transport, sim.URI, sim.UID, sim.Timeout)
		if err == nil {
			return ep, nil
		}
		lastErr = err
		if stopFlag.Load() {
			return nil, fmt.Errorf("%w: endpoint creation interrupted: %v", ErrCancelled, err)
		}
		logrus.Infof("Retry endpoint creation ...")
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("could not create endpoint: %w", lastErr)
}

// RunSimulation constructs the endpoint, assigns UIDs, creates the
// controller, and loads all models. In async mode it returns right after
// the bus-ready handshake (an external driver owns the time loop);
// otherwise it runs the synchronous loop to completion.
//
// The returned controller is non-nil whenever it was created, even on
// error, so that the caller can tear it down with ExitSimulation.
func RunSimulation(sim *SimulationSpec, runAsync bool) (*Controller, error) {
	logrus.Infof("Create the Endpoint object ...")
	ep, err := createEndpoint(sim)
	if err != nil {
		return nil, err
	}

	// Setup UIDs: the bus assigns the simulation UID when the caller
	// supplied none; unset instance UIDs derive from their position.
	if sim.UID == 0 {
		sim.UID = ep.UID()
	}
	for i, mi := range sim.Instances {
		if mi.UID == 0 {
			mi.UID = uint32(i*10000) + sim.UID
		}
		logrus.Debugf("instance[%d] uid = %d", i, mi.UID)
	}

	logrus.Infof("Create the Controller object ...")
	c := NewController(ep)
	setActiveController(c)

	logrus.Infof("Load and configure the simulation models ...")
	if err := c.LoadModels(sim); err != nil {
		return c, err
	}

	if runAsync {
		logrus.Infof("Setup for async simulation run ...")
		return c, c.BusReady(sim)
	}

	logrus.Infof("Run the simulation ...")
	return c, c.Run(sim)
}

// Sync advances the simulation by exactly one coordinated step. Used by
// an external environment that owns the time loop (async mode): the
// do_step callbacks observe the start and stop times of the next step.
func Sync(c *Controller, sim *SimulationSpec) error {
	return c.Step(sim)
}

// ExitSimulation tears a simulation down in reverse construction order:
// plug-in exit entry points, adapter shutdown, then the per-instance
// state. The document list is released by the caller afterwards (the
// adapter held borrowed references into it).
func ExitSimulation(c *Controller, sim *SimulationSpec) {
	if c != nil {
		c.exit(sim)
		setActiveController(nil)
	}
	releaseInstances(sim)
}
