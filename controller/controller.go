package controller

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cosim-run/cosim/controller/adapter"
)

// Controller drives the per-tick cycle for all instances of one process:
// marshal-out, bus exchange, marshal-in, step handlers, time advance. It
// is single-threaded cooperative; the only cross-goroutine entry point is
// Stop.
type Controller struct {
	adapter *adapter.Adapter
	sim     *SimulationSpec
	metrics *Metrics

	stopRequest atomic.Bool
}

// NewController creates the controller and its adapter on an endpoint.
func NewController(endpoint adapter.Endpoint) *Controller {
	logrus.Infof("Create the Adapter object ...")
	return &Controller{adapter: adapter.New(endpoint)}
}

// Adapter exposes the bus-facing side (debug, tests).
func (c *Controller) Adapter() *adapter.Adapter { return c.adapter }

// SetMetrics attaches an instrumentation collector. A nil collector
// disables instrumentation.
func (c *Controller) SetMetrics(m *Metrics) { c.metrics = m }

// LoadModels binds every instance's plug-in, registers the adapter models
// by UID, and invokes the create/setup entry point (inversion of control:
// the plug-in registers model functions and channels during this call).
func (c *Controller) LoadModels(sim *SimulationSpec) error {
	c.sim = sim
	for _, mi := range sim.Instances {
		c.adapter.AddModel(mi.UID, mi.AdapterModel)

		if err := loadModel(mi); err != nil {
			return err
		}
		if err := c.createModel(mi); err != nil {
			return err
		}
	}
	return nil
}

// createModel runs the plug-in's create/setup entry point. For the vtable
// kind the runtime owns registration: the instance's channels are
// configured from its stack node, the signal vectors are built, and the
// plug-in's step is registered as the model function.
func (c *Controller) createModel(mi *ModelInstance) error {
	cm := mi.ControllerModel

	switch cm.Kind {
	case PluginLegacy:
		if cm.Setup == nil {
			return fmt.Errorf("%w: instance %q has no setup entry point", ErrPluginLoad, mi.Name)
		}
		logrus.Infof("Call symbol: %s ...", ModelSetupSymbol)
		if err := cm.Setup(mi); err != nil {
			return fmt.Errorf("%w: %s failed for %q: %v", ErrPluginLoad, ModelSetupSymbol, mi.Name, err)
		}
		return nil

	case PluginVTable:
		if cm.VTable.Create == nil && cm.VTable.Step == nil {
			return fmt.Errorf("%w: model interface not complete for %q", ErrPluginLoad, mi.Name)
		}
		if cm.VTable.Step != nil {
			step := cm.VTable.Step
			err := mi.RegisterFunction(mi.Name, mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					return step(cm.desc, modelTime, stopTime)
				})
			if err != nil {
				return err
			}
			// Configure every channel of the instance (not the model).
			// Priority to alias over name: the channel is requested by
			// its alias (if used), which ConfigureChannel resolves back to
			// the bus channel name; that name selects the SignalGroups.
			for i := range mi.Spec.Channels {
				ch := &mi.Spec.Channels[i]
				name := ch.Alias
				if name == "" {
					name = ch.Name
				}
				desc := &ChannelDesc{Name: name, FunctionName: mi.Name}
				if err := mi.ConfigureChannel(desc); err != nil {
					return err
				}
			}
		}
		cm.desc = &ModelDesc{Instance: mi, Vectors: MakeSignalVectors(mi)}
		if cm.VTable.Create != nil {
			logrus.Infof("Call symbol: %s ...", ModelCreateSymbol)
			ret, err := cm.VTable.Create(cm.desc)
			if err != nil {
				return fmt.Errorf("%w: %s failed for %q: %v", ErrPluginLoad, ModelCreateSymbol, mi.Name, err)
			}
			if ret != nil {
				cm.desc = ret
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: model interface not complete for %q", ErrPluginLoad, mi.Name)
	}
}

// BusReady performs the bus-ready handshake: start the endpoint, announce
// every model, and index the signals. A stop request observed after
// connect skips registration.
func (c *Controller) BusReady(sim *SimulationSpec) error {
	ep := c.adapter.Endpoint()
	if err := ep.Start(); err != nil {
		return fmt.Errorf("endpoint start: %w", err)
	}
	if err := c.adapter.Connect(sim.StepSize, 5); err != nil {
		return err
	}
	if c.stopRequest.Load() {
		return nil
	}
	return c.adapter.Register()
}

// Step executes one tick of the coordination state machine:
//
//	marshal-out -> adapter ready -> marshal-in -> step handlers -> advance
//
// Returns nil (Idle again), ErrRunComplete (Terminal), a bus error
// (recoverable timeout included, propagated verbatim), or a wrapped
// ErrStepFailed (Faulted). Stop requests are not checked here; RunLoop
// checks them between ticks and returns ErrCancelled.
func (c *Controller) Step(sim *SimulationSpec) error {
	// Marshal data from model functions to adapter channels.
	c.marshal(sim, marshalModelToAdapter)

	// ModelReady and wait on ModelStart. A timeout may indicate that
	// another model has left the simulation; the caller can attempt a
	// clean exit.
	if err := c.adapter.Ready(); err != nil {
		if errors.Is(err, adapter.ErrExchangeTimeout) {
			c.metrics.IncBusTimeouts()
		}
		return err
	}

	// Marshal data from adapter channels to model functions.
	c.marshal(sim, marshalAdapterToModel)

	// Step handlers observe the next start/stop interval, then the model
	// times advance to the granted stop time.
	modelTime := sim.EndTime
	endRequested := false
	for _, mi := range sim.Instances {
		err := c.stepModel(mi, &modelTime)
		if err != nil {
			if !errors.Is(err, ErrRunComplete) {
				c.metrics.IncStepErrors()
				return err
			}
			endRequested = true
		}
	}
	c.metrics.IncTicks()

	if endRequested {
		logrus.Infof("Model requested end-of-run")
		return ErrRunComplete
	}
	if sim.EndTime > 0 && modelTime >= sim.EndTime {
		logrus.Infof("[t=%f] End time reached", modelTime)
		return ErrRunComplete
	}
	return nil
}

// stepModel invokes every function of one instance with the granted
// interval and advances the instance's model time. A handler fault
// carries the offending instance and function identity.
func (c *Controller) stepModel(mi *ModelInstance, modelTime *float64) error {
	am := mi.AdapterModel
	var result error
	for _, mf := range mi.ControllerModel.functionOrder() {
		t := am.ModelTime
		if err := mf.Step(&t, am.StopTime); err != nil {
			if errors.Is(err, ErrRunComplete) {
				result = err
				continue
			}
			return fmt.Errorf("%w: %s:%s: %v", ErrStepFailed, mi.Name, mf.Name, err)
		}
	}
	am.ModelTime = am.StopTime
	*modelTime = am.ModelTime
	return result
}

// Run enters the synchronous loop: bus-ready handshake, then ticks until
// end-of-run, a fault, or a stop request. End-of-run returns nil.
func (c *Controller) Run(sim *SimulationSpec) error {
	if err := c.BusReady(sim); err != nil {
		return err
	}
	return c.RunLoop(sim)
}

// RunLoop ticks an already bus-ready simulation until end-of-run, a
// fault, or a stop request.
func (c *Controller) RunLoop(sim *SimulationSpec) error {
	for {
		if c.stopRequest.Load() {
			return ErrCancelled
		}
		if err := c.Step(sim); err != nil {
			if errors.Is(err, ErrRunComplete) {
				return nil
			}
			return err
		}
	}
}

// Stop requests the run loop to exit and interrupts a pending bus
// exchange. Safe to call from a signal-handling goroutine; performs no
// allocation or blocking.
func (c *Controller) Stop() {
	c.stopRequest.Store(true)
	c.adapter.Interrupt()
}

// exit calls every plug-in's destroy/exit entry point in configuration
// order, then shuts the adapter down. The document
// list is NOT released here: the adapter held borrowed references until
// this call, the caller releases documents afterwards.
func (c *Controller) exit(sim *SimulationSpec) {
	for _, mi := range sim.Instances {
		cm := mi.ControllerModel
		if cm == nil {
			continue
		}
		switch cm.Kind {
		case PluginVTable:
			if cm.VTable.Destroy != nil {
				logrus.Infof("Call symbol: %s ...", ModelDestroySymbol)
				cm.VTable.Destroy(cm.desc)
			}
		case PluginLegacy:
			if cm.Exit != nil {
				logrus.Infof("Call symbol: %s ...", ModelExitSymbol)
				if err := cm.Exit(mi); err != nil {
					logrus.Errorf("%s failed for %q: %v", ModelExitSymbol, mi.Name, err)
				}
			}
		}
	}
	logrus.Infof("Controller exit ...")
	c.adapter.Exit()
}
