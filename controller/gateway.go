package controller

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// gatewayVTable is the built-in model interface of the gateway. The
// gateway model has no local physics (the external driver is the
// physics), so its step only advances time to the granted stop time.
var gatewayVTable = VTable{
	Step: func(md *ModelDesc, modelTime *float64, stopTime float64) error {
		*modelTime = stopTime
		return nil
	},
}

// Gateway lets an external simulation environment drive the controller
// core with its own time source: Setup -> Sync(t) ... -> Exit. The
// external driver must keep up with the bus time; Sync reports
// ErrGatewayBehind when it has fallen behind.
type Gateway struct {
	sim  *SimulationSpec
	ctrl *Controller
	mi   *ModelInstance

	// Vectors are the gateway's signal vectors; the external driver
	// reads and writes signal values through them between Sync calls.
	Vectors []*SignalVector

	argv   []string
	docs   *DocList
	primed bool
}

// Setup synthesises an argv-shaped invocation ("gateway" --name=<name>
// <yaml>...), configures the simulation from it, and starts it in async
// mode. The gateway's model function is registered from the built-in
// gateway symbols.
func (gw *Gateway) Setup(name string, yamlFiles []string, logLevel string, stepSize, endTime float64) error {
	if logLevel != "" {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("%w: invalid log level %q", ErrConfig, logLevel)
		}
		logrus.SetLevel(level)
	}

	// Construct the argument vector.
	gw.argv = append([]string{"gateway", "--name=" + name}, yamlFiles...)
	logrus.Infof("Gateway arguments:")
	for _, arg := range gw.argv {
		logrus.Infof("  %s", arg)
	}

	fs := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	nameFlag := fs.String("name", "", "gateway model instance name")
	if err := fs.Parse(gw.argv[1:]); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	args := &Args{
		Transport: "loopback",
		URI:       "loopback://gateway",
		StepSize:  stepSize,
		EndTime:   endTime,
		Names:     *nameFlag,
		YamlFiles: fs.Args(),
	}
	sim, err := Configure(args)
	if err != nil {
		return fmt.Errorf("unable to configure gateway simulation: %w", err)
	}
	gw.sim = sim
	gw.docs = sim.Docs

	ctrl, err := RunSimulation(sim, true)
	gw.ctrl = ctrl
	if err != nil {
		return err
	}

	gw.mi = sim.Instance(name)
	if gw.mi == nil {
		return fmt.Errorf("%w: gateway instance %q not configured", ErrConfig, name)
	}
	gw.Vectors = MakeSignalVectors(gw.mi)
	return nil
}

// Sync synchronises the gateway with the bus for the caller's time t.
//
// The bus schedule is unknown until the first exchange, so the first call
// performs one coordinated step before comparing times. If the gateway
// has then fallen behind the bus time, the caller needs to advance its
// own time (however it wishes) and retry until the condition clears — it
// is not possible to jump the caller's environment to the bus time from
// here. Otherwise the simulation advances one step interval at a time
// until the bus time is strictly past t.
func (gw *Gateway) Sync(t float64) error {
	if gw.sim == nil {
		return fmt.Errorf("%w: gateway not set up", ErrConfig)
	}
	if !gw.primed {
		if err := gw.ctrl.Step(gw.sim); err != nil {
			return err
		}
		gw.primed = true
	}

	am := gw.mi.AdapterModel
	if t < am.ModelTime {
		return ErrGatewayBehind
	}

	// When this loop exits the bus time is strictly past t; the value in
	// am.ModelTime is the next synchronisation point.
	for am.ModelTime <= t {
		logrus.Debugf("Gateway steps the model; model at %f, target is %f", am.ModelTime, t)
		if err := gw.ctrl.Step(gw.sim); err != nil {
			return err
		}
	}
	return nil
}

// Exit terminates the gateway and releases everything it references, in
// order: simulation exit (destroys the instance), signal vectors, argv
// storage, and last the document list (which must outlive the adapter).
// Idempotent: calling Exit on a zero-initialised or already-exited
// gateway returns nil without side effects.
func (gw *Gateway) Exit() error {
	if gw.sim == nil {
		return nil
	}

	// The instance is destroyed during simulation exit; the doc list
	// reference is saved above (gw.docs) for release afterwards.
	ExitSimulation(gw.ctrl, gw.sim)
	gw.Vectors = nil
	gw.argv = nil
	if gw.docs != nil {
		gw.docs.Release()
	}

	*gw = Gateway{}
	return nil
}
