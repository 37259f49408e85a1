package controller

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// StepFunc is a model function's step handler. modelTime points at the
// handler's view of the current time (handlers may advance it); stopTime
// is the target time granted by the bus. Return nil to continue,
// ErrRunComplete to request end-of-run, any other error to fault the run.
type StepFunc func(modelTime *float64, stopTime float64) error

// ControllerModel is the plug-in facing view of one instance: the loaded
// plug-in symbols and the registered model functions.
type ControllerModel struct {
	Kind   PluginKind
	VTable VTable

	// Legacy plug-in kind: bare setup/exit entry points which register
	// their own model functions.
	Setup SetupFunc
	Exit  ExitFunc

	Functions map[string]*ModelFunction
	order     []string

	// desc is the model descriptor passed to the vtable entry points.
	desc *ModelDesc
}

func newControllerModel() *ControllerModel {
	return &ControllerModel{Functions: make(map[string]*ModelFunction)}
}

// functionOrder returns the registered functions in registration order.
func (cm *ControllerModel) functionOrder() []*ModelFunction {
	fns := make([]*ModelFunction, 0, len(cm.order))
	for _, name := range cm.order {
		fns = append(fns, cm.Functions[name])
	}
	return fns
}

// ModelFunction is a unit of execution within a step: a named handler and
// its channel bindings.
type ModelFunction struct {
	Name     string
	StepSize float64
	Step     StepFunc

	Channels     map[string]*FunctionChannel
	channelOrder []string
}

func (mf *ModelFunction) channels() []*FunctionChannel {
	chs := make([]*FunctionChannel, 0, len(mf.channelOrder))
	for _, name := range mf.channelOrder {
		chs = append(chs, mf.Channels[name])
	}
	return chs
}

func (mf *ModelFunction) release() {
	for _, fc := range mf.Channels {
		fc.Scalars = nil
		fc.Binary = nil
		fc.SignalNames = nil
	}
	mf.Channels = nil
	mf.channelOrder = nil
}

// FunctionChannel binds a model function to a bus channel: the signal
// name vector plus the function-local value vectors. Exactly one of
// Scalars/Binary is allocated, each parallel to SignalNames. Binary
// payload sizes are the slice lengths; capacity is retained across ticks.
type FunctionChannel struct {
	ChannelName string
	SignalNames []string

	Scalars []float64
	Binary  [][]byte
}

// RegisterFunction registers a model function with the instance's
// controller model. Registering a name twice is an error. The step size
// must be the simulation step size or a positive integer multiple of it.
func (mi *ModelInstance) RegisterFunction(name string, stepSize float64, step StepFunc) error {
	cm := mi.ControllerModel
	if _, exists := cm.Functions[name]; exists {
		return fmt.Errorf("%w: model function %q already registered", ErrConfig, name)
	}
	if mi.Sim != nil && mi.Sim.StepSize > 0 {
		ratio := stepSize / mi.Sim.StepSize
		if ratio < 1 || math.Abs(ratio-math.Round(ratio)) > 1e-9 {
			return fmt.Errorf("%w: function %q step size %f is not a multiple of simulation step size %f",
				ErrConfig, name, stepSize, mi.Sim.StepSize)
		}
	}
	mf := &ModelFunction{
		Name:     name,
		StepSize: stepSize,
		Step:     step,
		Channels: make(map[string]*FunctionChannel),
	}
	cm.Functions[name] = mf
	cm.order = append(cm.order, name)
	return nil
}

// Function returns a registered model function by name, or nil.
func (mi *ModelInstance) Function(name string) *ModelFunction {
	return mi.ControllerModel.Functions[name]
}

// InitChannel forwards channel initialisation to the Adapter Model, which
// allocates slots for any previously unseen signals.
func (mi *ModelInstance) InitChannel(channelName string, signalNames []string) {
	logrus.Infof("Init controller channel: %s", channelName)
	mi.AdapterModel.InitChannel(channelName, signalNames)
}

// ChannelDesc is the request/result object of ConfigureChannel: the
// caller names the channel and function, ConfigureChannel fills in the
// resolved signal names and the allocated value vectors.
type ChannelDesc struct {
	Name         string
	FunctionName string

	// Propagator routing direction: when the instance is configured with
	// propagators, signals are collected from their source or target side.
	PropagatorSourceChannel bool
	PropagatorTargetChannel bool

	SignalNames []string
	Scalars     []float64
	Binary      [][]byte
	IsBinary    bool
}

// ConfigureChannel configures a connection from a model function to a bus
// channel: resolve the channel by name or alias on the instance node,
// resolve its signal names (SignalGroup documents, then the Model
// Definition's inline list, then the instance node's inline list),
// register the signals with the Adapter Model, and allocate the
// function-local value vectors.
func (mi *ModelInstance) ConfigureChannel(desc *ChannelDesc) error {
	logrus.Infof("Configure channel: %s", desc.Name)
	chName, chDoc := mi.resolveChannel(desc.Name)
	if chDoc == nil {
		return fmt.Errorf("%w: channel %q not found on instance %q", ErrConfig, desc.Name, mi.Name)
	}

	mf := mi.Function(desc.FunctionName)
	if mf == nil {
		return fmt.Errorf("%w: model function %q not registered", ErrConfig, desc.FunctionName)
	}
	fc, ok := mf.Channels[chName]
	if !ok {
		fc = &FunctionChannel{ChannelName: chName}
		mf.Channels[chName] = fc
		mf.channelOrder = append(mf.channelOrder, chName)
	}

	// Previously configured? Hand out the existing vectors.
	if len(fc.SignalNames) > 0 {
		logrus.Infof("Previously configured channel detected: %s", chName)
		desc.SignalNames = fc.SignalNames
		desc.Scalars = fc.Scalars
		desc.Binary = fc.Binary
		desc.IsBinary = fc.Binary != nil
		return nil
	}

	names, isBinary := mi.resolveSignals(chName, chDoc, desc)
	logrus.Infof("  Unique signals identified: %d", len(names))

	mi.InitChannel(chName, names)

	fc.SignalNames = names
	if isBinary {
		fc.Binary = make([][]byte, len(names))
	} else {
		fc.Scalars = make([]float64, len(names))
	}

	desc.SignalNames = names
	desc.Scalars = fc.Scalars
	desc.Binary = fc.Binary
	desc.IsBinary = isBinary
	return nil
}

// resolveChannel finds the channel node on the instance's stack entry by
// name, falling back to alias. The returned name is the bus channel name
// (an aliased channel resolves to its name field).
func (mi *ModelInstance) resolveChannel(nameOrAlias string) (string, *ChannelDoc) {
	if mi.Spec == nil {
		return "", nil
	}
	for i := range mi.Spec.Channels {
		ch := &mi.Spec.Channels[i]
		if ch.Name == nameOrAlias {
			return ch.Name, ch
		}
	}
	for i := range mi.Spec.Channels {
		ch := &mi.Spec.Channels[i]
		if ch.Alias == nameOrAlias {
			name := ch.Name
			if name == "" {
				name = nameOrAlias
			}
			return name, ch
		}
	}
	return "", nil
}

// resolveSignals determines the signal-name vector for a channel.
func (mi *ModelInstance) resolveSignals(chName string, chDoc *ChannelDoc, desc *ChannelDesc) ([]string, bool) {
	if len(mi.Spec.Propagators) > 0 {
		return mi.propagatorSignals(desc), false
	}

	// SignalGroup documents selected by the channel label.
	var names []string
	isBinary := false
	for _, doc := range mi.Docs.SignalGroups(chName) {
		for _, sig := range doc.Spec.Signals {
			if sig.Signal != "" {
				names = append(names, sig.Signal)
			}
		}
		if doc.Metadata.Annotations["vector_type"] == "binary" {
			isBinary = true
		}
	}
	if len(names) > 0 {
		return names, isBinary
	}

	// Fallback: inline signal list on the Model Definition.
	if md := mi.ModelDefinition.Doc; md != nil {
		for i := range md.Spec.Channels {
			ch := &md.Spec.Channels[i]
			if ch.Name != chName {
				continue
			}
			for _, sig := range ch.Signals {
				names = append(names, sig.Signal)
			}
		}
	}
	if len(names) > 0 {
		return names, false
	}

	// Fallback: inline signal list on the instance node.
	for _, sig := range chDoc.Signals {
		names = append(names, sig.Signal)
	}
	return names, false
}

// propagatorSignals collects signal names from the instance's Propagator
// documents. Duplicates across propagators collapse; order does not
// matter to a propagator model, so the set is returned sorted.
func (mi *ModelInstance) propagatorSignals(desc *ChannelDesc) []string {
	seen := map[string]bool{}
	for _, ref := range mi.Spec.Propagators {
		doc := mi.Docs.FindDoc("Propagator", ref.Name)
		if doc == nil {
			logrus.Errorf("Propagator %q not found in document list", ref.Name)
			continue
		}
		for _, sig := range doc.Spec.Signals {
			name := sig.Signal
			if desc.PropagatorTargetChannel && sig.Target != "" {
				name = sig.Target
			} else if desc.PropagatorSourceChannel && sig.Source != "" {
				name = sig.Source
			}
			if name != "" {
				seen[name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
