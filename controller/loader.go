package controller

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/sirupsen/logrus"
)

// Plug-in symbol names. The exported names are the contract: a shared
// library built with -buildmode=plugin exports either the vtable kind
// (ModelCreate/ModelStep/ModelDestroy) or the legacy kind
// (ModelSetup/ModelExit).
const (
	ModelCreateSymbol  = "ModelCreate"
	ModelStepSymbol    = "ModelStep"
	ModelDestroySymbol = "ModelDestroy"
	ModelSetupSymbol   = "ModelSetup"
	ModelExitSymbol    = "ModelExit"
)

// PluginKind tags the two generations of the plug-in contract.
type PluginKind int

const (
	PluginNone PluginKind = iota
	// PluginVTable is the create/step/destroy contract. The runtime
	// registers the model function and configures the instance's
	// channels; the plug-in supplies the step behaviour.
	PluginVTable
	// PluginLegacy is the setup/exit contract. The setup entry point
	// registers its own model functions and channels.
	PluginLegacy
)

// ModelDesc is the descriptor passed through the vtable entry points. It
// carries the instance and the signal vectors built for it.
type ModelDesc struct {
	Instance *ModelInstance
	Vectors  []*SignalVector
}

type (
	// CreateFunc may return an extended descriptor; returning nil keeps
	// the runtime's own.
	CreateFunc  func(*ModelDesc) (*ModelDesc, error)
	ModelStep   func(md *ModelDesc, modelTime *float64, stopTime float64) error
	DestroyFunc func(*ModelDesc)
	SetupFunc   func(*ModelInstance) error
	ExitFunc    func(*ModelInstance) error
)

// VTable is the newer plug-in contract. Destroy is optional; missing both
// Create and Step is a fatal interface error.
type VTable struct {
	Create  CreateFunc
	Step    ModelStep
	Destroy DestroyFunc
}

// PluginSymbols bundles the loadable entry points of either kind, for
// in-process (builtin) models: the gateway, and test stubs.
type PluginSymbols struct {
	Kind   PluginKind
	VTable VTable
	Setup  SetupFunc
	Exit   ExitFunc
}

var (
	builtinMu sync.Mutex
	builtins  = map[string]PluginSymbols{}
)

// RegisterBuiltin makes an in-process model available under a Model
// Definition name, substituting for a shared-library load. Re-registering
// a name replaces the previous entry.
func RegisterBuiltin(name string, syms PluginSymbols) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	builtins[name] = syms
}

func builtinRegistered(name string) bool {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	_, ok := builtins[name]
	return ok
}

func lookupBuiltin(name string) (PluginSymbols, bool) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	syms, ok := builtins[name]
	return syms, ok
}

// loadModel binds the plug-in entry points into the instance's controller
// model: from the resolved shared library when a dynlib path is
// configured, from the built-in gateway symbols when the Model Definition
// carries the gateway runtime key, or from the builtin registry.
func loadModel(mi *ModelInstance) error {
	cm := mi.ControllerModel
	def := &mi.ModelDefinition

	if def.FullPath != "" {
		logrus.Infof("Loading dynamic model: %s ...", def.FullPath)
		p, err := plugin.Open(def.FullPath)
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", ErrPluginLoad, def.FullPath, err)
		}
		return bindPluginSymbols(cm, p)
	}

	if gatewayModel(def.Doc) {
		logrus.Infof("Using gateway symbols ...")
		cm.Kind = PluginVTable
		cm.VTable = gatewayVTable
		return nil
	}

	if syms, ok := lookupBuiltin(def.Name); ok {
		logrus.Infof("Using builtin symbols: %s ...", def.Name)
		cm.Kind = syms.Kind
		cm.VTable = syms.VTable
		cm.Setup = syms.Setup
		cm.Exit = syms.Exit
		return nil
	}

	return fmt.Errorf("%w: no dynlib, gateway or builtin for model %q", ErrPluginLoad, def.Name)
}

func bindPluginSymbols(cm *ControllerModel, p *plugin.Plugin) error {
	lookup := func(name string) (plugin.Symbol, bool) {
		sym, err := p.Lookup(name)
		logrus.Infof("Loading symbol: %s ... %s", name, symbolStatus(err))
		return sym, err == nil
	}

	if sym, ok := lookup(ModelCreateSymbol); ok {
		fn, cast := sym.(func(*ModelDesc) (*ModelDesc, error))
		if !cast {
			return fmt.Errorf("%w: symbol %s has unexpected type %T", ErrPluginLoad, ModelCreateSymbol, sym)
		}
		cm.VTable.Create = fn
		cm.Kind = PluginVTable
	}
	if sym, ok := lookup(ModelStepSymbol); ok {
		fn, cast := sym.(func(*ModelDesc, *float64, float64) error)
		if !cast {
			return fmt.Errorf("%w: symbol %s has unexpected type %T", ErrPluginLoad, ModelStepSymbol, sym)
		}
		cm.VTable.Step = fn
		cm.Kind = PluginVTable
	}
	if sym, ok := lookup(ModelDestroySymbol); ok {
		// Missing destroy is tolerated.
		if fn, cast := sym.(func(*ModelDesc)); cast {
			cm.VTable.Destroy = fn
		}
	}
	if cm.Kind == PluginVTable {
		return nil
	}

	// Older contract: bare setup/exit entry points.
	if sym, ok := lookup(ModelSetupSymbol); ok {
		fn, cast := sym.(func(*ModelInstance) error)
		if !cast {
			return fmt.Errorf("%w: symbol %s has unexpected type %T", ErrPluginLoad, ModelSetupSymbol, sym)
		}
		cm.Setup = fn
		cm.Kind = PluginLegacy
	}
	if sym, ok := lookup(ModelExitSymbol); ok {
		if fn, cast := sym.(func(*ModelInstance) error); cast {
			cm.Exit = fn
		}
	}
	if cm.Kind == PluginLegacy {
		return nil
	}

	return fmt.Errorf("%w: model interface not complete (%s/%s/%s all missing)",
		ErrPluginLoad, ModelCreateSymbol, ModelStepSymbol, ModelSetupSymbol)
}

func symbolStatus(err error) string {
	if err != nil {
		return "not found"
	}
	return "ok"
}
