package controller

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cosim-run/cosim/controller/adapter"
)

// DefaultTimeout (seconds) applies when a configuration leaves the
// per-model bus timeout unset or non-positive.
const DefaultTimeout = 60.0

// Args carries the simulation parameters of one invocation, normally
// populated from CLI flags (or the gateway's synthesised argv).
type Args struct {
	Transport string
	URI       string
	UID       uint32
	Timeout   float64
	StepSize  float64
	EndTime   float64

	// Names is the semicolon-separated list of model instance names to
	// configure from the Stack.
	Names string

	// Path and File override the Model Definition location (development
	// use case, normally taken from the stack).
	Path string
	File string

	YamlFiles []string

	// Docs may be pre-populated (gateway embedding); YamlFiles are
	// appended to it.
	Docs *DocList
}

// ModelDefinition records where an instance's model comes from.
type ModelDefinition struct {
	Name     string
	Path     string
	File     string
	FullPath string

	// Doc is the Model document, borrowed from the simulation DocList.
	Doc *Document
}

// ModelInstance is one running model within a simulation.
type ModelInstance struct {
	Name            string
	UID             uint32
	ModelDefinition ModelDefinition

	// Spec is the instance node in the Stack document (borrowed).
	Spec *StackModel
	// Docs is the simulation document list (borrowed).
	Docs *DocList
	// Sim is the owning simulation (borrowed).
	Sim *SimulationSpec

	ControllerModel *ControllerModel
	AdapterModel    *adapter.AdapterModel
}

// SimulationSpec is the top-level container: transport, timing, and the
// ordered list of model instances. It owns its instances; teardown runs
// through ExitSimulation.
type SimulationSpec struct {
	Transport string
	URI       string
	UID       uint32
	Timeout   float64
	StepSize  float64
	EndTime   float64

	Instances []*ModelInstance

	// Docs is the document list backing this simulation. Released only
	// after the adapter is gone (borrowed references).
	Docs *DocList
}

// Instance returns the named model instance, or nil.
func (sim *SimulationSpec) Instance(name string) *ModelInstance {
	for _, mi := range sim.Instances {
		if mi.Name == name {
			return mi
		}
	}
	return nil
}

// Configure parses the descriptor bundle and constructs the simulation:
// one ModelInstance per entry of the semicolon-separated name list, each
// resolved against the Stack and Model documents, with empty controller
// and adapter model views.
func Configure(args *Args) (*SimulationSpec, error) {
	docs := args.Docs
	if docs == nil {
		docs = NewDocList()
	}
	for _, path := range args.YamlFiles {
		if err := docs.LoadFile(path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	var names []string
	for _, n := range strings.Split(args.Names, ";") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no model names parsed from %q", ErrConfig, args.Names)
	}

	sim := &SimulationSpec{
		Transport: args.Transport,
		URI:       args.URI,
		UID:       args.UID,
		Timeout:   args.Timeout,
		StepSize:  args.StepSize,
		EndTime:   args.EndTime,
		Docs:      docs,
	}

	logrus.Infof("Simulation Parameters:")
	logrus.Infof("  Step Size: %f", sim.StepSize)
	logrus.Infof("  End Time: %f", sim.EndTime)
	logrus.Infof("  Model Timeout: %f", sim.Timeout)
	logrus.Infof("Transport:")
	logrus.Infof("  Transport: %s", sim.Transport)
	logrus.Infof("  URI: %s", sim.URI)
	logrus.Infof("Platform:")
	logrus.Infof("  OS: %s", runtime.GOOS)
	logrus.Infof("  Arch: %s", runtime.GOARCH)

	if sim.Timeout <= 0 {
		sim.Timeout = DefaultTimeout
	}
	// A zero or negative end time runs open-ended (termination disabled).
	if sim.EndTime > 0 && sim.StepSize > sim.EndTime {
		return nil, fmt.Errorf("%w: step size (%f) is greater than end time (%f)",
			ErrConfig, sim.StepSize, sim.EndTime)
	}

	for _, name := range names {
		mi := &ModelInstance{Name: name, Sim: sim, Docs: docs}
		if err := configureInstance(args, docs, mi); err != nil {
			return nil, err
		}
		sim.Instances = append(sim.Instances, mi)
	}

	return sim, nil
}

// configureInstance resolves one instance against the document list:
// locate the Stack node, resolve the Model Definition, merge the
// definition's auxiliary model.yaml, select the dynlib for this platform,
// and allocate the controller/adapter model views.
func configureInstance(args *Args, docs *DocList, mi *ModelInstance) error {
	node := docs.FindStackModel(mi.Name)
	if node == nil {
		return fmt.Errorf("%w: model instance %q not found in Stack", ErrConfig, mi.Name)
	}
	mi.Spec = node

	// UID, if not set (0), is derived by RunSimulation from the instance
	// position and the (possibly bus-assigned) simulation UID.
	if mi.UID == 0 {
		mi.UID = node.UID
	}

	if node.Model.Name == "" {
		return fmt.Errorf("%w: model definition not named for instance %q", ErrConfig, mi.Name)
	}
	def := &mi.ModelDefinition
	def.Name = node.Model.Name

	// Load and add the Model Definition document to the doc list.
	if path := node.Model.Metadata.Annotations["path"]; path != "" {
		def.Path = path
		if err := docs.LoadFile(filepath.Join(path, "model.yaml")); err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	if md := docs.FindDoc("Model", def.Name); md != nil {
		def.Doc = md
		if md.Spec.Runtime != nil {
			for _, dl := range md.Spec.Runtime.Dynlib {
				if dl.OS == runtime.GOOS && dl.Arch == runtime.GOARCH {
					def.File = dl.Path
					break
				}
			}
		}
	}

	// CLI overrides, development use case (normally take from stack).
	if args.File != "" {
		def.File = args.File
	}
	if args.Path != "" {
		def.Path = args.Path
	}

	if def.File != "" {
		def.FullPath = filepath.Join(def.Path, def.File)
	} else if !gatewayModel(def.Doc) && !builtinRegistered(def.Name) {
		return fmt.Errorf("%w: model path not found in definition %q", ErrConfig, def.Name)
	}

	mi.ControllerModel = newControllerModel()
	mi.AdapterModel = adapter.NewAdapterModel()

	logrus.Infof("Model Instance:")
	logrus.Infof("  Name: %s", mi.Name)
	logrus.Infof("  UID: %d", mi.UID)
	logrus.Infof("  Model Name: %s", def.Name)
	logrus.Infof("  Model Path: %s", def.Path)
	logrus.Infof("  Model File: %s", def.File)
	logrus.Infof("  Model Location: %s", def.FullPath)

	return nil
}

func gatewayModel(doc *Document) bool {
	return doc != nil && doc.Spec.Runtime != nil && doc.Spec.Runtime.Gateway != nil
}

// releaseInstances drops per-instance state (function buffers, adapter
// model views) so that owned allocations are unreachable after exit. The
// document list is left to the caller: the adapter holds borrowed
// references into it until it is gone.
func releaseInstances(sim *SimulationSpec) {
	for _, mi := range sim.Instances {
		if cm := mi.ControllerModel; cm != nil {
			for _, mf := range cm.Functions {
				mf.release()
			}
			cm.Functions = nil
		}
		mi.ControllerModel = nil
		mi.AdapterModel = nil
	}
	sim.Instances = nil
}
