// Package controller implements the model controller core of a
// distributed co-simulation: model instance lifecycle, the step
// coordination cycle, and signal marshalling between model functions and
// the bus-facing signal tables.
//
// # Reading Guide
//
// Start with these three files to understand the core:
//   - simulation.go: configuration (Stack/Model documents -> SimulationSpec)
//   - controller.go: the per-tick state machine and the run loop
//   - marshal.go: scalar/binary transfer between bindings and signal slots
//
// # Architecture
//
// A Simulation owns its ModelInstances; each instance owns a
// ControllerModel (plug-in facing: vtable + model functions) and an
// AdapterModel (bus facing: times + signal tables, see the adapter
// sub-package). The Adapter owns the AdapterModels by UID; all
// back-references are borrowed handles with lifetime bounded by the
// Simulation. The YAML document list outlives the adapter, which borrows
// into it.
//
// Per tick: model functions write scalars/binaries into their channel
// bindings, the marshaller pushes them to the signal tables, the adapter
// publishes on the bus and awaits peer publications, the marshaller pulls
// updated values back, the step handlers run with (model_time, stop_time),
// and time advances.
//
// Two usage modes share the machinery: the synchronous run loop
// (RunSimulation with runAsync=false) and the Gateway facade, where an
// external simulation environment owns the time loop and calls
// Gateway.Sync with its own time.
package controller
