package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeYAML writes a fixture file into a temp dir and returns its path.
func writeYAML(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

// counterStack returns a single-instance stack fixture: one instance
// running modelName with one scalar signal "counter" on channel "data".
func counterStack(instName, modelName string) string {
	return fmt.Sprintf(`kind: Stack
metadata:
  name: test_stack
spec:
  models:
    - name: %s
      uid: 42
      model:
        name: %s
      channels:
        - name: data
          signals:
            - signal: counter
---
kind: Model
metadata:
  name: %s
`, instName, modelName, modelName)
}

// registerCounterModel registers a legacy-kind builtin model whose single
// function increments its scalar signal each step. The returned desc
// exposes the function's channel vectors; ticks counts step invocations.
func registerCounterModel(t *testing.T, modelName string) (desc *ChannelDesc, ticks *int) {
	t.Helper()
	desc = &ChannelDesc{}
	ticks = new(int)
	RegisterBuiltin(modelName, PluginSymbols{
		Kind: PluginLegacy,
		Setup: func(mi *ModelInstance) error {
			err := mi.RegisterFunction(mi.Name, mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					desc.Scalars[0]++
					*ticks++
					return nil
				})
			if err != nil {
				return err
			}
			desc.Name = "data"
			desc.FunctionName = mi.Name
			return mi.ConfigureChannel(desc)
		},
	})
	return desc, ticks
}

// configureSim is the common happy path: parse fixtures and configure the
// named instances over the loopback transport.
func configureSim(t *testing.T, names string, stepSize, endTime float64, yamlFiles ...string) *SimulationSpec {
	t.Helper()
	sim, err := Configure(&Args{
		Transport: "loopback",
		URI:       "loopback://test",
		Names:     names,
		StepSize:  stepSize,
		EndTime:   endTime,
		YamlFiles: yamlFiles,
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return sim
}

// clearShutdown resets the process-wide stop flag between tests.
func clearShutdown() {
	stopFlag.Store(false)
}
