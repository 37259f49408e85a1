package controller

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Single-model loopback: one scalar signal incremented per step. With
// step 1.0 and end time 3.0 the run performs exactly 3 ticks.
func TestRun_SingleModelLoopback(t *testing.T) {
	clearShutdown()
	desc, ticks := registerCounterModel(t, "CounterS1")
	stack := writeYAML(t, "stack.yaml", counterStack("counter_a", "CounterS1"))
	sim := configureSim(t, "counter_a", 1.0, 3.0, stack)

	ctrl, err := RunSimulation(sim, false)
	require.NoError(t, err)

	assert.Equal(t, 3, *ticks)
	assert.Equal(t, 3.0, desc.Scalars[0])
	assert.Equal(t, 3.0, sim.Instances[0].AdapterModel.ModelTime)

	ExitSimulation(ctrl, sim)
	sim.Docs.Release()
	assert.Nil(t, sim.Instances)
}

func twoInstanceStack(modelA, modelB, signal string, binaryGroup bool) string {
	doc := fmt.Sprintf(`kind: Stack
metadata:
  name: pair_stack
spec:
  models:
    - name: alpha
      uid: 1
      model:
        name: %s
      channels:
        - name: data
          signals:
            - signal: %s
    - name: beta
      uid: 2
      model:
        name: %s
      channels:
        - name: data
          signals:
            - signal: %s
---
kind: Model
metadata:
  name: %s
---
kind: Model
metadata:
  name: %s
`, modelA, signal, modelB, signal, modelA, modelB)
	if binaryGroup {
		doc += fmt.Sprintf(`---
kind: SignalGroup
metadata:
  name: data_binary
  labels:
    channel: data
  annotations:
    vector_type: binary
spec:
  signals:
    - signal: %s
`, signal)
	}
	return doc
}

// Two instances, one bus: a value written by alpha at tick k is read by
// beta at tick k+1, never within the same tick.
func TestRun_CrossTickVisibility(t *testing.T) {
	clearShutdown()
	writerDesc := &ChannelDesc{Name: "data", FunctionName: "alpha"}
	writerTick := 0
	RegisterBuiltin("WriterX", PluginSymbols{
		Kind: PluginLegacy,
		Setup: func(mi *ModelInstance) error {
			err := mi.RegisterFunction(mi.Name, mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					writerTick++
					if writerTick == 1 {
						writerDesc.Scalars[0] = 1.0
					}
					return nil
				})
			if err != nil {
				return err
			}
			return mi.ConfigureChannel(writerDesc)
		},
	})
	readerDesc := &ChannelDesc{Name: "data", FunctionName: "beta"}
	var observed []float64
	RegisterBuiltin("ReaderX", PluginSymbols{
		Kind: PluginLegacy,
		Setup: func(mi *ModelInstance) error {
			err := mi.RegisterFunction(mi.Name, mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					observed = append(observed, readerDesc.Scalars[0])
					return nil
				})
			if err != nil {
				return err
			}
			return mi.ConfigureChannel(readerDesc)
		},
	})

	stack := writeYAML(t, "stack.yaml", twoInstanceStack("WriterX", "ReaderX", "x", false))
	sim := configureSim(t, "alpha;beta", 1.0, 3.0, stack)

	ctrl, err := RunSimulation(sim, false)
	require.NoError(t, err)
	defer func() {
		ExitSimulation(ctrl, sim)
		sim.Docs.Release()
	}()

	assert.Equal(t, []float64{0, 1, 1}, observed)
}

// Binary payload handoff: the producer's buffer is consumed on marshal
// out, the consumer reads back the exact payload one tick later, and the
// payload is never echoed back to the producer.
func TestRun_BinaryPayloadHandoff(t *testing.T) {
	clearShutdown()
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	prodDesc := &ChannelDesc{Name: "data", FunctionName: "alpha"}
	prodTick := 0
	var prodSizes []int
	RegisterBuiltin("ProdB", PluginSymbols{
		Kind: PluginLegacy,
		Setup: func(mi *ModelInstance) error {
			err := mi.RegisterFunction(mi.Name, mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					prodSizes = append(prodSizes, len(prodDesc.Binary[0]))
					prodTick++
					if prodTick == 1 {
						prodDesc.Binary[0] = append(prodDesc.Binary[0], payload...)
					}
					return nil
				})
			if err != nil {
				return err
			}
			return mi.ConfigureChannel(prodDesc)
		},
	})

	consDesc := &ChannelDesc{Name: "data", FunctionName: "beta"}
	var consumed [][]byte
	RegisterBuiltin("ConsB", PluginSymbols{
		Kind: PluginLegacy,
		Setup: func(mi *ModelInstance) error {
			err := mi.RegisterFunction(mi.Name, mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					data := consDesc.Binary[0]
					if len(data) > 0 {
						consumed = append(consumed, append([]byte(nil), data...))
						// Consume: zero the size, retaining the buffer.
						consDesc.Binary[0] = consDesc.Binary[0][:0]
					}
					return nil
				})
			if err != nil {
				return err
			}
			return mi.ConfigureChannel(consDesc)
		},
	})

	stack := writeYAML(t, "stack.yaml", twoInstanceStack("ProdB", "ConsB", "blob", true))
	sim := configureSim(t, "alpha;beta", 1.0, 3.0, stack)

	ctrl, err := RunSimulation(sim, false)
	require.NoError(t, err)
	defer func() {
		ExitSimulation(ctrl, sim)
		sim.Docs.Release()
	}()
	require.NotNil(t, prodDesc.Binary, "SignalGroup vector_type must select binary storage")

	require.Len(t, consumed, 1)
	assert.Equal(t, payload, consumed[0])
	// The producer observed its buffer consumed on every following tick.
	assert.Equal(t, []int{0, 0, 0}, prodSizes)
}

// A model with no registered channels completes setup -> step -> exit.
func TestRun_ModelWithoutChannels(t *testing.T) {
	clearShutdown()
	ticks := 0
	RegisterBuiltin("NoChan", PluginSymbols{
		Kind: PluginLegacy,
		Setup: func(mi *ModelInstance) error {
			return mi.RegisterFunction(mi.Name, mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					ticks++
					return nil
				})
		},
	})
	stack := writeYAML(t, "stack.yaml", `kind: Stack
metadata:
  name: bare
spec:
  models:
    - name: bare
      uid: 9
      model:
        name: NoChan
---
kind: Model
metadata:
  name: NoChan
`)
	sim := configureSim(t, "bare", 1.0, 2.0, stack)

	ctrl, err := RunSimulation(sim, false)
	require.NoError(t, err)
	assert.Equal(t, 2, ticks)
	ExitSimulation(ctrl, sim)
	sim.Docs.Release()
}

// A step-handler fault aborts the run and carries the offending instance
// and function identity.
func TestRun_StepFaultCarriesIdentity(t *testing.T) {
	clearShutdown()
	boom := errors.New("actuator jammed")
	RegisterBuiltin("Faulty", PluginSymbols{
		Kind: PluginLegacy,
		Setup: func(mi *ModelInstance) error {
			tick := 0
			return mi.RegisterFunction("dynamics", mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					tick++
					if tick == 2 {
						return boom
					}
					return nil
				})
		},
	})
	stack := writeYAML(t, "stack.yaml", `kind: Stack
metadata:
  name: faulty
spec:
  models:
    - name: faulty
      uid: 3
      model:
        name: Faulty
---
kind: Model
metadata:
  name: Faulty
`)
	sim := configureSim(t, "faulty", 1.0, 10.0, stack)

	ctrl, err := RunSimulation(sim, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.Contains(t, err.Error(), "faulty:dynamics")
	assert.Contains(t, err.Error(), "actuator jammed")
	ExitSimulation(ctrl, sim)
	sim.Docs.Release()
}

// A handler returning ErrRunComplete terminates the run normally.
func TestRun_HandlerRequestsEnd(t *testing.T) {
	clearShutdown()
	ticks := 0
	RegisterBuiltin("EndsEarly", PluginSymbols{
		Kind: PluginLegacy,
		Setup: func(mi *ModelInstance) error {
			return mi.RegisterFunction(mi.Name, mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					ticks++
					if ticks == 2 {
						return ErrRunComplete
					}
					return nil
				})
		},
	})
	stack := writeYAML(t, "stack.yaml", `kind: Stack
metadata:
  name: early
spec:
  models:
    - name: early
      uid: 4
      model:
        name: EndsEarly
---
kind: Model
metadata:
  name: EndsEarly
`)
	sim := configureSim(t, "early", 1.0, 100.0, stack)

	ctrl, err := RunSimulation(sim, false)
	require.NoError(t, err)
	assert.Equal(t, 2, ticks)
	ExitSimulation(ctrl, sim)
	sim.Docs.Release()
}

// Graceful interrupt: a stop request mid-run drains the loop with a
// cancelled status and teardown still releases all per-instance state.
func TestRun_GracefulInterrupt(t *testing.T) {
	clearShutdown()
	defer clearShutdown()
	ticks := 0
	RegisterBuiltin("LongRun", PluginSymbols{
		Kind: PluginLegacy,
		Setup: func(mi *ModelInstance) error {
			return mi.RegisterFunction(mi.Name, mi.Sim.StepSize,
				func(modelTime *float64, stopTime float64) error {
					ticks++
					if ticks == 5 {
						Shutdown()
					}
					return nil
				})
		},
	})
	stack := writeYAML(t, "stack.yaml", `kind: Stack
metadata:
  name: long
spec:
  models:
    - name: long
      uid: 5
      model:
        name: LongRun
---
kind: Model
metadata:
  name: LongRun
`)
	// Zero end time: the run is open-ended until interrupted.
	sim := configureSim(t, "long", 0.01, 0, stack)

	ctrl, err := RunSimulation(sim, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 5, ticks)

	ExitSimulation(ctrl, sim)
	sim.Docs.Release()
	assert.Nil(t, sim.Instances)
}

// The end-of-run check after advancing: model time reaching the end time
// terminates, an earlier tick does not.
func TestStep_EndTimeBoundary(t *testing.T) {
	clearShutdown()
	desc, _ := registerCounterModel(t, "CounterEnd")
	stack := writeYAML(t, "stack.yaml", counterStack("counter_b", "CounterEnd"))
	sim := configureSim(t, "counter_b", 1.0, 2.0, stack)

	ctrl, err := RunSimulation(sim, true)
	require.NoError(t, err)
	defer func() {
		ExitSimulation(ctrl, sim)
		sim.Docs.Release()
	}()

	require.NoError(t, ctrl.Step(sim))
	assert.Equal(t, 1.0, sim.Instances[0].AdapterModel.ModelTime)

	err = ctrl.Step(sim)
	assert.ErrorIs(t, err, ErrRunComplete)
	assert.Equal(t, 2.0, sim.Instances[0].AdapterModel.ModelTime)
	assert.Equal(t, 2.0, desc.Scalars[0])
}
