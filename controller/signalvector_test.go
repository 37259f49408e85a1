package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorInstance(t *testing.T) *ModelInstance {
	t.Helper()
	registerCounterModel(t, "SvModel")
	stack := writeYAML(t, "stack.yaml", `kind: Stack
metadata:
  name: sv_stack
spec:
  models:
    - name: inst
      uid: 21
      model:
        name: SvModel
      channels:
        - name: data
        - name: stream
---
kind: Model
metadata:
  name: SvModel
---
kind: SignalGroup
metadata:
  name: data_signals
  labels:
    channel: data
spec:
  signals:
    - signal: speed
      annotations:
        unit: m/s
    - signal: torque
---
kind: SignalGroup
metadata:
  name: stream_signals
  labels:
    channel: stream
  annotations:
    vector_type: binary
spec:
  signals:
    - signal: frame
      annotations:
        mime_type: application/octet-stream
`)
	sim := configureSim(t, "inst", 0.5, 10.0, stack)
	mi := sim.Instances[0]
	require.NoError(t, mi.RegisterFunction("physics", 0.5, noopStep))
	require.NoError(t, mi.ConfigureChannel(&ChannelDesc{Name: "data", FunctionName: "physics"}))
	require.NoError(t, mi.ConfigureChannel(&ChannelDesc{Name: "stream", FunctionName: "physics"}))
	return mi
}

func TestMakeSignalVectors_BuildsOnePerBinding(t *testing.T) {
	mi := vectorInstance(t)

	vectors := MakeSignalVectors(mi)
	require.Len(t, vectors, 2)

	scalar := vectors[0]
	assert.Equal(t, "data", scalar.Name)
	assert.Equal(t, "physics", scalar.FunctionName)
	assert.False(t, scalar.IsBinary)
	assert.Equal(t, []string{"speed", "torque"}, scalar.Signal)
	require.Len(t, scalar.Scalar, 2)

	binary := vectors[1]
	assert.Equal(t, "stream", binary.Name)
	assert.True(t, binary.IsBinary)
	assert.Nil(t, binary.Scalar)
}

func TestSignalVector_ScalarSharesStorage(t *testing.T) {
	mi := vectorInstance(t)
	vectors := MakeSignalVectors(mi)
	sv := vectors[0]
	fc := mi.Function("physics").Channels["data"]

	sv.Scalar[0] = 13.5
	assert.Equal(t, 13.5, fc.Scalars[0])
}

func TestSignalVector_BinaryHelpers(t *testing.T) {
	mi := vectorInstance(t)
	sv := MakeSignalVectors(mi)[1]
	i := sv.Index("frame")
	require.Equal(t, 0, i)

	sv.Append(i, []byte{0x01, 0x02})
	sv.Append(i, []byte{0x03})
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, sv.Binary(i))

	sv.Reset(i)
	assert.Len(t, sv.Binary(i), 0)

	sv.Append(i, []byte{0x04})
	sv.Release(i)
	assert.Nil(t, sv.Binary(i))
}

func TestSignalVector_AnnotationLookup(t *testing.T) {
	mi := vectorInstance(t)
	vectors := MakeSignalVectors(mi)

	assert.Equal(t, "m/s", vectors[0].Annotation(0, "unit"))
	assert.Equal(t, "", vectors[0].Annotation(1, "unit"))
	assert.Equal(t, "application/octet-stream", vectors[1].Annotation(0, "mime_type"))
	assert.Equal(t, "", vectors[1].Annotation(5, "mime_type"))
}

func TestSignalVector_IndexMissing(t *testing.T) {
	mi := vectorInstance(t)
	sv := MakeSignalVectors(mi)[0]
	assert.Equal(t, -1, sv.Index("no_such_signal"))
}
