package controller

// SignalVector is a convenience view over one (function, channel) binding:
// the signal names plus either the scalar vector (shared storage with the
// function channel) or accessors for the binary vectors. Model
// implementations and the gateway's external driver use it to read and
// write signal values without touching marshalling internals.
type SignalVector struct {
	Name         string
	FunctionName string
	IsBinary     bool

	// Signal holds the signal names; index positions match Scalar and
	// the binary accessors.
	Signal []string

	// Scalar is the function channel's scalar vector (nil for binary
	// channels). Writes are marshalled out on the next tick.
	Scalar []float64

	mi *ModelInstance
	fc *FunctionChannel
}

// MakeSignalVectors builds the signal vectors of an instance, one per
// (function, channel) binding, in registration order.
func MakeSignalVectors(mi *ModelInstance) []*SignalVector {
	var vectors []*SignalVector
	for _, mf := range mi.ControllerModel.functionOrder() {
		for _, fc := range mf.channels() {
			vectors = append(vectors, &SignalVector{
				Name:         fc.ChannelName,
				FunctionName: mf.Name,
				IsBinary:     fc.Binary != nil,
				Signal:       fc.SignalNames,
				Scalar:       fc.Scalars,
				mi:           mi,
				fc:           fc,
			})
		}
	}
	return vectors
}

// Count returns the number of signals in the vector.
func (sv *SignalVector) Count() int { return len(sv.Signal) }

// Index returns the position of a signal name, or -1.
func (sv *SignalVector) Index(name string) int {
	for i, n := range sv.Signal {
		if n == name {
			return i
		}
	}
	return -1
}

// Binary returns the pending binary payload of signal i (nil length means
// no new data).
func (sv *SignalVector) Binary(i int) []byte {
	if sv.fc.Binary == nil {
		return nil
	}
	return sv.fc.Binary[i]
}

// Append adds data to the binary payload of signal i.
func (sv *SignalVector) Append(i int, data []byte) {
	if sv.fc.Binary == nil {
		return
	}
	sv.fc.Binary[i] = append(sv.fc.Binary[i], data...)
}

// Reset truncates the binary payload of signal i, retaining its buffer.
func (sv *SignalVector) Reset(i int) {
	if sv.fc.Binary == nil {
		return
	}
	sv.fc.Binary[i] = sv.fc.Binary[i][:0]
}

// Release frees the binary buffer of signal i.
func (sv *SignalVector) Release(i int) {
	if sv.fc.Binary == nil {
		return
	}
	sv.fc.Binary[i] = nil
}

// Annotation looks up a signal annotation from the SignalGroup documents
// attached to this vector's channel. Returns "" when not annotated.
func (sv *SignalVector) Annotation(i int, name string) string {
	if i < 0 || i >= len(sv.Signal) || sv.mi == nil || sv.mi.Docs == nil {
		return ""
	}
	for _, doc := range sv.mi.Docs.SignalGroups(sv.Name) {
		for _, sig := range doc.Spec.Signals {
			if sig.Signal == sv.Signal[i] {
				if v, ok := sig.Annotations[name]; ok {
					return v
				}
			}
		}
	}
	return ""
}
