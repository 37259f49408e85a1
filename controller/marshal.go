package controller

import (
	"github.com/sirupsen/logrus"
)

// marshalDir selects the direction of one marshalling pass.
type marshalDir int

const (
	marshalAdapterToModel marshalDir = iota
	marshalModelToAdapter
)

func (d marshalDir) String() string {
	if d == marshalModelToAdapter {
		return "model2adapter"
	}
	return "adapter2model"
}

// marshal copies scalar and binary signal values between every function's
// channel bindings and the adapter's signal tables, in instance order.
// Within a tick, all marshalling of one direction completes before any
// operation of the opposite direction begins (the caller sequences the
// passes around the bus exchange).
func (c *Controller) marshal(sim *SimulationSpec, dir marshalDir) {
	for _, mi := range sim.Instances {
		for _, mf := range mi.ControllerModel.functionOrder() {
			for _, fc := range mf.channels() {
				if err := c.marshalChannel(mi, fc, dir); err != nil {
					logrus.Errorf("marshal %s %s:%s[%s]: %v", dir, mi.Name, mf.Name, fc.ChannelName, err)
				}
			}
		}
	}
}

// marshalChannel transfers one function channel. The signal map is a
// transient allocation owned by this pass.
//
// Binary payload convention: appending to the destination consumes the
// source (the source size is zeroed), so a producer does not republish
// stale data and a consumer does not re-read it. Buffer capacity is
// retained across ticks.
func (c *Controller) marshalChannel(mi *ModelInstance, fc *FunctionChannel, dir marshalDir) error {
	sm, err := mi.AdapterModel.SignalMap(fc.ChannelName, fc.SignalNames)
	if err != nil {
		return err
	}

	switch dir {
	case marshalModelToAdapter:
		if fc.Scalars != nil {
			for i := range sm {
				sm[i].Signal.FinalVal = fc.Scalars[i]
			}
		}
		if fc.Binary != nil {
			for i := range sm {
				sv := sm[i].Signal
				sv.Bin = append(sv.Bin, fc.Binary[i]...)
				fc.Binary[i] = fc.Binary[i][:0]
			}
		}
	case marshalAdapterToModel:
		if fc.Scalars != nil {
			for i := range sm {
				fc.Scalars[i] = sm[i].Signal.Val
			}
		}
		if fc.Binary != nil {
			for i := range sm {
				sv := sm[i].Signal
				fc.Binary[i] = append(fc.Binary[i], sv.Bin...)
				sv.Bin = sv.Bin[:0]
			}
		}
	}
	c.metrics.AddSignalsMarshalled(dir.String(), len(sm))
	return nil
}
