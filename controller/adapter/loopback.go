package adapter

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func init() {
	RegisterTransport("loopback", func(uri string, uid uint32, timeout float64) (Endpoint, error) {
		return newLoopback(uid), nil
	})
}

// busSlot is the bus-side consolidation point for one signal: the current
// scalar value plus any undelivered binary payload and its publisher.
type busSlot struct {
	val    float64
	hasVal bool
	bin    []byte
	pubUID uint32
}

// loopback is an in-process bus. All participating models live in the same
// adapter, so the exchange is a direct publish/distribute over a shared
// signal table: scalars become visible to every model on the next exchange,
// binary payloads are delivered to every model except their publisher.
type loopback struct {
	uid      uint32
	stepSize float64
	channels map[string]map[string]*busSlot
}

func newLoopback(uid uint32) *loopback {
	if uid == 0 {
		// Random bus UID, derived the same way regardless of transport.
		u := uuid.New()
		uid = binary.BigEndian.Uint32(u[:4])
	}
	return &loopback{
		uid:      uid,
		channels: make(map[string]map[string]*busSlot),
	}
}

func (lb *loopback) UID() uint32 { return lb.uid }

func (lb *loopback) Start() error { return nil }

func (lb *loopback) Connect(am *AdapterModel, stepSize float64) error {
	lb.stepSize = stepSize
	logrus.Debugf("loopback: ModelRegister <-- [uid=%d step_size=%f]", am.ModelUID, stepSize)
	return nil
}

// Register assigns signal UIDs with an FNV-1a hash of the signal name, so
// every participant derives identical UIDs without negotiation.
func (lb *loopback) Register(am *AdapterModel) error {
	for _, chName := range am.ChannelNames() {
		ch := am.Channel(chName)
		for _, name := range ch.SignalNames() {
			sv := ch.Signal(name)
			h := fnv.New32a()
			h.Write([]byte(name))
			sv.UID = h.Sum32()
			logrus.Debugf("loopback: SignalLookup %s [UID=%d]", name, sv.UID)
		}
	}
	return nil
}

func (lb *loopback) slot(channel, signal string) *busSlot {
	chTable, ok := lb.channels[channel]
	if !ok {
		chTable = make(map[string]*busSlot)
		lb.channels[channel] = chTable
	}
	s, ok := chTable[signal]
	if !ok {
		s = &busSlot{}
		chTable[signal] = s
	}
	return s
}

// Exchange performs the ModelReady/ModelStart cycle for all models in one
// pass: publish every model's deltas into the bus table, distribute the
// consolidated table back, then grant the next step interval.
func (lb *loopback) Exchange(models []*AdapterModel) error {
	// Publish. Truncating the slot's Bin marks the payload consumed on the
	// producing side.
	for _, am := range models {
		for _, chName := range am.ChannelNames() {
			ch := am.Channel(chName)
			for _, name := range ch.SignalNames() {
				sv := ch.Signal(name)
				if sv.FinalVal != sv.Val {
					s := lb.slot(chName, name)
					s.val = sv.FinalVal
					s.hasVal = true
					logrus.Debugf("loopback: SignalWrite %d = %f [name=%s]", sv.UID, sv.FinalVal, name)
				}
				if len(sv.Bin) > 0 {
					s := lb.slot(chName, name)
					s.bin = append(s.bin, sv.Bin...)
					s.pubUID = am.ModelUID
					logrus.Debugf("loopback: SignalWrite %d = <binary> (len=%d) [name=%s]", sv.UID, len(sv.Bin), name)
					sv.Bin = sv.Bin[:0]
				}
			}
		}
	}

	// Distribute and grant the next step.
	for _, am := range models {
		for _, chName := range am.ChannelNames() {
			ch := am.Channel(chName)
			chTable := lb.channels[chName]
			if chTable == nil {
				continue
			}
			for _, name := range ch.SignalNames() {
				s, ok := chTable[name]
				if !ok {
					continue
				}
				sv := ch.Signal(name)
				if s.hasVal {
					sv.Val = s.val
					sv.FinalVal = s.val
				}
				if len(s.bin) > 0 && s.pubUID != am.ModelUID {
					sv.Bin = append(sv.Bin, s.bin...)
				}
			}
		}
		am.StopTime = am.ModelTime + lb.stepSize
	}

	// Binary payloads are consumed by distribution.
	for _, chTable := range lb.channels {
		for _, s := range chTable {
			s.bin = s.bin[:0]
		}
	}

	return nil
}

func (lb *loopback) Exit(am *AdapterModel) error {
	logrus.Debugf("loopback: ModelExit <-- [uid=%d]", am.ModelUID)
	return nil
}

func (lb *loopback) Interrupt() {}

func (lb *loopback) Disconnect() {}
