package adapter

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// SignalValue is one slot of a channel's signal table. Val is the current
// value as of the last bus exchange, FinalVal the pending outbound value
// written by the model. Bin carries a binary payload; a non-empty Bin means
// "new data present", and the producing/consuming side truncates it to
// mark the payload consumed (capacity is retained across ticks).
type SignalValue struct {
	Name     string
	UID      uint32
	Val      float64
	FinalVal float64
	Bin      []byte
}

// SignalRef pairs a caller-side binding index with the slot it resolves to.
type SignalRef struct {
	Name   string
	Signal *SignalValue
}

// Channel groups the signal slots exchanged under one bus channel name.
// Slot iteration order is insertion order, which keeps bus traffic and
// debug output deterministic.
type Channel struct {
	Name string

	signals map[string]*SignalValue
	names   []string
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:    name,
		signals: make(map[string]*SignalValue),
	}
}

// Signal returns the slot for name, creating it when missing (signal names
// may be provided dynamically by late-configured model functions).
func (ch *Channel) Signal(name string) *SignalValue {
	if sv, ok := ch.signals[name]; ok {
		return sv
	}
	sv := &SignalValue{Name: name}
	ch.signals[name] = sv
	ch.names = append(ch.names, name)
	return sv
}

// SignalNames returns the slot names in insertion order.
func (ch *Channel) SignalNames() []string {
	return ch.names
}

// AdapterModel is the per-instance view of the bus: the current and next
// step times and the per-channel signal tables.
type AdapterModel struct {
	ModelUID  uint32
	ModelTime float64
	StopTime  float64

	adapter      *Adapter
	channels     map[string]*Channel
	channelNames []string
}

// NewAdapterModel allocates an Adapter Model with empty channel tables.
func NewAdapterModel() *AdapterModel {
	return &AdapterModel{channels: make(map[string]*Channel)}
}

// InitChannel creates the named channel (if needed) and allocates slots for
// any previously unseen signals.
func (am *AdapterModel) InitChannel(channelName string, signalNames []string) *Channel {
	ch, ok := am.channels[channelName]
	if !ok {
		ch = newChannel(channelName)
		am.channels[channelName] = ch
		am.channelNames = append(am.channelNames, channelName)
	}
	for _, n := range signalNames {
		ch.Signal(n)
	}
	return ch
}

// Channel returns the named channel, or nil when it was never initialised.
func (am *AdapterModel) Channel(name string) *Channel {
	return am.channels[name]
}

// ChannelNames returns the channel names in insertion order.
func (am *AdapterModel) ChannelNames() []string {
	return am.channelNames
}

// SignalMap resolves a signal-name vector against a channel's table and
// returns one ref per binding index. The map is a transient allocation
// owned by the caller for the duration of one marshalling pass. Missing
// slots are created, so a model function can bind a subset (or superset)
// of the channel's registered signals.
func (am *AdapterModel) SignalMap(channelName string, signalNames []string) ([]SignalRef, error) {
	ch, ok := am.channels[channelName]
	if !ok {
		return nil, fmt.Errorf("channel %q not initialised", channelName)
	}
	sm := make([]SignalRef, len(signalNames))
	for i, n := range signalNames {
		sm[i] = SignalRef{Name: n, Signal: ch.Signal(n)}
	}
	return sm, nil
}

// Adapter is the bus-facing side of one process. It owns the Adapter
// Models (keyed by stringified model UID) and delegates the wire exchange
// to its Endpoint.
type Adapter struct {
	endpoint Endpoint

	models      map[string]*AdapterModel
	modelOrder  []*AdapterModel
	stopRequest atomic.Bool
}

// New creates an Adapter bound to an endpoint.
func New(endpoint Endpoint) *Adapter {
	return &Adapter{
		endpoint: endpoint,
		models:   make(map[string]*AdapterModel),
	}
}

// Endpoint returns the transport endpoint the adapter was created with.
func (a *Adapter) Endpoint() Endpoint { return a.endpoint }

// AddModel registers an Adapter Model under its UID. Models take part in
// bus exchanges in registration order.
func (a *Adapter) AddModel(uid uint32, am *AdapterModel) {
	am.adapter = a
	am.ModelUID = uid
	key := strconv.FormatUint(uint64(uid), 10)
	if _, exists := a.models[key]; !exists {
		a.modelOrder = append(a.modelOrder, am)
	}
	a.models[key] = am
}

// Model looks up an Adapter Model by UID.
func (a *Adapter) Model(uid uint32) *AdapterModel {
	return a.models[strconv.FormatUint(uint64(uid), 10)]
}

// Models returns the Adapter Models in registration order.
func (a *Adapter) Models() []*AdapterModel {
	return a.modelOrder
}

// Connect announces every model to the bus, retrying each registration up
// to retryCount times. A pending stop request aborts the sequence.
func (a *Adapter) Connect(stepSize float64, retryCount int) error {
	for _, am := range a.modelOrder {
		var err error
		for i := 0; i < retryCount; i++ {
			err = a.endpoint.Connect(am, stepSize)
			if err == nil {
				break
			}
			if a.stopRequest.Load() {
				break
			}
			logrus.Debugf("adapter connect: retry (uid=%d): %v", am.ModelUID, err)
		}
		if err != nil {
			return fmt.Errorf("model register (uid=%d): %w", am.ModelUID, err)
		}
	}
	return nil
}

// Register indexes every model's signals with the bus (UID assignment).
func (a *Adapter) Register() error {
	for _, am := range a.modelOrder {
		if err := a.endpoint.Register(am); err != nil {
			return fmt.Errorf("signal index (uid=%d): %w", am.ModelUID, err)
		}
	}
	return nil
}

// Ready publishes every model's pending signal writes and blocks until the
// bus grants the next step (updating ModelTime/StopTime and the signal
// tables). Non-nil errors are propagated verbatim to the caller; a bus
// timeout is recoverable by a graceful exit.
func (a *Adapter) Ready() error {
	return a.endpoint.Exchange(a.modelOrder)
}

// Interrupt unblocks a pending exchange. Safe to call from any goroutine.
func (a *Adapter) Interrupt() {
	a.stopRequest.Store(true)
	a.endpoint.Interrupt()
}

// Exit sends the leave notification for every model and disconnects.
func (a *Adapter) Exit() {
	for _, am := range a.modelOrder {
		if err := a.endpoint.Exit(am); err != nil {
			logrus.Errorf("model exit (uid=%d): %v", am.ModelUID, err)
		}
	}
	a.endpoint.Disconnect()
}
