package test

import (
	"context"
	"sync"

	"github.com/brocaar/lorawan"

	"github.com/brocaar/chirpstack-end-device/internal/hal"
	"github.com/brocaar/chirpstack-end-device/internal/mac"
)

// OTAARequest holds the arguments of a StartOTAA call.
type OTAARequest struct {
	DevEUI lorawan.EUI64
	AppEUI lorawan.EUI64
	AppKey lorawan.AES128Key
}

// SendRequest holds the arguments of a Send call.
type SendRequest struct {
	Payload   []byte
	Port      uint8
	Confirmed bool
}

// MACEngine is a MAC engine for testing. Every call is recorded on a
// channel, the events emitted as result of StartOTAA and Send can be
// scripted using JoinEvents and SendEvents.
type MACEngine struct {
	sync.Mutex

	OTAAChan  chan OTAARequest
	SendChan  chan SendRequest
	ResetChan chan struct{}

	// JoinEvents holds the events emitted after StartOTAA, defaults to
	// EventJoined.
	JoinEvents []mac.Event
	// SendEvents holds the events emitted after Send, defaults to
	// EventTXComplete.
	SendEvents []mac.Event

	StartOTAAError error
	SendError      error
	ConfigureError error

	Radio          *hal.Radio
	LBTCalibration int8

	channels []bool
	events   chan mac.Event
}

// NewMACEngine creates a MACEngine with the given number of channels, all
// enabled.
func NewMACEngine(channels int) *MACEngine {
	e := MACEngine{
		OTAAChan:  make(chan OTAARequest, 100),
		SendChan:  make(chan SendRequest, 100),
		ResetChan: make(chan struct{}, 100),
		channels:  make([]bool, channels),
		events:    make(chan mac.Event, 100),
	}

	for i := range e.channels {
		e.channels[i] = true
	}

	return &e
}

// ConfigureRadio method.
func (e *MACEngine) ConfigureRadio(r *hal.Radio) error {
	e.Lock()
	defer e.Unlock()

	if e.ConfigureError != nil {
		return e.ConfigureError
	}
	e.Radio = r
	return nil
}

// Reset method.
func (e *MACEngine) Reset() error {
	e.ResetChan <- struct{}{}
	return nil
}

// StartOTAA method.
func (e *MACEngine) StartOTAA(ctx context.Context, devEUI, appEUI lorawan.EUI64, appKey lorawan.AES128Key) error {
	e.Lock()
	defer e.Unlock()

	e.OTAAChan <- OTAARequest{DevEUI: devEUI, AppEUI: appEUI, AppKey: appKey}
	if e.StartOTAAError != nil {
		return e.StartOTAAError
	}

	events := e.JoinEvents
	if events == nil {
		events = []mac.Event{{Type: mac.EventJoined}}
	}
	e.emit(events)
	return nil
}

// Send method.
func (e *MACEngine) Send(ctx context.Context, payload []byte, port uint8, confirmed bool) error {
	e.Lock()
	defer e.Unlock()

	b := make([]byte, len(payload))
	copy(b, payload)
	e.SendChan <- SendRequest{Payload: b, Port: port, Confirmed: confirmed}
	if e.SendError != nil {
		return e.SendError
	}

	events := e.SendEvents
	if events == nil {
		events = []mac.Event{{Type: mac.EventTXComplete, Acked: confirmed}}
	}
	e.emit(events)
	return nil
}

// EnableChannel method.
func (e *MACEngine) EnableChannel(ch int) bool {
	return e.setChannel(ch, true)
}

// DisableChannel method.
func (e *MACEngine) DisableChannel(ch int) bool {
	return e.setChannel(ch, false)
}

// EnableSubBand method.
func (e *MACEngine) EnableSubBand(band int) bool {
	return e.setSubBand(band, true)
}

// DisableSubBand method.
func (e *MACEngine) DisableSubBand(band int) bool {
	return e.setSubBand(band, false)
}

// SubBandCount method.
func (e *MACEngine) SubBandCount() int {
	e.Lock()
	defer e.Unlock()
	return (len(e.channels) + 7) / 8
}

// SetLBTCalibration method.
func (e *MACEngine) SetLBTCalibration(dB int8) {
	e.Lock()
	defer e.Unlock()
	e.LBTCalibration = dB
}

// Events method.
func (e *MACEngine) Events() <-chan mac.Event {
	return e.events
}

// EnabledChannels returns the indices of the enabled channels.
func (e *MACEngine) EnabledChannels() []int {
	e.Lock()
	defer e.Unlock()

	var out []int
	for i, enabled := range e.channels {
		if enabled {
			out = append(out, i)
		}
	}
	return out
}

// emit sends the events from a separate goroutine, as a radio interrupt
// would.
func (e *MACEngine) emit(events []mac.Event) {
	evs := make([]mac.Event, len(events))
	copy(evs, events)

	go func() {
		for _, ev := range evs {
			e.events <- ev
		}
	}()
}

func (e *MACEngine) setChannel(ch int, enabled bool) bool {
	e.Lock()
	defer e.Unlock()

	if ch < 0 || ch >= len(e.channels) || e.channels[ch] == enabled {
		return false
	}
	e.channels[ch] = enabled
	return true
}

func (e *MACEngine) setSubBand(band int, enabled bool) bool {
	var changed bool
	for ch := band * 8; ch < band*8+8; ch++ {
		if e.setChannel(ch, enabled) {
			changed = true
		}
	}
	return changed
}
