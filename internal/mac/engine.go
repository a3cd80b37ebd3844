// Package mac defines the contract between the device layer and the LoRaWAN
// MAC engine driving the radio.
package mac

import (
	"context"
	"fmt"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-end-device/internal/hal"
)

// errors
var (
	ErrBusy          = errors.New("mac: tx/rx pending")
	ErrNotJoined     = errors.New("mac: not joined")
	ErrNotConfigured = errors.New("mac: radio not configured")
	ErrClosed        = errors.New("mac: engine closed")
)

// EventType defines the MAC event type.
type EventType int

// Event types.
const (
	EventJoined EventType = iota + 1
	EventJoinFailed
	EventMessageReceived
	EventTXComplete
	EventTXFailed
)

func (t EventType) String() string {
	switch t {
	case EventJoined:
		return "JOINED"
	case EventJoinFailed:
		return "JOIN_FAILED"
	case EventMessageReceived:
		return "MESSAGE_RECEIVED"
	case EventTXComplete:
		return "TX_COMPLETE"
	case EventTXFailed:
		return "TX_FAILED"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is emitted by the engine when an asynchronous operation progresses.
// Port and Payload are set for EventMessageReceived, Acked for
// EventTXComplete of a confirmed uplink.
type Event struct {
	Type    EventType
	Port    uint8
	Payload []byte
	Acked   bool
}

// Engine defines the interface of a MAC engine.
//
// StartOTAA and Send start an asynchronous operation and return immediately.
// The outcome is reported through the Events channel: a join results in
// EventJoined or EventJoinFailed, a send in zero or more EventMessageReceived
// followed by EventTXComplete or EventTXFailed. ErrBusy is returned while a
// previous operation has not completed.
//
// The channel methods return true only when the state of at least one
// channel changed.
type Engine interface {
	// ConfigureRadio hands the opened radio to the engine.
	ConfigureRadio(r *hal.Radio) error

	// Reset resets the MAC state, dropping any session.
	Reset() error

	// StartOTAA starts the over-the-air activation.
	StartOTAA(ctx context.Context, devEUI, appEUI lorawan.EUI64, appKey lorawan.AES128Key) error

	// Send schedules the given payload for transmission.
	Send(ctx context.Context, payload []byte, port uint8, confirmed bool) error

	EnableChannel(ch int) bool
	DisableChannel(ch int) bool
	EnableSubBand(band int) bool
	DisableSubBand(band int) bool

	// SubBandCount returns the number of sub-bands (groups of 8 channels).
	SubBandCount() int

	// SetLBTCalibration sets the listen-before-talk RSSI calibration (dB).
	SetLBTCalibration(dB int8)

	// Events returns the engine event channel.
	Events() <-chan Event
}
