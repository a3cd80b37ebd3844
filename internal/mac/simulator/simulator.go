// Package simulator implements a simulated LoRaWAN MAC engine. Frames are
// encoded using the LoRaWAN frame types and handed to a Network instead of
// a transceiver, while the regional channel plan, receive delays and duty
// cycle of the configured band are honoured.
package simulator

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/hal"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/mac"
	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/airtime"
	"github.com/brocaar/lorawan/band"
)

// lbtThreshold is the listen-before-talk RSSI threshold (dBm) before
// calibration.
const lbtThreshold = -80

// Config holds the simulator configuration.
type Config struct {
	Band band.Name

	// JoinAttempts is the number of join-requests sent before the join
	// is reported as failed.
	JoinAttempts int

	// ConfirmedRetries is the number of retransmissions of a confirmed
	// uplink which has not been acknowledged.
	ConfirmedRetries int

	// DutyCycle is the maximum duty cycle (e.g. 0.01 for 1%).
	DutyCycle float64

	// DataRate is the uplink data rate.
	DataRate int

	// RXWindow is the time the receiver stays open after the receive delay.
	RXWindow time.Duration

	// TimeScale scales all simulated delays, 0 disables waiting.
	TimeScale float64
}

// Engine implements a simulated mac.Engine.
type Engine struct {
	mu sync.Mutex

	config   Config
	band     band.Band
	network  Network
	radio    *hal.Radio
	events   chan mac.Event
	eventLog *logging.EventLog

	pending bool
	joined  bool
	devAddr lorawan.DevAddr
	fCntUp  uint32
	lbtCal  int8
	nextTX  time.Time

	isClosed bool
	closed   chan struct{}
	wg       sync.WaitGroup
}

// New creates a new simulated engine.
func New(conf Config, network Network) (*Engine, error) {
	if conf.JoinAttempts < 1 {
		conf.JoinAttempts = 1
	}
	if conf.DutyCycle <= 0 || conf.DutyCycle > 1 {
		conf.DutyCycle = 1
	}

	b, err := band.GetConfig(conf.Band, false, lorawan.DwellTimeNoLimit)
	if err != nil {
		return nil, errors.Wrap(err, "get band config error")
	}

	if _, err := b.GetDataRate(conf.DataRate); err != nil {
		return nil, errors.Wrap(err, "get data-rate error")
	}

	return &Engine{
		config:   conf,
		band:     b,
		network:  network,
		events:   make(chan mac.Event, 8),
		eventLog: logging.NewEventLog("simulator"),
		closed:   make(chan struct{}),
	}, nil
}

// ConfigureRadio stores the radio handle.
func (e *Engine) ConfigureRadio(r *hal.Radio) error {
	if r == nil {
		return errors.New("radio must not be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.radio = r
	return nil
}

// Reset drops the session and restores the default channel plan.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending {
		return mac.ErrBusy
	}

	b, err := band.GetConfig(e.config.Band, false, lorawan.DwellTimeNoLimit)
	if err != nil {
		return errors.Wrap(err, "get band config error")
	}

	e.band = b
	e.joined = false
	e.devAddr = lorawan.DevAddr{}
	e.fCntUp = 0

	e.eventLog.Log("reset", nil)
	return nil
}

// StartOTAA starts the join procedure.
func (e *Engine) StartOTAA(ctx context.Context, devEUI, appEUI lorawan.EUI64, appKey lorawan.AES128Key) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isClosed {
		return mac.ErrClosed
	}
	if e.radio == nil {
		return mac.ErrNotConfigured
	}
	if e.pending {
		return mac.ErrBusy
	}

	e.pending = true
	e.joined = false

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.join(ctx, devEUI, appEUI, appKey)
	}()

	return nil
}

// Send schedules the uplink.
func (e *Engine) Send(ctx context.Context, payload []byte, port uint8, confirmed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isClosed {
		return mac.ErrClosed
	}
	if e.radio == nil {
		return mac.ErrNotConfigured
	}
	if !e.joined {
		return mac.ErrNotJoined
	}
	if e.pending {
		return mac.ErrBusy
	}

	b := make([]byte, len(payload))
	copy(b, payload)

	e.pending = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.transmit(ctx, b, port, confirmed)
	}()

	return nil
}

// EnableChannel enables the given uplink channel.
func (e *Engine) EnableChannel(ch int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setChannel(ch, true)
}

// DisableChannel disables the given uplink channel.
func (e *Engine) DisableChannel(ch int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setChannel(ch, false)
}

// EnableSubBand enables the channels of the given sub-band.
func (e *Engine) EnableSubBand(sb int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setSubBand(sb, true)
}

// DisableSubBand disables the channels of the given sub-band.
func (e *Engine) DisableSubBand(sb int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setSubBand(sb, false)
}

// SubBandCount returns the number of sub-bands.
func (e *Engine) SubBandCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return (len(e.band.GetUplinkChannelIndices()) + 7) / 8
}

// EnabledChannels returns the enabled uplink channels.
func (e *Engine) EnabledChannels() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.band.GetEnabledUplinkChannelIndices()
}

// SetLBTCalibration sets the listen-before-talk calibration.
func (e *Engine) SetLBTCalibration(dB int8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lbtCal = dB
}

// LBTCalibration returns the listen-before-talk calibration.
func (e *Engine) LBTCalibration() int8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lbtCal
}

// Events returns the event channel.
func (e *Engine) Events() <-chan mac.Event {
	return e.events
}

// Close stops the engine and waits for the pending operation. The events
// channel is closed afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.isClosed {
		e.mu.Unlock()
		return nil
	}
	e.isClosed = true
	close(e.closed)
	e.mu.Unlock()

	e.wg.Wait()
	close(e.events)
	e.eventLog.Close()
	return nil
}

func (e *Engine) join(ctx context.Context, devEUI, appEUI lorawan.EUI64, appKey lorawan.AES128Key) {
	defaults := e.band.GetDefaults()

	for attempt := 1; attempt <= e.config.JoinAttempts; attempt++ {
		phy, err := e.joinRequest(devEUI, appEUI, appKey)
		if err != nil {
			log.WithError(err).Error("simulator: create join-request error")
			break
		}

		b, err := phy.MarshalBinary()
		if err != nil {
			log.WithError(err).Error("simulator: marshal join-request error")
			break
		}

		ch, ok := e.waitForChannel(len(b))
		if !ok {
			break
		}

		e.eventLog.Log("join-request sent", log.Fields{
			"dev_eui": devEUI,
			"channel": ch,
			"attempt": attempt,
		})

		ja, err := e.network.HandleJoinRequest(ctx, phy)
		if err != nil {
			log.WithError(err).Warning("simulator: network join-request error")
		}

		e.sleep(defaults.JoinAcceptDelay1 + e.config.RXWindow)

		if err == nil && ja.Accepted {
			e.mu.Lock()
			e.joined = true
			e.devAddr = ja.DevAddr
			e.fCntUp = 0
			e.pending = false
			e.mu.Unlock()

			e.eventLog.Log("joined", log.Fields{"dev_addr": ja.DevAddr})
			e.emit(mac.Event{Type: mac.EventJoined})
			return
		}

		e.eventLog.Log("join-accept not received", log.Fields{"attempt": attempt})
	}

	e.mu.Lock()
	e.pending = false
	e.mu.Unlock()

	e.eventLog.Log("join failed", nil)
	e.emit(mac.Event{Type: mac.EventJoinFailed})
}

func (e *Engine) joinRequest(devEUI, appEUI lorawan.EUI64, appKey lorawan.AES128Key) (lorawan.PHYPayload, error) {
	var nonce [2]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return lorawan.PHYPayload{}, errors.Wrap(err, "read random bytes error")
	}

	phy := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: lorawan.JoinRequest,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.JoinRequestPayload{
			JoinEUI:  appEUI,
			DevEUI:   devEUI,
			DevNonce: lorawan.DevNonce(binary.LittleEndian.Uint16(nonce[:])),
		},
	}

	if err := phy.SetUplinkJoinMIC(appKey); err != nil {
		return phy, errors.Wrap(err, "set uplink join mic error")
	}

	return phy, nil
}

func (e *Engine) transmit(ctx context.Context, payload []byte, port uint8, confirmed bool) {
	defaults := e.band.GetDefaults()

	attempts := 1
	if confirmed {
		attempts += e.config.ConfirmedRetries
	}

	mType := lorawan.UnconfirmedDataUp
	if confirmed {
		mType = lorawan.ConfirmedDataUp
	}

	e.mu.Lock()
	devAddr := e.devAddr
	fCnt := e.fCntUp
	e.mu.Unlock()

	phy := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: mType,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.MACPayload{
			FHDR: lorawan.FHDR{
				DevAddr: devAddr,
				FCnt:    fCnt,
			},
			FPort: &port,
			FRMPayload: []lorawan.Payload{
				&lorawan.DataPayload{Bytes: payload},
			},
		},
	}

	b, err := phy.MarshalBinary()
	if err != nil {
		log.WithError(err).Error("simulator: marshal uplink error")
		e.finishTX(mac.Event{Type: mac.EventTXFailed}, false)
		return
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		ch, ok := e.waitForChannel(len(b))
		if !ok {
			e.finishTX(mac.Event{Type: mac.EventTXFailed}, false)
			return
		}

		e.mu.Lock()
		c, err := e.band.GetUplinkChannel(ch)
		e.mu.Unlock()
		if err != nil {
			log.WithError(err).Error("simulator: get uplink channel error")
			e.finishTX(mac.Event{Type: mac.EventTXFailed}, false)
			return
		}

		e.eventLog.Log("uplink sent", log.Fields{
			"dev_addr":  devAddr,
			"f_cnt":     fCnt,
			"f_port":    port,
			"confirmed": confirmed,
			"channel":   ch,
			"frequency": int(c.Frequency),
			"attempt":   attempt,
		})

		dl, err := e.network.HandleUplink(ctx, Uplink{
			PHYPayload: phy,
			Channel:    ch,
			Frequency:  int(c.Frequency),
			DataRate:   e.config.DataRate,
		})
		if err != nil {
			log.WithError(err).Warning("simulator: network uplink error")
			dl = nil
		}

		e.sleep(defaults.ReceiveDelay1 + e.config.RXWindow)

		if dl != nil && dl.Port != 0 {
			e.eventLog.Log("downlink received", log.Fields{
				"f_port": dl.Port,
				"size":   len(dl.Payload),
			})
			e.emit(mac.Event{
				Type:    mac.EventMessageReceived,
				Port:    dl.Port,
				Payload: append([]byte(nil), dl.Payload...),
			})
		}

		if !confirmed {
			e.finishTX(mac.Event{Type: mac.EventTXComplete}, true)
			return
		}

		if dl != nil && dl.ACK {
			e.finishTX(mac.Event{Type: mac.EventTXComplete, Acked: true}, true)
			return
		}

		e.eventLog.Log("ack not received", log.Fields{"attempt": attempt})
	}

	e.finishTX(mac.Event{Type: mac.EventTXFailed}, true)
}

// finishTX clears the pending flag, increments the frame-counter when the
// frame was sent and emits the final event.
func (e *Engine) finishTX(ev mac.Event, sent bool) {
	e.mu.Lock()
	if sent {
		e.fCntUp++
	}
	e.pending = false
	e.mu.Unlock()

	e.eventLog.Log(ev.Type.String(), log.Fields{"acked": ev.Acked})
	e.emit(ev)
}

// waitForChannel selects a random enabled channel and waits until the
// duty cycle allows to transmit size bytes. It returns false when no
// channel is enabled or the engine is closed.
func (e *Engine) waitForChannel(size int) (int, bool) {
	e.mu.Lock()
	enabled := e.band.GetEnabledUplinkChannelIndices()
	if len(enabled) == 0 {
		e.mu.Unlock()
		log.Error("simulator: no uplink channels enabled")
		return 0, false
	}
	ch := enabled[mrand.Intn(len(enabled))]
	wait := time.Until(e.nextTX)
	cal := e.lbtCal
	e.mu.Unlock()

	if wait > 0 {
		e.eventLog.Log("duty-cycle wait", log.Fields{"wait": wait})
		if !e.sleep(wait) {
			return 0, false
		}
	}

	if e.requiresLBT() {
		e.eventLog.Log("listen before talk", log.Fields{
			"channel":        ch,
			"rssi_threshold": lbtThreshold + int(cal),
		})
	}

	d, err := e.airtime(size)
	if err != nil {
		log.WithError(err).Error("simulator: calculate airtime error")
		return 0, false
	}

	offTime := time.Duration(float64(d) * (1/e.config.DutyCycle - 1))

	e.mu.Lock()
	e.nextTX = time.Now().Add(e.scale(d + offTime))
	e.mu.Unlock()

	return ch, true
}

func (e *Engine) airtime(size int) (time.Duration, error) {
	dr, err := e.band.GetDataRate(e.config.DataRate)
	if err != nil {
		return 0, errors.Wrap(err, "get data-rate error")
	}

	if dr.Modulation == band.FSKModulation {
		if dr.BitRate == 0 {
			return 0, errors.New("fsk data-rate without bit-rate")
		}
		return time.Duration(float64(size*8) / float64(dr.BitRate) * float64(time.Second)), nil
	}

	return airtime.CalculateLoRaAirtime(
		size,
		dr.SpreadFactor,
		dr.Bandwidth,
		8,
		airtime.CodingRate45,
		true,
		dr.SpreadFactor >= 11 && dr.Bandwidth == 125,
	)
}

func (e *Engine) requiresLBT() bool {
	switch e.config.Band {
	case band.AS923, band.KR920:
		return true
	default:
		return false
	}
}

func (e *Engine) setChannel(ch int, enabled bool) bool {
	if ch < 0 || ch >= len(e.band.GetUplinkChannelIndices()) {
		return false
	}

	if e.isEnabled(ch) == enabled {
		return false
	}

	var err error
	if enabled {
		err = e.band.EnableUplinkChannelIndex(ch)
	} else {
		err = e.band.DisableUplinkChannelIndex(ch)
	}
	if err != nil {
		log.WithError(err).WithField("channel", ch).Error("simulator: set channel error")
		return false
	}

	return true
}

func (e *Engine) setSubBand(sb int, enabled bool) bool {
	if sb < 0 {
		return false
	}

	var changed bool
	for ch := sb * 8; ch < (sb+1)*8; ch++ {
		if e.setChannel(ch, enabled) {
			changed = true
		}
	}
	return changed
}

func (e *Engine) isEnabled(ch int) bool {
	for _, i := range e.band.GetEnabledUplinkChannelIndices() {
		if i == ch {
			return true
		}
	}
	return false
}

func (e *Engine) emit(ev mac.Event) {
	eventCounter(ev.Type.String()).Inc()

	select {
	case e.events <- ev:
	case <-e.closed:
	}
}

// sleep waits the scaled duration. It returns false when the engine was
// closed while waiting.
func (e *Engine) sleep(d time.Duration) bool {
	d = e.scale(d)
	if d <= 0 {
		return true
	}

	select {
	case <-time.After(d):
		return true
	case <-e.closed:
		return false
	}
}

func (e *Engine) scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) * e.config.TimeScale)
}
