package device

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/mac"
)

// ResponseCode defines the outcome of a transmit / receive cycle.
type ResponseCode int

// Response codes.
const (
	TransmissionFailed     ResponseCode = -1
	UnexpectedError        ResponseCode = -10
	SuccessfulTransmission ResponseCode = 1
	SuccessfulReceive      ResponseCode = 2
)

func (c ResponseCode) String() string {
	switch c {
	case TransmissionFailed:
		return "TRANSMISSION_FAILED"
	case UnexpectedError:
		return "UNEXPECTED_ERROR"
	case SuccessfulTransmission:
		return "SUCCESSFUL_TRANSMISSION"
	case SuccessfulReceive:
		return "SUCCESSFUL_RECEIVE"
	default:
		return "UNKNOWN"
	}
}

// Message holds a received downlink. The payload is owned by the receiver.
type Message struct {
	Port    uint8
	Payload []byte
}

// MessageHandler handles received downlinks. It is called on the goroutine
// of TransmitMessage / Poll, before these return. The Device lock is not held
// while the handler runs: other goroutines and the handler itself may use the
// Device, each call being serialized as usual.
type MessageHandler func(Message)

// Response holds the outcome of a transmit / receive cycle.
type Response struct {
	Code     ResponseCode
	Messages []Message
	// Err holds the cause of UnexpectedError and TransmissionFailed.
	Err error
}

// OnMessage registers the handler for received downlinks, replacing the
// previous one. A nil handler discards downlinks. Cycles already in
// progress keep using the previous handler.
func (d *Device) OnMessage(h MessageHandler) {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	d.handler = h
}

func (d *Device) messageHandler() MessageHandler {
	d.handlerMu.RLock()
	defer d.handlerMu.RUnlock()
	return d.handler
}

type txContext struct {
	ctx       context.Context
	payload   []byte
	port      uint8
	confirmed bool
	handler   MessageHandler

	response Response
}

// TransmitMessage transmits the payload on the given port and blocks until
// the transmission and the receive windows have completed. Downlinks
// received in the receive windows are passed to the message handler before
// returning.
func (d *Device) TransmitMessage(ctx context.Context, payload []byte, port uint8, confirmed bool) Response {
	tctx := txContext{
		ctx:       d.newContext(ctx),
		port:      port,
		confirmed: confirmed,
	}

	if port == 0 || port >= 224 {
		return d.fail(&tctx, UnexpectedError, errors.Wrapf(ErrInvalidPort, "port %d", port))
	}

	tctx.payload = make([]byte, len(payload))
	copy(tctx.payload, payload)

	err := d.transmit(&tctx)

	// the handler runs without holding the lock, downlinks received before
	// a failed transmission are delivered too
	d.dispatch(&tctx)

	if err != nil {
		return d.fail(&tctx, tctx.response.Code, err)
	}

	txCounter(tctx.response.Code.String()).Inc()
	logging.FromContext(tctx.ctx).WithFields(log.Fields{
		"port":      port,
		"confirmed": confirmed,
		"code":      tctx.response.Code,
		"downlinks": len(tctx.response.Messages),
	}).Info("device: transmission completed")

	return tctx.response
}

// transmit runs the transmit / receive cycle while holding the lock.
func (d *Device) transmit(ctx *txContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx.handler = d.messageHandler()

	for _, f := range []func(*txContext) error{
		d.checkTXPreconditions,
		d.send,
		d.waitForCompletion,
	} {
		if err := f(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Poll transmits an empty uplink in order to receive pending downlinks.
func (d *Device) Poll(ctx context.Context, port uint8, confirmed bool) Response {
	return d.TransmitMessage(ctx, nil, port, confirmed)
}

func (d *Device) checkTXPreconditions(ctx *txContext) error {
	ctx.response.Code = UnexpectedError

	if d.radio == nil {
		return ErrPinsNotConfigured
	}

	if d.getState() != Joined {
		return ErrNotJoined
	}

	if d.provisioning.ListenerActive(ctx.ctx) {
		return ErrProvisioningPending
	}

	return nil
}

func (d *Device) send(ctx *txContext) error {
	d.drainEvents(ctx.ctx)

	if err := d.engine.Send(ctx.ctx, ctx.payload, ctx.port, ctx.confirmed); err != nil {
		if errors.Cause(err) == mac.ErrBusy {
			ctx.response.Code = TransmissionFailed
		}
		return errors.Wrap(err, "send error")
	}

	return nil
}

func (d *Device) waitForCompletion(ctx *txContext) error {
	for ev := range d.engine.Events() {
		switch ev.Type {
		case mac.EventMessageReceived:
			b := make([]byte, len(ev.Payload))
			copy(b, ev.Payload)
			ctx.response.Messages = append(ctx.response.Messages, Message{
				Port:    ev.Port,
				Payload: b,
			})
			downlinkCounter().Inc()
		case mac.EventTXComplete:
			ctx.response.Code = SuccessfulTransmission
			if len(ctx.response.Messages) != 0 {
				ctx.response.Code = SuccessfulReceive
			}
			return nil
		case mac.EventTXFailed:
			ctx.response.Code = TransmissionFailed
			return errors.New("transmission failed")
		default:
			logging.FromContext(ctx.ctx).WithField("event", ev.Type).Warning("device: unexpected mac event during transmission")
		}
	}

	ctx.response.Code = UnexpectedError
	return ErrEngineClosed
}

// dispatch calls the handler for every received message, in order of
// reception.
func (d *Device) dispatch(ctx *txContext) {
	if ctx.handler == nil || len(ctx.response.Messages) == 0 {
		return
	}

	for _, m := range ctx.response.Messages {
		pl := make([]byte, len(m.Payload))
		copy(pl, m.Payload)
		ctx.handler(Message{Port: m.Port, Payload: pl})
	}
}

func (d *Device) fail(ctx *txContext, code ResponseCode, err error) Response {
	txCounter(code.String()).Inc()
	logging.FromContext(ctx.ctx).WithError(err).WithFields(log.Fields{
		"port": ctx.port,
		"code": code,
	}).Warning("device: transmission failed")

	ctx.response.Code = code
	ctx.response.Err = err
	return ctx.response
}
