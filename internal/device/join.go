package device

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/credentials"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/mac"
)

// errAbort is used to stop a task list without returning an error.
var errAbort = errors.New("nothing to do")

// CredentialSource defines the credentials used by Join.
type CredentialSource struct {
	explicit bool
	devEUI   string
	appEUI   string
	appKey   string
}

// FromStore uses the stored credentials.
func FromStore() CredentialSource {
	return CredentialSource{}
}

// Explicit uses the given HEX encoded credentials. They are validated like
// by Provision, but they are not persisted.
func Explicit(devEUI, appEUI, appKey string) CredentialSource {
	return CredentialSource{
		explicit: true,
		devEUI:   devEUI,
		appEUI:   appEUI,
		appKey:   appKey,
	}
}

type joinContext struct {
	ctx         context.Context
	source      CredentialSource
	credentials credentials.Credentials
}

// Join activates the device using OTAA and blocks until the network
// accepted the join or the MAC engine gave up. A joined device returns
// immediately without contacting the engine.
//
// Explicit credentials are validated first: invalid credentials return
// ErrInvalidCredentials, also when the device has already joined.
func (d *Device) Join(ctx context.Context, src CredentialSource) error {
	jctx := joinContext{
		ctx:    d.newContext(ctx),
		source: src,
	}

	if err := d.decodeExplicitCredentials(&jctx); err != nil {
		joinCounter("invalid").Inc()
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, f := range []func(*joinContext) error{
		d.abortWhenJoined,
		d.checkPinsConfigured,
		d.resolveCredentials,
		d.joinWithCredentials,
	} {
		if err := f(&jctx); err != nil {
			if err == errAbort {
				return nil
			}
			return err
		}
	}

	return nil
}

// decodeExplicitCredentials validates the explicit credentials before
// anything else happens.
func (d *Device) decodeExplicitCredentials(ctx *joinContext) error {
	if !ctx.source.explicit {
		return nil
	}

	creds, err := credentials.Decode(ctx.source.devEUI, ctx.source.appEUI, ctx.source.appKey)
	if err != nil {
		return err
	}
	ctx.credentials = creds
	return nil
}

func (d *Device) abortWhenJoined(ctx *joinContext) error {
	if d.getState() == Joined {
		logging.FromContext(ctx.ctx).Info("device: already joined")
		return errAbort
	}
	return nil
}

func (d *Device) checkPinsConfigured(ctx *joinContext) error {
	if d.radio == nil {
		return ErrPinsNotConfigured
	}
	return nil
}

func (d *Device) resolveCredentials(ctx *joinContext) error {
	if ctx.source.explicit {
		d.stateMu.Lock()
		creds := ctx.credentials
		d.session = &creds
		if d.state == Unprovisioned {
			d.state = Provisioned
		}
		d.stateMu.Unlock()
		return nil
	}

	creds, err := d.provisioning.Store().Load(ctx.ctx)
	if err != nil {
		if errors.Cause(err) == credentials.ErrNotProvisioned {
			joinCounter("not_provisioned").Inc()
		}
		return err
	}

	ctx.credentials = creds
	d.setState(Unprovisioned, Provisioned)
	return nil
}

// joinWithCredentials performs the Provisioned -> Joining -> Joined / Provisioned
// transition, blocking on the engine events.
func (d *Device) joinWithCredentials(ctx *joinContext) error {
	logger := logging.FromContext(ctx.ctx).WithFields(log.Fields{
		"dev_eui": ctx.credentials.DevEUI,
		"app_eui": ctx.credentials.AppEUI,
	})

	d.drainEvents(ctx.ctx)
	d.setState(Provisioned, Joining)

	if err := d.engine.StartOTAA(ctx.ctx, ctx.credentials.DevEUI, ctx.credentials.AppEUI, ctx.credentials.AppKey); err != nil {
		d.setState(Joining, Provisioned)
		joinCounter("error").Inc()
		return errors.Wrap(err, "start otaa error")
	}

	logger.Info("device: join started")

	for ev := range d.engine.Events() {
		switch ev.Type {
		case mac.EventJoined:
			d.setState(Joining, Joined)
			joinCounter("joined").Inc()
			logger.Info("device: join completed")
			return nil
		case mac.EventJoinFailed:
			d.setState(Joining, Provisioned)
			joinCounter("failed").Inc()
			logger.Warning("device: join failed")
			return ErrJoinFailed
		default:
			logger.WithField("event", ev.Type).Warning("device: unexpected mac event during join")
		}
	}

	d.setState(Joining, Provisioned)
	return ErrEngineClosed
}
