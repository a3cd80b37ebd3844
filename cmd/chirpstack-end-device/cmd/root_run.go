package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-end-device/internal/commandchannel"
	"github.com/brocaar/chirpstack-end-device/internal/config"
	"github.com/brocaar/chirpstack-end-device/internal/credentials"
	"github.com/brocaar/chirpstack-end-device/internal/device"
	"github.com/brocaar/chirpstack-end-device/internal/hal"
	"github.com/brocaar/chirpstack-end-device/internal/mac/simulator"
	"github.com/brocaar/chirpstack-end-device/internal/monitoring"
	"github.com/brocaar/chirpstack-end-device/internal/provisioning"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/lorawan/band"
)

// joinRetryInterval defines the time between two join attempts after a
// failed join.
const joinRetryInterval = 10 * time.Second

var (
	kv          storage.KV
	engine      *simulator.Engine
	coordinator *provisioning.Coordinator
	dev         *device.Device
	joinSource  = device.FromStore()

	runCtx    context.Context
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
)

func run(cmd *cobra.Command, args []string) error {
	runCtx, runCancel = context.WithCancel(context.Background())
	defer runCancel()

	tasks := []func() error{
		setLogLevel,
		setSyslog,
		printStartMessage,
		setupStorage,
		setupMonitoring,
		setupEngine,
		setupDevice,
		configurePins,
		setupChannels,
		setupCredentials,
		startProvisioningListener,
		startDevice,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	exitChan := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received")
	go func() {
		log.Warning("stopping chirpstack-end-device")
		if err := shutdown(); err != nil {
			log.WithError(err).Error("shutdown error")
		}
		exitChan <- struct{}{}
	}()
	select {
	case <-exitChan:
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received, stopping immediately")
	}

	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version": version,
		"band":    config.C.Device.Band,
		"storage": config.C.Storage.Type,
		"docs":    "https://github.com/brocaar/chirpstack-end-device/",
	}).Info("starting ChirpStack End Device")
	return nil
}

func setupStorage() error {
	var err error
	kv, err = storage.Setup(config.C)
	if err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func setupMonitoring() error {
	if err := monitoring.Setup(config.C, kv); err != nil {
		return errors.Wrap(err, "setup monitoring error")
	}
	return nil
}

func setupEngine() error {
	network := simulator.NewLoopbackNetwork(config.C.Simulator.JoinAccept, config.C.Simulator.Echo)

	var err error
	engine, err = simulator.New(simulator.Config{
		Band:             band.Name(config.C.Device.Band),
		JoinAttempts:     config.C.Simulator.JoinAttempts,
		ConfirmedRetries: config.C.Simulator.ConfirmedRetries,
		DutyCycle:        config.C.Simulator.DutyCycle,
		DataRate:         config.C.Simulator.DataRate,
		RXWindow:         config.C.Simulator.RXWindow,
		TimeScale:        config.C.Simulator.TimeScale,
	}, network)
	if err != nil {
		return errors.Wrap(err, "setup mac engine error")
	}
	return nil
}

func setupDevice() error {
	macSource, err := provisioning.NewMACAddressSource(config.C.Device.HardwareAddress)
	if err != nil {
		return errors.Wrap(err, "hardware address error")
	}

	store := credentials.NewStore(kv, config.C.Storage.Namespace)
	coordinator = provisioning.NewCoordinator(store, macSource)

	var opener hal.Opener = hal.VirtualOpener{}
	if config.C.Device.Pins.Enabled {
		opener = &hal.PeriphOpener{}
	}

	dev = device.New(engine, coordinator, device.WithOpener(opener))
	dev.SetRSSICal(config.C.Device.RSSICal)
	dev.OnMessage(func(msg device.Message) {
		log.WithFields(log.Fields{
			"port":    msg.Port,
			"payload": msg.Payload,
		}).Info("downlink message received")
	})

	return nil
}

func configurePins() error {
	p := config.C.Device.Pins
	if err := dev.ConfigurePins(hal.Pins{
		SPIPort: p.SPIPort,
		NSS:     p.NSS,
		RXTX:    p.RXTX,
		RST:     p.RST,
		DIO0:    p.DIO0,
		DIO1:    p.DIO1,
	}); err != nil {
		return errors.Wrap(err, "configure pins error")
	}
	return nil
}

func setupChannels() error {
	if config.C.Device.SubBand >= 0 {
		if !dev.SelectSubBand(config.C.Device.SubBand) {
			return errors.Errorf("invalid sub-band: %d", config.C.Device.SubBand)
		}
		log.WithField("sub_band", config.C.Device.SubBand).Info("sub-band selected")
	}

	for _, ch := range config.C.Device.EnabledChannels {
		if !dev.EnableChannel(ch) {
			log.WithField("channel", ch).Warning("enable channel failed")
		}
	}

	return nil
}

// setupCredentials handles the credentials set within the configuration.
// These are either persisted or used as explicit join credentials.
func setupCredentials() error {
	c := config.C.Device.Credentials
	if c.AppEUI == "" && c.AppKey == "" {
		return nil
	}

	ctx := context.Background()

	switch {
	case c.FromMAC:
		if err := dev.ProvisionWithMAC(ctx, c.AppEUI, c.AppKey); err != nil {
			return errors.Wrap(err, "provision with mac error")
		}
	case c.Persist:
		if err := dev.Provision(ctx, c.DevEUI, c.AppEUI, c.AppKey); err != nil {
			return errors.Wrap(err, "provision error")
		}
	default:
		if _, err := credentials.Decode(c.DevEUI, c.AppEUI, c.AppKey); err != nil {
			return errors.Wrap(err, "credentials error")
		}
		joinSource = device.Explicit(c.DevEUI, c.AppEUI, c.AppKey)
	}

	return nil
}

func startProvisioningListener() error {
	if !config.C.Provisioning.Listener {
		return nil
	}

	// uplinks are refused while the listener waits for credentials
	if joinSource != device.FromStore() {
		log.Warning("explicit credentials configured, provisioning listener not started")
		return nil
	}

	ch, err := commandchannel.New(config.C)
	if err != nil {
		return errors.Wrap(err, "setup command channel error")
	}

	if !coordinator.StartListener(runCtx, ch) {
		ch.Close()
		log.Warning("provisioning listener already active")
	}

	return nil
}

// startDevice waits for provisioning when needed, joins the network and
// starts sending periodic uplinks.
func startDevice() error {
	runWG.Add(1)
	go func() {
		defer runWG.Done()

		if config.C.Provisioning.Wait && !dev.IsProvisioned(runCtx) {
			log.Info("waiting for the device to be provisioned")
			if err := dev.WaitForProvisioning(runCtx); err != nil {
				return
			}
		}

		if !joinNetwork() {
			return
		}

		uplinkLoop()
	}()

	return nil
}

func joinNetwork() bool {
	for {
		err := dev.Join(runCtx, joinSource)
		if err == nil {
			return true
		}

		log.WithError(err).Error("join error")
		if errors.Cause(err) != device.ErrJoinFailed {
			return false
		}

		select {
		case <-runCtx.Done():
			return false
		case <-time.After(joinRetryInterval):
		}
	}
}

func uplinkLoop() {
	u := config.C.Device.Uplink
	if u.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()

	for {
		resp := dev.TransmitMessage(runCtx, []byte(u.Payload), u.Port, u.Confirmed)
		logger := log.WithFields(log.Fields{
			"code":     resp.Code,
			"port":     u.Port,
			"messages": len(resp.Messages),
		})
		if resp.Err != nil {
			logger.WithError(resp.Err).Warning("uplink failed")
		} else {
			logger.Info("uplink sent")
		}

		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func shutdown() error {
	runCancel()

	// closing the engine unblocks a pending join or transmission
	if engine != nil {
		if err := engine.Close(); err != nil {
			log.WithError(err).Error("close mac engine error")
		}
	}

	runWG.Wait()

	if dev != nil {
		if err := dev.Close(); err != nil {
			log.WithError(err).Error("close device error")
		}
	}

	if kv != nil {
		return kv.Close()
	}
	return nil
}
