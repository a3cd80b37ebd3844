package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-end-device/internal/config"
	"github.com/brocaar/chirpstack-end-device/internal/credentials"
	"github.com/brocaar/chirpstack-end-device/internal/provisioning"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
)

var provisionFlags struct {
	devEUI  string
	appEUI  string
	appKey  string
	fromMAC bool
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Persist the OTAA credentials within the configured storage",
	Example: `chirpstack-end-device provision --dev-eui 0102030405060708 --app-eui 70b3d57ed0000000 --app-key 000102030405060708090a0b0c0d0e0f
chirpstack-end-device provision --from-mac --app-eui 70b3d57ed0000000 --app-key 000102030405060708090a0b0c0d0e0f`,
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, kv, err := newCoordinator()
		if err != nil {
			return err
		}
		defer kv.Close()

		ctx := context.Background()
		if provisionFlags.fromMAC {
			err = coord.ProvisionWithMAC(ctx, provisionFlags.appEUI, provisionFlags.appKey)
		} else {
			err = coord.Provision(ctx, provisionFlags.devEUI, provisionFlags.appEUI, provisionFlags.appKey)
		}
		if err != nil {
			return errors.Wrap(err, "provision error")
		}

		creds, err := coord.Store().Load(ctx)
		if err != nil {
			return errors.Wrap(err, "load credentials error")
		}

		fmt.Println(creds.String())
		return nil
	},
}

var devEUICmd = &cobra.Command{
	Use:   "dev-eui",
	Short: "Print the DevEUI derived from the hardware address",
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := provisioning.NewMACAddressSource(config.C.Device.HardwareAddress)
		if err != nil {
			return errors.Wrap(err, "hardware address error")
		}

		mac, err := src.HardwareAddr()
		if err != nil {
			return errors.Wrap(err, "get hardware address error")
		}

		devEUI, err := credentials.DeviceEUIFromMAC(mac)
		if err != nil {
			return err
		}

		fmt.Println(devEUI.String())
		return nil
	},
}

func init() {
	provisionCmd.Flags().StringVar(&provisionFlags.devEUI, "dev-eui", "", "DevEUI (HEX encoded)")
	provisionCmd.Flags().StringVar(&provisionFlags.appEUI, "app-eui", "", "AppEUI / JoinEUI (HEX encoded)")
	provisionCmd.Flags().StringVar(&provisionFlags.appKey, "app-key", "", "AppKey (HEX encoded)")
	provisionCmd.Flags().BoolVar(&provisionFlags.fromMAC, "from-mac", false, "derive the DevEUI from the hardware address")
}

func newCoordinator() (*provisioning.Coordinator, storage.KV, error) {
	kv, err := storage.Setup(config.C)
	if err != nil {
		return nil, nil, errors.Wrap(err, "setup storage error")
	}

	src, err := provisioning.NewMACAddressSource(config.C.Device.HardwareAddress)
	if err != nil {
		kv.Close()
		return nil, nil, errors.Wrap(err, "hardware address error")
	}

	return provisioning.NewCoordinator(credentials.NewStore(kv, config.C.Storage.Namespace), src), kv, nil
}
