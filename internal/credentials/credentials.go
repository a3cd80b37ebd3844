// Package credentials implements the OTAA credentials of the device and the
// store used to persist them.
package credentials

import (
	"encoding"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotProvisioned     = errors.New("credentials have not been provisioned")
)

// Credentials holds the information needed to activate a device using OTAA.
type Credentials struct {
	DevEUI lorawan.EUI64
	AppEUI lorawan.EUI64
	AppKey lorawan.AES128Key
}

// String returns the credentials as DevEUI-AppEUI-AppKey, each encoded as
// upper-case HEX.
func (c Credentials) String() string {
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s", c.DevEUI, c.AppEUI, c.AppKey))
}

// Decode decodes the given HEX encoded credentials. The DevEUI and AppEUI
// must be 16 and the AppKey 32 HEX characters long.
func Decode(devEUI, appEUI, appKey string) (Credentials, error) {
	var c Credentials

	if err := decodeHex("dev_eui", devEUI, &c.DevEUI, len(c.DevEUI)); err != nil {
		return c, err
	}

	out, err := DecodeWithDevEUI(c.DevEUI, appEUI, appKey)
	if err != nil {
		return c, err
	}

	return out, nil
}

// DecodeWithDevEUI decodes the given HEX encoded AppEUI and AppKey and
// returns them together with the given DevEUI.
func DecodeWithDevEUI(devEUI lorawan.EUI64, appEUI, appKey string) (Credentials, error) {
	c := Credentials{
		DevEUI: devEUI,
	}

	if err := decodeHex("app_eui", appEUI, &c.AppEUI, len(c.AppEUI)); err != nil {
		return c, err
	}

	if err := decodeHex("app_key", appKey, &c.AppKey, len(c.AppKey)); err != nil {
		return c, err
	}

	return c, nil
}

// DeviceEUIFromMAC expands the given 6 byte MAC address into a DevEUI by
// inserting FFFE in the middle, e.g. A0:B1:C2:01:02:03 becomes
// A0B1C2FFFE010203.
func DeviceEUIFromMAC(mac net.HardwareAddr) (lorawan.EUI64, error) {
	var eui lorawan.EUI64

	if len(mac) != 6 {
		return eui, errors.Wrapf(ErrInvalidCredentials, "expected 6 byte mac address, got %d bytes", len(mac))
	}

	copy(eui[0:3], mac[0:3])
	eui[3] = 0xff
	eui[4] = 0xfe
	copy(eui[5:8], mac[3:6])

	return eui, nil
}

func decodeHex(field, s string, out encoding.TextUnmarshaler, size int) error {
	if len(s) != size*2 {
		return errors.Wrapf(ErrInvalidCredentials, "%s: expected %d hex characters, got %d", field, size*2, len(s))
	}

	if err := out.UnmarshalText([]byte(s)); err != nil {
		return errors.Wrapf(ErrInvalidCredentials, "%s: %s", field, err)
	}

	return nil
}
