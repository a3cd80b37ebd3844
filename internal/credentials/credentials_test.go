package credentials

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/lorawan"
)

func TestDecode(t *testing.T) {
	Convey("Given a set of HEX encoded credentials", t, func() {
		tests := []struct {
			Name     string
			DevEUI   string
			AppEUI   string
			AppKey   string
			Expected Credentials
			Error    error
		}{
			{
				Name:   "valid upper-case",
				DevEUI: "0102030405060708",
				AppEUI: "70B3D57ED0000001",
				AppKey: "000102030405060708090A0B0C0D0E0F",
				Expected: Credentials{
					DevEUI: lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
					AppEUI: lorawan.EUI64{0x70, 0xb3, 0xd5, 0x7e, 0xd0, 0x00, 0x00, 0x01},
					AppKey: lorawan.AES128Key{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
				},
			},
			{
				Name:   "valid lower-case",
				DevEUI: "0102030405060708",
				AppEUI: "70b3d57ed0000001",
				AppKey: "000102030405060708090a0b0c0d0e0f",
				Expected: Credentials{
					DevEUI: lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
					AppEUI: lorawan.EUI64{0x70, 0xb3, 0xd5, 0x7e, 0xd0, 0x00, 0x00, 0x01},
					AppKey: lorawan.AES128Key{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
				},
			},
			{
				Name:   "dev_eui too short",
				DevEUI: "01020304050607",
				AppEUI: "70B3D57ED0000001",
				AppKey: "000102030405060708090A0B0C0D0E0F",
				Error:  ErrInvalidCredentials,
			},
			{
				Name:   "app_eui too long",
				DevEUI: "0102030405060708",
				AppEUI: "70B3D57ED000000101",
				AppKey: "000102030405060708090A0B0C0D0E0F",
				Error:  ErrInvalidCredentials,
			},
			{
				Name:   "app_key with non-hex characters",
				DevEUI: "0102030405060708",
				AppEUI: "70B3D57ED0000001",
				AppKey: "000102030405060708090A0B0C0D0EZZ",
				Error:  ErrInvalidCredentials,
			},
			{
				Name:  "empty",
				Error: ErrInvalidCredentials,
			},
		}

		for i, test := range tests {
			Convey(fmt.Sprintf("Testing: %s [%d]", test.Name, i), func() {
				c, err := Decode(test.DevEUI, test.AppEUI, test.AppKey)
				if test.Error != nil {
					So(errors.Cause(err), ShouldEqual, test.Error)
					return
				}
				So(err, ShouldBeNil)
				So(c, ShouldResemble, test.Expected)
			})
		}
	})
}

func TestDeviceEUIFromMAC(t *testing.T) {
	Convey("Given the MAC address A0:B1:C2:01:02:03", t, func() {
		mac := net.HardwareAddr{0xa0, 0xb1, 0xc2, 0x01, 0x02, 0x03}

		Convey("Then the DevEUI is A0B1C2FFFE010203", func() {
			eui, err := DeviceEUIFromMAC(mac)
			So(err, ShouldBeNil)
			So(eui, ShouldEqual, lorawan.EUI64{0xa0, 0xb1, 0xc2, 0xff, 0xfe, 0x01, 0x02, 0x03})
		})
	})

	Convey("Given an EUI-64 hardware address", t, func() {
		mac := net.HardwareAddr{1, 2, 3, 4, 5, 6, 7, 8}

		Convey("Then ErrInvalidCredentials is returned", func() {
			_, err := DeviceEUIFromMAC(mac)
			So(errors.Cause(err), ShouldEqual, ErrInvalidCredentials)
		})
	})
}

func TestCredentialsString(t *testing.T) {
	Convey("Given a set of credentials", t, func() {
		c := Credentials{
			DevEUI: lorawan.EUI64{0xa0, 0xb1, 0xc2, 0xff, 0xfe, 0x01, 0x02, 0x03},
			AppEUI: lorawan.EUI64{0x70, 0xb3, 0xd5, 0x7e, 0xd0, 0x00, 0x00, 0x01},
			AppKey: lorawan.AES128Key{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
		}

		Convey("Then String returns the upper-case HEX representation", func() {
			So(c.String(), ShouldEqual, "A0B1C2FFFE010203-70B3D57ED0000001-AABBCCDDEEFF00000000000000000001")
		})
	})
}

func TestStore(t *testing.T) {
	Convey("Given a Store backed by memory", t, func() {
		ctx := context.Background()
		kv := storage.NewMemory()
		s := NewStore(kv, "")

		Convey("Then Load returns ErrNotProvisioned", func() {
			_, err := s.Load(ctx)
			So(err, ShouldEqual, ErrNotProvisioned)
			So(s.IsComplete(ctx), ShouldBeFalse)
		})

		Convey("When persisting credentials", func() {
			c, err := Decode("0102030405060708", "70B3D57ED0000001", "000102030405060708090A0B0C0D0E0F")
			So(err, ShouldBeNil)
			So(s.Persist(ctx, c), ShouldBeNil)

			Convey("Then Load returns identical credentials", func() {
				out, err := s.Load(ctx)
				So(err, ShouldBeNil)
				So(out, ShouldResemble, c)
				So(s.IsComplete(ctx), ShouldBeTrue)
			})

			Convey("Then the values are stored under the ttn namespace", func() {
				vals, err := kv.Get(ctx, "ttn", "devEui", "appEui", "appKey")
				So(err, ShouldBeNil)
				So(vals["devEui"], ShouldResemble, []byte{1, 2, 3, 4, 5, 6, 7, 8})
				So(vals["appKey"], ShouldHaveLength, 16)
			})

			Convey("When a field is overwritten with a wrong length", func() {
				So(kv.Set(ctx, "ttn", map[string][]byte{"appKey": {1, 2, 3}}), ShouldBeNil)

				Convey("Then Load returns ErrNotProvisioned", func() {
					_, err := s.Load(ctx)
					So(err, ShouldEqual, ErrNotProvisioned)
				})
			})
		})

		Convey("When only the DevEUI is stored", func() {
			So(kv.Set(ctx, "ttn", map[string][]byte{"devEui": {1, 2, 3, 4, 5, 6, 7, 8}}), ShouldBeNil)

			Convey("Then the store is not complete", func() {
				So(s.IsComplete(ctx), ShouldBeFalse)
			})
		})
	})
}

// splitWriteKV writes every key with a separate Set call, like a backend
// without multi-key transactions.
type splitWriteKV struct {
	*storage.Memory
}

func (kv splitWriteKV) Set(ctx context.Context, namespace string, values map[string][]byte) error {
	for k, v := range values {
		if err := kv.Memory.Set(ctx, namespace, map[string][]byte{k: v}); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

func TestStoreConcurrentAccess(t *testing.T) {
	Convey("Given a Store backed by a key / value storage without multi-key writes", t, func() {
		ctx := context.Background()
		s := NewStore(splitWriteKV{storage.NewMemory()}, DefaultNamespace)

		sets := []Credentials{
			{
				DevEUI: lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1},
				AppEUI: lorawan.EUI64{2, 2, 2, 2, 2, 2, 2, 2},
				AppKey: lorawan.AES128Key{3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3},
			},
			{
				DevEUI: lorawan.EUI64{4, 4, 4, 4, 4, 4, 4, 4},
				AppEUI: lorawan.EUI64{5, 5, 5, 5, 5, 5, 5, 5},
				AppKey: lorawan.AES128Key{6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6},
			},
		}

		Convey("When both sets are written while the credentials are read", func() {
			var wg sync.WaitGroup
			var persistErrors int
			var mu sync.Mutex
			var loaded []Credentials
			var incomplete int

			for _, c := range sets {
				wg.Add(1)
				go func(c Credentials) {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						if err := s.Persist(ctx, c); err != nil {
							mu.Lock()
							persistErrors++
							mu.Unlock()
						}
					}
				}(c)
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 500; i++ {
					complete := s.IsComplete(ctx)
					c, err := s.Load(ctx)

					mu.Lock()
					if err == nil {
						loaded = append(loaded, c)
					} else if complete {
						incomplete++
					}
					mu.Unlock()
				}
			}()

			wg.Wait()

			Convey("Then every loaded set equals one of the written sets", func() {
				So(persistErrors, ShouldEqual, 0)
				So(incomplete, ShouldEqual, 0)
				for _, c := range loaded {
					So(c == sets[0] || c == sets[1], ShouldBeTrue)
				}
			})
		})
	})
}
