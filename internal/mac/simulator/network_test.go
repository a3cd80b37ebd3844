package simulator

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/brocaar/lorawan"
)

func TestLoopbackNetwork(t *testing.T) {
	Convey("Given a LoopbackNetwork", t, func() {
		ctx := context.Background()
		n := NewLoopbackNetwork(true, false)

		uplink := func(mType lorawan.MType, port uint8, b []byte) Uplink {
			return Uplink{
				PHYPayload: lorawan.PHYPayload{
					MHDR: lorawan.MHDR{MType: mType, Major: lorawan.LoRaWANR1},
					MACPayload: &lorawan.MACPayload{
						FPort:      &port,
						FRMPayload: []lorawan.Payload{&lorawan.DataPayload{Bytes: b}},
					},
				},
			}
		}

		Convey("Then a join-request is accepted", func() {
			ja, err := n.HandleJoinRequest(ctx, lorawan.PHYPayload{
				MHDR:       lorawan.MHDR{MType: lorawan.JoinRequest, Major: lorawan.LoRaWANR1},
				MACPayload: &lorawan.JoinRequestPayload{},
			})
			So(err, ShouldBeNil)
			So(ja.Accepted, ShouldBeTrue)
		})

		Convey("Then a data frame as join-request returns an error", func() {
			_, err := n.HandleJoinRequest(ctx, uplink(lorawan.UnconfirmedDataUp, 1, nil).PHYPayload)
			So(err, ShouldNotBeNil)
		})

		Convey("Then an unconfirmed uplink returns no downlink", func() {
			dl, err := n.HandleUplink(ctx, uplink(lorawan.UnconfirmedDataUp, 1, []byte{1}))
			So(err, ShouldBeNil)
			So(dl, ShouldBeNil)
			So(n.Uplinks(), ShouldEqual, 1)
		})

		Convey("Then a confirmed uplink is acknowledged", func() {
			dl, err := n.HandleUplink(ctx, uplink(lorawan.ConfirmedDataUp, 1, []byte{1}))
			So(err, ShouldBeNil)
			So(dl, ShouldResemble, &Downlink{ACK: true})
		})

		Convey("When a downlink is queued", func() {
			n.Enqueue(Downlink{Port: 3, Payload: []byte{1, 2}})

			Convey("Then it is returned on the next uplink only", func() {
				dl, err := n.HandleUplink(ctx, uplink(lorawan.ConfirmedDataUp, 1, nil))
				So(err, ShouldBeNil)
				So(dl, ShouldResemble, &Downlink{ACK: true, Port: 3, Payload: []byte{1, 2}})

				dl, err = n.HandleUplink(ctx, uplink(lorawan.UnconfirmedDataUp, 1, nil))
				So(err, ShouldBeNil)
				So(dl, ShouldBeNil)
			})
		})

		Convey("When echo is enabled", func() {
			n.SetEcho(true)

			Convey("Then the uplink is echoed", func() {
				dl, err := n.HandleUplink(ctx, uplink(lorawan.UnconfirmedDataUp, 7, []byte{5, 6}))
				So(err, ShouldBeNil)
				So(dl, ShouldResemble, &Downlink{Port: 7, Payload: []byte{5, 6}})
			})
		})
	})
}
