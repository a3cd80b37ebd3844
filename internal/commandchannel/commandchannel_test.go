package commandchannel

import (
	"bufio"
	"io"
	"sync"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/brocaar/chirpstack-end-device/internal/test"
)

func TestBridge(t *testing.T) {
	Convey("Given a bridge", t, func() {
		c := test.GetConfig()
		So(c.Provisioning.Channel, ShouldEqual, "")

		var mu sync.Mutex
		var published []string
		var publishErr error

		b := newBridge("test", func(b []byte) error {
			mu.Lock()
			defer mu.Unlock()
			if publishErr != nil {
				return publishErr
			}
			published = append(published, string(b))
			return nil
		})

		Convey("When delivering messages", func() {
			go func() {
				b.deliver([]byte("AT"))
				b.deliver([]byte("AT+PROV?\r\n"))
				b.Close()
			}()

			Convey("Then they can be read as lines", func() {
				var lines []string
				scanner := bufio.NewScanner(b)
				for scanner.Scan() {
					lines = append(lines, scanner.Text())
				}
				So(scanner.Err(), ShouldBeNil)
				So(lines, ShouldResemble, []string{"AT", "AT+PROV?\r"})
			})
		})

		Convey("When writing responses", func() {
			n, err := b.Write([]byte("\r\nOK\r\n"))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 6)

			Convey("Then only non-empty lines are published", func() {
				So(published, ShouldResemble, []string{"OK"})
			})

			Convey("When writing a partial line", func() {
				_, err := b.Write([]byte("\r\nERR"))
				So(err, ShouldBeNil)
				So(published, ShouldHaveLength, 1)

				Convey("Then it is published once completed", func() {
					_, err := b.Write([]byte("OR\r\n"))
					So(err, ShouldBeNil)
					So(published, ShouldResemble, []string{"OK", "ERROR"})
				})
			})
		})

		Convey("When publishing fails", func() {
			publishErr = errors.New("boom")

			Convey("Then Write returns an error", func() {
				_, err := b.Write([]byte("OK\r\n"))
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the bridge is closed", func() {
			So(b.Close(), ShouldBeNil)

			Convey("Then Read returns io.EOF", func() {
				_, err := b.Read(make([]byte, 10))
				So(err, ShouldEqual, io.EOF)
			})

			Convey("Then deliver returns an error", func() {
				So(b.deliver([]byte("AT")), ShouldNotBeNil)
			})
		})
	})
}

func TestNew(t *testing.T) {
	Convey("Given a configuration with an unknown channel type", t, func() {
		c := test.GetConfig()
		c.Provisioning.Channel = "carrier-pigeon"

		Convey("Then New returns an error", func() {
			_, err := New(c)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a configuration with the stdio channel type", t, func() {
		c := test.GetConfig()
		c.Provisioning.Channel = TypeStdio

		Convey("Then New returns a stdio channel", func() {
			ch, err := New(c)
			So(err, ShouldBeNil)
			So(ch.Close(), ShouldBeNil)
		})
	})
}
