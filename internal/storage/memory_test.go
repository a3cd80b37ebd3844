package storage

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMemory(t *testing.T) {
	Convey("Given an empty memory store", t, func() {
		ctx := context.Background()
		m := NewMemory()

		Convey("When storing a value", func() {
			val := []byte{0x01, 0x02, 0x03}
			So(m.Set(ctx, "ns", map[string][]byte{"key": val}), ShouldBeNil)

			Convey("Then modifying the source slice does not modify the stored value", func() {
				val[0] = 0xff
				vals, err := m.Get(ctx, "ns", "key")
				So(err, ShouldBeNil)
				So(vals["key"], ShouldResemble, []byte{0x01, 0x02, 0x03})
			})

			Convey("Then modifying the returned slice does not modify the stored value", func() {
				vals, err := m.Get(ctx, "ns", "key")
				So(err, ShouldBeNil)
				vals["key"][0] = 0xff

				vals, err = m.Get(ctx, "ns", "key")
				So(err, ShouldBeNil)
				So(vals["key"], ShouldResemble, []byte{0x01, 0x02, 0x03})
			})
		})
	})
}
