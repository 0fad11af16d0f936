package onboard

import (
	"path/filepath"
	"testing"

	"github.com/asdine/storm/v3"
	. "github.com/smartystreets/goconvey/convey"
)

func testStore(t *testing.T) *CalibrationStore {
	t.Helper()
	db, err := storm.Open(filepath.Join(t.TempDir(), "cal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewCalibrationStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestCalibrationStore(t *testing.T) {
	Convey("with a fresh store", t, func() {
		store := testStore(t)

		Convey("an unknown actuator reads as zero offset", func() {
			offset, err := store.Offset(11)
			So(err, ShouldBeNil)
			So(offset, ShouldEqual, 0)
		})

		Convey("offsets persist and overwrite", func() {
			So(store.SetOffset(11, 0.75), ShouldBeNil)

			offset, err := store.Offset(11)
			So(err, ShouldBeNil)
			So(offset, ShouldAlmostEqual, 0.75, 1e-9)

			So(store.SetOffset(11, -0.25), ShouldBeNil)
			offset, err = store.Offset(11)
			So(err, ShouldBeNil)
			So(offset, ShouldAlmostEqual, -0.25, 1e-9)
		})

		Convey("all offsets come back for inspection", func() {
			So(store.SetOffset(11, 0.1), ShouldBeNil)
			So(store.SetOffset(12, 0.2), ShouldBeNil)

			all, err := store.All()
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 2)
		})
	})
}
