package model_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/domain/model"
)

func TestActionEventValidate(t *testing.T) {
	Convey("Given a well-formed action event", t, func() {
		ev := model.ActionEvent{
			IdempotencyKey: "key-1",
			UserID:         "user-1",
			Quantity:       decimal.RequireFromString("10.4"),
			Unit:           "kgCO2e",
			OccurredAt:     time.Now(),
		}

		Convey("Then it should validate", func() {
			So(ev.Validate(), ShouldBeNil)
		})

		Convey("When the idempotency key is blank", func() {
			ev.IdempotencyKey = "  "
			So(ev.Validate(), ShouldNotBeNil)
		})

		Convey("When the user id is missing", func() {
			ev.UserID = ""
			So(ev.Validate(), ShouldNotBeNil)
		})

		Convey("When the occurrence time is zero", func() {
			ev.OccurredAt = time.Time{}
			So(ev.Validate(), ShouldNotBeNil)
		})

		Convey("When the quantity is negative", func() {
			ev.Quantity = decimal.RequireFromString("-0.1")
			So(ev.Validate(), ShouldNotBeNil)
		})

		Convey("When the quantity is zero", func() {
			ev.Quantity = decimal.Zero
			So(ev.Validate(), ShouldBeNil)
		})
	})
}

func TestParseQuantity(t *testing.T) {
	Convey("Given decimal text quantities", t, func() {
		Convey("Then exact values parse without float drift", func() {
			q, err := model.ParseQuantity("0.1")
			So(err, ShouldBeNil)

			sum := decimal.Zero
			for i := 0; i < 10; i++ {
				sum = sum.Add(q)
			}
			So(sum.Equal(decimal.NewFromInt(1)), ShouldBeTrue)
			So(sum.String(), ShouldEqual, "1")
		})

		Convey("Then surrounding whitespace is tolerated", func() {
			q, err := model.ParseQuantity("  10.4 ")
			So(err, ShouldBeNil)
			So(q.String(), ShouldEqual, "10.4")
		})

		Convey("Then empty input is rejected", func() {
			_, err := model.ParseQuantity("   ")
			So(err, ShouldNotBeNil)
		})

		Convey("Then malformed input is rejected", func() {
			_, err := model.ParseQuantity("10.4kg")
			So(err, ShouldNotBeNil)
		})

		Convey("Then negative input is rejected", func() {
			_, err := model.ParseQuantity("-3")
			So(err, ShouldNotBeNil)
		})
	})
}
