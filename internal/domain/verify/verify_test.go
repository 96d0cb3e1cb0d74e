package verify_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/domain/verify"
)

func TestSimulatedClassifier(t *testing.T) {
	ctx := context.Background()

	Convey("Given a simulated classifier", t, func() {
		c := verify.NewSimulatedClassifier(
			verify.WithLatencyRange(time.Millisecond, 2*time.Millisecond),
		)

		Convey("When classifying a submission", func() {
			verdict, err := c.Classify(ctx, verify.Input{
				UserID:      "alice",
				Description: "cycled to work",
				Quantity:    decimal.RequireFromString("2.5"),
			})

			Convey("Then confidence lands in the configured band", func() {
				So(err, ShouldBeNil)
				So(verdict.Confidence, ShouldBeGreaterThanOrEqualTo, 0.7)
				So(verdict.Confidence, ShouldBeLessThanOrEqualTo, 1.0)
				So(verdict.Verified, ShouldBeTrue)
			})
		})

		Convey("When the context is already cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := c.Classify(cancelled, verify.Input{UserID: "alice"})

			Convey("Then classification aborts", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})

	Convey("Given a classifier with the confidence floor at the band ceiling", t, func() {
		c := verify.NewSimulatedClassifier(
			verify.WithLatencyRange(time.Millisecond, 2*time.Millisecond),
			verify.WithMinConfidence(1.0),
		)

		Convey("Then no submission verifies", func() {
			verdict, err := c.Classify(ctx, verify.Input{UserID: "alice"})
			So(err, ShouldBeNil)
			So(verdict.Verified, ShouldBeFalse)
		})
	})
}

func TestPolicy(t *testing.T) {
	Convey("Given a fallback policy with a threshold", t, func() {
		p := verify.Policy{AutoAcceptBelow: decimal.NewFromInt(5)}

		Convey("Then quantities under the threshold pass", func() {
			So(p.AllowOnFailure(decimal.RequireFromString("4.9")), ShouldBeTrue)
		})

		Convey("Then the threshold itself and above are held", func() {
			So(p.AllowOnFailure(decimal.NewFromInt(5)), ShouldBeFalse)
			So(p.AllowOnFailure(decimal.NewFromInt(100)), ShouldBeFalse)
		})
	})

	Convey("Given an empty policy", t, func() {
		p := verify.Policy{}

		Convey("Then nothing is auto-accepted", func() {
			So(p.AllowOnFailure(decimal.RequireFromString("0.1")), ShouldBeFalse)
		})
	})
}
