package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/domain/ledger"
)

func backfillBatch(key string, events ...ledger.SubmitRequest) ledger.BackfillRequest {
	return ledger.BackfillRequest{BatchKey: key, Events: events}
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()

	Convey("Given a ledger with live traffic", t, func() {
		l := newLedger()
		_, err := l.Submit(ctx, submitReq("live-1", "alice", "10"))
		So(err, ShouldBeNil)

		Convey("When backfilling a batch that overlaps the live event", func() {
			res, err := l.Backfill(ctx, backfillBatch("batch-1",
				submitReq("live-1", "alice", "10"),
				submitReq("hist-1", "alice", "2.5"),
				submitReq("hist-2", "bob", "4"),
			))

			Convey("Then the overlap is skipped and totals are recomputed, not double-counted", func() {
				So(err, ShouldBeNil)
				So(res.InsertedCount, ShouldEqual, 2)
				So(res.SkippedCount, ShouldEqual, 1)
				So(res.GlobalTotal, ShouldEqual, "16.5")
				So(res.AffectedUsers, ShouldResemble, []string{"alice", "bob"})

				aliceTotal, _ := l.UserTotal(ctx, "alice")
				So(aliceTotal.String(), ShouldEqual, "12.5")
			})

			Convey("And re-running the identical batch lands on the identical end state", func() {
				again, err := l.Backfill(ctx, backfillBatch("batch-1",
					submitReq("live-1", "alice", "10"),
					submitReq("hist-1", "alice", "2.5"),
					submitReq("hist-2", "bob", "4"),
				))
				So(err, ShouldBeNil)
				So(again.InsertedCount, ShouldEqual, 0)
				So(again.SkippedCount, ShouldEqual, 3)
				So(again.GlobalTotal, ShouldEqual, "16.5")
			})
		})

		Convey("When a batch contains an invalid event", func() {
			_, err := l.Backfill(ctx, backfillBatch("batch-2",
				submitReq("hist-3", "carol", "1"),
				submitReq("", "carol", "1"),
			))

			Convey("Then the whole batch is rejected before any write", func() {
				So(errors.Is(err, ledger.ErrValidation), ShouldBeTrue)

				carolTotal, terr := l.UserTotal(ctx, "carol")
				So(terr, ShouldBeNil)
				So(carolTotal.IsZero(), ShouldBeTrue)
			})
		})

		Convey("When the batch is empty", func() {
			_, err := l.Backfill(ctx, backfillBatch("batch-3"))
			So(errors.Is(err, ledger.ErrValidation), ShouldBeTrue)
		})
	})

	Convey("Given a large historical batch", t, func() {
		l := newLedger()

		events := make([]ledger.SubmitRequest, 0, 100)
		for i := 0; i < 100; i++ {
			events = append(events, submitReq(fmt.Sprintf("hist-%d", i), fmt.Sprintf("user-%d", i%10), "0.1"))
		}

		Convey("When backfilling it", func() {
			res, err := l.Backfill(ctx, ledger.BackfillRequest{BatchKey: "big", Events: events})

			Convey("Then every touched user sums exactly", func() {
				So(err, ShouldBeNil)
				So(res.InsertedCount, ShouldEqual, 100)
				So(res.GlobalTotal, ShouldEqual, "10")
				So(len(res.AffectedUsers), ShouldEqual, 10)

				total, _ := l.UserTotal(ctx, "user-0")
				So(total.String(), ShouldEqual, "1")
			})
		})
	})
}
