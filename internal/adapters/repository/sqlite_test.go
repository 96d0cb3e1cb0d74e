package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/adapters/repository"
	"github.com/ecotally/ecotally/internal/domain/model"
)

func TestSQLiteStoreCommit(t *testing.T) {
	ctx := context.Background()

	Convey("Given a sqlite store on a temp file", t, func() {
		path := filepath.Join(t.TempDir(), "ledger.db")
		store, err := repository.NewSQLiteStore(ctx, path,
			repository.WithBusyTimeout(2*time.Second),
			repository.WithWALMode(true),
		)
		So(err, ShouldBeNil)
		defer store.Close()

		Convey("When committing events for two users", func() {
			So(store.CommitEvent(ctx, newEvent("k1", "alice", "10.4")), ShouldBeNil)
			So(store.CommitEvent(ctx, newEvent("k2", "alice", "2.1")), ShouldBeNil)
			So(store.CommitEvent(ctx, newEvent("k3", "bob", "4")), ShouldBeNil)

			Convey("Then aggregates hold exact sums", func() {
				ua, err := store.UserAggregate(ctx, "alice")
				So(err, ShouldBeNil)
				So(ua.Total.String(), ShouldEqual, "12.5")
				So(ua.EventCount, ShouldEqual, 2)

				g, err := store.GlobalAggregate(ctx)
				So(err, ShouldBeNil)
				So(g.Total.String(), ShouldEqual, "16.5")
				So(g.EventCount, ShouldEqual, 3)
			})

			Convey("Then each row keeps the totals its own commit produced", func() {
				ev, err := store.GetEvent(ctx, "k1")
				So(err, ShouldBeNil)
				So(ev.HasResult(), ShouldBeTrue)
				So(ev.ResultUserTotal.Decimal.String(), ShouldEqual, "10.4")
				So(ev.ResultGlobalTotal.Decimal.String(), ShouldEqual, "10.4")

				ev3, err := store.GetEvent(ctx, "k3")
				So(err, ShouldBeNil)
				So(ev3.ResultUserTotal.Decimal.String(), ShouldEqual, "4")
				So(ev3.ResultGlobalTotal.Decimal.String(), ShouldEqual, "16.5")
			})

			Convey("Then a duplicate key is rejected atomically", func() {
				err := store.CommitEvent(ctx, newEvent("k1", "alice", "99"))
				So(err, ShouldEqual, repository.ErrDuplicateKey)

				g, err := store.GlobalAggregate(ctx)
				So(err, ShouldBeNil)
				So(g.Total.String(), ShouldEqual, "16.5")
			})
		})

		Convey("When summing many fractional quantities", func() {
			for i := 0; i < 10; i++ {
				ev := newEvent(string(rune('a'+i)), "carol", "0.1")
				So(store.CommitEvent(ctx, ev), ShouldBeNil)
			}

			Convey("Then the decimal total is exact", func() {
				ua, err := store.UserAggregate(ctx, "carol")
				So(err, ShouldBeNil)
				So(ua.Total.String(), ShouldEqual, "1")
			})
		})
	})
}

func TestSQLiteStoreRecompute(t *testing.T) {
	ctx := context.Background()

	Convey("Given inserted-only events", t, func() {
		path := filepath.Join(t.TempDir(), "ledger.db")
		store, err := repository.NewSQLiteStore(ctx, path)
		So(err, ShouldBeNil)
		defer store.Close()

		So(store.InsertEventOnly(ctx, newEvent("k1", "alice", "10")), ShouldBeNil)
		So(store.InsertEventOnly(ctx, newEvent("k2", "bob", "2.5")), ShouldBeNil)

		Convey("Then backfilled rows carry no commit-time totals", func() {
			ev, err := store.GetEvent(ctx, "k1")
			So(err, ShouldBeNil)
			So(ev.HasResult(), ShouldBeFalse)
		})

		Convey("Then aggregates stay untouched until recompute", func() {
			_, err := store.UserAggregate(ctx, "alice")
			So(err, ShouldEqual, repository.ErrNotFound)

			ua, err := store.RecomputeUser(ctx, "alice")
			So(err, ShouldBeNil)
			So(ua.Total.String(), ShouldEqual, "10")

			_, err = store.RecomputeUser(ctx, "bob")
			So(err, ShouldBeNil)

			g, err := store.RecomputeGlobal(ctx)
			So(err, ShouldBeNil)
			So(g.Total.String(), ShouldEqual, "12.5")
		})
	})
}

func TestSQLiteStoreDurability(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store that committed and was closed", t, func() {
		path := filepath.Join(t.TempDir(), "ledger.db")

		store, err := repository.NewSQLiteStore(ctx, path)
		So(err, ShouldBeNil)
		So(store.CommitEvent(ctx, newEvent("k1", "alice", "10.4")), ShouldBeNil)
		So(store.AppendCorrection(ctx, model.CorrectionRecord{
			ID:             "c1",
			PreviousTotal:  decimal.RequireFromString("99"),
			CorrectedTotal: decimal.RequireFromString("10.4"),
			Discrepancy:    decimal.RequireFromString("88.6"),
			Reason:         "drift",
			Actor:          "test",
			CreatedAt:      time.Now(),
		}), ShouldBeNil)
		So(store.Close(), ShouldBeNil)

		Convey("When reopening the same file", func() {
			reopened, err := repository.NewSQLiteStore(ctx, path)
			So(err, ShouldBeNil)
			defer reopened.Close()

			Convey("Then events, aggregates and corrections survive", func() {
				ev, err := reopened.GetEvent(ctx, "k1")
				So(err, ShouldBeNil)
				So(ev.Quantity.String(), ShouldEqual, "10.4")
				So(ev.HasResult(), ShouldBeTrue)
				So(ev.ResultGlobalTotal.Decimal.String(), ShouldEqual, "10.4")

				g, err := reopened.GlobalAggregate(ctx)
				So(err, ShouldBeNil)
				So(g.Total.String(), ShouldEqual, "10.4")

				recs, err := reopened.Corrections(ctx, 10)
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 1)
				So(recs[0].Discrepancy.String(), ShouldEqual, "88.6")
			})
		})
	})
}
