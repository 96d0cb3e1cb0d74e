package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/adapters/repository"
	"github.com/ecotally/ecotally/internal/domain/ledger"
	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/internal/domain/reconcile"
	"github.com/ecotally/ecotally/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func seededStore(ctx context.Context) *repository.MemoryStore {
	store := repository.NewMemoryStore(ctx)
	events := []struct {
		key, user, qty string
	}{
		{"k1", "alice", "10.4"},
		{"k2", "bob", "10.3"},
		{"k3", "carol", "10.2"},
	}
	for _, e := range events {
		_ = store.CommitEvent(ctx, model.ActionEvent{
			IdempotencyKey: e.key,
			UserID:         e.user,
			Quantity:       decimal.RequireFromString(e.qty),
			Unit:           "kgCO2e",
			OccurredAt:     time.Now(),
			RecordedAt:     time.Now(),
			Verified:       true,
		})
	}
	return store
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	Convey("Given a consistent store", t, func() {
		store := seededStore(ctx)
		lock := ledger.NewGlobalLock(time.Second)
		r := reconcile.New(store, lock)

		Convey("When reconciling", func() {
			report, err := r.Reconcile(ctx, reconcile.Request{Actor: "test"})

			Convey("Then it reports in sync and writes no correction", func() {
				So(err, ShouldBeNil)
				So(report.WasInSync, ShouldBeTrue)
				So(report.Discrepancy.IsZero(), ShouldBeTrue)
				So(report.UserSum.String(), ShouldEqual, "30.9")

				_, cerr := store.Corrections(ctx, 1)
				So(cerr, ShouldBeNil)
				recs, _ := store.Corrections(ctx, 10)
				So(len(recs), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a store whose global total was corrupted", t, func() {
		store := seededStore(ctx)
		lock := ledger.NewGlobalLock(time.Second)
		r := reconcile.New(store, lock)

		So(store.SetGlobalTotal(ctx, decimal.RequireFromString("99.9"), time.Now()), ShouldBeNil)

		Convey("When reconciling without auto-correct", func() {
			report, err := r.Reconcile(ctx, reconcile.Request{Actor: "operator", Reason: "spot check"})

			Convey("Then the drift is recorded but the global total stays wrong", func() {
				So(err, ShouldBeNil)
				So(report.WasInSync, ShouldBeFalse)
				So(report.Corrected, ShouldBeFalse)
				So(report.Discrepancy.String(), ShouldEqual, "69")

				recs, rerr := store.Corrections(ctx, 10)
				So(rerr, ShouldBeNil)
				So(len(recs), ShouldEqual, 1)
				So(recs[0].PreviousTotal.String(), ShouldEqual, "99.9")
				So(recs[0].CorrectedTotal.String(), ShouldEqual, "30.9")
				So(recs[0].Actor, ShouldEqual, "operator")
				So(recs[0].Reason, ShouldEqual, "spot check")
				So(recs[0].ID, ShouldNotBeBlank)

				g, _ := store.GlobalAggregate(ctx)
				So(g.Total.String(), ShouldEqual, "99.9")
			})
		})

		Convey("When reconciling with auto-correct", func() {
			report, err := r.Reconcile(ctx, reconcile.Request{AutoCorrect: true, Actor: "scheduler"})

			Convey("Then the global total is restored to the exact user sum", func() {
				So(err, ShouldBeNil)
				So(report.Corrected, ShouldBeTrue)
				So(report.GlobalTotal.String(), ShouldEqual, "30.9")

				g, _ := store.GlobalAggregate(ctx)
				So(g.Total.String(), ShouldEqual, "30.9")

				recs, _ := store.Corrections(ctx, 10)
				So(len(recs), ShouldEqual, 1)
			})

			Convey("And a second pass is back in sync", func() {
				report, err := r.Reconcile(ctx, reconcile.Request{Actor: "scheduler"})
				So(err, ShouldBeNil)
				So(report.WasInSync, ShouldBeTrue)
			})
		})
	})
}

func TestRunner(t *testing.T) {
	ctx := context.Background()

	Convey("Given a runner on a short interval over a corrupted store", t, func() {
		store := seededStore(ctx)
		lock := ledger.NewGlobalLock(time.Second)
		r := reconcile.New(store, lock)

		So(store.SetGlobalTotal(ctx, decimal.RequireFromString("1"), time.Now()), ShouldBeNil)

		runner := reconcile.NewRunner(r, 20*time.Millisecond, true)
		runner.Start(ctx)

		Convey("When a tick fires", func() {
			time.Sleep(80 * time.Millisecond)
			So(runner.Shutdown(ctx), ShouldBeNil)

			Convey("Then the drift was corrected and recorded", func() {
				g, _ := store.GlobalAggregate(ctx)
				So(g.Total.String(), ShouldEqual, "30.9")

				recs, _ := store.Corrections(ctx, 10)
				So(len(recs), ShouldBeGreaterThanOrEqualTo, 1)
				So(recs[0].Actor, ShouldEqual, "scheduler")
			})
		})
	})
}
