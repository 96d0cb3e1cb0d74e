package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/adapters/repository"
	"github.com/ecotally/ecotally/internal/domain/model"
)

func newEvent(key, user, qty string) model.ActionEvent {
	return model.ActionEvent{
		IdempotencyKey: key,
		UserID:         user,
		Quantity:       decimal.RequireFromString(qty),
		Unit:           "kgCO2e",
		OccurredAt:     time.Now(),
		RecordedAt:     time.Now(),
		Verified:       true,
	}
}

func TestMemoryStoreCommit(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty memory store", t, func() {
		store := repository.NewMemoryStore(ctx)

		Convey("When committing one event", func() {
			err := store.CommitEvent(ctx, newEvent("k1", "alice", "10.4"))
			So(err, ShouldBeNil)

			Convey("Then event, user aggregate and global aggregate agree", func() {
				ev, err := store.GetEvent(ctx, "k1")
				So(err, ShouldBeNil)
				So(ev.UserID, ShouldEqual, "alice")

				ua, err := store.UserAggregate(ctx, "alice")
				So(err, ShouldBeNil)
				So(ua.Total.String(), ShouldEqual, "10.4")
				So(ua.EventCount, ShouldEqual, 1)

				g, err := store.GlobalAggregate(ctx)
				So(err, ShouldBeNil)
				So(g.Total.String(), ShouldEqual, "10.4")
				So(g.EventCount, ShouldEqual, 1)
			})
		})

		Convey("When later commits move the totals on", func() {
			So(store.CommitEvent(ctx, newEvent("k1", "alice", "10")), ShouldBeNil)
			So(store.CommitEvent(ctx, newEvent("k2", "bob", "5")), ShouldBeNil)

			Convey("Then each row keeps the totals its own commit produced", func() {
				ev, err := store.GetEvent(ctx, "k1")
				So(err, ShouldBeNil)
				So(ev.HasResult(), ShouldBeTrue)
				So(ev.ResultUserTotal.Decimal.String(), ShouldEqual, "10")
				So(ev.ResultGlobalTotal.Decimal.String(), ShouldEqual, "10")

				ev2, err := store.GetEvent(ctx, "k2")
				So(err, ShouldBeNil)
				So(ev2.ResultGlobalTotal.Decimal.String(), ShouldEqual, "15")
			})
		})

		Convey("When committing the same key twice", func() {
			So(store.CommitEvent(ctx, newEvent("k1", "alice", "10.4")), ShouldBeNil)
			err := store.CommitEvent(ctx, newEvent("k1", "alice", "10.4"))

			Convey("Then the second commit is rejected and nothing changed", func() {
				So(err, ShouldEqual, repository.ErrDuplicateKey)

				ua, _ := store.UserAggregate(ctx, "alice")
				So(ua.Total.String(), ShouldEqual, "10.4")
				g, _ := store.GlobalAggregate(ctx)
				So(g.Total.String(), ShouldEqual, "10.4")
			})
		})

		Convey("When committing repeating decimal fractions", func() {
			for i := 0; i < 10; i++ {
				key := fmt.Sprintf("k%d", i)
				So(store.CommitEvent(ctx, newEvent(key, "alice", "0.1")), ShouldBeNil)
			}

			Convey("Then the totals are exact, not float-approximate", func() {
				ua, _ := store.UserAggregate(ctx, "alice")
				So(ua.Total.String(), ShouldEqual, "1")
				g, _ := store.GlobalAggregate(ctx)
				So(g.Total.String(), ShouldEqual, "1")
			})
		})

		Convey("When querying an unknown user", func() {
			_, err := store.UserAggregate(ctx, "nobody")
			So(err, ShouldEqual, repository.ErrNotFound)
		})
	})
}

func TestMemoryStoreRecompute(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store with inserted-only events", t, func() {
		store := repository.NewMemoryStore(ctx)
		So(store.InsertEventOnly(ctx, newEvent("k1", "alice", "2.5")), ShouldBeNil)
		So(store.InsertEventOnly(ctx, newEvent("k2", "alice", "2.5")), ShouldBeNil)
		So(store.InsertEventOnly(ctx, newEvent("k3", "bob", "7")), ShouldBeNil)

		Convey("Then aggregates are untouched until recompute", func() {
			_, err := store.UserAggregate(ctx, "alice")
			So(err, ShouldEqual, repository.ErrNotFound)
		})

		Convey("Then backfilled rows carry no commit-time totals", func() {
			ev, err := store.GetEvent(ctx, "k1")
			So(err, ShouldBeNil)
			So(ev.HasResult(), ShouldBeFalse)
		})

		Convey("When recomputing users and the global", func() {
			ua, err := store.RecomputeUser(ctx, "alice")
			So(err, ShouldBeNil)
			So(ua.Total.String(), ShouldEqual, "5")
			So(ua.EventCount, ShouldEqual, 2)

			_, err = store.RecomputeUser(ctx, "bob")
			So(err, ShouldBeNil)

			g, err := store.RecomputeGlobal(ctx)
			So(err, ShouldBeNil)
			So(g.Total.String(), ShouldEqual, "12")
		})

		Convey("When re-inserting an existing key", func() {
			err := store.InsertEventOnly(ctx, newEvent("k1", "alice", "2.5"))
			So(err, ShouldEqual, repository.ErrDuplicateKey)
		})
	})
}

func TestMemoryStoreCorrections(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store with correction records", t, func() {
		store := repository.NewMemoryStore(ctx)
		for i := 0; i < 3; i++ {
			rec := model.CorrectionRecord{
				ID:        fmt.Sprintf("c%d", i),
				Reason:    "drift",
				Actor:     "scheduler",
				CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
			}
			So(store.AppendCorrection(ctx, rec), ShouldBeNil)
		}

		Convey("Then Corrections returns most recent first", func() {
			recs, err := store.Corrections(ctx, 2)
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 2)
			So(recs[0].ID, ShouldEqual, "c2")
			So(recs[1].ID, ShouldEqual, "c1")
		})

		Convey("Then an invalid limit is rejected", func() {
			_, err := store.Corrections(ctx, 0)
			So(err, ShouldEqual, repository.ErrInvalidLimit)
		})
	})
}

func TestMemoryStoreConcurrentCommits(t *testing.T) {
	ctx := context.Background()

	Convey("Given concurrent commits across users", t, func() {
		store := repository.NewMemoryStore(ctx)

		const workers = 8
		const perWorker = 100

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				user := fmt.Sprintf("user-%d", w%4)
				for i := 0; i < perWorker; i++ {
					key := fmt.Sprintf("w%d-k%d", w, i)
					_ = store.CommitEvent(ctx, newEvent(key, user, "0.5"))
				}
			}(w)
		}
		wg.Wait()

		Convey("Then no update is lost and the sums line up exactly", func() {
			g, err := store.GlobalAggregate(ctx)
			So(err, ShouldBeNil)
			So(g.EventCount, ShouldEqual, workers*perWorker)
			So(g.Total.String(), ShouldEqual, "400")

			aggs, err := store.UserAggregates(ctx)
			So(err, ShouldBeNil)
			sum := decimal.Zero
			for _, ua := range aggs {
				sum = sum.Add(ua.Total)
			}
			So(sum.Equal(g.Total), ShouldBeTrue)
		})
	})
}

func TestMemoryStoreClose(t *testing.T) {
	ctx := context.Background()

	Convey("Given a closed store", t, func() {
		store := repository.NewMemoryStore(ctx)
		So(store.Close(), ShouldBeNil)

		Convey("Then operations fail with ErrClosed", func() {
			err := store.CommitEvent(ctx, newEvent("k1", "alice", "1"))
			So(err, ShouldEqual, repository.ErrClosed)
		})
	})
}
