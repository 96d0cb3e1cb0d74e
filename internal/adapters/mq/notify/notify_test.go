package notify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/adapters/mq/notify"
	"github.com/ecotally/ecotally/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func notification(id, user, userTotal, globalTotal string) notify.Notification {
	return notify.Notification{
		EventID:         id,
		UserID:          user,
		QuantityApplied: decimal.RequireFromString("1"),
		UserTotal:       decimal.RequireFromString(userTotal),
		GlobalTotal:     decimal.RequireFromString(globalTotal),
		Timestamp:       time.Now(),
	}
}

func TestBroadcaster(t *testing.T) {
	ctx := context.Background()

	Convey("Given a broadcaster with one subscriber", t, func() {
		b := notify.NewBroadcaster(ctx)
		defer b.Close()

		ch, cancel := b.Subscribe("worker")
		defer cancel()

		Convey("When publishing a notification", func() {
			ok := b.Publish(ctx, notification("e1", "alice", "10.4", "30.9"))
			So(ok, ShouldBeTrue)

			Convey("Then the subscriber receives it with absolute totals", func() {
				select {
				case n := <-ch:
					So(n.EventID, ShouldEqual, "e1")
					So(n.UserTotal.String(), ShouldEqual, "10.4")
					So(n.GlobalTotal.String(), ShouldEqual, "30.9")
				case <-time.After(time.Second):
					t.Fatal("notification not delivered")
				}
			})
		})

		Convey("When publishing out of order", func() {
			So(b.Publish(ctx, notification("e2", "alice", "20", "40")), ShouldBeTrue)
			So(b.Publish(ctx, notification("e1", "alice", "10", "30")), ShouldBeTrue)

			Convey("Then each carries its own snapshot so last write wins safely", func() {
				var last notify.Notification
				for i := 0; i < 2; i++ {
					select {
					case n := <-ch:
						last = n
					case <-time.After(time.Second):
						t.Fatal("notification not delivered")
					}
				}
				// Consumers keep the latest snapshot; totals are absolute,
				// so no arithmetic on the consumer side can drift.
				So(last.UserTotal.String(), ShouldEqual, "10")
			})
		})
	})

	Convey("Given multiple subscribers", t, func() {
		b := notify.NewBroadcaster(ctx)
		defer b.Close()

		ch1, cancel1 := b.Subscribe("first")
		defer cancel1()
		ch2, cancel2 := b.Subscribe("second")
		defer cancel2()

		Convey("When publishing", func() {
			So(b.Publish(ctx, notification("e1", "alice", "1", "1")), ShouldBeTrue)

			Convey("Then both receive a copy", func() {
				for _, ch := range []<-chan notify.Notification{ch1, ch2} {
					select {
					case n := <-ch:
						So(n.EventID, ShouldEqual, "e1")
					case <-time.After(time.Second):
						t.Fatal("notification not delivered")
					}
				}
			})
		})
	})

	Convey("Given a cancelled subscriber", t, func() {
		b := notify.NewBroadcaster(ctx)
		defer b.Close()

		_, cancel := b.Subscribe("gone")
		cancel()

		Convey("Then publishing still succeeds for the rest", func() {
			ch, cancel2 := b.Subscribe("stays")
			defer cancel2()

			So(b.Publish(ctx, notification("e1", "alice", "1", "1")), ShouldBeTrue)
			select {
			case n := <-ch:
				So(n.EventID, ShouldEqual, "e1")
			case <-time.After(time.Second):
				t.Fatal("notification not delivered")
			}
		})
	})

	Convey("Given a closed broadcaster", t, func() {
		b := notify.NewBroadcaster(ctx)
		So(b.Close(), ShouldBeNil)

		Convey("Then publish reports failure instead of blocking", func() {
			So(b.IsClosed(), ShouldBeTrue)
			So(b.Publish(ctx, notification("e1", "alice", "1", "1")), ShouldBeFalse)
		})
	})

	Convey("Given publishers racing a close", t, func() {
		b := notify.NewBroadcaster(ctx)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					b.Publish(ctx, notification("e", "alice", "1", "1"))
				}
			}()
		}
		So(b.Close(), ShouldBeNil)
		wg.Wait()

		Convey("Then no publisher panics and later publishes report failure", func() {
			So(b.IsClosed(), ShouldBeTrue)
			So(b.Publish(ctx, notification("late", "alice", "1", "1")), ShouldBeFalse)
		})
	})

	Convey("Given a broadcaster whose context is cancelled without Close", t, func() {
		dispatchCtx, cancel := context.WithCancel(context.Background())
		b := notify.NewBroadcaster(dispatchCtx)
		defer b.Close()

		ch, unsub := b.Subscribe("worker")
		defer unsub()

		cancel()
		// Give the dispatcher a moment to observe the cancellation.
		time.Sleep(50 * time.Millisecond)

		Convey("Then the dispatcher stops delivering", func() {
			b.Publish(ctx, notification("e1", "alice", "1", "1"))
			select {
			case n, ok := <-ch:
				if ok {
					t.Fatalf("unexpected delivery after cancel: %s", n.EventID)
				}
			case <-time.After(200 * time.Millisecond):
			}
		})
	})
}
