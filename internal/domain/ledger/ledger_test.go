package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/adapters/repository"
	"github.com/ecotally/ecotally/internal/domain/ledger"
	"github.com/ecotally/ecotally/internal/domain/verify"
	"github.com/ecotally/ecotally/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// stubClassifier returns a fixed verdict or error.
type stubClassifier struct {
	verdict verify.Verdict
	err     error
}

func (c *stubClassifier) Classify(ctx context.Context, in verify.Input) (verify.Verdict, error) {
	return c.verdict, c.err
}

func submitReq(key, user, qty string) ledger.SubmitRequest {
	return ledger.SubmitRequest{
		IdempotencyKey: key,
		UserID:         user,
		Quantity:       decimal.RequireFromString(qty),
		Unit:           "kgCO2e",
		OccurredAt:     time.Now(),
		Verified:       true,
	}
}

func newLedger(opts ...ledger.Option) *ledger.Ledger {
	store := repository.NewMemoryStore(context.Background())
	lock := ledger.NewGlobalLock(2 * time.Second)
	return ledger.New(store, lock, opts...)
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	Convey("Given a ledger", t, func() {
		l := newLedger()

		Convey("When submitting one verified action", func() {
			res, err := l.Submit(ctx, submitReq("k1", "alice", "10.4"))

			Convey("Then it commits and returns the resulting totals", func() {
				So(err, ShouldBeNil)
				So(res.Accepted, ShouldBeTrue)
				So(res.IsDuplicate, ShouldBeFalse)
				So(res.UserTotal.String(), ShouldEqual, "10.4")
				So(res.GlobalTotal.String(), ShouldEqual, "10.4")
			})
		})

		Convey("When re-submitting the same idempotency key", func() {
			first, err := l.Submit(ctx, submitReq("k1", "alice", "10.4"))
			So(err, ShouldBeNil)

			second, err := l.Submit(ctx, submitReq("k1", "alice", "10.4"))

			Convey("Then the duplicate changes nothing and echoes the totals", func() {
				So(err, ShouldBeNil)
				So(second.IsDuplicate, ShouldBeTrue)
				So(second.UserTotal.Equal(first.UserTotal), ShouldBeTrue)
				So(second.GlobalTotal.Equal(first.GlobalTotal), ShouldBeTrue)

				g, err := l.GlobalTotal(ctx)
				So(err, ShouldBeNil)
				So(g.String(), ShouldEqual, "10.4")
			})
		})

		Convey("When other commits land between a submission and its replay", func() {
			first, err := l.Submit(ctx, submitReq("k1", "alice", "10"))
			So(err, ShouldBeNil)
			_, err = l.Submit(ctx, submitReq("k2", "bob", "5"))
			So(err, ShouldBeNil)

			replay, err := l.Submit(ctx, submitReq("k1", "alice", "10"))

			Convey("Then the replay echoes the original commit's totals", func() {
				So(err, ShouldBeNil)
				So(replay.IsDuplicate, ShouldBeTrue)
				So(replay.UserTotal.String(), ShouldEqual, "10")
				So(replay.GlobalTotal.String(), ShouldEqual, "10")
				So(replay.GlobalTotal.Equal(first.GlobalTotal), ShouldBeTrue)

				g, err := l.GlobalTotal(ctx)
				So(err, ShouldBeNil)
				So(g.String(), ShouldEqual, "15")
			})
		})

		Convey("When submitting an invalid request", func() {
			_, err := l.Submit(ctx, submitReq("", "alice", "1"))

			Convey("Then it is rejected as a validation error", func() {
				So(errors.Is(err, ledger.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When reading totals for an unknown user", func() {
			total, err := l.UserTotal(ctx, "nobody")

			Convey("Then the answer is zero, not an error", func() {
				So(err, ShouldBeNil)
				So(total.IsZero(), ShouldBeTrue)
			})
		})
	})
}

func TestSubmitExactDecimals(t *testing.T) {
	ctx := context.Background()

	Convey("Given ten submissions of 0.1", t, func() {
		l := newLedger()
		for i := 0; i < 10; i++ {
			_, err := l.Submit(ctx, submitReq(fmt.Sprintf("k%d", i), "alice", "0.1"))
			So(err, ShouldBeNil)
		}

		Convey("Then the total is exactly 1", func() {
			total, err := l.UserTotal(ctx, "alice")
			So(err, ShouldBeNil)
			So(total.String(), ShouldEqual, "1")
		})
	})
}

func TestSubmitConflict(t *testing.T) {
	ctx := context.Background()

	Convey("Given a ledger whose global slot is taken", t, func() {
		store := repository.NewMemoryStore(ctx)
		lock := ledger.NewGlobalLock(20 * time.Millisecond)
		l := ledger.New(store, lock)

		So(lock.Acquire(ctx), ShouldBeNil)
		defer lock.Release()

		Convey("When a submission cannot acquire the slot in time", func() {
			_, err := l.Submit(ctx, submitReq("k1", "alice", "1"))

			Convey("Then it fails with a retryable conflict and no state changed", func() {
				So(errors.Is(err, ledger.ErrConflict), ShouldBeTrue)

				_, getErr := store.GetEvent(ctx, "k1")
				So(getErr, ShouldEqual, repository.ErrNotFound)
			})
		})
	})
}

func TestSubmitVerificationGate(t *testing.T) {
	ctx := context.Background()

	Convey("Given a classifier that rejects", t, func() {
		l := newLedger(ledger.WithClassifier(&stubClassifier{
			verdict: verify.Verdict{Verified: false, Confidence: 0.2},
		}))

		Convey("When submitting an unverified action", func() {
			req := submitReq("k1", "alice", "50")
			req.Verified = false
			req.Description = "planted a forest"
			_, err := l.Submit(ctx, req)

			Convey("Then it is held and excluded from every aggregate", func() {
				So(errors.Is(err, ledger.ErrVerificationPending), ShouldBeTrue)
				So(l.HeldCount(), ShouldEqual, 1)

				g, gerr := l.GlobalTotal(ctx)
				So(gerr, ShouldBeNil)
				So(g.IsZero(), ShouldBeTrue)
			})

			Convey("And a later verified retry with the same key commits and unholds", func() {
				retry := submitReq("k1", "alice", "50")
				res, err := l.Submit(ctx, retry)
				So(err, ShouldBeNil)
				So(res.Accepted, ShouldBeTrue)
				So(l.HeldCount(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a classifier outage", t, func() {
		broken := &stubClassifier{err: errors.New("verifier unavailable")}

		Convey("When the quantity is under the fallback threshold", func() {
			store := repository.NewMemoryStore(ctx)
			l := ledger.New(store, ledger.NewGlobalLock(2*time.Second),
				ledger.WithClassifier(broken),
				ledger.WithFallbackPolicy(verify.Policy{AutoAcceptBelow: decimal.NewFromInt(5)}),
			)
			req := submitReq("k1", "alice", "2.5")
			req.Verified = false
			res, err := l.Submit(ctx, req)

			Convey("Then it is auto-accepted", func() {
				So(err, ShouldBeNil)
				So(res.Accepted, ShouldBeTrue)
			})

			Convey("And the record shows the fallback let it through, not a verdict", func() {
				ev, err := store.GetEvent(ctx, "k1")
				So(err, ShouldBeNil)
				So(ev.Verified, ShouldBeFalse)
				So(ev.Metadata["auto_accepted"], ShouldEqual, "true")
			})
		})

		Convey("When the quantity is over the fallback threshold", func() {
			l := newLedger(
				ledger.WithClassifier(broken),
				ledger.WithFallbackPolicy(verify.Policy{AutoAcceptBelow: decimal.NewFromInt(5)}),
			)
			req := submitReq("k2", "alice", "100")
			req.Verified = false
			_, err := l.Submit(ctx, req)

			Convey("Then it is held", func() {
				So(errors.Is(err, ledger.ErrVerificationPending), ShouldBeTrue)
			})
		})
	})

	Convey("Given a classifier that verifies", t, func() {
		l := newLedger(ledger.WithClassifier(&stubClassifier{
			verdict: verify.Verdict{Verified: true, Confidence: 0.9},
		}))

		Convey("When submitting an unverified action", func() {
			req := submitReq("k1", "alice", "3")
			req.Verified = false
			res, err := l.Submit(ctx, req)

			Convey("Then it commits", func() {
				So(err, ShouldBeNil)
				So(res.UserTotal.String(), ShouldEqual, "3")
			})
		})
	})
}

func TestHeldKeySweep(t *testing.T) {
	ctx := context.Background()

	Convey("Given a held submission older than the TTL", t, func() {
		l := newLedger(
			ledger.WithClassifier(&stubClassifier{verdict: verify.Verdict{Verified: false}}),
			ledger.WithHeldTTL(20*time.Millisecond),
		)

		req := submitReq("stale", "alice", "9")
		req.Verified = false
		_, err := l.Submit(ctx, req)
		So(errors.Is(err, ledger.ErrVerificationPending), ShouldBeTrue)
		So(l.HeldCount(), ShouldEqual, 1)

		time.Sleep(50 * time.Millisecond)

		Convey("When another submission is held", func() {
			req2 := submitReq("fresh", "bob", "9")
			req2.Verified = false
			_, err := l.Submit(ctx, req2)
			So(errors.Is(err, ledger.ErrVerificationPending), ShouldBeTrue)

			Convey("Then the expired key is swept and only the fresh one remains", func() {
				So(l.HeldCount(), ShouldEqual, 1)
			})
		})
	})
}

func TestSubmitConcurrent(t *testing.T) {
	ctx := context.Background()

	Convey("Given many concurrent submissions", t, func() {
		l := newLedger()

		const workers = 8
		const perWorker = 50

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				user := fmt.Sprintf("user-%d", w%4)
				for i := 0; i < perWorker; i++ {
					key := fmt.Sprintf("w%d-k%d", w, i)
					_, err := l.Submit(ctx, submitReq(key, user, "0.5"))
					if err != nil {
						t.Errorf("submit %s: %v", key, err)
					}
				}
			}(w)
		}
		wg.Wait()

		Convey("Then the global total equals the exact sum of all quantities", func() {
			g, err := l.GlobalTotal(ctx)
			So(err, ShouldBeNil)
			So(g.String(), ShouldEqual, "200")
		})
	})

	Convey("Given the same key submitted from many goroutines", t, func() {
		l := newLedger()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = l.Submit(ctx, submitReq("same-key", "alice", "7"))
			}()
		}
		wg.Wait()

		Convey("Then the quantity is applied exactly once", func() {
			total, err := l.UserTotal(ctx, "alice")
			So(err, ShouldBeNil)
			So(total.String(), ShouldEqual, "7")
		})
	})
}
