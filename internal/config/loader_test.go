package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	ctx := context.Background()

	Convey("Given no file and no environment overrides", t, func() {
		cfg, err := config.Load(ctx)

		Convey("Then defaults apply", func() {
			So(err, ShouldBeNil)
			So(cfg.Addr, ShouldEqual, ":9080")
			So(cfg.Store, ShouldEqual, "memory")
			So(cfg.LockWait, ShouldEqual, 5*time.Second)
			So(cfg.ReconcileInterval, ShouldEqual, time.Hour)
			So(cfg.AutoCorrect, ShouldBeTrue)
			So(cfg.MaxLeaderboardLimit, ShouldEqual, 100)
			So(cfg.AutoAcceptBelow().String(), ShouldEqual, "5")
		})
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	ctx := context.Background()

	Convey("Given environment overrides", t, func() {
		t.Setenv("ECOTALLY_ADDR", ":7070")
		t.Setenv("ECOTALLY_STORE", "sqlite")
		t.Setenv("ECOTALLY_SQLITE_PATH", "/tmp/test.db")
		t.Setenv("ECOTALLY_MAX_LEADERBOARD_LIMIT", "25")

		cfg, err := config.Load(ctx)

		Convey("Then env values win over defaults", func() {
			So(err, ShouldBeNil)
			So(cfg.Addr, ShouldEqual, ":7070")
			So(cfg.Store, ShouldEqual, "sqlite")
			So(cfg.SQLitePath, ShouldEqual, "/tmp/test.db")
			So(cfg.MaxLeaderboardLimit, ShouldEqual, 25)
		})
	})
}

func TestLoadValidation(t *testing.T) {
	ctx := context.Background()

	Convey("Given an unknown store backend", t, func() {
		t.Setenv("ECOTALLY_STORE", "cassandra")
		_, err := config.Load(ctx)

		Convey("Then loading fails as invalid config", func() {
			So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("Given a malformed auto-accept threshold", t, func() {
		t.Setenv("ECOTALLY_VERIFY_AUTO_ACCEPT_BELOW", "lots")
		_, err := config.Load(ctx)

		Convey("Then loading fails as invalid config", func() {
			So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("Given a missing config file path", t, func() {
		t.Setenv("ECOTALLY_CONFIG", "/nonexistent/ecotally.yaml")
		_, err := config.Load(ctx)

		Convey("Then loading fails as a load error", func() {
			So(errors.Is(err, config.ErrLoadConfig), ShouldBeTrue)
		})
	})
}
