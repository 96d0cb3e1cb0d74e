package swagger_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecotally/ecotally/internal/adapters/http/swagger"
)

func TestRegister(t *testing.T) {
	Convey("Given the docs routes", t, func() {
		mux := http.NewServeMux()
		swagger.Register(context.Background(), mux)
		ts := httptest.NewServer(mux)
		defer ts.Close()

		Convey("When fetching the viewer page", func() {
			resp, err := http.Get(ts.URL + "/api-docs")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)

			Convey("Then it serves HTML pointing at the document", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(resp.Header.Get("Content-Type"), ShouldStartWith, "text/html")
				So(string(body), ShouldContainSubstring, "/openapi.yaml")
			})
		})

		Convey("When fetching the document itself", func() {
			resp, err := http.Get(ts.URL + "/openapi.yaml")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)

			Convey("Then the embedded document covers the ledger endpoints", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				doc := string(body)
				So(strings.HasPrefix(doc, "openapi:"), ShouldBeTrue)
				So(doc, ShouldContainSubstring, "/actions")
				So(doc, ShouldContainSubstring, "/leaderboard")
				So(doc, ShouldContainSubstring, "/reconcile")
			})
		})
	})
}

func TestRegisterNilMux(t *testing.T) {
	Convey("Given a nil mux", t, func() {
		So(func() { swagger.Register(context.Background(), nil) }, ShouldPanic)
	})
}
