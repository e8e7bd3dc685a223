package cli

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/composite/internal/app"
	"github.com/okian/composite/internal/config"
	"github.com/okian/composite/pkg/logger"
)

func newServeOptions(addr string) *ServeOptions {
	cfg := config.New()
	cfg.WorkerCount = 2
	return &ServeOptions{RootOptions: &RootOptions{Format: "text", Config: cfg}, Addr: addr}
}

func TestServe(t *testing.T) {
	convey.Convey("Given the serve command", t, func() {
		convey.So(logger.Init(logger.WithOutput(io.Discard)), convey.ShouldBeNil)

		convey.Convey("When the context is cancelled while serving", func() {
			opts := newServeOptions("127.0.0.1:0")
			opts.Config.DatabasePath = filepath.Join(t.TempDir(), "composite.db")
			ctx, cancel := context.WithCancel(context.Background())

			done := make(chan error, 1)
			go func() { done <- runServe(ctx, opts) }()
			time.Sleep(100 * time.Millisecond)
			cancel()

			convey.Convey("Then it shuts down cleanly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(5 * time.Second):
					convey.So("serve did not stop", convey.ShouldBeEmpty)
				}
			})
		})

		convey.Convey("When the listen address is invalid", func() {
			err := runServe(context.Background(), newServeOptions("127.0.0.1:99999"))

			convey.Convey("Then a command error is returned", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(GetExitCode(err), convey.ShouldEqual, ExitCommandError)
			})
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the background metrics updaters", t, func() {
		convey.So(logger.Init(logger.WithOutput(io.Discard)), convey.ShouldBeNil)
		svc := service.New()

		convey.Convey("When they run until the context expires", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			convey.Convey("Then they return without panicking", func() {
				convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
				convey.So(func() { startServiceMetricsUpdater(ctx, svc) }, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When updated directly", func() {
			convey.Convey("Then neither update panics", func() {
				convey.So(updateSystemMetrics, convey.ShouldNotPanic)
				convey.So(func() { updateServiceMetrics(context.Background(), svc) }, convey.ShouldNotPanic)
			})
		})
	})
}
