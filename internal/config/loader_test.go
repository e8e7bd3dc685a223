package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/composite/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// clearConfigEnvVars unsets every COMPOSITE_ variable so each convey pass
// starts from a clean environment.
func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		ctx := context.Background()

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then the defaults are returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.DatabasePath, convey.ShouldEqual, "")
			})
		})

		convey.Convey("When environment variables are set", func() {
			t.Setenv("COMPOSITE_ADDR", ":8080")
			t.Setenv("COMPOSITE_QUEUE_SIZE", "500")
			t.Setenv("COMPOSITE_LOCK_TIMEOUT_MS", "250")
			t.Setenv("COMPOSITE_DATABASE_PATH", "/tmp/composite.db")
			t.Setenv("COMPOSITE_METRICS_ENABLED", "false")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they override the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.LockTimeoutMS, convey.ShouldEqual, 250)
				convey.So(cfg.DatabasePath, convey.ShouldEqual, "/tmp/composite.db")
				convey.So(cfg.MetricsEnabled, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When a YAML file sets partial weights and bands", func() {
			t.Setenv("COMPOSITE_CONFIG", writeConfig(t, `
addr: ":9090"
worker_count: 3
weights:
  skills: 35
bands:
  a: 90
`))
			t.Setenv("COMPOSITE_WORKER_COUNT", "7")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values merge per key and env wins over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 7)
				convey.So(cfg.Weights["skills"], convey.ShouldEqual, 35)
				convey.So(cfg.Weights["psymetrics"], convey.ShouldEqual, 40)
				convey.So(cfg.Bands.A, convey.ShouldEqual, 90)
				convey.So(cfg.Bands.B, convey.ShouldEqual, 70)
			})
		})

		convey.Convey("When the file does not exist", func() {
			t.Setenv("COMPOSITE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then ErrLoadConfig is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the loaded values are invalid", func() {
			t.Setenv("COMPOSITE_LOCK_TIMEOUT_MS", "0")
			_, err := config.Load(ctx)

			convey.Convey("Then ErrInvalidConfig is returned", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}
