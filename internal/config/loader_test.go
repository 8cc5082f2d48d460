package config_test

import (
	"context"
	"os"
	"testing"

	"github.com/okian/gridwatch/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 15)
				convey.So(cfg.PageRetries, convey.ShouldEqual, 5)
				convey.So(cfg.BatchSize, convey.ShouldEqual, 1000)
				convey.So(cfg.HarvestDeadlineMin, convey.ShouldEqual, 18)
				convey.So(cfg.HarvestCadenceMin, convey.ShouldEqual, 20)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("GRIDWATCH_ADDR", ":8080")
			_ = os.Setenv("GRIDWATCH_WORKER_COUNT", "8")
			_ = os.Setenv("GRIDWATCH_BATCH_SIZE", "500")
			_ = os.Setenv("GRIDWATCH_EVENT__ID", "71")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 8)
				convey.So(cfg.BatchSize, convey.ShouldEqual, 500)
				convey.So(cfg.Event.ID, convey.ShouldEqual, 71)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			yamlContent := `
addr: ":9090"
data_dir: "/tmp/gridwatch"
worker_count: 10
event:
  id: 70
  preliminaries: "2026-08-18T10:00:00+09:00"
  interlude: "2026-08-20T17:00:00+09:00"
  day1: "2026-08-21T07:00:00+09:00"
  day2: "2026-08-22T07:00:00+09:00"
  day3: "2026-08-23T07:00:00+09:00"
  day4: "2026-08-24T07:00:00+09:00"
  day5: "2026-08-25T07:00:00+09:00"
  end: "2026-08-25T23:59:59+09:00"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GRIDWATCH_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.DataDir, convey.ShouldEqual, "/tmp/gridwatch")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 10)
				convey.So(cfg.Event.ID, convey.ShouldEqual, 70)
				convey.So(cfg.Event.Day4, convey.ShouldEqual, "2026-08-24T07:00:00+09:00")
			})
		})

		convey.Convey("When the config is invalid", func() {
			_ = os.Setenv("GRIDWATCH_WORKER_COUNT", "0")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then validation should fail", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, key := range []string{
		"GRIDWATCH_CONFIG",
		"GRIDWATCH_ADDR",
		"GRIDWATCH_WORKER_COUNT",
		"GRIDWATCH_BATCH_SIZE",
		"GRIDWATCH_EVENT__ID",
	} {
		_ = os.Unsetenv(key)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "gridwatch-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = tmpFile.Close() }()

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
