package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsValidate(t *testing.T) {
	c := Defaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if c.EffectiveRetention() != c.Window {
		t.Fatalf("retention=%s want=%s", c.EffectiveRetention(), c.Window)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	c, err := FromEnv(envMap(map[string]string{
		"FRAUDSIG_BROKERS":       "k1:9092, k2:9092,,",
		"FRAUDSIG_WINDOW":        "5m",
		"FRAUDSIG_RETENTION":     "15m",
		"FRAUDSIG_MAX_PER_KEY":   "64",
		"FRAUDSIG_MIN_SPEED_KMH": "900.5",
		"FRAUDSIG_WARM_START":    "false",
		"FRAUDSIG_SINK":          "  ",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(c.Brokers, ";") != "k1:9092;k2:9092" {
		t.Fatalf("brokers=%v", c.Brokers)
	}
	if c.Window != 5*time.Minute || c.EffectiveRetention() != 15*time.Minute || c.MaxPerKey != 64 {
		t.Fatalf("window=%s retention=%s cap=%d", c.Window, c.Retention, c.MaxPerKey)
	}
	if c.MinSpeedKmh != 900.5 || c.WarmStart {
		t.Fatalf("min speed=%g warm=%v", c.MinSpeedKmh, c.WarmStart)
	}
	if c.Sink != "kafka" {
		t.Fatalf("blank value should keep default, got %q", c.Sink)
	}
}

func TestFromEnvReportsEveryBadValue(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"FRAUDSIG_WINDOW": "ten minutes",
		"FRAUDSIG_SHARDS": "eight",
	}))
	if err == nil {
		t.Fatal("want error")
	}
	for _, name := range []string{"FRAUDSIG_WINDOW", "FRAUDSIG_SHARDS"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"retention below window", func(c *Config) { c.Retention = time.Minute }, "retention"},
		{"idle ttl below retention", func(c *Config) { c.IdleKeyTTL = time.Minute }, "idle key ttl"},
		{"zero window", func(c *Config) { c.Window = 0 }, "window must be"},
		{"zero cap", func(c *Config) { c.MaxPerKey = 0 }, "max per key"},
		{"zero shards", func(c *Config) { c.Shards = 0 }, "shards"},
		{"unknown policy", func(c *Config) { c.TimePolicy = "wall" }, "time policy"},
		{"unknown sink", func(c *Config) { c.Sink = "s3" }, "sink"},
		{"postgres without dsn", func(c *Config) { c.Lookup = "postgres" }, "PG_DSN"},
		{"file without path", func(c *Config) { c.Lookup = "file" }, "LOOKUP_FILE"},
		{"es without index", func(c *Config) { c.Sink = "es"; c.ESIndex = "" }, "es sink"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Defaults()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("FRAUDSIG_INPUT_TOPIC=pos-events\nFRAUDSIG_SHARDS=3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FRAUDSIG_SHARDS", "5") // environment wins over the file
	// godotenv.Load sets variables in the process; register cleanup for the one it adds
	t.Cleanup(func() { os.Unsetenv("FRAUDSIG_INPUT_TOPIC") })

	c, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if c.InputTopic != "pos-events" || c.Shards != 5 {
		t.Fatalf("topic=%q shards=%d", c.InputTopic, c.Shards)
	}
}
