// Package config loads processor settings from the environment, optionally
// seeded from a .env file. Command-line flags in cmd/ override these values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "FRAUDSIG_"

type Config struct {
	Env       string
	LogLevel  string
	LogFormat string

	Brokers       []string
	InputTopic    string
	Group         string
	InitialOffset string // oldest|newest
	WarmStart     bool

	Window      time.Duration
	Retention   time.Duration
	MaxPerKey   int
	MinSpeedKmh float64
	TimePolicy  string // payload|arrival
	IdleKeyTTL  time.Duration

	Shards     int
	LaneDepth  int
	EmitDepth  int
	DeadLetter string

	Sink        string // kafka|es|stdout
	OutputTopic string
	ESAddresses []string
	ESUsername  string
	ESPassword  string
	ESIndex     string

	PublishAttempts  int
	PublishBaseDelay time.Duration
	PublishMaxDelay  time.Duration

	Lookup        string // none|file|postgres|redis
	LookupTimeout time.Duration
	LookupFile    string
	PGDSN         string
	PGTable       string
	RedisURL      string
	RedisPrefix   string

	LedgerDir string // empty keeps the ledger in memory only
	LedgerTTL time.Duration

	HTTPAddr string
}

func Defaults() Config {
	return Config{
		Env:       "development",
		LogLevel:  "info",
		LogFormat: "",

		Brokers:       []string{"127.0.0.1:9092"},
		InputTopic:    "transactions",
		Group:         "fraudsig",
		InitialOffset: "newest",
		WarmStart:     true,

		Window:     10 * time.Minute,
		MaxPerKey:  1024,
		TimePolicy: "payload",
		IdleKeyTTL: time.Hour,

		Shards:    8,
		LaneDepth: 1024,
		EmitDepth: 256,

		Sink:        "kafka",
		OutputTopic: "fraud-candidates",
		ESAddresses: []string{"http://127.0.0.1:9200"},
		ESIndex:     "fraud-candidates",

		PublishAttempts:  5,
		PublishBaseDelay: 100 * time.Millisecond,
		PublishMaxDelay:  5 * time.Second,

		Lookup:        "none",
		LookupTimeout: 200 * time.Millisecond,
		PGTable:       "accounts",
		RedisURL:      "redis://127.0.0.1:6379/0",
		RedisPrefix:   "account:",

		LedgerTTL: 24 * time.Hour,

		HTTPAddr: ":8080",
	}
}

// Load reads the given .env files (missing files are ignored; none means
// ".env") and then the process environment. Variables already set in the
// environment win over .env entries.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv applies FRAUDSIG_* variables from lookup over Defaults.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Defaults()
	p := parser{lookup: lookup}

	p.str("ENV", &c.Env)
	p.str("LOG_LEVEL", &c.LogLevel)
	p.str("LOG_FORMAT", &c.LogFormat)

	p.list("BROKERS", &c.Brokers)
	p.str("INPUT_TOPIC", &c.InputTopic)
	p.str("GROUP", &c.Group)
	p.str("INITIAL_OFFSET", &c.InitialOffset)
	p.boolean("WARM_START", &c.WarmStart)

	p.duration("WINDOW", &c.Window)
	p.duration("RETENTION", &c.Retention)
	p.integer("MAX_PER_KEY", &c.MaxPerKey)
	p.float("MIN_SPEED_KMH", &c.MinSpeedKmh)
	p.str("TIME_POLICY", &c.TimePolicy)
	p.duration("IDLE_KEY_TTL", &c.IdleKeyTTL)

	p.integer("SHARDS", &c.Shards)
	p.integer("LANE_DEPTH", &c.LaneDepth)
	p.integer("EMIT_DEPTH", &c.EmitDepth)
	p.str("DEAD_LETTER", &c.DeadLetter)

	p.str("SINK", &c.Sink)
	p.str("OUTPUT_TOPIC", &c.OutputTopic)
	p.list("ES_ADDRESSES", &c.ESAddresses)
	p.str("ES_USERNAME", &c.ESUsername)
	p.str("ES_PASSWORD", &c.ESPassword)
	p.str("ES_INDEX", &c.ESIndex)

	p.integer("PUBLISH_ATTEMPTS", &c.PublishAttempts)
	p.duration("PUBLISH_BASE_DELAY", &c.PublishBaseDelay)
	p.duration("PUBLISH_MAX_DELAY", &c.PublishMaxDelay)

	p.str("LOOKUP", &c.Lookup)
	p.duration("LOOKUP_TIMEOUT", &c.LookupTimeout)
	p.str("LOOKUP_FILE", &c.LookupFile)
	p.str("PG_DSN", &c.PGDSN)
	p.str("PG_TABLE", &c.PGTable)
	p.str("REDIS_URL", &c.RedisURL)
	p.str("REDIS_PREFIX", &c.RedisPrefix)

	p.str("LEDGER_DIR", &c.LedgerDir)
	p.duration("LEDGER_TTL", &c.LedgerTTL)

	p.str("HTTP_ADDR", &c.HTTPAddr)

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	return c, nil
}

// EffectiveRetention is R, defaulting to W.
func (c Config) EffectiveRetention() time.Duration {
	if c.Retention == 0 {
		return c.Window
	}
	return c.Retention
}

func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf("config: "+format, args...)) }

	if c.Window <= 0 {
		add("window must be > 0, got %s", c.Window)
	}
	if r := c.EffectiveRetention(); r < c.Window {
		add("retention %s must be >= window %s", r, c.Window)
	}
	if c.IdleKeyTTL != 0 && c.IdleKeyTTL < c.EffectiveRetention() {
		add("idle key ttl %s must be 0 or >= retention %s", c.IdleKeyTTL, c.EffectiveRetention())
	}
	if c.MaxPerKey <= 0 {
		add("max per key must be > 0, got %d", c.MaxPerKey)
	}
	if c.MinSpeedKmh < 0 {
		add("min speed must be >= 0, got %g", c.MinSpeedKmh)
	}
	if c.Shards <= 0 {
		add("shards must be > 0, got %d", c.Shards)
	}
	if len(c.Brokers) == 0 {
		add("no brokers")
	}
	if c.InputTopic == "" || c.Group == "" {
		add("input topic and group are required")
	}
	oneOf := func(name, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		add("%s %q not one of %s", name, v, strings.Join(allowed, "|"))
	}
	oneOf("time policy", c.TimePolicy, "payload", "arrival")
	oneOf("initial offset", c.InitialOffset, "oldest", "newest")
	oneOf("sink", c.Sink, "kafka", "es", "stdout")
	oneOf("lookup", c.Lookup, "none", "file", "postgres", "redis")

	switch {
	case c.Sink == "kafka" && c.OutputTopic == "":
		add("kafka sink needs an output topic")
	case c.Sink == "es" && (len(c.ESAddresses) == 0 || c.ESIndex == ""):
		add("es sink needs addresses and an index")
	}
	switch {
	case c.Lookup == "file" && c.LookupFile == "":
		add("file lookup needs FRAUDSIG_LOOKUP_FILE")
	case c.Lookup == "postgres" && c.PGDSN == "":
		add("postgres lookup needs FRAUDSIG_PG_DSN")
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(name string) (string, bool) {
	v, ok := p.lookup(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) fail(name, v string, err error) {
	p.errs = append(p.errs, fmt.Errorf("config: %s%s=%q: %w", envPrefix, name, v, err))
}

func (p *parser) str(name string, dst *string) {
	if v, ok := p.get(name); ok {
		*dst = v
	}
}

func (p *parser) list(name string, dst *[]string) {
	if v, ok := p.get(name); ok {
		*dst = SplitCSV(v)
	}
}

func (p *parser) duration(name string, dst *time.Duration) {
	if v, ok := p.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(name, v, err)
			return
		}
		*dst = d
	}
}

func (p *parser) integer(name string, dst *int) {
	if v, ok := p.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(name string, dst *float64) {
	if v, ok := p.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(name, v, err)
			return
		}
		*dst = f
	}
}

func (p *parser) boolean(name string, dst *bool) {
	if v, ok := p.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(name, v, err)
			return
		}
		*dst = b
	}
}

// SplitCSV splits a comma-separated list, dropping empty items.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
