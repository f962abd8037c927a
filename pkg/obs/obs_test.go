package obs

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%s want=%s", in, got, want)
		}
	}
}

func TestInitSetsBootID(t *testing.T) {
	lg, err := Init(Options{Service: "fraudsig-test", Env: "development", Level: "error"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lg.Sync() }()
	if !strings.HasPrefix(BootID(), "fraudsig-test#") {
		t.Fatalf("boot id=%q", BootID())
	}
}
