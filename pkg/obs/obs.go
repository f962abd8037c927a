package obs

import (
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var bootID atomic.Value // string

// Options selects the logger flavor. Env "production" gives sampled JSON with
// ISO8601 timestamps; anything else gives a colored console logger.
type Options struct {
	Service string
	Env     string
	Level   string
	Format  string // json|console; empty follows Env
}

// Init builds the process logger tagged with service and boot_id, installs it
// as the zap global and logs the boot line.
func Init(o Options) (*zap.Logger, error) {
	id := o.Service + "#" + time.Now().Format("20060102_150405.000000")
	bootID.Store(id)

	var cfg zap.Config
	if o.Env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(o.Level))
	switch o.Format {
	case "json":
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	case "console":
		cfg.Encoding = "console"
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	lg, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}
	lg = lg.With(zap.String("service", o.Service), zap.String("boot_id", id))
	zap.ReplaceGlobals(lg)

	cwd, _ := os.Getwd()
	lg.Info("boot", zap.Int("pid", os.Getpid()), zap.String("root", cwd))
	return lg, nil
}

func BootID() string {
	id, _ := bootID.Load().(string)
	return id
}

func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
