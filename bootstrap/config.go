package bootstrap

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"contentmind/config"
	"contentmind/core"
)

// InitLogger builds the process logger: colored console output by default,
// JSON when logging.format is json.
func InitLogger(cfg config.LoggingConfig) (*zap.Logger, *zap.SugaredLogger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.LoggingConfig, out io.Writer) (*zap.Logger, *zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, nil, fmt.Errorf("invalid logging.format %q (expected console or json)", cfg.Format)
	}

	zc := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	logger := zap.New(zc, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads configuration from args. Failures are reported as a
// config-stage StartupError.
func InitConfig(args []string, searchPaths []string) (*config.Config, error) {
	var opts []config.LoadOption
	if len(searchPaths) > 0 {
		opts = append(opts, config.WithSearchPaths(searchPaths...))
	}
	cfg, err := config.Load(args, opts...)
	if err != nil {
		return nil, core.NewStartupError("", core.StageConfig, err)
	}
	return cfg, nil
}

// logConfig records where configuration came from and what is enabled.
func logConfig(cfg *config.Config, caps core.CapabilitySet, sugar *zap.SugaredLogger) {
	if cfg.File == "" {
		sugar.Info("No config file found, using defaults and env vars")
	} else {
		sugar.Infow("Config loaded", "file", cfg.File)
	}
	if cfg.Profile != "" {
		sugar.Infow("Active profile", "profile", cfg.Profile)
	}
	if len(cfg.Args) > 0 {
		sugar.Debugw("Forwarding unparsed arguments", "args", cfg.Args)
	}
	sugar.Infow("Capability set",
		"capabilities", caps.String(),
		"enabled", caps.Len())
}
